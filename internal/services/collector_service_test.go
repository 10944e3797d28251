package services

import (
	"bytes"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeviceClient struct {
	connectErr    error
	connectCalls  int
	disconnects   int
	users         []models.DeviceUser
	usersErr      error
	punches       []models.DevicePunch
	attendanceErr error
}

func (f *fakeDeviceClient) Connect() error {
	f.connectCalls++
	return f.connectErr
}

func (f *fakeDeviceClient) GetUsers() ([]models.DeviceUser, error) {
	return f.users, f.usersErr
}

func (f *fakeDeviceClient) GetAttendance() ([]models.DevicePunch, error) {
	if f.attendanceErr != nil {
		return nil, f.attendanceErr
	}
	return f.punches, nil
}

func (f *fakeDeviceClient) Disconnect() error {
	f.disconnects++
	return nil
}

func punchAt(uid, userID int64, ts time.Time, punch models.PunchType) models.DevicePunch {
	return models.DevicePunch{UID: uid, UserID: userID, Timestamp: ts, Status: 1, Punch: punch}
}

func TestCollectorService_Collect(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	t.Run("persists typed records with device usernames", func(t *testing.T) {
		db, err := setupTestDB()
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, NewConfigService(db).SaveConfig(&models.Config{
			CompanyID: "77", APIUsername: "u", APIPassword: "p",
			DeviceIP: "192.168.1.201", DevicePort: 4370,
		}))

		device := &fakeDeviceClient{
			users: []models.DeviceUser{{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"}},
			punches: []models.DevicePunch{
				punchAt(100, 1, base, models.PunchEntry),
				punchAt(101, 2, base.Add(time.Minute), models.PunchEntry),
			},
		}
		collector := NewCollectorService(db, func(cfg *models.Config) DeviceClient { return device })

		collector.Collect()

		records, err := NewAttendanceService(db).GetAttendanceRecords(nil, OrderByTimestamp)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "alice", records[0].Username)
		assert.Equal(t, "2025-06-01 08:00:00", records[0].Timestamp)
		require.NotNil(t, records[0].UID)
		assert.Equal(t, int64(100), *records[0].UID)

		// Repeated polls of the same device log are idempotent.
		collector.Collect()
		records, err = NewAttendanceService(db).GetAttendanceRecords(nil, OrderByTimestamp)
		require.NoError(t, err)
		assert.Len(t, records, 2)

		// Connection is reused across cycles.
		assert.Equal(t, 1, device.connectCalls)
	})

	t.Run("missing configuration skips the cycle", func(t *testing.T) {
		db, err := setupTestDB()
		require.NoError(t, err)
		defer db.Close()

		device := &fakeDeviceClient{}
		collector := NewCollectorService(db, func(cfg *models.Config) DeviceClient { return device })

		var buf bytes.Buffer
		log.SetOutput(&buf)
		defer log.SetOutput(os.Stderr)

		collector.Collect()
		assert.Zero(t, device.connectCalls)

		// A missing configuration row is a skip, not a connection fault.
		assert.Contains(t, buf.String(), "No configuration found")
		assert.NotContains(t, buf.String(), "Failed to connect")
	})

	t.Run("read failure drops the connection for the next cycle", func(t *testing.T) {
		db, err := setupTestDB()
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, NewConfigService(db).SaveConfig(&models.Config{
			CompanyID: "77", APIUsername: "u", APIPassword: "p",
			DeviceIP: "192.168.1.201", DevicePort: 4370,
		}))

		device := &fakeDeviceClient{attendanceErr: errors.New("timeout")}
		collector := NewCollectorService(db, func(cfg *models.Config) DeviceClient { return device })

		collector.Collect()
		assert.Equal(t, 1, device.disconnects)

		device.attendanceErr = nil
		device.punches = []models.DevicePunch{punchAt(100, 1, base, models.PunchEntry)}
		collector.Collect()
		assert.Equal(t, 2, device.connectCalls)

		records, err := NewAttendanceService(db).GetAttendanceRecords(nil, OrderByTimestamp)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

func TestUserImporterService_ImportUsers(t *testing.T) {
	db, err := setupTestDB()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, NewConfigService(db).SaveConfig(&models.Config{
		CompanyID: "77", APIUsername: "u", APIPassword: "p",
		DeviceIP: "192.168.1.201", DevicePort: 4370,
	}))

	attendance := NewAttendanceService(db)
	require.NoError(t, attendance.SaveAttendanceRecords([]models.AttendanceRecord{
		{UserID: 1, Timestamp: "2025-06-01 08:00:00"},
		{UserID: 2, Timestamp: "2025-06-01 08:05:00"},
		{UserID: 3, Timestamp: "2025-06-01 08:10:00"},
	}))

	device := &fakeDeviceClient{
		users: []models.DeviceUser{{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"}},
	}
	importer := NewUserImporterService(db, func(cfg *models.Config) DeviceClient { return device })

	updated, err := importer.ImportUsers()
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)
	assert.Equal(t, 1, device.disconnects)

	records, err := attendance.GetAttendanceRecords(nil, OrderByUserID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alice", records[0].Username)
	assert.Equal(t, "bob", records[1].Username)
	assert.Equal(t, "", records[2].Username)

	t.Run("fails fast without configuration", func(t *testing.T) {
		empty, err := setupTestDB()
		require.NoError(t, err)
		defer empty.Close()

		importer := NewUserImporterService(empty, func(cfg *models.Config) DeviceClient { return device })
		_, err = importer.ImportUsers()
		assert.Error(t, err)
	})
}
