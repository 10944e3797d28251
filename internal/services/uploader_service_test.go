package services

import (
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayrollClient struct {
	authErr   error
	authCalls int

	uploadResult *UploadResult
	uploadErr    error
	uploadPanic  string        // panics with this message when set
	uploadBegan  chan struct{} // closed when the first upload starts, if set
	uploadWait   chan struct{} // upload blocks until closed, if set
	uploadCalls  int

	imports     []*models.PointingImport // consumed in order, last repeats
	importErr   error
	importCalls int

	events    []models.PointingEvent
	eventsErr error
}

func (f *fakePayrollClient) Authenticate() error {
	f.authCalls++
	return f.authErr
}

func (f *fakePayrollClient) UploadAttendance(filePath string) (*UploadResult, error) {
	f.uploadCalls++
	if f.uploadBegan != nil {
		close(f.uploadBegan)
		f.uploadBegan = nil
	}
	if f.uploadWait != nil {
		<-f.uploadWait
	}
	if f.uploadPanic != "" {
		panic(f.uploadPanic)
	}
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return f.uploadResult, nil
}

func (f *fakePayrollClient) GetPointingImport() (*models.PointingImport, error) {
	f.importCalls++
	if f.importErr != nil {
		return nil, f.importErr
	}
	if len(f.imports) > 1 {
		snapshot := f.imports[0]
		f.imports = f.imports[1:]
		return snapshot, nil
	}
	return f.imports[0], nil
}

func (f *fakePayrollClient) GetPointingsWithJobID(jobExecutionID int64) ([]models.PointingEvent, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events, nil
}

type uploaderFixture struct {
	db         *sql.DB
	attendance *AttendanceService
	uploader   *UploaderService
	client     *fakePayrollClient
	factoryHit int
}

func setupUploader(t *testing.T, client *fakePayrollClient) *uploaderFixture {
	t.Helper()

	db, err := setupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fixture := &uploaderFixture{db: db, attendance: NewAttendanceService(db), client: client}
	fixture.uploader = NewUploaderService(db, t.TempDir(), ReconcilePolicy{
		Interval: 5 * time.Millisecond,
		MaxWait:  50 * time.Millisecond,
	}, func(cfg *models.Config) PayrollClient {
		fixture.factoryHit++
		return client
	})

	return fixture
}

func seedConfig(t *testing.T, db *sql.DB) {
	t.Helper()
	require.NoError(t, NewConfigService(db).SaveConfig(&models.Config{
		CompanyID:   "77",
		APIUsername: "integration",
		APIPassword: "secret",
		DeviceIP:    "192.168.1.201",
		DevicePort:  4370,
	}))
}

func seedRecords(t *testing.T, attendance *AttendanceService, timestamps ...string) {
	t.Helper()
	records := make([]models.AttendanceRecord, 0, len(timestamps))
	for i, ts := range timestamps {
		records = append(records, models.AttendanceRecord{
			UserID:    int64(i + 1),
			Username:  "user",
			Timestamp: ts,
		})
	}
	require.NoError(t, attendance.SaveAttendanceRecords(records))
}

func auditEntries(t *testing.T, db *sql.DB) []models.UploadLog {
	t.Helper()
	logs, err := NewUploadLogService(db).GetUploadLogs(nil, 100, 0)
	require.NoError(t, err)
	return logs
}

func processedCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM attendance_records WHERE processed = 1`).Scan(&count))
	return count
}

func TestUploaderService_UploadData(t *testing.T) {
	t.Run("missing configuration skips the cycle entirely", func(t *testing.T) {
		fixture := setupUploader(t, &fakePayrollClient{})

		fixture.uploader.UploadData()

		assert.Zero(t, fixture.factoryHit)
		assert.Zero(t, fixture.client.authCalls)
		assert.Empty(t, auditEntries(t, fixture.db))
	})

	t.Run("no unprocessed records means no submission and no audit entry", func(t *testing.T) {
		fixture := setupUploader(t, &fakePayrollClient{})
		seedConfig(t, fixture.db)

		fixture.uploader.UploadData()

		assert.Equal(t, 1, fixture.client.authCalls)
		assert.Zero(t, fixture.client.uploadCalls)
		assert.Empty(t, auditEntries(t, fixture.db))
	})

	t.Run("authentication failure aborts before any export", func(t *testing.T) {
		client := &fakePayrollClient{authErr: errors.New("bad credentials")}
		fixture := setupUploader(t, client)
		seedConfig(t, fixture.db)
		seedRecords(t, fixture.attendance, "2025-06-01 08:00:00")

		fixture.uploader.UploadData()

		assert.Zero(t, client.uploadCalls)
		assert.Empty(t, auditEntries(t, fixture.db))

		// The client is not cached on failure; the next cycle retries from scratch.
		fixture.uploader.UploadData()
		assert.Equal(t, 2, fixture.factoryHit)
	})

	t.Run("completed job marks exactly the reconciled records processed", func(t *testing.T) {
		client := &fakePayrollClient{
			uploadResult: &UploadResult{Success: true, JobExecutionID: 7},
			imports: []*models.PointingImport{
				{Status: models.ImportStatusStarting, JobExecutionID: 7},
				{Status: models.ImportStatusStarted, JobExecutionID: 7},
				{Status: models.ImportStatusCompleted, JobExecutionID: 7, Written: 2},
			},
			events: []models.PointingEvent{
				{Timestamp: "2025-06-01 08:00:00", Punch: models.PunchEntry},
				// API side uses the ISO separator; matching still works.
				{Timestamp: "2025-06-01T17:00:00", Punch: models.PunchExit},
			},
		}
		fixture := setupUploader(t, client)
		seedConfig(t, fixture.db)
		seedRecords(t, fixture.attendance,
			"2025-06-01 08:00:00", "2025-06-01 17:00:00", "2025-06-02 08:00:00")

		fixture.uploader.UploadData()

		assert.Equal(t, 1, client.uploadCalls)
		assert.GreaterOrEqual(t, client.importCalls, 3)
		assert.Equal(t, 2, processedCount(t, fixture.db))

		logs := auditEntries(t, fixture.db)
		require.Len(t, logs, 1)
		assert.Equal(t, models.UploadStatusSuccess, logs[0].Status)
		assert.Equal(t, 3, logs[0].RecordsCount)
		require.NotNil(t, logs[0].ResponseData)
		assert.Contains(t, *logs[0].ResponseData, "COMPLETED")

		// The export file was actually written.
		_, err := os.Stat(logs[0].FilePath)
		assert.NoError(t, err)
	})

	t.Run("rejected submission writes FAILED and flips nothing", func(t *testing.T) {
		client := &fakePayrollClient{
			uploadResult: &UploadResult{Success: false, Message: "quota exceeded"},
		}
		fixture := setupUploader(t, client)
		seedConfig(t, fixture.db)
		seedRecords(t, fixture.attendance, "2025-06-01 08:00:00")

		fixture.uploader.UploadData()

		assert.Zero(t, client.importCalls)
		assert.Zero(t, processedCount(t, fixture.db))

		logs := auditEntries(t, fixture.db)
		require.Len(t, logs, 1)
		assert.Equal(t, models.UploadStatusFailed, logs[0].Status)
		require.NotNil(t, logs[0].ResponseData)
		assert.Contains(t, *logs[0].ResponseData, "quota exceeded")
	})

	t.Run("failed remote job writes FAILED with the job snapshot", func(t *testing.T) {
		client := &fakePayrollClient{
			uploadResult: &UploadResult{Success: true, JobExecutionID: 9},
			imports: []*models.PointingImport{
				{Status: models.ImportStatusFailed, JobExecutionID: 9, Filename: "batch.xlsx"},
			},
		}
		fixture := setupUploader(t, client)
		seedConfig(t, fixture.db)
		seedRecords(t, fixture.attendance, "2025-06-01 08:00:00")

		fixture.uploader.UploadData()

		assert.Zero(t, processedCount(t, fixture.db))
		logs := auditEntries(t, fixture.db)
		require.Len(t, logs, 1)
		assert.Equal(t, models.UploadStatusFailed, logs[0].Status)
		require.NotNil(t, logs[0].ResponseData)
		assert.Contains(t, *logs[0].ResponseData, "FAILED")
	})

	t.Run("deadline without terminal status writes PENDING", func(t *testing.T) {
		client := &fakePayrollClient{
			uploadResult: &UploadResult{Success: true, JobExecutionID: 11},
			imports: []*models.PointingImport{
				{Status: models.ImportStatusStarted, JobExecutionID: 11},
			},
		}
		fixture := setupUploader(t, client)
		seedConfig(t, fixture.db)
		seedRecords(t, fixture.attendance, "2025-06-01 08:00:00")

		fixture.uploader.UploadData()

		assert.Zero(t, processedCount(t, fixture.db))
		logs := auditEntries(t, fixture.db)
		require.Len(t, logs, 1)
		assert.Equal(t, models.UploadStatusPending, logs[0].Status)
	})

	t.Run("snapshot of an older job does not resolve the cycle", func(t *testing.T) {
		client := &fakePayrollClient{
			uploadResult: &UploadResult{Success: true, JobExecutionID: 13},
			imports: []*models.PointingImport{
				// Stale COMPLETED from the previous batch must not count.
				{Status: models.ImportStatusCompleted, JobExecutionID: 12},
			},
		}
		fixture := setupUploader(t, client)
		seedConfig(t, fixture.db)
		seedRecords(t, fixture.attendance, "2025-06-01 08:00:00")

		fixture.uploader.UploadData()

		assert.Zero(t, processedCount(t, fixture.db))
		logs := auditEntries(t, fixture.db)
		require.Len(t, logs, 1)
		assert.Equal(t, models.UploadStatusPending, logs[0].Status)
	})

	t.Run("unrecognized status is fatal for the cycle", func(t *testing.T) {
		client := &fakePayrollClient{
			uploadResult: &UploadResult{Success: true, JobExecutionID: 15},
			imports: []*models.PointingImport{
				{Status: "EXPLODED", JobExecutionID: 15},
			},
		}
		fixture := setupUploader(t, client)
		seedConfig(t, fixture.db)
		seedRecords(t, fixture.attendance, "2025-06-01 08:00:00")

		fixture.uploader.UploadData()

		logs := auditEntries(t, fixture.db)
		require.Len(t, logs, 1)
		assert.Equal(t, models.UploadStatusError, logs[0].Status)
	})

	t.Run("trigger during a running cycle is skipped, not queued", func(t *testing.T) {
		client := &fakePayrollClient{
			uploadResult: &UploadResult{Success: true, JobExecutionID: 19},
			imports: []*models.PointingImport{
				{Status: models.ImportStatusCompleted, JobExecutionID: 19, Written: 1},
			},
			events: []models.PointingEvent{
				{Timestamp: "2025-06-01 08:00:00", Punch: models.PunchEntry},
			},
			uploadBegan: make(chan struct{}),
			uploadWait:  make(chan struct{}),
		}
		fixture := setupUploader(t, client)
		seedConfig(t, fixture.db)
		seedRecords(t, fixture.attendance, "2025-06-01 08:00:00")

		done := make(chan struct{})
		go func() {
			defer close(done)
			fixture.uploader.UploadData()
		}()

		<-client.uploadBegan
		// The first cycle is mid-submission; a second one must back off
		// instead of re-reading the same unprocessed records.
		fixture.uploader.UploadData()
		close(client.uploadWait)
		<-done

		assert.Equal(t, 1, client.uploadCalls)
		assert.Equal(t, 1, processedCount(t, fixture.db))
		logs := auditEntries(t, fixture.db)
		require.Len(t, logs, 1)
		assert.Equal(t, models.UploadStatusSuccess, logs[0].Status)
	})

	t.Run("panic mid-cycle still writes ERROR for the batch", func(t *testing.T) {
		client := &fakePayrollClient{uploadPanic: "codec blew up"}
		fixture := setupUploader(t, client)
		seedConfig(t, fixture.db)
		seedRecords(t, fixture.attendance, "2025-06-01 08:00:00")

		assert.NotPanics(t, fixture.uploader.UploadData)

		assert.Zero(t, processedCount(t, fixture.db))
		logs := auditEntries(t, fixture.db)
		require.Len(t, logs, 1)
		assert.Equal(t, models.UploadStatusError, logs[0].Status)
		require.NotNil(t, logs[0].ResponseData)
		assert.Contains(t, *logs[0].ResponseData, "codec blew up")

		// The panic released the cycle lock; the next run proceeds.
		client.uploadPanic = ""
		client.uploadResult = &UploadResult{Success: false, Message: "quota exceeded"}
		fixture.uploader.UploadData()
		assert.Len(t, auditEntries(t, fixture.db), 2)
	})

	t.Run("status poll error writes ERROR", func(t *testing.T) {
		client := &fakePayrollClient{
			uploadResult: &UploadResult{Success: true, JobExecutionID: 17},
			importErr:    errors.New("connection reset"),
		}
		fixture := setupUploader(t, client)
		seedConfig(t, fixture.db)
		seedRecords(t, fixture.attendance, "2025-06-01 08:00:00")

		fixture.uploader.UploadData()

		logs := auditEntries(t, fixture.db)
		require.Len(t, logs, 1)
		assert.Equal(t, models.UploadStatusError, logs[0].Status)
		require.NotNil(t, logs[0].ResponseData)
		assert.Contains(t, *logs[0].ResponseData, "connection reset")
	})
}
