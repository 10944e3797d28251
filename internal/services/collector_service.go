package services

import (
	"database/sql"
	"errors"
	"log"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"
)

// errDeviceNotConfigured marks a skipped cycle, not a connection fault.
var errDeviceNotConfigured = errors.New("attendance terminal not configured")

// DeviceClient is the opaque terminal capability the collector consumes. The
// device wire protocol lives behind this interface; implementations connect
// using the address stored in the configuration row.
type DeviceClient interface {
	Connect() error
	GetUsers() ([]models.DeviceUser, error)
	GetAttendance() ([]models.DevicePunch, error)
	Disconnect() error
}

// CollectorService polls the terminal for punches and persists them. Device
// punches become typed attendance records here, at the boundary where device
// data enters the system; the store's timestamp uniqueness makes re-reading
// the whole device log idempotent.
type CollectorService struct {
	configService *ConfigService
	attendance    *AttendanceService
	deviceFactory func(cfg *models.Config) DeviceClient
	device        DeviceClient
}

func NewCollectorService(db *sql.DB, deviceFactory func(cfg *models.Config) DeviceClient) *CollectorService {
	return &CollectorService{
		configService: NewConfigService(db),
		attendance:    NewAttendanceService(db),
		deviceFactory: deviceFactory,
	}
}

// Collect runs one collection cycle. Errors are absorbed and logged so a
// flaky device connection never brings the scheduler down.
func (s *CollectorService) Collect() {
	device, err := s.connectedDevice()
	if err != nil {
		if !errors.Is(err, errDeviceNotConfigured) {
			log.Printf("Failed to connect to attendance terminal: %v", err)
		}
		return
	}

	punches, err := device.GetAttendance()
	if err != nil {
		log.Printf("Failed to read attendance from terminal: %v", err)
		s.resetDevice()
		return
	}
	if len(punches) == 0 {
		log.Println("No new attendance records to collect")
		return
	}

	usernames := s.deviceUsernames(device)

	records := make([]models.AttendanceRecord, 0, len(punches))
	for _, punch := range punches {
		uid := punch.UID
		records = append(records, models.AttendanceRecord{
			UID:       &uid,
			UserID:    punch.UserID,
			Username:  usernames[punch.UserID],
			Timestamp: models.FormatTimestamp(punch.Timestamp),
			Status:    punch.Status,
			PunchType: punch.Punch,
		})
	}

	if err := s.attendance.SaveAttendanceRecords(records); err != nil {
		log.Printf("Failed to save collected records: %v", err)
		return
	}

	log.Printf("Collected %d attendance records from terminal", len(records))
}

func (s *CollectorService) connectedDevice() (DeviceClient, error) {
	if s.device != nil {
		return s.device, nil
	}

	cfg, err := s.configService.GetConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		log.Println("No configuration found, skipping collection cycle")
		return nil, errDeviceNotConfigured
	}

	device := s.deviceFactory(cfg)
	if err := device.Connect(); err != nil {
		return nil, err
	}

	s.device = device
	return device, nil
}

// resetDevice drops the cached connection so the next cycle reconnects.
func (s *CollectorService) resetDevice() {
	if s.device != nil {
		if err := s.device.Disconnect(); err != nil {
			log.Printf("Error disconnecting from terminal: %v", err)
		}
		s.device = nil
	}
}

func (s *CollectorService) deviceUsernames(device DeviceClient) map[int64]string {
	users, err := device.GetUsers()
	if err != nil {
		// Usernames are cosmetic on the export; punches still persist.
		log.Printf("Failed to read users from terminal: %v", err)
		return nil
	}

	usernames := make(map[int64]string, len(users))
	for _, user := range users {
		usernames[user.ID] = user.Name
	}
	return usernames
}

// Close releases the device connection.
func (s *CollectorService) Close() {
	s.resetDevice()
}
