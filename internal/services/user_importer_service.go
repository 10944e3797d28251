package services

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"
)

// UserImporterService backfills human-readable usernames onto stored punch
// records from the terminal's user directory. The terminal reports punches by
// numeric user id only; names arrive separately and later.
type UserImporterService struct {
	configService *ConfigService
	attendance    *AttendanceService
	deviceFactory func(cfg *models.Config) DeviceClient
}

func NewUserImporterService(db *sql.DB, deviceFactory func(cfg *models.Config) DeviceClient) *UserImporterService {
	return &UserImporterService{
		configService: NewConfigService(db),
		attendance:    NewAttendanceService(db),
		deviceFactory: deviceFactory,
	}
}

// ImportUsers reads the terminal's user list and fills in usernames on
// records that are still missing one. Returns the number of records touched.
func (s *UserImporterService) ImportUsers() (int64, error) {
	cfg, err := s.configService.GetConfig()
	if err != nil {
		return 0, fmt.Errorf("failed to read configuration: %w", err)
	}
	if cfg == nil {
		return 0, fmt.Errorf("no configuration found")
	}

	device := s.deviceFactory(cfg)
	if err := device.Connect(); err != nil {
		return 0, fmt.Errorf("failed to connect to terminal: %w", err)
	}
	defer func() {
		if err := device.Disconnect(); err != nil {
			log.Printf("Error disconnecting from terminal: %v", err)
		}
	}()

	users, err := device.GetUsers()
	if err != nil {
		return 0, fmt.Errorf("failed to read users from terminal: %w", err)
	}
	if len(users) == 0 {
		return 0, nil
	}

	usernames := make(map[int64]string, len(users))
	for _, user := range users {
		if user.Name != "" {
			usernames[user.ID] = user.Name
		}
	}

	updated, err := s.attendance.BackfillUsernames(usernames)
	if err != nil {
		return 0, err
	}

	if updated > 0 {
		log.Printf("Backfilled usernames on %d attendance records", updated)
	}
	return updated, nil
}
