package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"
)

// ConfigService reads and writes the singleton configuration row. Absence of
// the row is a valid state, not an error; callers fail fast on nil.
type ConfigService struct {
	db *sql.DB
}

func NewConfigService(db *sql.DB) *ConfigService {
	return &ConfigService{db: db}
}

func (s *ConfigService) GetConfig() (*models.Config, error) {
	query := `
		SELECT id, company_id, api_username, api_password, device_ip, device_port,
			   collection_interval, upload_interval, user_import_interval,
			   created_at, updated_at
		FROM config
		LIMIT 1`

	var cfg models.Config
	err := s.db.QueryRow(query).Scan(
		&cfg.ID, &cfg.CompanyID, &cfg.APIUsername, &cfg.APIPassword,
		&cfg.DeviceIP, &cfg.DevicePort,
		&cfg.CollectionInterval, &cfg.UploadInterval, &cfg.UserImportInterval,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &cfg, nil
}

// SaveConfig upserts the singleton configuration row.
func (s *ConfigService) SaveConfig(cfg *models.Config) error {
	var existingID int64
	err := s.db.QueryRow("SELECT id FROM config LIMIT 1").Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing config: %w", err)
	}

	now := time.Now()
	if err == sql.ErrNoRows {
		query := `
			INSERT INTO config (
				company_id, api_username, api_password, device_ip, device_port,
				collection_interval, upload_interval, user_import_interval,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = s.db.Exec(query,
			cfg.CompanyID, cfg.APIUsername, cfg.APIPassword,
			cfg.DeviceIP, cfg.DevicePort,
			cfg.CollectionInterval, cfg.UploadInterval, cfg.UserImportInterval,
			now, now)
		if err != nil {
			return fmt.Errorf("failed to insert config: %w", err)
		}
		return nil
	}

	query := `
		UPDATE config SET
			company_id = ?, api_username = ?, api_password = ?,
			device_ip = ?, device_port = ?,
			collection_interval = ?, upload_interval = ?, user_import_interval = ?,
			updated_at = ?
		WHERE id = ?`
	_, err = s.db.Exec(query,
		cfg.CompanyID, cfg.APIUsername, cfg.APIPassword,
		cfg.DeviceIP, cfg.DevicePort,
		cfg.CollectionInterval, cfg.UploadInterval, cfg.UserImportInterval,
		now, existingID)
	if err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}

	return nil
}
