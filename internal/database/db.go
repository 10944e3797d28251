package database

import (
	"database/sql"
	"fmt"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/config"

	_ "modernc.org/sqlite"
)

func Initialize() (*sql.DB, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return InitializeWithConfig(cfg)
}

func InitializeWithConfig(cfg *config.Config) (*sql.DB, error) {
	if err := cfg.EnsureDatabaseDir(); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// Open opens the sqlite database at path and creates the schema if missing.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The store opens one connection per operation by design; a single
	// underlying connection avoids sqlite write-lock contention between
	// the collection and upload loops.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS config (
			id INTEGER PRIMARY KEY,
			company_id TEXT NOT NULL,
			api_username TEXT NOT NULL,
			api_password TEXT NOT NULL,
			device_ip TEXT NOT NULL,
			device_port INTEGER NOT NULL,
			collection_interval INTEGER NOT NULL DEFAULT 0,
			upload_interval INTEGER NOT NULL DEFAULT 0,
			user_import_interval INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS attendance_records (
			id INTEGER PRIMARY KEY,
			uid INTEGER,
			user_id INTEGER NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL UNIQUE,
			status INTEGER NOT NULL DEFAULT 0,
			punch_type INTEGER NOT NULL DEFAULT 0,
			processed BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS api_upload_logs (
			id INTEGER PRIMARY KEY,
			batch_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			records_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			response_data TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Named counters. Holds the allocator for locally-originated
		// device uids (range reserved above models.LocalUIDBase).
		`CREATE TABLE IF NOT EXISTS sequences (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_attendance_records_processed ON attendance_records (processed)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_records_user_id ON attendance_records (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_upload_logs_created_at ON api_upload_logs (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_api_upload_logs_batch_id ON api_upload_logs (batch_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}

	return nil
}
