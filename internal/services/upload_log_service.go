package services

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"
)

// UploadLogService is the append-only audit trail of upload attempts. Entries
// are written exactly once per attempt and never updated.
type UploadLogService struct {
	db *sql.DB
}

func NewUploadLogService(db *sql.DB) *UploadLogService {
	return &UploadLogService{db: db}
}

func (s *UploadLogService) LogUpload(entry *models.UploadLog) error {
	query := `
		INSERT INTO api_upload_logs (batch_id, file_path, records_count, status, response_data)
		VALUES (?, ?, ?, ?, ?)`

	result, err := s.db.Exec(query,
		entry.BatchID, entry.FilePath, entry.RecordsCount, entry.Status, entry.ResponseData)
	if err != nil {
		return fmt.Errorf("failed to log upload: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}

	log.Printf("Logged API upload: batch=%s status=%s records=%d",
		entry.BatchID, entry.Status, entry.RecordsCount)
	return nil
}

// GetUploadLogs returns upload attempts, newest first, with optional status
// filtering for the control panel.
func (s *UploadLogService) GetUploadLogs(status *string, limit, offset int) ([]models.UploadLog, error) {
	query := `
		SELECT id, batch_id, file_path, records_count, status, response_data, created_at
		FROM api_upload_logs
		WHERE 1=1`

	args := []interface{}{}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query upload logs: %w", err)
	}
	defer rows.Close()

	var logs []models.UploadLog
	for rows.Next() {
		var entry models.UploadLog
		err := rows.Scan(
			&entry.ID, &entry.BatchID, &entry.FilePath, &entry.RecordsCount,
			&entry.Status, &entry.ResponseData, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload log: %w", err)
		}
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over upload logs: %w", err)
	}

	return logs, nil
}
