package services

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"
)

// RecordOrder enumerates the columns callers may sort attendance records by.
// Keeping it a closed set avoids building ORDER BY clauses from raw input.
type RecordOrder string

const (
	OrderByTimestamp RecordOrder = "timestamp"
	OrderByUsername  RecordOrder = "username"
	OrderByUserID    RecordOrder = "user_id"
	OrderByCreatedAt RecordOrder = "created_at"
)

var orderColumns = map[RecordOrder]string{
	OrderByTimestamp: "timestamp ASC",
	OrderByUsername:  "username ASC",
	OrderByUserID:    "user_id ASC",
	OrderByCreatedAt: "created_at ASC",
}

// localUIDSequence is the counter row backing synthetic device uids for
// locally-created punches.
const localUIDSequence = "local_attendance_uid"

type AttendanceService struct {
	db *sql.DB
}

func NewAttendanceService(db *sql.DB) *AttendanceService {
	return &AttendanceService{db: db}
}

// SaveAttendanceRecords bulk-inserts records read from the terminal. Rows
// whose timestamp already exists are skipped, so re-reading the full device
// log on every poll is harmless.
func (s *AttendanceService) SaveAttendanceRecords(records []models.AttendanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO attendance_records (
			uid, user_id, username, timestamp, status, punch_type, processed
		) VALUES (?, ?, ?, ?, ?, ?, 0)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		_, err := stmt.Exec(
			record.UID, record.UserID, record.Username,
			models.CanonicalTimestamp(record.Timestamp),
			record.Status, record.PunchType)
		if err != nil {
			return fmt.Errorf("failed to insert attendance record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attendance records: %w", err)
	}

	log.Printf("Saved %d attendance records to database", len(records))
	return nil
}

// SaveAttendanceRecord inserts a single record. When the record carries no
// device uid, one is allocated from the local counter so manual punches live
// in an id range that can never collide with terminal-assigned uids.
func (s *AttendanceService) SaveAttendanceRecord(record *models.AttendanceRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if record.UID == nil {
		uid, err := nextSequenceValue(tx, localUIDSequence, models.LocalUIDBase-1)
		if err != nil {
			return fmt.Errorf("failed to allocate local uid: %w", err)
		}
		record.UID = &uid
	}

	record.Timestamp = models.CanonicalTimestamp(record.Timestamp)

	result, err := tx.Exec(`
		INSERT INTO attendance_records (
			uid, user_id, username, timestamp, status, punch_type, processed
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.UID, record.UserID, record.Username, record.Timestamp,
		record.Status, record.PunchType, record.Processed)
	if err != nil {
		return fmt.Errorf("failed to insert attendance record: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attendance record: %w", err)
	}

	return nil
}

// nextSequenceValue increments and returns the named counter, seeding it at
// seed when absent. Runs inside the caller's transaction.
func nextSequenceValue(tx *sql.Tx, name string, seed int64) (int64, error) {
	_, err := tx.Exec(`INSERT OR IGNORE INTO sequences (name, value) VALUES (?, ?)`, name, seed)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`UPDATE sequences SET value = value + 1 WHERE name = ?`, name); err != nil {
		return 0, err
	}

	var value int64
	if err := tx.QueryRow(`SELECT value FROM sequences WHERE name = ?`, name).Scan(&value); err != nil {
		return 0, err
	}

	return value, nil
}

// GetAttendanceRecords returns records filtered by processed state (nil means
// all) in the requested order.
func (s *AttendanceService) GetAttendanceRecords(processed *bool, orderBy RecordOrder) ([]models.AttendanceRecord, error) {
	orderClause, ok := orderColumns[orderBy]
	if !ok {
		orderClause = orderColumns[OrderByTimestamp]
	}

	query := `
		SELECT id, uid, user_id, username, timestamp, status, punch_type, processed, created_at
		FROM attendance_records
		WHERE 1=1`

	args := []interface{}{}
	if processed != nil {
		query += " AND processed = ?"
		args = append(args, *processed)
	}
	query += " ORDER BY " + orderClause

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance records: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var record models.AttendanceRecord
		err := rows.Scan(
			&record.ID, &record.UID, &record.UserID, &record.Username,
			&record.Timestamp, &record.Status, &record.PunchType,
			&record.Processed, &record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over attendance records: %w", err)
	}

	return records, nil
}

// MarkRecordsProcessed flips the processed flag for every record whose
// timestamp matches one of the given values. Timestamps arriving from the
// payroll API use the "T" separator; both forms match after normalization.
// Returns the number of rows updated.
func (s *AttendanceService) MarkRecordsProcessed(timestamps []string) (int64, error) {
	if len(timestamps) == 0 {
		return 0, nil
	}

	normalized := make([]interface{}, 0, len(timestamps))
	for _, ts := range timestamps {
		normalized = append(normalized, models.CanonicalTimestamp(ts))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(normalized)), ",")
	query := fmt.Sprintf(`
		UPDATE attendance_records
		SET processed = 1
		WHERE timestamp IN (%s)`, placeholders)

	result, err := s.db.Exec(query, normalized...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark records processed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	log.Printf("Marked %d of %d records as processed", affected, len(timestamps))
	return affected, nil
}

// UpdateAttendanceRecord rewrites a record's mutable fields by local id.
func (s *AttendanceService) UpdateAttendanceRecord(record *models.AttendanceRecord) error {
	query := `
		UPDATE attendance_records
		SET user_id = ?, username = ?, timestamp = ?, status = ?, punch_type = ?, processed = ?
		WHERE id = ?`

	result, err := s.db.Exec(query,
		record.UserID, record.Username, models.CanonicalTimestamp(record.Timestamp),
		record.Status, record.PunchType, record.Processed, record.ID)
	if err != nil {
		return fmt.Errorf("failed to update attendance record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("attendance record not found: %d", record.ID)
	}

	return nil
}

func (s *AttendanceService) DeleteAttendanceRecord(id int64) error {
	result, err := s.db.Exec(`DELETE FROM attendance_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete attendance record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("attendance record not found: %d", id)
	}

	return nil
}

// BackfillUsernames fills the username column for records whose device user
// id appears in the given map and whose username is still empty. Returns the
// number of records touched.
func (s *AttendanceService) BackfillUsernames(users map[int64]string) (int64, error) {
	if len(users) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		UPDATE attendance_records
		SET username = ?
		WHERE user_id = ? AND username = ''`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare backfill update: %w", err)
	}
	defer stmt.Close()

	var total int64
	for userID, name := range users {
		result, err := stmt.Exec(name, userID)
		if err != nil {
			return 0, fmt.Errorf("failed to backfill username for user %d: %w", userID, err)
		}
		if affected, err := result.RowsAffected(); err == nil {
			total += affected
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit username backfill: %w", err)
	}

	return total, nil
}
