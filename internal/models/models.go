package models

import (
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the canonical timestamp encoding used everywhere in the
// store: second precision, space separator. API payloads use the ISO-8601 "T"
// separator; CanonicalTimestamp converts at the boundary so matching is always
// done on the same representation.
const TimestampLayout = "2006-01-02 15:04:05"

// LocalUIDBase is the start of the device-uid range reserved for punches
// created locally (manual entries) rather than read from the terminal.
const LocalUIDBase = 2000000

// CanonicalTimestamp normalizes a timestamp string to TimestampLayout form:
// "T" separators become spaces and fractional seconds / zone suffixes are
// truncated. Input already in canonical form passes through unchanged.
func CanonicalTimestamp(ts string) string {
	ts = strings.TrimSpace(strings.Replace(ts, "T", " ", 1))
	if len(ts) > len(TimestampLayout) {
		ts = ts[:len(TimestampLayout)]
	}
	return ts
}

// FormatTimestamp renders a time.Time in the canonical store encoding.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

type Config struct {
	ID                 int64     `json:"id" db:"id"`
	CompanyID          string    `json:"company_id" db:"company_id"`
	APIUsername        string    `json:"api_username" db:"api_username"`
	APIPassword        string    `json:"api_password,omitempty" db:"api_password"`
	DeviceIP           string    `json:"device_ip" db:"device_ip"`
	DevicePort         int       `json:"device_port" db:"device_port"`
	CollectionInterval int       `json:"collection_interval" db:"collection_interval"`   // minutes
	UploadInterval     int       `json:"upload_interval" db:"upload_interval"`           // minutes
	UserImportInterval int       `json:"user_import_interval" db:"user_import_interval"` // hours
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// PunchType is the direction code reported by the terminal.
type PunchType int

const (
	PunchEntry PunchType = 0
	PunchExit  PunchType = 1
)

// Label returns the punch direction label the payroll import sheet expects.
func (p PunchType) Label() string {
	switch p {
	case PunchEntry:
		return "Entrée"
	case PunchExit:
		return "Sortie"
	default:
		return strconv.Itoa(int(p))
	}
}

type AttendanceRecord struct {
	ID        int64     `json:"id" db:"id"`
	UID       *int64    `json:"uid" db:"uid"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	Timestamp string    `json:"timestamp" db:"timestamp"`
	Status    int       `json:"status" db:"status"`
	PunchType PunchType `json:"punch_type" db:"punch_type"`
	Processed bool      `json:"processed" db:"processed"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Upload outcome recorded in the audit log. PENDING means the batch was
// submitted but the remote job never reached a terminal status inside the
// reconciliation deadline.
const (
	UploadStatusSuccess = "SUCCESS"
	UploadStatusFailed  = "FAILED"
	UploadStatusError   = "ERROR"
	UploadStatusPending = "PENDING"
)

type UploadLog struct {
	ID           int64     `json:"id" db:"id"`
	BatchID      string    `json:"batch_id" db:"batch_id"`
	FilePath     string    `json:"file_path" db:"file_path"`
	RecordsCount int       `json:"records_count" db:"records_count"`
	Status       string    `json:"status" db:"status"`
	ResponseData *string   `json:"response_data" db:"response_data"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Remote import job statuses reported by the payroll API.
const (
	ImportStatusStarting  = "STARTING"
	ImportStatusStarted   = "STARTED"
	ImportStatusCompleted = "COMPLETED"
	ImportStatusFailed    = "FAILED"
	ImportStatusStopped   = "STOPPED"
)

// PointingImport is the payroll API's view of an asynchronous batch import.
// Never persisted locally except serialized into an upload log entry.
type PointingImport struct {
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	CompanyID      string `json:"companyId"`
	JobExecutionID int64  `json:"jobExecutionId"`
	Total          int    `json:"total"`
	Skipped        int    `json:"skipped"`
	Written        int    `json:"written"`
	Filename       string `json:"filename"`
	Created        string `json:"created"`
}

// Pointing is one reconciled entry/exit pair returned by the payroll API.
// Either side may be absent when the pair is still open.
type Pointing struct {
	Entrance *string `json:"entrance"`
	Exit     *string `json:"exit"`
}

// PointingEvent is one flattened punch from a Pointing: a pointing with both
// an entrance and an exit contributes two events.
type PointingEvent struct {
	Timestamp string    `json:"timestamp"`
	Punch     PunchType `json:"punch"`
}

// Events splits a pointing into its constituent punch events with canonical
// timestamps.
func (p Pointing) Events() []PointingEvent {
	var events []PointingEvent
	if p.Entrance != nil && *p.Entrance != "" {
		events = append(events, PointingEvent{Timestamp: CanonicalTimestamp(*p.Entrance), Punch: PunchEntry})
	}
	if p.Exit != nil && *p.Exit != "" {
		events = append(events, PointingEvent{Timestamp: CanonicalTimestamp(*p.Exit), Punch: PunchExit})
	}
	return events
}

// DeviceUser is a user entry read from the terminal.
type DeviceUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DevicePunch is one raw attendance event read from the terminal.
type DevicePunch struct {
	UID       int64     `json:"uid"`
	UserID    int64     `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Punch     PunchType `json:"punch"`
}
