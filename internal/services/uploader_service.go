package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// ReconcilePolicy bounds the wait for the remote import job after a batch
// submission: poll every Interval, give up after MaxWait.
type ReconcilePolicy struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// ExportInfo identifies one batch export attempt.
type ExportInfo struct {
	BatchID      string
	FilePath     string
	RecordsCount int
}

// UploaderService runs the upload/reconcile cycle: read unprocessed records,
// export them as a spreadsheet, submit the batch, poll the remote import job
// and mark records processed once the remote side confirms them. Every
// failure path ends in a log line and, when a batch was attempted, an audit
// entry; nothing propagates to the scheduler.
type UploaderService struct {
	mu            sync.Mutex
	configService *ConfigService
	attendance    *AttendanceService
	uploadLogs    *UploadLogService
	clientFactory func(cfg *models.Config) PayrollClient
	client        PayrollClient
	exportsDir    string
	policy        ReconcilePolicy
}

func NewUploaderService(db *sql.DB, exportsDir string, policy ReconcilePolicy, clientFactory func(cfg *models.Config) PayrollClient) *UploaderService {
	return &UploaderService{
		configService: NewConfigService(db),
		attendance:    NewAttendanceService(db),
		uploadLogs:    NewUploadLogService(db),
		clientFactory: clientFactory,
		exportsDir:    exportsDir,
		policy:        policy,
	}
}

// UploadData runs one upload cycle. It never returns an error: one bad cycle
// must not bring the trigger loop down. At most one cycle runs per process;
// the scheduler and the manual trigger share the same lock, and a trigger
// that lands mid-cycle is skipped rather than queued.
func (s *UploaderService) UploadData() {
	if !s.mu.TryLock() {
		log.Println("Upload cycle already running, skipping")
		return
	}
	defer s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic during upload cycle: %v", r)
		}
	}()

	cfg, err := s.configService.GetConfig()
	if err != nil {
		log.Printf("Failed to read configuration: %v", err)
		return
	}
	if cfg == nil {
		log.Println("No configuration found, skipping upload cycle")
		return
	}

	if s.client == nil {
		client := s.clientFactory(cfg)
		if err := client.Authenticate(); err != nil {
			log.Printf("Failed to authenticate against payroll API: %v", err)
			return
		}
		s.client = client
	}

	unprocessed := false
	records, err := s.attendance.GetAttendanceRecords(&unprocessed, OrderByUsername)
	if err != nil {
		log.Printf("Failed to read unprocessed records: %v", err)
		return
	}
	if len(records) == 0 {
		log.Println("No unprocessed attendance records to upload")
		return
	}

	s.submitBatch(records)
}

// submitBatch exports, submits and reconciles one batch. Once an export
// exists the batch must not vanish from the audit trail, so even a panic in
// here ends as an ERROR entry.
func (s *UploaderService) submitBatch(records []models.AttendanceRecord) {
	var export *ExportInfo
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic during upload cycle: %v", r)
			if export != nil {
				s.logOutcome(export, models.UploadStatusError, map[string]string{"error": fmt.Sprintf("panic: %v", r)})
			}
		}
	}()

	var err error
	export, err = s.createExcelReport(records)
	if err != nil {
		log.Printf("Failed to create batch export: %v", err)
		if export != nil {
			s.logOutcome(export, models.UploadStatusError, map[string]string{"error": err.Error()})
		}
		return
	}

	result, err := s.client.UploadAttendance(export.FilePath)
	if err != nil {
		log.Printf("Error uploading attendance records: %v", err)
		s.logOutcome(export, models.UploadStatusError, map[string]string{"error": err.Error()})
		return
	}
	if !result.Success {
		log.Printf("Failed to upload attendance records: %s", result.Message)
		s.logOutcome(export, models.UploadStatusFailed, result)
		return
	}

	s.reconcile(export, result.JobExecutionID)
}

// createExcelReport serializes records into the spreadsheet layout the
// payroll import expects, under a per-run unique filename.
func (s *UploaderService) createExcelReport(records []models.AttendanceRecord) (*ExportInfo, error) {
	if err := os.MkdirAll(s.exportsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}

	batchID := uuid.New().String()[:8]
	filename := fmt.Sprintf("attendance_%s_%s.xlsx", time.Now().Format("20060102150405"), batchID)
	export := &ExportInfo{
		BatchID:      batchID,
		FilePath:     filepath.Join(s.exportsDir, filename),
		RecordsCount: len(records),
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	headers := []string{"No ID", "Nom", "Timestamp", "Nouvel état"}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return export, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i, record := range records {
		row := i + 2
		values := []interface{}{record.UserID, nil, record.Timestamp, record.PunchType.Label()}
		for col, value := range values {
			if value == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return export, fmt.Errorf("failed to write record row: %w", err)
			}
		}
	}

	if err := f.SaveAs(export.FilePath); err != nil {
		return export, fmt.Errorf("failed to save export file: %w", err)
	}

	log.Printf("Created export with %d records at %s", len(records), export.FilePath)
	return export, nil
}

// reconcile polls the remote import job until it reaches a terminal status or
// the policy deadline passes. Local records are only marked processed once
// the remote side confirms them.
func (s *UploaderService) reconcile(export *ExportInfo, jobExecutionID int64) {
	deadline := time.Now().Add(s.policy.MaxWait)
	var lastSnapshot *models.PointingImport

	for {
		snapshot, err := s.client.GetPointingImport()
		if err != nil {
			log.Printf("Error polling import status: %v", err)
			s.logOutcome(export, models.UploadStatusError, map[string]string{"error": err.Error()})
			return
		}

		// The endpoint reports the company's most recent import; a
		// snapshot of an older job is not our outcome.
		if snapshot.JobExecutionID == jobExecutionID {
			lastSnapshot = snapshot

			switch snapshot.Status {
			case models.ImportStatusCompleted:
				s.completeUpload(export, jobExecutionID, snapshot)
				return
			case models.ImportStatusFailed, models.ImportStatusStopped:
				log.Printf("Remote import job %d ended with status %s", jobExecutionID, snapshot.Status)
				s.logOutcome(export, models.UploadStatusFailed, snapshot)
				return
			case models.ImportStatusStarted, models.ImportStatusStarting:
				// still running, keep polling
			default:
				log.Printf("Unexpected import status %q for job %d", snapshot.Status, jobExecutionID)
				s.logOutcome(export, models.UploadStatusError, snapshot)
				return
			}
		}

		if time.Now().After(deadline) {
			log.Printf("Warning: import job %d unresolved after %v, leaving batch %s pending",
				jobExecutionID, s.policy.MaxWait, export.BatchID)
			s.logOutcome(export, models.UploadStatusPending, lastSnapshot)
			return
		}

		time.Sleep(s.policy.Interval)
	}
}

func (s *UploaderService) completeUpload(export *ExportInfo, jobExecutionID int64, snapshot *models.PointingImport) {
	events, err := s.client.GetPointingsWithJobID(jobExecutionID)
	if err != nil {
		log.Printf("Error fetching reconciled pointings: %v", err)
		s.logOutcome(export, models.UploadStatusError, map[string]string{"error": err.Error()})
		return
	}

	if len(events) > 0 {
		timestamps := make([]string, 0, len(events))
		for _, event := range events {
			timestamps = append(timestamps, event.Timestamp)
		}

		if _, err := s.attendance.MarkRecordsProcessed(timestamps); err != nil {
			log.Printf("Error marking records processed: %v", err)
			s.logOutcome(export, models.UploadStatusError, map[string]string{"error": err.Error()})
			return
		}
	}

	log.Printf("Successfully uploaded %d attendance records (job %d, %d written, %d skipped)",
		export.RecordsCount, jobExecutionID, snapshot.Written, snapshot.Skipped)
	s.logOutcome(export, models.UploadStatusSuccess, snapshot)
}

// logOutcome writes the audit entry for this attempt. Audit failures are
// logged and swallowed; the cycle outcome already happened.
func (s *UploaderService) logOutcome(export *ExportInfo, status string, payload interface{}) {
	var responseData *string
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			serialized := string(data)
			responseData = &serialized
		}
	}

	entry := &models.UploadLog{
		BatchID:      export.BatchID,
		FilePath:     export.FilePath,
		RecordsCount: export.RecordsCount,
		Status:       status,
		ResponseData: responseData,
	}
	if err := s.uploadLogs.LogUpload(entry); err != nil {
		log.Printf("Failed to write upload audit entry: %v", err)
	}
}
