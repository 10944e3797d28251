package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/middleware"
	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"
	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/services"
)

// Handler exposes the control-panel API: the configuration surface, manual
// record edits, the upload audit trail and a manual upload trigger.
type Handler struct {
	configService     *services.ConfigService
	attendanceService *services.AttendanceService
	uploadLogService  *services.UploadLogService
	uploader          *services.UploaderService
}

func NewHandler(configService *services.ConfigService, attendanceService *services.AttendanceService, uploadLogService *services.UploadLogService, uploader *services.UploaderService) *Handler {
	return &Handler{
		configService:     configService,
		attendanceService: attendanceService,
		uploadLogService:  uploadLogService,
		uploader:          uploader,
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.configService.GetConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to get configuration",
			"details": err.Error(),
		})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No configuration found"})
		return
	}

	// Credentials go in, never back out.
	cfg.APIPassword = ""
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) SaveConfig(c *gin.Context) {
	var cfg models.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid configuration payload",
			"details": err.Error(),
		})
		return
	}

	if err := h.configService.SaveConfig(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to save configuration",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Configuration saved"})
}

func (h *Handler) GetRecords(c *gin.Context) {
	var processed *bool
	if raw := c.Query("processed"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid processed filter"})
			return
		}
		processed = &value
	}

	orderBy := services.OrderByTimestamp
	if raw := c.Query("order_by"); raw != "" {
		orderBy = services.RecordOrder(raw)
	}

	records, err := h.attendanceService.GetAttendanceRecords(processed, orderBy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to get attendance records",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// CreateRecord stores a manually-entered punch. The store assigns it a
// synthetic device uid from the reserved local range.
func (h *Handler) CreateRecord(c *gin.Context) {
	var record models.AttendanceRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid record payload",
			"details": err.Error(),
		})
		return
	}

	if err := h.attendanceService.SaveAttendanceRecord(&record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create attendance record",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (h *Handler) UpdateRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid record id"})
		return
	}

	var record models.AttendanceRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid record payload",
			"details": err.Error(),
		})
		return
	}
	record.ID = id

	if err := h.attendanceService.UpdateAttendanceRecord(&record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to update attendance record",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) DeleteRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid record id"})
		return
	}

	if err := h.attendanceService.DeleteAttendanceRecord(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to delete attendance record",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Record deleted"})
}

func (h *Handler) GetUploadLogs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	var status *string
	if raw := c.Query("status"); raw != "" {
		status = &raw
	}

	logs, err := h.uploadLogService.GetUploadLogs(status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to get upload logs",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"count": len(logs),
	})
}

// TriggerUpload fires one upload cycle in the background. The cycle can block
// on the reconciliation poll for its full deadline, so the request returns
// immediately.
func (h *Handler) TriggerUpload(c *gin.Context) {
	middleware.SafeGoRoutine("manual-upload", h.uploader.UploadData)
	c.JSON(http.StatusAccepted, gin.H{"message": "Upload cycle started"})
}
