package main

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/config"
	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/database"
	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/handlers"
	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/middleware"
	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"
	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (must be done before checking GIN_MODE)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading: %v", err)
	} else {
		log.Println("Loaded .env file")
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	if cfg.APIBaseURL == "" {
		log.Println("Warning: TATI_API_URL is not set; uploads will fail until it is configured")
	}

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer db.Close()

	configService := services.NewConfigService(db)
	attendanceService := services.NewAttendanceService(db)
	uploadLogService := services.NewUploadLogService(db)

	clientFactory := func(dc *models.Config) services.PayrollClient {
		return services.NewAPIClient(cfg.APIBaseURL, dc.CompanyID, dc.APIUsername, dc.APIPassword)
	}

	uploader := services.NewUploaderService(db, cfg.ExportsDir, services.ReconcilePolicy{
		Interval: cfg.ReconcilePollInterval,
		MaxWait:  cfg.ReconcileMaxWait,
	}, clientFactory)

	intervals := schedulerIntervals(configService, cfg)

	// The terminal protocol lives in a separate integration; without one the
	// collection and user-import loops stay off and punches arrive through
	// the control-panel API instead.
	scheduler := services.NewScheduler(nil, uploader, nil, intervals)
	scheduler.Start()
	defer scheduler.Stop()

	handler := handlers.NewHandler(configService, attendanceService, uploadLogService, uploader)

	r := gin.Default()
	r.Use(middleware.RecoveryMiddleware())

	allowedOrigins := []string{cfg.FrontendURL}
	if customOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); customOrigins != "" {
		for _, origin := range strings.Split(customOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins = append(allowedOrigins, origin)
			}
		}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api := r.Group("/api")
	{
		api.GET("/health", handler.HealthCheck)

		api.GET("/config", handler.GetConfig)
		api.PUT("/config", handler.SaveConfig)

		api.GET("/records", handler.GetRecords)
		api.POST("/records", handler.CreateRecord)
		api.PUT("/records/:id", handler.UpdateRecord)
		api.DELETE("/records/:id", handler.DeleteRecord)

		api.GET("/upload-logs", handler.GetUploadLogs)
		api.POST("/upload/trigger", handler.TriggerUpload)
	}

	log.Printf("Server starting on port %s", cfg.ServerPort)
	log.Printf("Database path: %s", cfg.DatabasePath)
	log.Printf("Exports directory: %s", cfg.ExportsDir)
	log.Printf("Payroll API: %s", cfg.APIBaseURL)
	log.Printf("Upload interval: %v, reconcile poll: %v/%v",
		intervals.Upload, cfg.ReconcilePollInterval, cfg.ReconcileMaxWait)

	if err := r.Run(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
		log.Fatal("Failed to start server:", err)
	}
}

// schedulerIntervals resolves loop cadences from the stored configuration
// row, falling back to application defaults when unset.
func schedulerIntervals(configService *services.ConfigService, cfg *config.Config) services.SchedulerIntervals {
	intervals := services.SchedulerIntervals{
		Collection: cfg.DefaultCollectionInterval,
		Upload:     cfg.DefaultUploadInterval,
		UserImport: cfg.DefaultUserImportInterval,
	}

	stored, err := configService.GetConfig()
	if err != nil {
		log.Printf("Failed to read stored configuration: %v", err)
		return intervals
	}
	if stored == nil {
		log.Println("No stored configuration yet; using default intervals")
		return intervals
	}

	if stored.CollectionInterval > 0 {
		intervals.Collection = time.Duration(stored.CollectionInterval) * time.Minute
	}
	if stored.UploadInterval > 0 {
		intervals.Upload = time.Duration(stored.UploadInterval) * time.Minute
	}
	if stored.UserImportInterval > 0 {
		intervals.UserImport = time.Duration(stored.UserImportInterval) * time.Hour
	}

	return intervals
}
