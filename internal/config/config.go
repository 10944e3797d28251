package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	DatabasePath string
	DatabaseDir  string
	ExportsDir   string
	ServerPort   string
	FrontendURL  string

	// Payroll API endpoint, e.g. https://payroll.example.com/api
	APIBaseURL string

	// Bounded reconciliation wait after a batch submission.
	ReconcilePollInterval time.Duration
	ReconcileMaxWait      time.Duration

	// Fallback cadences when the stored configuration leaves them unset.
	DefaultCollectionInterval time.Duration
	DefaultUploadInterval     time.Duration
	DefaultUserImportInterval time.Duration
}

// GetConfig returns the application configuration based on environment variables
func GetConfig() (*Config, error) {
	config := &Config{}

	if dbPath := os.Getenv("TATI_DB_PATH"); dbPath != "" {
		config.DatabasePath = dbPath
		config.DatabaseDir = filepath.Dir(dbPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		config.DatabaseDir = filepath.Join(homeDir, ".tati")
		config.DatabasePath = filepath.Join(config.DatabaseDir, "attendance.db")
	}

	config.ExportsDir = os.Getenv("TATI_EXPORTS_DIR")
	if config.ExportsDir == "" {
		config.ExportsDir = "exports"
	}

	config.ServerPort = os.Getenv("PORT")
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}

	config.FrontendURL = os.Getenv("FRONTEND_URL")
	if config.FrontendURL == "" {
		config.FrontendURL = "http://localhost:3000"
	}

	config.APIBaseURL = os.Getenv("TATI_API_URL")

	config.ReconcilePollInterval = durationEnv("TATI_RECONCILE_POLL_SECONDS", 2*time.Second)
	config.ReconcileMaxWait = durationEnv("TATI_RECONCILE_MAX_WAIT_SECONDS", 30*time.Second)

	config.DefaultCollectionInterval = 10 * time.Minute
	config.DefaultUploadInterval = 60 * time.Minute
	config.DefaultUserImportInterval = 12 * time.Hour

	return config, nil
}

func durationEnv(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// EnsureDatabaseDir creates the database directory if it doesn't exist
func (c *Config) EnsureDatabaseDir() error {
	return os.MkdirAll(c.DatabaseDir, 0755)
}

// EnsureExportsDir creates the batch export directory if it doesn't exist
func (c *Config) EnsureExportsDir() error {
	return os.MkdirAll(c.ExportsDir, 0755)
}

// DatabaseExists checks if the database file exists
func (c *Config) DatabaseExists() bool {
	_, err := os.Stat(c.DatabasePath)
	return !os.IsNotExist(err)
}
