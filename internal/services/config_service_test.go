package services

import (
	"testing"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigService(t *testing.T) {
	db, err := setupTestDB()
	require.NoError(t, err)
	defer db.Close()

	service := NewConfigService(db)

	t.Run("absent configuration is nil, not an error", func(t *testing.T) {
		cfg, err := service.GetConfig()
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("insert then read back", func(t *testing.T) {
		err := service.SaveConfig(&models.Config{
			CompanyID:          "77",
			APIUsername:        "integration",
			APIPassword:        "secret",
			DeviceIP:           "192.168.1.201",
			DevicePort:         4370,
			CollectionInterval: 10,
			UploadInterval:     60,
			UserImportInterval: 12,
		})
		require.NoError(t, err)

		cfg, err := service.GetConfig()
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "77", cfg.CompanyID)
		assert.Equal(t, "integration", cfg.APIUsername)
		assert.Equal(t, 4370, cfg.DevicePort)
	})

	t.Run("second save updates the singleton row", func(t *testing.T) {
		err := service.SaveConfig(&models.Config{
			CompanyID:   "88",
			APIUsername: "integration",
			APIPassword: "rotated",
			DeviceIP:    "192.168.1.202",
			DevicePort:  4370,
		})
		require.NoError(t, err)

		cfg, err := service.GetConfig()
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "88", cfg.CompanyID)
		assert.Equal(t, "rotated", cfg.APIPassword)

		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM config`).Scan(&count))
		assert.Equal(t, 1, count)
	})
}
