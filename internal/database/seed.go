package database

import (
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/zaqqye/proctoring_backend/internal/config"
	"github.com/zaqqye/proctoring_backend/internal/models"
)

// SeedSettings writes the global settings row from configuration if none
// exists yet. An existing row is left alone so admin edits survive restarts.
func SeedSettings(db *gorm.DB, cfg *config.Config, logger *slog.Logger) error {
	var existing models.ProctoringSettings
	err := db.Where("scope = ?", models.GlobalSettingsScope).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	row := models.ProctoringSettings{
		Scope:                   models.GlobalSettingsScope,
		RequiredDevices:         append([]string(nil), cfg.RequiredDevices...),
		HeartbeatTimeoutSeconds: int(cfg.HeartbeatTimeout / time.Second),
		ConsentRequired:         cfg.ConsentRequired,
		SessionDurationMinutes:  int(cfg.SessionDuration / time.Minute),
		UpdatedBy:               "seed",
	}
	if err := db.Create(&row).Error; err != nil {
		return err
	}
	logger.Info("seeded global proctoring settings",
		"required_devices", cfg.RequiredDevices, "consent_required", cfg.ConsentRequired)
	return nil
}
