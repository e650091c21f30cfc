package database

import (
	"fmt"

	"github.com/Perfect-Match-Org/PMTI/internal/config"
	"github.com/Perfect-Match-Org/PMTI/internal/logger"
	"github.com/Perfect-Match-Org/PMTI/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.LogLevel == "debug" || cfg.LogLevel == "trace" {
		level = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	l := logger.Component("database")
	l.Info().Str("host", cfg.DBHost).Str("name", cfg.DBName).Msg("database connected")
	return db, nil
}

// AutoMigrate creates or updates the survey tables.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Survey{},
		&models.SurveyParticipants{},
		&models.SurveyResponse{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	l := logger.Component("database")
	l.Info().Msg("database migrated")
	return nil
}
