// Package db opens the database connection and runs migrations.
package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"smartcar-bridge/config"
	"smartcar-bridge/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	log.Info().Msg("running database migrations")
	if err := db.AutoMigrate(
		&model.RestoreSnapshot{},
		&model.PushSubscription{},
	); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}

	log.Info().Msg("database initialization complete")
	return db, nil
}

// dialectorFor picks the driver from the configured name, falling back to
// sniffing the DSN: postgres DSNs carry a scheme or key=value pairs, anything
// else is treated as a sqlite path.
func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	driver := cfg.Driver
	if driver == "" {
		switch {
		case strings.HasPrefix(cfg.DSN, "postgres://"),
			strings.HasPrefix(cfg.DSN, "postgresql://"),
			strings.Contains(cfg.DSN, "host="):
			driver = "postgres"
		default:
			driver = "sqlite"
		}
	}

	switch driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
