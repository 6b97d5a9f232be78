// Package database bootstraps the GORM/PostgreSQL connection the
// Batch Writer persists through, following pkg/database's dialector +
// connection-pool setup but trimmed to the single driver this fabric
// actually needs.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds the PostgreSQL connection settings, matching
// internal/config.DatabaseConfig.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// New opens a GORM connection against PostgreSQL, disabling prepared
// statement caching the same way pkg/database.New does for
// compatibility with connection poolers (e.g. pgbouncer) fronting the
// reference deployment's database.
func New(cfg Config) (*gorm.DB, error) {
	dialector := postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	})

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// AutoMigrate runs GORM auto-migration for the given models.
func AutoMigrate(db *gorm.DB, models ...interface{}) error {
	return db.AutoMigrate(models...)
}
