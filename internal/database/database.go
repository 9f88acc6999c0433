// Package database provides the sqlite job-history store for livesub.
// It uses the pure-Go SQLite driver (github.com/glebarez/sqlite) through GORM.
package database

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/config"
	"github.com/yuhao-tubi/multi-language-live-sub001/internal/models"
)

// DB wraps a GORM database connection.
type DB struct {
	*gorm.DB
}

// New opens the sqlite database at the configured path and runs migrations.
// Use ":memory:" for tests.
func New(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(&models.StreamJob{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{DB: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
