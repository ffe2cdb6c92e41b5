package database

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Parsh06/Stock-Backend/internal/config"
	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/models"
)

// DefaultURL is relocated to the user config directory
const DefaultURL = "sqlite://./stocksync.db"

var DB *gorm.DB

// Init opens the database described by cfg and runs auto-migration
func Init(cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	databaseURL := cfg.URL
	if databaseURL == "" {
		databaseURL = DefaultURL
	}
	logger.Info("Using database", zap.String("location", Location(databaseURL)))

	dialector, err := Dialector(databaseURL)
	if err != nil {
		return nil, err
	}

	// Configure GORM logger
	level := gormlogger.Warn
	if strings.EqualFold(logLevel, "debug") {
		level = gormlogger.Info
	}

	DB, err = gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLogger(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Debug("Database connection pool configured",
		zap.Int("max_open", cfg.MaxOpenConns),
		zap.Int("max_idle", cfg.MaxIdleConns),
		zap.Duration("max_lifetime", cfg.ConnMaxLifetime))

	// Health check
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := AutoMigrate(DB); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	logger.Debug("Database initialized")
	return DB, nil
}

// Dialector maps a sqlite:// or postgres:// URL to a GORM dialector
func Dialector(databaseURL string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dbPath, err := sqlitePath(databaseURL)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dbPath), nil
	case strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		return postgres.Open(databaseURL), nil
	}
	return nil, fmt.Errorf("unsupported database URL format: %s", databaseURL)
}

// sqlitePath returns the file behind a sqlite:// URL. DefaultURL lives in
// the user config directory.
func sqlitePath(databaseURL string) (string, error) {
	if databaseURL != DefaultURL {
		return strings.TrimPrefix(databaseURL, "sqlite://"), nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	appDir := filepath.Join(configDir, "stocksync")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create app directory: %w", err)
	}
	return filepath.Join(appDir, "stocksync.db"), nil
}

// Location describes where databaseURL points, without credentials
func Location(databaseURL string) string {
	if strings.HasPrefix(databaseURL, "sqlite://") {
		if path, err := sqlitePath(databaseURL); err == nil {
			return path
		}
		return strings.TrimPrefix(databaseURL, "sqlite://")
	}
	if u, err := url.Parse(databaseURL); err == nil {
		return u.Redacted()
	}
	return "unparseable database url"
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.SinkProfile{},
		&models.ScheduledJob{},
		&models.RunRecord{},
		&models.DocumentRow{},
	)
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
