// Package persistence adapts the host's SQL database for plugins and keeps
// plugin-declared tables and enums in step with the extension registry.
package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jrjohn/arcana-plugin-runtime/internal/config"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
)

// Open connects to the configured SQL database
func Open(cfg *config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch config.DatabaseDriver(cfg.Driver) {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN())
	case config.DriverMySQL:
		dialector = mysql.Open(cfg.DSN())
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported SQL driver: %s", cfg.Driver)
	}

	logger.Info("Connecting to SQL database",
		zap.String("driver", cfg.Driver),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
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
	return db, nil
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ api.Database = (*Database)(nil)

// Database is the persistence capability plugins receive
type Database struct {
	db *gorm.DB
}

// NewDatabase wraps db
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Exec runs a statement that returns no rows
func (d *Database) Exec(ctx context.Context, sql string, args ...any) error {
	return d.db.WithContext(ctx).Exec(sql, args...).Error
}

// Query runs a statement and returns every row keyed by column name
func (d *Database) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows := make([]map[string]any, 0)
	if err := d.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
