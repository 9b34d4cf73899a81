// Package database opens the configured gorm connection and manages the schema.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kazi/internal/config"
	"kazi/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// Options adjust how Open configures the connection.
type Options struct {
	Tracing  bool
	LogLevel logger.LogLevel
}

// Dialector builds the gorm dialector for the configured driver.
func Dialector(dc config.DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(dc.Driver) {
	case "", "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
			dc.Host, dc.User, dc.Password, dc.Name, dc.Port, sslMode(dc.SSLMode))
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			dc.User, dc.Password, dc.Host, dc.Port, dc.Name)
		return mysql.Open(dsn), nil
	case "sqlite":
		path := dc.Path
		if path == "" {
			path = "kazi.db"
		}
		if path != ":memory:" && !strings.HasPrefix(path, "file:") {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dc.Driver)
	}
}

func sslMode(s string) string {
	if s == "" {
		return "disable"
	}
	return s
}

// Open connects to the configured database and applies pool settings.
func Open(dc config.DatabaseConfig, opts Options) (*gorm.DB, error) {
	dialector, err := Dialector(dc)
	if err != nil {
		return nil, err
	}
	level := opts.LogLevel
	if level == 0 {
		level = logger.Warn
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dc.Driver, err)
	}
	if opts.Tracing {
		if err := db.Use(gormtracing.NewPlugin()); err != nil {
			logrus.Warnf("gorm tracing plugin: %v", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if dc.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dc.MaxOpenConns)
	}
	if dc.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dc.MaxIdleConns)
	}
	if dc.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(dc.ConnMaxLifetime)
	}
	return db, nil
}

// 复合索引，AutoMigrate 之后创建
var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_triggers_event_active ON triggers(event_type, is_active)",
	"CREATE INDEX IF NOT EXISTS idx_triggers_priority_created ON triggers(priority, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_trigger_conditions_order ON trigger_conditions(trigger_id, order_index)",
	"CREATE INDEX IF NOT EXISTS idx_trigger_actions_order ON trigger_actions(trigger_id, order_index)",
	"CREATE INDEX IF NOT EXISTS idx_trigger_executions_trigger_time ON trigger_executions(trigger_id, executed_at)",
	"CREATE INDEX IF NOT EXISTS idx_trigger_logs_trigger_time ON trigger_logs(trigger_id, occurred_at)",
}

// Migrate creates or updates every table plus the composite indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// MySQL has no CREATE INDEX IF NOT EXISTS; the single-column indexes from tags suffice there.
	if db.Dialector.Name() == "mysql" {
		return nil
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
