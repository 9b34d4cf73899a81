package cli

import (
	"fmt"
	"strings"

	"kazi/internal/actions"
	"kazi/internal/automation"
	"kazi/internal/config"
	"kazi/internal/database"
	"kazi/internal/gateway"
	"kazi/internal/models"
	"kazi/internal/services"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// app holds the components shared by the server and the one-shot commands.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	db      *gorm.DB
	gw      *gateway.GormGateway
	runner  *automation.Runner
	service *services.TriggerService
}

// loadConfig reads the config and initialises the global logger.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := config.InitLogger(cfg); err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logrus.StandardLogger(), nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg.Database, database.Options{
		Tracing:  cfg.Monitoring.Tracing.Enabled,
		LogLevel: gormLogLevel(cfg.Log.Level),
	})
}

func newApp(cfg *config.Config, log *logrus.Logger) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		closeDB(db)
		return nil, err
	}

	gw := gateway.NewGormGateway(db, models.AllModels()...)
	reg := automation.NewRegistry()
	actions.Register(reg, log, cfg.Automation.WebhookTimeout)

	runner := automation.NewRunner(gw, reg, log, automation.Options{
		UnknownOperators: automation.ParseUnknownOperatorPolicy(cfg.Automation.UnknownOperatorPolicy),
		Transactional:    cfg.Automation.TransactionalWrites,
		LogErrors:        cfg.Automation.LogErrors,
	})
	svc := services.NewTriggerService(gw, runner, log)
	svc.SetExecuteTimeout(cfg.Automation.ExecuteTimeout)

	log.WithFields(logrus.Fields{
		"driver":            db.Dialector.Name(),
		"unknown_operators": cfg.Automation.UnknownOperatorPolicy,
		"transactional":     cfg.Automation.TransactionalWrites,
		"actions":           strings.Join(reg.Types(), ","),
	}).Info("automation initialised")

	return &app{cfg: cfg, logger: log, db: db, gw: gw, runner: runner, service: svc}, nil
}

func (a *app) Close() {
	closeDB(a.db)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return logger.Info
	case "error", "fatal", "panic":
		return logger.Error
	default:
		return logger.Warn
	}
}
