// Package actions holds the action handlers the server registers with the
// automation registry.
package actions

import (
	"context"
	"time"

	"kazi/internal/automation"

	"github.com/sirupsen/logrus"
)

// Action types served by this package.
const (
	TypeLog         = "log"
	TypeNotifyLog   = "notify_log"
	TypeWebhook     = "webhook"
	TypeHTTPRequest = "http_request"
)

// Register installs the built-in handlers on reg and returns the webhook
// handler so callers can reach its client.
func Register(reg *automation.Registry, logger *logrus.Logger, webhookTimeout time.Duration) *Webhook {
	if logger == nil {
		logger = logrus.New()
	}
	logHandler := Log(logger)
	reg.Register(TypeLog, logHandler)
	reg.Register(TypeNotifyLog, logHandler)

	wh := NewWebhook(webhookTimeout, logger)
	reg.Register(TypeWebhook, wh.Handle)
	reg.Register(TypeHTTPRequest, wh.Handle)
	return wh
}

// Log writes one logrus entry per action. config.level picks the level
// (default info), config.message the text.
func Log(logger *logrus.Logger) automation.ActionHandlerFunc {
	return func(_ context.Context, config map[string]any, ec automation.ExecutionContext) (automation.ActionOutcome, error) {
		msg, _ := config["message"].(string)
		if msg == "" {
			msg = "trigger fired"
		}
		level := logrus.InfoLevel
		if s, ok := config["level"].(string); ok {
			if l, err := logrus.ParseLevel(s); err == nil {
				level = l
			}
		}
		logger.WithFields(logrus.Fields{
			"trigger_id": ec.TriggerID,
			"entity_id":  ec.EntityID,
		}).Log(level, msg)
		return automation.ActionOutcome{Success: true, Data: map[string]any{"message": msg}}, nil
	}
}
