package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kazi/internal/automation"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBody = 4 << 10

// Webhook sends an HTTP request described by the action config:
//
//	url      required
//	method   default POST
//	headers  map of header values
//	body     any JSON value; defaults to {trigger_id, entity_id, event_data}
//
// A 2xx response is a success. Other statuses are a failed outcome, transport
// errors are returned as errors.
type Webhook struct {
	client *http.Client
	logger *logrus.Logger
}

func NewWebhook(timeout time.Duration, logger *logrus.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Webhook{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Client exposes the HTTP client, mainly for tests.
func (w *Webhook) Client() *http.Client { return w.client }

func (w *Webhook) Handle(ctx context.Context, config map[string]any, ec automation.ExecutionContext) (automation.ActionOutcome, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return automation.ActionOutcome{}, fmt.Errorf("webhook: url is required")
	}
	method := http.MethodPost
	if m, ok := config["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		payload, ok := config["body"]
		if !ok {
			payload = map[string]any{
				"trigger_id": ec.TriggerID,
				"entity_id":  ec.EntityID,
				"event_data": ec.EventData,
			}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return automation.ActionOutcome{}, fmt.Errorf("webhook: encode body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return automation.ActionOutcome{}, fmt.Errorf("webhook: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return automation.ActionOutcome{}, fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		w.logger.WithField("trigger_id", ec.TriggerID).Warnf("webhook %s %s returned %d", method, url, resp.StatusCode)
	}
	return automation.ActionOutcome{
		Success: ok,
		Data: map[string]any{
			"status_code": resp.StatusCode,
			"body":        string(respBody),
		},
	}, nil
}
