package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"kazi/internal/automation"
	"kazi/internal/models"

	"github.com/jarcoal/httpmock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var ec = automation.ExecutionContext{
	TriggerID: "t-1",
	EntityID:  "order-7",
	EventData: map[string]any{"amount": 120},
}

func TestLogHandler(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := Log(logger)

	out, err := h(context.Background(), map[string]any{"message": "hello", "level": "warn"}, ec)
	require.NoError(t, err)
	assert.True(t, out.Success)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "hello", entry.Message)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "t-1", entry.Data["trigger_id"])
}

func TestWebhook_DefaultBody(t *testing.T) {
	wh := NewWebhook(time.Second, nil)
	httpmock.ActivateNonDefault(wh.Client())
	defer httpmock.DeactivateAndReset()

	var got map[string]any
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/orders",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			assert.Equal(t, "secret", req.Header.Get("X-Token"))
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(http.StatusAccepted, `{"ok":true}`), nil
		})

	out, err := wh.Handle(context.Background(), map[string]any{
		"url":     "https://hooks.example.com/orders",
		"headers": map[string]any{"X-Token": "secret"},
	}, ec)
	require.NoError(t, err)
	assert.True(t, out.Success)
	data := out.Data.(map[string]any)
	assert.Equal(t, http.StatusAccepted, data["status_code"])
	assert.Equal(t, `{"ok":true}`, data["body"])

	assert.Equal(t, "t-1", got["trigger_id"])
	assert.Equal(t, "order-7", got["entity_id"])
	assert.Equal(t, map[string]any{"amount": float64(120)}, got["event_data"])
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestWebhook_Non2xxIsFailedOutcome(t *testing.T) {
	wh := NewWebhook(time.Second, nil)
	httpmock.ActivateNonDefault(wh.Client())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPut, "https://hooks.example.com/fail",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	out, err := wh.Handle(context.Background(), map[string]any{
		"url":    "https://hooks.example.com/fail",
		"method": "put",
		"body":   map[string]any{"x": 1},
	}, ec)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, http.StatusInternalServerError, out.Data.(map[string]any)["status_code"])
}

func TestWebhook_TransportErrorAndMissingURL(t *testing.T) {
	wh := NewWebhook(time.Second, nil)
	httpmock.ActivateNonDefault(wh.Client())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://down.example.com/",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := wh.Handle(context.Background(), map[string]any{"url": "https://down.example.com/", "method": "GET"}, ec)
	assert.Error(t, err)

	_, err = wh.Handle(context.Background(), map[string]any{}, ec)
	assert.ErrorContains(t, err, "url is required")
}

// A failing webhook must not stop the actions after it.
func TestRegister_DispatchContinuesPastWebhookFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	reg := automation.NewRegistry()
	wh := Register(reg, logger, time.Second)
	httpmock.ActivateNonDefault(wh.Client())
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/x",
		httpmock.NewStringResponder(http.StatusBadGateway, ""))

	assert.Equal(t, []string{TypeHTTPRequest, TypeLog, TypeNotifyLog, TypeWebhook}, reg.Types())

	actions := []models.TriggerAction{
		{ID: "a1", ActionType: TypeWebhook, ActionConfig: datatypes.JSONMap{"url": "https://hooks.example.com/x"}, OrderIndex: 0, IsActive: true},
		{ID: "a2", ActionType: TypeLog, ActionConfig: datatypes.JSONMap{"message": "after"}, OrderIndex: 1, IsActive: true},
		{ID: "a3", ActionType: "send_email", ActionConfig: datatypes.JSONMap{"to": "x@example.com"}, OrderIndex: 2, IsActive: true},
	}
	results := automation.NewDispatcher(reg).Dispatch(context.Background(), actions, ec)
	require.Len(t, results, 3)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.True(t, results[2].Success, "unregistered types fall back to the echo executor")
	assert.Equal(t, "after", hook.LastEntry().Message)
}
