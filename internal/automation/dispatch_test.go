package automation

import (
	"context"
	"errors"
	"testing"

	"kazi/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func action(id, typ string, order int, active bool) models.TriggerAction {
	return models.TriggerAction{
		ID:           id,
		ActionType:   typ,
		ActionConfig: datatypes.JSONMap{"id": id},
		OrderIndex:   order,
		IsActive:     active,
	}
}

func TestDispatch_FiltersAndOrders(t *testing.T) {
	d := NewDispatcher(nil)
	actions := []models.TriggerAction{
		action("c", "tag", 2, true),
		action("off", "email", 0, false),
		action("a", "notify", 0, true),
		action("b", "log", 1, true),
	}
	results := d.Dispatch(context.Background(), actions, ExecutionContext{TriggerID: "t"})

	require.Len(t, results, 3, "inactive actions are absent, not failed")
	assert.Equal(t, []string{"a", "b", "c"}, []string{results[0].ActionID, results[1].ActionID, results[2].ActionID})
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, map[string]any{"id": r.ActionID}, r.Result)
	}
}

func TestDispatch_Idempotent(t *testing.T) {
	d := NewDispatcher(EchoExecutor{})
	actions := []models.TriggerAction{action("x", "a", 1, true), action("y", "b", 0, true)}
	ec := ExecutionContext{TriggerID: "t", EventData: map[string]any{"k": "v"}}

	first := d.Dispatch(context.Background(), actions, ec)
	second := d.Dispatch(context.Background(), actions, ec)
	assert.Equal(t, first, second)
}

func TestDispatch_FailureDoesNotStop(t *testing.T) {
	reg := NewRegistry()
	var calls []string
	reg.Register("boom", func(_ context.Context, _ map[string]any, _ ExecutionContext) (ActionOutcome, error) {
		calls = append(calls, "boom")
		return ActionOutcome{}, errors.New("smtp down")
	})
	reg.Register("soft", func(_ context.Context, _ map[string]any, _ ExecutionContext) (ActionOutcome, error) {
		calls = append(calls, "soft")
		return ActionOutcome{Success: false, Data: "rejected"}, nil
	})
	reg.Register("panic", func(_ context.Context, _ map[string]any, _ ExecutionContext) (ActionOutcome, error) {
		calls = append(calls, "panic")
		panic("nil map")
	})
	reg.Register("ok", func(_ context.Context, cfg map[string]any, ec ExecutionContext) (ActionOutcome, error) {
		calls = append(calls, "ok")
		return ActionOutcome{Success: true, Data: ec.TriggerID}, nil
	})

	results := NewDispatcher(reg).Dispatch(context.Background(), []models.TriggerAction{
		action("1", "boom", 0, true),
		action("2", "soft", 1, true),
		action("3", "panic", 2, true),
		action("4", "ok", 3, true),
	}, ExecutionContext{TriggerID: "t1"})

	assert.Equal(t, []string{"boom", "soft", "panic", "ok"}, calls)
	require.Len(t, results, 4)
	assert.False(t, results[0].Success)
	assert.Equal(t, map[string]any{"error": "smtp down"}, results[0].Result)
	assert.False(t, results[1].Success)
	assert.Equal(t, "rejected", results[1].Result)
	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Result.(map[string]any)["error"], "panicked")
	assert.True(t, results[3].Success)
	assert.Equal(t, "t1", results[3].Result)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", func(context.Context, map[string]any, ExecutionContext) (ActionOutcome, error) {
		return ActionOutcome{Success: true}, nil
	})
	reg.Register("a", func(context.Context, map[string]any, ExecutionContext) (ActionOutcome, error) {
		return ActionOutcome{Success: true}, nil
	})
	assert.Equal(t, []string{"a", "b"}, reg.Types())

	// unregistered types fall back to the echo executor
	out, err := reg.Execute(context.Background(), "unknown", map[string]any{"k": 1}, ExecutionContext{})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, map[string]any{"k": 1}, out.Data)

	reg.SetFallback(nil)
	_, err = reg.Execute(context.Background(), "unknown", nil, ExecutionContext{})
	assert.EqualError(t, err, `no handler for action type "unknown"`)
}

func TestToEnvelope(t *testing.T) {
	env := ToEnvelope(&ExecuteResult{Executed: false, Reason: ReasonConditionsNotMet}, nil)
	assert.True(t, env.Success)
	assert.Equal(t, ReasonConditionsNotMet, env.Data.Reason)
	assert.Empty(t, env.Error)

	env = ToEnvelope(nil, ErrTriggerInactive)
	assert.False(t, env.Success)
	assert.Nil(t, env.Data)
	assert.Equal(t, "Trigger is inactive", env.Error)

	env = ToEnvelope(nil, persistence("insert log", errors.New("disk full")))
	assert.Equal(t, "insert log: disk full", env.Error)
}
