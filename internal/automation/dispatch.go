package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"kazi/internal/models"
)

// ExecutionContext is handed to every action handler.
type ExecutionContext struct {
	TriggerID  string         `json:"trigger_id"`
	EntityID   string         `json:"entity_id,omitempty"`
	EventData  map[string]any `json:"event_data"`
	ExecutedBy string         `json:"executed_by,omitempty"`
}

// ActionOutcome is what a handler reports for one action.
type ActionOutcome struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ActionResult is one entry of a dispatch result list.
type ActionResult struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
}

// ActionExecutor performs the real effect of an action. It is supplied by the
// hosting application.
type ActionExecutor interface {
	Execute(ctx context.Context, actionType string, config map[string]any, ec ExecutionContext) (ActionOutcome, error)
}

// ActionHandlerFunc handles a single action type.
type ActionHandlerFunc func(ctx context.Context, config map[string]any, ec ExecutionContext) (ActionOutcome, error)

// EchoExecutor reports success for every action and echoes its config back.
type EchoExecutor struct{}

func (EchoExecutor) Execute(_ context.Context, _ string, config map[string]any, _ ExecutionContext) (ActionOutcome, error) {
	return ActionOutcome{Success: true, Data: config}, nil
}

// Registry maps action types to handlers. Types without a handler go to the
// fallback executor, EchoExecutor unless replaced.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandlerFunc
	fallback ActionExecutor
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]ActionHandlerFunc),
		fallback: EchoExecutor{},
	}
}

// Register binds h to actionType, replacing any previous handler.
func (r *Registry) Register(actionType string, h ActionHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

// SetFallback replaces the executor used for unregistered types.
func (r *Registry) SetFallback(e ActionExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
}

// Types returns the registered action types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Execute(ctx context.Context, actionType string, config map[string]any, ec ExecutionContext) (ActionOutcome, error) {
	r.mu.RLock()
	h, ok := r.handlers[actionType]
	fallback := r.fallback
	r.mu.RUnlock()
	if ok {
		return h(ctx, config, ec)
	}
	if fallback == nil {
		return ActionOutcome{}, fmt.Errorf("no handler for action type %q", actionType)
	}
	return fallback.Execute(ctx, actionType, config, ec)
}

// Dispatcher runs active actions in order through an executor.
type Dispatcher struct {
	executor ActionExecutor
}

func NewDispatcher(executor ActionExecutor) *Dispatcher {
	if executor == nil {
		executor = EchoExecutor{}
	}
	return &Dispatcher{executor: executor}
}

// Dispatch drops inactive actions, sorts the rest by OrderIndex and runs them
// one at a time. A failing action is recorded and the next one still runs.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []models.TriggerAction, ec ExecutionContext) []ActionResult {
	active := make([]models.TriggerAction, 0, len(actions))
	for _, a := range actions {
		if a.IsActive {
			active = append(active, a)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].OrderIndex < active[j].OrderIndex })

	results := make([]ActionResult, 0, len(active))
	for _, a := range active {
		out, err := d.run(ctx, a, ec)
		res := ActionResult{ActionID: a.ID, ActionType: a.ActionType, Success: out.Success, Result: out.Data}
		if err != nil {
			res.Success = false
			res.Result = map[string]any{"error": err.Error()}
		}
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) run(ctx context.Context, a models.TriggerAction, ec ExecutionContext) (out ActionOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = ActionOutcome{}, fmt.Errorf("action %s panicked: %v", a.ActionType, r)
		}
	}()
	config := map[string]any(a.ActionConfig)
	if config == nil {
		config = map[string]any{}
	}
	return d.executor.Execute(ctx, a.ActionType, config, ec)
}
