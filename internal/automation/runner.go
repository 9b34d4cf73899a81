// Package automation evaluates trigger conditions against event payloads and
// dispatches the trigger's actions when they hold.
package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"kazi/internal/gateway"
	"kazi/internal/metrics"
	"kazi/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

// ExecuteContext is the runtime input of one Execute call.
type ExecuteContext struct {
	EntityID   string         `json:"entity_id,omitempty"`
	EventData  map[string]any `json:"event_data,omitempty"`
	ExecutedBy string         `json:"executed_by,omitempty"`
}

// ExecuteResult is returned when the call completed, fired or skipped.
type ExecuteResult struct {
	Executed bool           `json:"executed"`
	Actions  []ActionResult `json:"actions,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// Options tune the runner.
type Options struct {
	UnknownOperators UnknownOperatorPolicy
	// Transactional wraps the execution, counter and log writes in one
	// transaction. When false the writes are independent and an execution row
	// can exist without its log row.
	Transactional bool
	// LogErrors writes a best-effort "error" log row when a persistence failure
	// happens after the trigger was loaded.
	LogErrors bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{UnknownOperators: PassUnknownOperators, LogErrors: true}
}

// LogObserver is notified with every log row the runner has persisted.
type LogObserver func(models.TriggerLog)

// Runner loads a trigger, evaluates its conditions, dispatches its actions and
// records the outcome. Calls do not coordinate with each other.
type Runner struct {
	gw         gateway.Gateway
	evaluator  Evaluator
	dispatcher *Dispatcher
	logger     *logrus.Logger
	opts       Options
	tracer     trace.Tracer
	now        func() time.Time

	mu        sync.RWMutex
	observers []LogObserver
}

func NewRunner(gw gateway.Gateway, executor ActionExecutor, logger *logrus.Logger, opts Options) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		gw:         gw,
		evaluator:  Evaluator{UnknownOperators: opts.UnknownOperators},
		dispatcher: NewDispatcher(executor),
		logger:     logger,
		opts:       opts,
		tracer:     otel.Tracer("kazi/automation"),
		now:        time.Now,
	}
}

// OnLog registers an observer for persisted log rows.
func (r *Runner) OnLog(fn LogObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Execute runs trigger triggerID once against ec. It returns ErrTriggerNotFound,
// ErrTriggerInactive or a *PersistenceError on failure. Unmet conditions are
// not an error: the result has Executed == false and Reason set.
func (r *Runner) Execute(ctx context.Context, triggerID string, ec ExecuteContext) (res *ExecuteResult, err error) {
	ctx, span := r.tracer.Start(ctx, "automation.Execute", trace.WithAttributes(attribute.String("trigger.id", triggerID)))
	start := time.Now()
	defer func() {
		metrics.ObserveTriggerRun(runOutcome(res, err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Bool("trigger.executed", res.Executed))
		}
		span.End()
	}()

	trig, err := r.loadTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if !trig.IsActive {
		return nil, ErrTriggerInactive
	}
	if err := r.loadRules(ctx, trig); err != nil {
		return nil, r.fail(ctx, trig.ID, ec, err)
	}

	data := ec.EventData
	if data == nil {
		data = map[string]any{}
	}
	entry := r.logger.WithField("trigger_id", trig.ID)

	if !r.evaluator.Evaluate(trig.Conditions, data) {
		log := r.newLog(trig.ID, models.LogStatusSkipped, datatypes.JSONMap{"reason": ReasonConditionsNotMet}, ec.ExecutedBy)
		if err := r.gw.Insert(ctx, models.TableLogs, log); err != nil {
			return nil, r.fail(ctx, trig.ID, ec, persistence("insert skipped log", err))
		}
		r.notify(*log)
		entry.Debug("automation: conditions not met")
		return &ExecuteResult{Executed: false, Reason: ReasonConditionsNotMet}, nil
	}

	results := r.dispatcher.Dispatch(ctx, trig.Actions, ExecutionContext{
		TriggerID:  trig.ID,
		EntityID:   ec.EntityID,
		EventData:  data,
		ExecutedBy: ec.ExecutedBy,
	})
	for _, ar := range results {
		metrics.IncActionResult(ar.ActionType, ar.Success)
		if !ar.Success {
			entry.WithField("action_type", ar.ActionType).Warnf("automation: action %s failed", ar.ActionID)
		}
	}

	var log *models.TriggerLog
	write := func(gw gateway.Gateway) error {
		var werr error
		log, werr = r.record(ctx, gw, trig.ID, ec, data, results)
		return werr
	}
	if r.opts.Transactional {
		err = r.gw.Transaction(ctx, write)
	} else {
		err = write(r.gw)
	}
	if err != nil {
		return nil, r.fail(ctx, trig.ID, ec, err)
	}
	r.notify(*log)

	entry.WithField("actions", len(results)).Info("automation: trigger executed")
	return &ExecuteResult{Executed: true, Actions: results}, nil
}

func (r *Runner) loadTrigger(ctx context.Context, id string) (*models.Trigger, error) {
	var trig models.Trigger
	if err := r.gw.Get(ctx, models.TableTriggers, gateway.Filter{"id": id}, &trig); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, ErrTriggerNotFound
		}
		return nil, persistence("load trigger", err)
	}
	return &trig, nil
}

func (r *Runner) loadRules(ctx context.Context, trig *models.Trigger) error {
	byTrigger := gateway.Filter{"trigger_id": trig.ID}
	order := gateway.Order{"order_index asc"}
	if err := r.gw.List(ctx, models.TableConditions, byTrigger, order, &trig.Conditions); err != nil {
		return persistence("load conditions", err)
	}
	if err := r.gw.List(ctx, models.TableActions, byTrigger, order, &trig.Actions); err != nil {
		return persistence("load actions", err)
	}
	return nil
}

// record writes the execution row, bumps the counter and writes the log row,
// in that order.
func (r *Runner) record(ctx context.Context, gw gateway.Gateway, triggerID string, ec ExecuteContext, data map[string]any, results []ActionResult) (*models.TriggerLog, error) {
	now := r.now()
	exec := &models.TriggerExecution{
		TriggerID:       triggerID,
		EntityID:        optional(ec.EntityID),
		EventData:       datatypes.JSONMap(data),
		ActionsExecuted: len(results),
		Status:          models.ExecutionStatusCompleted,
		ExecutedAt:      now,
	}
	if err := gw.Insert(ctx, models.TableExecutions, exec); err != nil {
		return nil, persistence("insert execution", err)
	}

	// The counter is best-effort; the savepoint keeps a failure here from
	// aborting an enclosing transaction.
	err := gw.Transaction(ctx, func(tx gateway.Gateway) error {
		return tx.Increment(ctx, models.TableTriggers, gateway.Filter{"id": triggerID}, "execution_count",
			gateway.Patch{"last_executed_at": now})
	})
	if err != nil {
		r.logger.WithField("trigger_id", triggerID).Warnf("automation: update execution count failed: %v", err)
	}

	log := r.newLog(triggerID, models.LogStatusExecuted, datatypes.JSONMap{
		"execution_id": exec.ID,
		"actions":      results,
	}, ec.ExecutedBy)
	if err := gw.Insert(ctx, models.TableLogs, log); err != nil {
		return nil, persistence("insert log", err)
	}
	return log, nil
}

// fail records an error log row when enabled and hands err back.
func (r *Runner) fail(ctx context.Context, triggerID string, ec ExecuteContext, err error) error {
	r.logger.WithField("trigger_id", triggerID).Errorf("automation: execute failed: %v", err)
	if !r.opts.LogErrors {
		return err
	}
	log := r.newLog(triggerID, models.LogStatusError, datatypes.JSONMap{"error": err.Error()}, ec.ExecutedBy)
	if lerr := r.gw.Insert(ctx, models.TableLogs, log); lerr != nil {
		r.logger.WithField("trigger_id", triggerID).Warnf("automation: write error log failed: %v", lerr)
		return err
	}
	r.notify(*log)
	return err
}

func (r *Runner) newLog(triggerID, status string, details datatypes.JSONMap, performer string) *models.TriggerLog {
	return &models.TriggerLog{
		TriggerID:   triggerID,
		Status:      status,
		Details:     details,
		PerformedBy: optional(performer),
		OccurredAt:  r.now(),
	}
}

func (r *Runner) notify(log models.TriggerLog) {
	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, fn := range observers {
		fn(log)
	}
}

func runOutcome(res *ExecuteResult, err error) string {
	switch {
	case errors.Is(err, ErrTriggerNotFound):
		return "not_found"
	case errors.Is(err, ErrTriggerInactive):
		return "inactive"
	case err != nil:
		return "error"
	case res.Executed:
		return "executed"
	default:
		return "skipped"
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
