package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kazi/internal/automation"
	"kazi/internal/gateway"
	"kazi/internal/models"
	"kazi/internal/scheduler"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

var (
	// ErrValidation marks request errors the caller can fix.
	ErrValidation = errors.New("validation failed")
	// ErrScheduleNotFound is returned when a schedule id does not belong to the trigger.
	ErrScheduleNotFound = errors.New("schedule not found")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ConditionInput 条件请求体
type ConditionInput struct {
	Field         string `json:"field" yaml:"field"`
	Operator      string `json:"operator" yaml:"operator"`
	Value         any    `json:"value" yaml:"value"`
	LogicOperator string `json:"logic_operator,omitempty" yaml:"logic_operator,omitempty"`
	OrderIndex    *int   `json:"order_index,omitempty" yaml:"order_index,omitempty"`
}

// ActionInput 动作请求体
type ActionInput struct {
	ActionType   string         `json:"action_type" yaml:"action_type"`
	ActionConfig map[string]any `json:"action_config,omitempty" yaml:"action_config,omitempty"`
	OrderIndex   *int           `json:"order_index,omitempty" yaml:"order_index,omitempty"`
	IsActive     *bool          `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

// ScheduleInput 定时配置请求体
type ScheduleInput struct {
	CronExpression string     `json:"cron_expression" yaml:"cron_expression"`
	Timezone       string     `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	IsActive       *bool      `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

// CreateTriggerRequest 创建触发器的请求
type CreateTriggerRequest struct {
	Name        string           `json:"name" yaml:"name" binding:"required"`
	Description string           `json:"description" yaml:"description"`
	TriggerType string           `json:"trigger_type" yaml:"trigger_type"`
	EventType   *string          `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	EntityType  *string          `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
	Priority    int              `json:"priority" yaml:"priority"`
	IsActive    *bool            `json:"is_active,omitempty" yaml:"is_active,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Conditions  []ConditionInput `json:"conditions" yaml:"conditions"`
	Actions     []ActionInput    `json:"actions" yaml:"actions"`
	Schedules   []ScheduleInput  `json:"schedules,omitempty" yaml:"schedules,omitempty"`
}

// UpdateTriggerRequest 更新触发器，nil 字段保持不变
type UpdateTriggerRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	TriggerType *string        `json:"trigger_type,omitempty"`
	EventType   *string        `json:"event_type,omitempty"`
	EntityType  *string        `json:"entity_type,omitempty"`
	Priority    *int           `json:"priority,omitempty"`
	IsActive    *bool          `json:"is_active,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TriggerListQuery 列表过滤条件
type TriggerListQuery struct {
	UserID      string
	IsActive    *bool
	TriggerType string
	EventType   string
	Limit       int
	Offset      int
}

// TriggerStats 执行统计
type TriggerStats struct {
	TriggerID      string     `json:"trigger_id"`
	ExecutionCount int64      `json:"execution_count"`
	Executions     int64      `json:"executions"`
	Skipped        int64      `json:"skipped"`
	Errors         int64      `json:"errors"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
}

// EventRequest is an external event fanned out to matching event triggers.
type EventRequest struct {
	EventType  string         `json:"event_type" binding:"required"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	EventData  map[string]any `json:"event_data,omitempty"`
}

// EventOutcome is the result for one trigger matched by an event.
type EventOutcome struct {
	TriggerID string                    `json:"trigger_id"`
	Name      string                    `json:"name"`
	Result    *automation.ExecuteResult `json:"result,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// PurgeResult 清理结果
type PurgeResult struct {
	Executions int64     `json:"executions"`
	Logs       int64     `json:"logs"`
	Cutoff     time.Time `json:"cutoff"`
}

// TriggerService manages triggers and hands executions to the runner.
type TriggerService struct {
	gw             gateway.Gateway
	runner         *automation.Runner
	logger         *logrus.Logger
	executeTimeout time.Duration
	now            func() time.Time
}

func NewTriggerService(gw gateway.Gateway, runner *automation.Runner, logger *logrus.Logger) *TriggerService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TriggerService{gw: gw, runner: runner, logger: logger, now: time.Now}
}

// SetExecuteTimeout bounds every ExecuteTrigger call. Zero disables the bound.
func (s *TriggerService) SetExecuteTimeout(d time.Duration) { s.executeTimeout = d }

// ListTriggers 列出触发器，按优先级和创建时间倒序
func (s *TriggerService) ListTriggers(ctx context.Context, q TriggerListQuery) ([]models.Trigger, error) {
	filter := gateway.Filter{}
	if q.UserID != "" {
		filter["user_id"] = q.UserID
	}
	if q.IsActive != nil {
		filter["is_active"] = *q.IsActive
	}
	if q.TriggerType != "" {
		filter["trigger_type"] = q.TriggerType
	}
	if q.EventType != "" {
		filter["event_type"] = q.EventType
	}
	var opts []gateway.ListOption
	if q.Limit > 0 {
		opts = append(opts, gateway.WithLimit(q.Limit))
	}
	if q.Offset > 0 {
		opts = append(opts, gateway.WithOffset(q.Offset))
	}
	var triggers []models.Trigger
	if err := s.gw.List(ctx, models.TableTriggers, filter, gateway.Order{"priority desc", "created_at desc"}, &triggers, opts...); err != nil {
		return nil, err
	}
	return triggers, nil
}

// GetTrigger 获取触发器及其条件、动作、定时配置
func (s *TriggerService) GetTrigger(ctx context.Context, id string) (*models.Trigger, error) {
	var trig models.Trigger
	if err := s.gw.Get(ctx, models.TableTriggers, gateway.Filter{"id": id}, &trig); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, automation.ErrTriggerNotFound
		}
		return nil, err
	}
	byTrigger := gateway.Filter{"trigger_id": id}
	order := gateway.Order{"order_index asc"}
	if err := s.gw.List(ctx, models.TableConditions, byTrigger, order, &trig.Conditions); err != nil {
		return nil, err
	}
	if err := s.gw.List(ctx, models.TableActions, byTrigger, order, &trig.Actions); err != nil {
		return nil, err
	}
	if err := s.gw.List(ctx, models.TableSchedules, byTrigger, gateway.Order{"created_at asc"}, &trig.Schedules); err != nil {
		return nil, err
	}
	return &trig, nil
}

// CreateTrigger 创建触发器（含条件、动作、定时配置）
func (s *TriggerService) CreateTrigger(ctx context.Context, userID string, req *CreateTriggerRequest) (*models.Trigger, error) {
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name is required")
	}
	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = models.TriggerTypeEvent
	}
	if err := validateTriggerType(triggerType); err != nil {
		return nil, err
	}
	conditions, err := buildConditions(req.Conditions)
	if err != nil {
		return nil, err
	}
	actions, err := buildActions(req.Actions)
	if err != nil {
		return nil, err
	}
	schedules, err := buildSchedules(req.Schedules)
	if err != nil {
		return nil, err
	}

	trig := &models.Trigger{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		TriggerType: triggerType,
		EventType:   nonEmpty(req.EventType),
		EntityType:  nonEmpty(req.EntityType),
		Priority:    req.Priority,
		IsActive:    boolOr(req.IsActive, true),
		UserID:      userID,
	}
	if req.Metadata != nil {
		trig.Metadata = datatypes.JSONMap(req.Metadata)
	}

	err = s.gw.Transaction(ctx, func(tx gateway.Gateway) error {
		if err := tx.Insert(ctx, models.TableTriggers, trig); err != nil {
			return err
		}
		if err := insertConditions(ctx, tx, trig.ID, conditions); err != nil {
			return err
		}
		if err := insertActions(ctx, tx, trig.ID, actions); err != nil {
			return err
		}
		for i := range schedules {
			schedules[i].TriggerID = trig.ID
			if err := tx.Insert(ctx, models.TableSchedules, &schedules[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create trigger: %w", err)
	}
	s.logger.WithField("trigger_id", trig.ID).Infof("trigger %q created", trig.Name)
	return s.GetTrigger(ctx, trig.ID)
}

// UpdateTrigger 更新触发器基础字段
func (s *TriggerService) UpdateTrigger(ctx context.Context, id string, req *UpdateTriggerRequest) (*models.Trigger, error) {
	if req == nil {
		return nil, invalid("empty update")
	}
	patch := gateway.Patch{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalid("name must not be empty")
		}
		patch["name"] = name
	}
	if req.Description != nil {
		patch["description"] = *req.Description
	}
	if req.TriggerType != nil {
		if err := validateTriggerType(*req.TriggerType); err != nil {
			return nil, err
		}
		patch["trigger_type"] = *req.TriggerType
	}
	if req.EventType != nil {
		patch["event_type"] = nonEmpty(req.EventType)
	}
	if req.EntityType != nil {
		patch["entity_type"] = nonEmpty(req.EntityType)
	}
	if req.Priority != nil {
		patch["priority"] = *req.Priority
	}
	if req.IsActive != nil {
		patch["is_active"] = *req.IsActive
	}
	if req.Metadata != nil {
		patch["metadata"] = datatypes.JSONMap(req.Metadata)
	}

	if err := s.ensureTrigger(ctx, s.gw, id); err != nil {
		return nil, err
	}
	if len(patch) > 0 {
		if _, err := s.gw.Update(ctx, models.TableTriggers, gateway.Filter{"id": id}, patch); err != nil {
			return nil, fmt.Errorf("update trigger: %w", err)
		}
	}
	return s.GetTrigger(ctx, id)
}

// ReplaceConditions 整体替换条件列表
func (s *TriggerService) ReplaceConditions(ctx context.Context, id string, inputs []ConditionInput) ([]models.TriggerCondition, error) {
	conditions, err := buildConditions(inputs)
	if err != nil {
		return nil, err
	}
	err = s.gw.Transaction(ctx, func(tx gateway.Gateway) error {
		if err := s.ensureTrigger(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.Delete(ctx, models.TableConditions, gateway.Filter{"trigger_id": id}); err != nil {
			return err
		}
		return insertConditions(ctx, tx, id, conditions)
	})
	if err != nil {
		return nil, err
	}
	return conditions, nil
}

// ReplaceActions 整体替换动作列表
func (s *TriggerService) ReplaceActions(ctx context.Context, id string, inputs []ActionInput) ([]models.TriggerAction, error) {
	actions, err := buildActions(inputs)
	if err != nil {
		return nil, err
	}
	err = s.gw.Transaction(ctx, func(tx gateway.Gateway) error {
		if err := s.ensureTrigger(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.Delete(ctx, models.TableActions, gateway.Filter{"trigger_id": id}); err != nil {
			return err
		}
		return insertActions(ctx, tx, id, actions)
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}

// DeleteTrigger 删除触发器及其全部子记录
func (s *TriggerService) DeleteTrigger(ctx context.Context, id string) error {
	return s.gw.Transaction(ctx, func(tx gateway.Gateway) error {
		if err := s.ensureTrigger(ctx, tx, id); err != nil {
			return err
		}
		byTrigger := gateway.Filter{"trigger_id": id}
		for _, table := range []string{
			models.TableConditions,
			models.TableActions,
			models.TableExecutions,
			models.TableLogs,
			models.TableSchedules,
		} {
			if _, err := tx.Delete(ctx, table, byTrigger); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		if _, err := tx.Delete(ctx, models.TableTriggers, gateway.Filter{"id": id}); err != nil {
			return fmt.Errorf("delete trigger: %w", err)
		}
		s.logger.WithField("trigger_id", id).Info("trigger deleted")
		return nil
	})
}

// AddSchedule 新增定时配置
func (s *TriggerService) AddSchedule(ctx context.Context, id string, in ScheduleInput) (*models.TriggerSchedule, error) {
	built, err := buildSchedules([]ScheduleInput{in})
	if err != nil {
		return nil, err
	}
	sched := built[0]
	sched.TriggerID = id
	if err := s.ensureTrigger(ctx, s.gw, id); err != nil {
		return nil, err
	}
	if err := s.gw.Insert(ctx, models.TableSchedules, &sched); err != nil {
		return nil, fmt.Errorf("add schedule: %w", err)
	}
	return &sched, nil
}

// ListSchedules 列出定时配置
func (s *TriggerService) ListSchedules(ctx context.Context, id string) ([]models.TriggerSchedule, error) {
	if err := s.ensureTrigger(ctx, s.gw, id); err != nil {
		return nil, err
	}
	var out []models.TriggerSchedule
	if err := s.gw.List(ctx, models.TableSchedules, gateway.Filter{"trigger_id": id}, gateway.Order{"created_at asc"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSchedule 删除定时配置
func (s *TriggerService) DeleteSchedule(ctx context.Context, id, scheduleID string) error {
	n, err := s.gw.Delete(ctx, models.TableSchedules, gateway.Filter{"id": scheduleID, "trigger_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// ListExecutions 最近的执行记录
func (s *TriggerService) ListExecutions(ctx context.Context, id string, limit int) ([]models.TriggerExecution, error) {
	if err := s.ensureTrigger(ctx, s.gw, id); err != nil {
		return nil, err
	}
	var out []models.TriggerExecution
	err := s.gw.List(ctx, models.TableExecutions, gateway.Filter{"trigger_id": id},
		gateway.Order{"executed_at desc"}, &out, gateway.WithLimit(clampLimit(limit)))
	return out, err
}

// ListLogs 最近的日志，可按状态过滤
func (s *TriggerService) ListLogs(ctx context.Context, id, status string, limit int) ([]models.TriggerLog, error) {
	if err := s.ensureTrigger(ctx, s.gw, id); err != nil {
		return nil, err
	}
	filter := gateway.Filter{"trigger_id": id}
	if status != "" {
		filter["status"] = status
	}
	var out []models.TriggerLog
	err := s.gw.List(ctx, models.TableLogs, filter, gateway.Order{"occurred_at desc"}, &out, gateway.WithLimit(clampLimit(limit)))
	return out, err
}

// Stats reports the stored counter next to the counts derived from history.
// The two can diverge when a counter update failed.
func (s *TriggerService) Stats(ctx context.Context, id string) (*TriggerStats, error) {
	var trig models.Trigger
	if err := s.gw.Get(ctx, models.TableTriggers, gateway.Filter{"id": id}, &trig); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, automation.ErrTriggerNotFound
		}
		return nil, err
	}
	st := &TriggerStats{TriggerID: id, ExecutionCount: trig.ExecutionCount, LastExecutedAt: trig.LastExecutedAt}
	var err error
	if st.Executions, err = s.gw.Count(ctx, models.TableExecutions, gateway.Filter{"trigger_id": id}); err != nil {
		return nil, err
	}
	if st.Skipped, err = s.gw.Count(ctx, models.TableLogs, gateway.Filter{"trigger_id": id, "status": models.LogStatusSkipped}); err != nil {
		return nil, err
	}
	if st.Errors, err = s.gw.Count(ctx, models.TableLogs, gateway.Filter{"trigger_id": id, "status": models.LogStatusError}); err != nil {
		return nil, err
	}
	return st, nil
}

// ExecuteTrigger runs one trigger through the runner.
func (s *TriggerService) ExecuteTrigger(ctx context.Context, id string, ec automation.ExecuteContext) (*automation.ExecuteResult, error) {
	if s.executeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.executeTimeout)
		defer cancel()
	}
	return s.runner.Execute(ctx, id, ec)
}

// DispatchEvent runs every active event trigger listening for req.EventType,
// highest priority first. A trigger without entity_type matches any entity.
// Failures are reported per trigger and do not stop the fan-out.
func (s *TriggerService) DispatchEvent(ctx context.Context, req *EventRequest, executedBy string) ([]EventOutcome, error) {
	if req == nil || req.EventType == "" {
		return nil, invalid("event_type is required")
	}
	active := true
	triggers, err := s.ListTriggers(ctx, TriggerListQuery{
		IsActive:    &active,
		TriggerType: models.TriggerTypeEvent,
		EventType:   req.EventType,
	})
	if err != nil {
		return nil, err
	}
	outcomes := make([]EventOutcome, 0, len(triggers))
	for _, trig := range triggers {
		if trig.EntityType != nil && *trig.EntityType != req.EntityType {
			continue
		}
		res, err := s.ExecuteTrigger(ctx, trig.ID, automation.ExecuteContext{
			EntityID:   req.EntityID,
			EventData:  req.EventData,
			ExecutedBy: executedBy,
		})
		out := EventOutcome{TriggerID: trig.ID, Name: trig.Name, Result: res}
		if err != nil {
			out.Error = err.Error()
		}
		outcomes = append(outcomes, out)
	}
	s.logger.WithField("event_type", req.EventType).Debugf("event matched %d triggers", len(outcomes))
	return outcomes, nil
}

// PurgeHistory 删除保留期之前的执行记录和日志
func (s *TriggerService) PurgeHistory(ctx context.Context, retentionDays int) (*PurgeResult, error) {
	if retentionDays <= 0 {
		return nil, invalid("retention days must be positive")
	}
	res := &PurgeResult{Cutoff: s.now().AddDate(0, 0, -retentionDays)}
	var err error
	if res.Executions, err = s.gw.DeleteBefore(ctx, models.TableExecutions, "executed_at", res.Cutoff); err != nil {
		return nil, fmt.Errorf("purge executions: %w", err)
	}
	if res.Logs, err = s.gw.DeleteBefore(ctx, models.TableLogs, "occurred_at", res.Cutoff); err != nil {
		return nil, fmt.Errorf("purge logs: %w", err)
	}
	s.logger.Infof("purged %d executions and %d logs older than %s", res.Executions, res.Logs, res.Cutoff.Format(time.RFC3339))
	return res, nil
}

func (s *TriggerService) ensureTrigger(ctx context.Context, gw gateway.Gateway, id string) error {
	n, err := gw.Count(ctx, models.TableTriggers, gateway.Filter{"id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return automation.ErrTriggerNotFound
	}
	return nil
}

func validateTriggerType(t string) error {
	switch t {
	case models.TriggerTypeEvent, models.TriggerTypeScheduled:
		return nil
	}
	return invalid("trigger_type must be %q or %q", models.TriggerTypeEvent, models.TriggerTypeScheduled)
}

// buildConditions validates field and logic operator. Operator names are kept
// as given; unknown ones are resolved by the evaluator's policy.
func buildConditions(inputs []ConditionInput) ([]models.TriggerCondition, error) {
	out := make([]models.TriggerCondition, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.Field) == "" {
			return nil, invalid("conditions[%d]: field is required", i)
		}
		if in.Operator == "" {
			return nil, invalid("conditions[%d]: operator is required", i)
		}
		switch in.LogicOperator {
		case "", models.LogicAnd, models.LogicOr:
		default:
			return nil, invalid("conditions[%d]: logic_operator must be AND or OR", i)
		}
		out = append(out, models.TriggerCondition{
			Field:         in.Field,
			Operator:      in.Operator,
			Value:         models.NewConditionValue(in.Value),
			LogicOperator: in.LogicOperator,
			OrderIndex:    intOr(in.OrderIndex, i),
		})
	}
	return out, nil
}

func buildActions(inputs []ActionInput) ([]models.TriggerAction, error) {
	out := make([]models.TriggerAction, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.ActionType) == "" {
			return nil, invalid("actions[%d]: action_type is required", i)
		}
		a := models.TriggerAction{
			ActionType: in.ActionType,
			OrderIndex: intOr(in.OrderIndex, i),
			IsActive:   boolOr(in.IsActive, true),
		}
		if in.ActionConfig != nil {
			a.ActionConfig = datatypes.JSONMap(in.ActionConfig)
		}
		out = append(out, a)
	}
	return out, nil
}

func buildSchedules(inputs []ScheduleInput) ([]models.TriggerSchedule, error) {
	out := make([]models.TriggerSchedule, 0, len(inputs))
	for i, in := range inputs {
		tz := in.Timezone
		if tz == "" {
			tz = "UTC"
		}
		if err := scheduler.Validate(in.CronExpression, tz); err != nil {
			return nil, invalid("schedules[%d]: %v", i, err)
		}
		if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
			return nil, invalid("schedules[%d]: end_date is before start_date", i)
		}
		out = append(out, models.TriggerSchedule{
			CronExpression: strings.TrimSpace(in.CronExpression),
			Timezone:       tz,
			StartDate:      in.StartDate,
			EndDate:        in.EndDate,
			IsActive:       boolOr(in.IsActive, true),
		})
	}
	return out, nil
}

func insertConditions(ctx context.Context, gw gateway.Gateway, triggerID string, conditions []models.TriggerCondition) error {
	for i := range conditions {
		conditions[i].TriggerID = triggerID
		if err := gw.Insert(ctx, models.TableConditions, &conditions[i]); err != nil {
			return err
		}
	}
	return nil
}

func insertActions(ctx context.Context, gw gateway.Gateway, triggerID string, actions []models.TriggerAction) error {
	for i := range actions {
		actions[i].TriggerID = triggerID
		if err := gw.Insert(ctx, models.TableActions, &actions[i]); err != nil {
			return err
		}
	}
	return nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 500:
		return 500
	}
	return n
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func nonEmpty(p *string) *string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}
