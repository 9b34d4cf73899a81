package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Trigger types.
const (
	TriggerTypeEvent     = "event"
	TriggerTypeScheduled = "scheduled"
)

// Logic operators used to fold a condition into the running result.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Execution and log statuses.
const (
	ExecutionStatusCompleted = "completed"

	LogStatusSkipped  = "skipped"
	LogStatusExecuted = "executed"
	LogStatusError    = "error"
)

// Table names, shared with the persistence gateway.
const (
	TableTriggers   = "triggers"
	TableConditions = "trigger_conditions"
	TableActions    = "trigger_actions"
	TableExecutions = "trigger_executions"
	TableLogs       = "trigger_logs"
	TableSchedules  = "trigger_schedules"
)

// Trigger 自动化规则：条件 + 有序动作
type Trigger struct {
	ID             string            `gorm:"primaryKey;size:36" json:"id"`
	Name           string            `gorm:"not null" json:"name"`
	Description    string            `gorm:"type:text" json:"description"`
	TriggerType    string            `gorm:"size:32;not null;default:'event';index" json:"trigger_type"` // event, scheduled
	EventType      *string           `gorm:"size:128;index" json:"event_type,omitempty"`
	EntityType     *string           `gorm:"size:128" json:"entity_type,omitempty"`
	Priority       int               `gorm:"default:0" json:"priority"`
	IsActive       bool              `gorm:"not null" json:"is_active"`
	ExecutionCount int64             `gorm:"not null;default:0" json:"execution_count"`
	LastExecutedAt *time.Time        `json:"last_executed_at,omitempty"`
	UserID         string            `gorm:"size:64;index" json:"user_id"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`

	Conditions []TriggerCondition `gorm:"foreignKey:TriggerID" json:"conditions,omitempty"`
	Actions    []TriggerAction    `gorm:"foreignKey:TriggerID" json:"actions,omitempty"`
	Schedules  []TriggerSchedule  `gorm:"foreignKey:TriggerID" json:"schedules,omitempty"`
}

func (Trigger) TableName() string { return TableTriggers }

func (t *Trigger) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// TriggerCondition 单个条件，按 order_index 顺序左折叠
type TriggerCondition struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	TriggerID     string         `gorm:"size:36;not null;index" json:"trigger_id"`
	Field         string         `gorm:"not null" json:"field"`
	Operator      string         `gorm:"size:32;not null" json:"operator"`
	Value         ConditionValue `json:"value"`
	LogicOperator string         `gorm:"size:8" json:"logic_operator,omitempty"` // AND, OR
	OrderIndex    int            `gorm:"not null;default:0" json:"order_index"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (TriggerCondition) TableName() string { return TableConditions }

func (c *TriggerCondition) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// CompareValue returns the decoded comparison value.
func (c TriggerCondition) CompareValue() any { return c.Value.Data() }

// TriggerAction 触发后执行的动作，具体执行由外部处理器完成
type TriggerAction struct {
	ID           string            `gorm:"primaryKey;size:36" json:"id"`
	TriggerID    string            `gorm:"size:36;not null;index" json:"trigger_id"`
	ActionType   string            `gorm:"size:64;not null" json:"action_type"`
	ActionConfig datatypes.JSONMap `json:"action_config,omitempty"`
	OrderIndex   int               `gorm:"not null;default:0" json:"order_index"`
	IsActive     bool              `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (TriggerAction) TableName() string { return TableActions }

func (a *TriggerAction) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// TriggerExecution is written once per run that reached dispatch. Append-only.
type TriggerExecution struct {
	ID              string            `gorm:"primaryKey;size:36" json:"id"`
	TriggerID       string            `gorm:"size:36;not null;index" json:"trigger_id"`
	EntityID        *string           `gorm:"size:128;index" json:"entity_id,omitempty"`
	EventData       datatypes.JSONMap `json:"event_data"`
	ActionsExecuted int               `gorm:"not null;default:0" json:"actions_executed"`
	Status          string            `gorm:"size:32;not null" json:"status"`
	ExecutedAt      time.Time         `gorm:"not null;index" json:"executed_at"`
}

func (TriggerExecution) TableName() string { return TableExecutions }

func (e *TriggerExecution) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// TriggerLog is written for every evaluation attempt, fired or skipped. Append-only.
type TriggerLog struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	TriggerID   string            `gorm:"size:36;not null;index" json:"trigger_id"`
	Status      string            `gorm:"size:32;not null;index" json:"status"` // skipped, executed, error
	Details     datatypes.JSONMap `json:"details"`
	PerformedBy *string           `gorm:"size:64" json:"performed_by,omitempty"`
	OccurredAt  time.Time         `gorm:"not null;index" json:"occurred_at"`
}

func (TriggerLog) TableName() string { return TableLogs }

func (l *TriggerLog) BeforeCreate(*gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// TriggerSchedule 定时配置（cron 表达式 + 时区）
type TriggerSchedule struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	TriggerID      string     `gorm:"size:36;not null;index" json:"trigger_id"`
	CronExpression string     `gorm:"size:128;not null" json:"cron_expression"`
	Timezone       string     `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	IsActive       bool       `gorm:"not null" json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (TriggerSchedule) TableName() string { return TableSchedules }

func (s *TriggerSchedule) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	return nil
}

// InWindow reports whether t falls within the optional start/end bounds.
func (s TriggerSchedule) InWindow(t time.Time) bool {
	if s.StartDate != nil && t.Before(*s.StartDate) {
		return false
	}
	if s.EndDate != nil && t.After(*s.EndDate) {
		return false
	}
	return true
}

// AllModels lists every table managed by AutoMigrate.
func AllModels() []any {
	return []any{
		&Trigger{},
		&TriggerCondition{},
		&TriggerAction{},
		&TriggerExecution{},
		&TriggerLog{},
		&TriggerSchedule{},
	}
}
