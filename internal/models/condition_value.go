package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// ConditionValue holds the decoded JSON comparison value of a condition.
// Numbers decode as float64.
type ConditionValue struct {
	data any
}

func NewConditionValue(v any) ConditionValue { return ConditionValue{data: v} }

func (v ConditionValue) Data() any { return v.data }

func (v ConditionValue) Value() (driver.Value, error) {
	b, err := json.Marshal(v.data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan also accepts bare scalars: sqlite columns with numeric affinity
// hand back int64/float64 for stored numbers.
func (v *ConditionValue) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		v.data = nil
	case []byte:
		return v.unmarshal(s)
	case string:
		return v.unmarshal([]byte(s))
	case int64:
		v.data = float64(s)
	case float64:
		v.data = s
	case bool:
		v.data = s
	default:
		return fmt.Errorf("condition value: unsupported type %T", src)
	}
	return nil
}

func (v *ConditionValue) unmarshal(b []byte) error {
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("condition value: %w", err)
	}
	v.data = out
	return nil
}

func (v ConditionValue) MarshalJSON() ([]byte, error) { return json.Marshal(v.data) }

func (v *ConditionValue) UnmarshalJSON(b []byte) error { return v.unmarshal(b) }

func (ConditionValue) GormDataType() string { return "json" }

// GormDBDataType keeps text affinity on sqlite so stored JSON round-trips unchanged.
func (ConditionValue) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "TEXT"
	case "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}
