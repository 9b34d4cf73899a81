package automation

import (
	"encoding/json"
	"math"
	"testing"

	"kazi/internal/models"

	"github.com/stretchr/testify/assert"
)

func cond(field, op string, value any, logic string, order int) models.TriggerCondition {
	return models.TriggerCondition{
		Field:         field,
		Operator:      op,
		Value:         models.NewConditionValue(value),
		LogicOperator: logic,
		OrderIndex:    order,
	}
}

func TestEvaluate_Empty(t *testing.T) {
	assert.True(t, Evaluate(nil, nil))
	assert.True(t, Evaluate([]models.TriggerCondition{}, map[string]any{"a": 1}))
}

func TestEvaluate_Scenarios(t *testing.T) {
	open := []models.TriggerCondition{cond("status", OpEquals, "open", "", 0)}
	assert.True(t, Evaluate(open, map[string]any{"status": "open"}))
	assert.False(t, Evaluate(open, map[string]any{"status": "closed"}))

	pair := []models.TriggerCondition{
		cond("a", OpEquals, 1, "", 0),
		cond("b", OpEquals, 2, models.LogicOr, 1),
	}
	assert.True(t, Evaluate(pair, map[string]any{"a": 1, "b": 99}))
	assert.False(t, Evaluate(pair, map[string]any{"a": 0, "b": 99}))
}

func TestEvaluate_LeftFold(t *testing.T) {
	// (true || x) && false is false; a precedence-based reading would give true.
	conds := []models.TriggerCondition{
		cond("a", OpEquals, 1, "", 0),
		cond("b", OpEquals, 1, models.LogicOr, 1),
		cond("c", OpEquals, 1, models.LogicAnd, 2),
	}
	assert.False(t, Evaluate(conds, map[string]any{"a": 1, "b": 0, "c": 0}))

	// false AND ... OR true recovers at the end.
	conds = []models.TriggerCondition{
		cond("a", OpEquals, 1, "", 0),
		cond("b", OpEquals, 1, "", 1),
		cond("c", OpEquals, 1, models.LogicOr, 2),
	}
	assert.True(t, Evaluate(conds, map[string]any{"a": 0, "b": 0, "c": 1}))
}

func TestEvaluate_SortsByOrderIndex(t *testing.T) {
	// Stored out of order: evaluated as a(0) AND c(1) OR b(2).
	conds := []models.TriggerCondition{
		cond("b", OpEquals, 1, models.LogicOr, 2),
		cond("a", OpEquals, 1, "", 0),
		cond("c", OpEquals, 1, "", 1),
	}
	assert.True(t, Evaluate(conds, map[string]any{"a": 0, "b": 1, "c": 0}))

	conds[0].OrderIndex = 0
	conds[1].OrderIndex = 1
	conds[2].OrderIndex = 2
	// b OR(first, folds into true) AND a AND c
	assert.False(t, Evaluate(conds, map[string]any{"a": 0, "b": 1, "c": 0}))
	assert.Equal(t, "b", conds[0].Field, "input slice is not reordered")
}

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		name  string
		op    string
		value any
		data  map[string]any
		want  bool
	}{
		{"equals same number", OpEquals, 1, map[string]any{"f": float64(1)}, true},
		{"equals is strict across types", OpEquals, 1, map[string]any{"f": "1"}, false},
		{"equals json number", OpEquals, 42, map[string]any{"f": json.Number("42")}, true},
		{"equals null", OpEquals, nil, map[string]any{"f": nil}, true},
		{"equals missing vs null", OpEquals, nil, map[string]any{}, false},
		{"equals objects never", OpEquals, map[string]any{"a": 1}, map[string]any{"f": map[string]any{"a": 1}}, false},
		{"not equals", OpNotEquals, "x", map[string]any{"f": "y"}, true},
		{"not equals missing", OpNotEquals, "x", map[string]any{}, true},
		{"contains substring", OpContains, "ell", map[string]any{"f": "hello"}, true},
		{"contains coerces number", OpContains, "234", map[string]any{"f": 12345}, true},
		{"contains coerces array", OpContains, "a,b", map[string]any{"f": []any{"a", "b"}}, true},
		{"contains missing is undefined", OpContains, "undef", map[string]any{}, true},
		{"contains miss", OpContains, "z", map[string]any{"f": "hello"}, false},
		{"greater numeric", OpGreaterThan, 100, map[string]any{"f": 250}, true},
		{"greater equal is false", OpGreaterThan, 100, map[string]any{"f": 100}, false},
		{"greater numeric string", OpGreaterThan, 9, map[string]any{"f": "10"}, true},
		{"greater two strings lexical", OpGreaterThan, "9", map[string]any{"f": "10"}, false},
		{"greater missing", OpGreaterThan, 0, map[string]any{}, false},
		{"greater null is zero", OpGreaterThan, -1, map[string]any{"f": nil}, true},
		{"greater bool", OpGreaterThan, 0, map[string]any{"f": true}, true},
		{"greater not a number", OpGreaterThan, 0, map[string]any{"f": "abc"}, false},
		{"greater hex string", OpGreaterThan, 15, map[string]any{"f": "0x10"}, true},
		{"greater binary string", OpGreaterThan, 0, map[string]any{"f": "0b1"}, true},
		{"greater infinity string", OpGreaterThan, 1e300, map[string]any{"f": "Infinity"}, true},
		{"greater inf spelling is NaN", OpGreaterThan, 0, map[string]any{"f": "inf"}, false},
		{"contains exponent form", OpContains, "e+21", map[string]any{"f": 1e21}, true},
		{"contains small exponent form", OpContains, "1e-7", map[string]any{"f": 1e-7}, true},
		{"less numeric", OpLessThan, 10, map[string]any{"f": 3.5}, true},
		{"less strings", OpLessThan, "b", map[string]any{"f": "a"}, true},
		{"empty missing", OpIsEmpty, nil, map[string]any{}, true},
		{"empty null", OpIsEmpty, nil, map[string]any{"f": nil}, true},
		{"empty string", OpIsEmpty, nil, map[string]any{"f": ""}, true},
		{"empty zero", OpIsEmpty, nil, map[string]any{"f": 0}, true},
		{"empty false", OpIsEmpty, nil, map[string]any{"f": false}, true},
		{"empty array is truthy", OpIsEmpty, nil, map[string]any{"f": []any{}}, false},
		{"empty text", OpIsEmpty, nil, map[string]any{"f": "x"}, false},
		{"not empty", OpIsNotEmpty, nil, map[string]any{"f": "x"}, true},
		{"not empty zero", OpIsNotEmpty, nil, map[string]any{"f": 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate([]models.TriggerCondition{cond("f", tt.op, tt.value, "", 0)}, tt.data)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_UnknownOperatorPolicy(t *testing.T) {
	conds := []models.TriggerCondition{cond("f", "matches_regex", ".*", "", 0)}
	assert.True(t, Evaluator{UnknownOperators: PassUnknownOperators}.Evaluate(conds, nil))
	assert.False(t, Evaluator{UnknownOperators: FailUnknownOperators}.Evaluate(conds, nil))

	assert.Equal(t, FailUnknownOperators, ParseUnknownOperatorPolicy(" FAIL "))
	assert.Equal(t, PassUnknownOperators, ParseUnknownOperatorPolicy("pass"))
	assert.Equal(t, PassUnknownOperators, ParseUnknownOperatorPolicy(""))
	assert.Equal(t, "fail", FailUnknownOperators.String())
	assert.True(t, KnownOperator(OpIsNotEmpty))
	assert.False(t, KnownOperator("matches_regex"))
}

func TestEvaluate_DecodedValue(t *testing.T) {
	// Values read back from the database decode numbers as float64.
	var v models.ConditionValue
	assert.NoError(t, v.Scan([]byte(`100`)))
	c := models.TriggerCondition{Field: "amount", Operator: OpGreaterThan, Value: v}
	assert.True(t, Evaluate([]models.TriggerCondition{c}, map[string]any{"amount": 101}))

	// sqlite hands back bare scalars for numeric affinity columns
	assert.NoError(t, v.Scan(int64(1)))
	c = models.TriggerCondition{Field: "a", Operator: OpEquals, Value: v}
	assert.True(t, Evaluate([]models.TriggerCondition{c}, map[string]any{"a": 1}))
	assert.NoError(t, v.Scan(2.5))
	assert.Equal(t, 2.5, v.Data())
	assert.NoError(t, v.Scan(`"vip"`))
	assert.Equal(t, "vip", v.Data())
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{1, "1"},
		{-2.5, "-2.5"},
		{123456789, "123456789"},
		{1e20, "100000000000000000000"},
		{1e21, "1e+21"},
		{-1.5e22, "-1.5e+22"},
		{0.000001, "0.000001"},
		{1e-7, "1e-7"},
		{1.5e-10, "1.5e-10"},
		{math.Inf(1), "Infinity"},
		{math.NaN(), "NaN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatNumber(tt.in), "%v", tt.in)
	}
}

func TestParseJSNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"  42 ", 42},
		{"-3.5", -3.5},
		{".5", 0.5},
		{"1e3", 1000},
		{"0x10", 16},
		{"0XfF", 255},
		{"0o7", 7},
		{"0b101", 5},
		{"Infinity", math.Inf(1)},
		{"-Infinity", math.Inf(-1)},
		{"1e400", math.Inf(1)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseJSNumber(tt.in), tt.in)
	}
	for _, in := range []string{"inf", "infinity", "NaN", "-0x10", "0x", "0b2", "1_000", "abc", "1e"} {
		assert.True(t, math.IsNaN(parseJSNumber(in)), in)
	}
}
