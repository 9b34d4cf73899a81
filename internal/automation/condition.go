package automation

import (
	"errors"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"kazi/internal/models"
)

// Supported condition operators. Any other operator string is unknown and is
// resolved by the evaluator's UnknownOperatorPolicy.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
)

// UnknownOperatorPolicy decides the result of a condition whose operator is
// not recognised.
type UnknownOperatorPolicy int

const (
	// PassUnknownOperators treats an unrecognised operator as satisfied.
	PassUnknownOperators UnknownOperatorPolicy = iota
	// FailUnknownOperators treats an unrecognised operator as not satisfied.
	FailUnknownOperators
)

// ParseUnknownOperatorPolicy maps a config string to a policy ("pass" or "fail").
func ParseUnknownOperatorPolicy(s string) UnknownOperatorPolicy {
	if strings.EqualFold(strings.TrimSpace(s), "fail") {
		return FailUnknownOperators
	}
	return PassUnknownOperators
}

func (p UnknownOperatorPolicy) String() string {
	if p == FailUnknownOperators {
		return "fail"
	}
	return "pass"
}

// KnownOperator reports whether op is one of the built-in operators.
func KnownOperator(op string) bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan, OpIsEmpty, OpIsNotEmpty:
		return true
	}
	return false
}

// Evaluator folds an ordered list of conditions over event data.
type Evaluator struct {
	UnknownOperators UnknownOperatorPolicy
}

// Evaluate uses the default policy (unknown operators pass).
func Evaluate(conditions []models.TriggerCondition, eventData map[string]any) bool {
	return Evaluator{}.Evaluate(conditions, eventData)
}

// Evaluate returns true for an empty list. Otherwise conditions are sorted by
// OrderIndex and left-folded into an accumulator that starts at true: OR
// conditions combine with ||, everything else with &&. Every condition is
// evaluated; there is no short-circuit and no operator precedence.
func (e Evaluator) Evaluate(conditions []models.TriggerCondition, eventData map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}
	ordered := make([]models.TriggerCondition, len(conditions))
	copy(ordered, conditions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OrderIndex < ordered[j].OrderIndex })

	result := true
	for _, cond := range ordered {
		v, ok := eventData[cond.Field]
		r := e.check(cond.Operator, operand{v: v, defined: ok}, cond.CompareValue())
		if cond.LogicOperator == models.LogicOr {
			result = result || r
		} else {
			result = result && r
		}
	}
	return result
}

func (e Evaluator) check(op string, field operand, want any) bool {
	switch op {
	case OpEquals:
		return strictEqual(field, operand{v: want, defined: true})
	case OpNotEquals:
		return !strictEqual(field, operand{v: want, defined: true})
	case OpContains:
		return strings.Contains(toJSString(field), toJSString(operand{v: want, defined: true}))
	case OpGreaterThan:
		return compare(field, operand{v: want, defined: true}, func(c int) bool { return c > 0 })
	case OpLessThan:
		return compare(field, operand{v: want, defined: true}, func(c int) bool { return c < 0 })
	case OpIsEmpty:
		return isEmpty(field)
	case OpIsNotEmpty:
		return !isEmpty(field)
	default:
		return e.UnknownOperators == PassUnknownOperators
	}
}

// operand carries a dynamic value plus whether it was present at all, so a
// missing field (undefined) stays distinct from an explicit null.
type operand struct {
	v       any
	defined bool
}

type kind int

const (
	kindUndefined kind = iota
	kindNull
	kindBool
	kindNumber
	kindString
	kindObject
)

func kindOf(o operand) kind {
	if !o.defined {
		return kindUndefined
	}
	switch o.v.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBool
	case string:
		return kindString
	}
	if _, ok := asNumber(o.v); ok {
		return kindNumber
	}
	return kindObject
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }: // json.Number
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// strictEqual mirrors ===: same kind and same value; objects and arrays are
// never equal since there is no shared identity across decoded payloads.
func strictEqual(a, b operand) bool {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case kindUndefined, kindNull:
		return true
	case kindBool:
		return a.v.(bool) == b.v.(bool)
	case kindString:
		return a.v.(string) == b.v.(string)
	case kindNumber:
		x, _ := asNumber(a.v)
		y, _ := asNumber(b.v)
		return x == y
	default:
		return false
	}
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e21 || abs < 1e-6 {
		// exponent form without zero padding: 1e+21, 1.5e-7
		mant, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
		return mant + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// toJSString coerces a value the way String(x) does.
func toJSString(o operand) string {
	switch kindOf(o) {
	case kindUndefined:
		return "undefined"
	case kindNull:
		return "null"
	case kindBool:
		return strconv.FormatBool(o.v.(bool))
	case kindString:
		return o.v.(string)
	case kindNumber:
		f, _ := asNumber(o.v)
		return formatNumber(f)
	}
	rv := reflect.ValueOf(o.v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		parts := make([]string, rv.Len())
		for i := range parts {
			item := rv.Index(i).Interface()
			if item != nil {
				parts[i] = toJSString(operand{v: item, defined: true})
			}
		}
		return strings.Join(parts, ",")
	}
	return "[object Object]"
}

// toJSNumber coerces a value the way Number(x) does for scalars.
func toJSNumber(o operand) float64 {
	switch kindOf(o) {
	case kindUndefined:
		return math.NaN()
	case kindNull:
		return 0
	case kindBool:
		if o.v.(bool) {
			return 1
		}
		return 0
	case kindNumber:
		f, _ := asNumber(o.v)
		return f
	case kindString:
		return parseJSNumber(o.v.(string))
	}
	return toJSNumber(operand{v: toJSString(o), defined: true})
}

// parseJSNumber follows StringToNumber: decimal literals, Infinity and
// unsigned 0x/0o/0b integers. Anything else is NaN.
func parseJSNumber(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X':
			return parseRadix(s[2:], 16)
		case 'o', 'O':
			return parseRadix(s[2:], 8)
		case 'b', 'B':
			return parseRadix(s[2:], 2)
		}
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789.eE+-", r) {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return math.NaN()
	}
	return f
}

func parseRadix(digits string, base int) float64 {
	var f float64
	for _, r := range digits {
		d := strings.IndexRune("0123456789abcdef", unicode.ToLower(r))
		if d < 0 || d >= base {
			return math.NaN()
		}
		f = f*float64(base) + float64(d)
	}
	return f
}

// compare applies the relational comparison rules: two strings compare
// lexicographically, anything else numerically, and NaN never satisfies.
func compare(a, b operand, ok func(int) bool) bool {
	a, b = toPrimitive(a), toPrimitive(b)
	if kindOf(a) == kindString && kindOf(b) == kindString {
		return ok(strings.Compare(a.v.(string), b.v.(string)))
	}
	x, y := toJSNumber(a), toJSNumber(b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	switch {
	case x > y:
		return ok(1)
	case x < y:
		return ok(-1)
	default:
		return ok(0)
	}
}

func toPrimitive(o operand) operand {
	if kindOf(o) == kindObject {
		return operand{v: toJSString(o), defined: true}
	}
	return o
}

func isEmpty(o operand) bool {
	switch kindOf(o) {
	case kindUndefined, kindNull:
		return true
	case kindBool:
		return !o.v.(bool)
	case kindString:
		return o.v.(string) == ""
	case kindNumber:
		f, _ := asNumber(o.v)
		return f == 0 || math.IsNaN(f)
	}
	return false
}
