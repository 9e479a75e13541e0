package bagel

import (
	"github.com/pkg/errors"
)

// Operator reduces two memory values into one. Operators must be
// associative and commutative: contributions arrive in no particular order.
type Operator func(a, b interface{}) interface{}

// Sum adds numbers. The result is float64 when either side is, so the
// order of contributions does not change it. A nil side is ignored.
func Sum(a, b interface{}) interface{} {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	if isFloat(a) || isFloat(b) {
		return toFloat(a) + toFloat(b)
	}
	switch x := a.(type) {
	case int:
		if y, ok := b.(int); ok {
			return x + y
		}
	case uint64:
		if y, ok := b.(uint64); ok {
			return x + y
		}
	}
	return toInt64(a) + toInt64(b)
}

func Min(a, b interface{}) interface{} {
	if less(b, a) {
		return b
	}
	return a
}

func Max(a, b interface{}) interface{} {
	if less(a, b) {
		return b
	}
	return a
}

func Or(a, b interface{}) interface{} {
	return a.(bool) || b.(bool)
}

func And(a, b interface{}) interface{} {
	return a.(bool) && b.(bool)
}

// Assign keeps the newest value.
func Assign(_, b interface{}) interface{} {
	return b
}

var operators = map[string]Operator{
	"sum":    Sum,
	"min":    Min,
	"max":    Max,
	"or":     Or,
	"and":    And,
	"assign": Assign,
}

func OperatorByName(name string) (Operator, error) {
	if op, ok := operators[name]; ok {
		return op, nil
	}
	return nil, errors.Wrapf(ErrConfiguration, "unknown operator %q", name)
}

func isFloat(v interface{}) bool {
	switch v.(type) {
	case float64, float32:
		return true
	}
	return false
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	}
	return 0
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	}
	return 0
}

func less(a, b interface{}) bool {
	if sa, ok := a.(string); ok {
		sb, _ := b.(string)
		return sa < sb
	}
	return toFloat(a) < toFloat(b)
}
