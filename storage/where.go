package storage

import (
	"fmt"
	"strings"
)

// Matches evaluates a where-clause sequence against a record, left to
// right with no precedence rewriting: the first entry seeds truth, and
// each subsequent entry combines via its own Connector (§4.8).
func Matches(r Record, where []Where) (bool, error) {
	if len(where) == 0 {
		return true, nil
	}
	result, err := matchOne(r, where[0])
	if err != nil {
		return false, err
	}
	for _, w := range where[1:] {
		ok, err := matchOne(r, w)
		if err != nil {
			return false, err
		}
		switch w.Connector {
		case Or:
			result = result || ok
		default: // And is the zero-value-safe default
			result = result && ok
		}
	}
	return result, nil
}

func matchOne(r Record, w Where) (bool, error) {
	field := r[w.Field]
	switch w.Operator {
	case OpEq, "":
		return equal(field, w.Value), nil
	case OpNe:
		return !equal(field, w.Value), nil
	case OpIn:
		return containsAny(w.Value, field), nil
	case OpNotIn:
		return !containsAny(w.Value, field), nil
	case OpGt, OpGte, OpLt, OpLte:
		return compare(field, w.Value, w.Operator)
	case OpContains:
		return strings.Contains(toString(field), toString(w.Value)), nil
	case OpStartsWith:
		return strings.HasPrefix(toString(field), toString(w.Value)), nil
	case OpEndsWith:
		return strings.HasSuffix(toString(field), toString(w.Value)), nil
	default:
		return false, fmt.Errorf("storage: unknown where operator %q", w.Operator)
	}
}

func equal(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && (a == nil) == (b == nil)
}

func containsAny(set any, v any) bool {
	switch s := set.(type) {
	case []string:
		for _, item := range s {
			if equal(item, v) {
				return true
			}
		}
	case []any:
		for _, item := range s {
			if equal(item, v) {
				return true
			}
		}
	}
	return false
}

func compare(a, b any, op Operator) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case OpGt:
			return af > bf, nil
		case OpGte:
			return af >= bf, nil
		case OpLt:
			return af < bf, nil
		case OpLte:
			return af <= bf, nil
		}
	}
	as, bs := toString(a), toString(b)
	switch op {
	case OpGt:
		return as > bs, nil
	case OpGte:
		return as >= bs, nil
	case OpLt:
		return as < bs, nil
	case OpLte:
		return as <= bs, nil
	}
	return false, fmt.Errorf("storage: unsupported comparison operator %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
