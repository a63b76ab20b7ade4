package skill

import (
	"encoding/json"
	"fmt"
	"math"
)

// Params is the free-form parameter map of a skill invocation. Typed getters
// tolerate the JSON round-trip (float64 for numbers) and YAML decoding (int).
type Params map[string]any

// String returns the string value for key, or def when absent or empty.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Bool returns the boolean value for key, or def when absent.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Int returns the integer value for key, or def when absent. Floats without
// a fractional part (the JSON decoding of integers) are accepted.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, n)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}

// Float returns the numeric value for key, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}

// Map returns the nested map for key, or nil when absent.
func (p Params) Map(key string) Params {
	if v, ok := p[key].(map[string]any); ok {
		return Params(v)
	}
	return nil
}

// StringSlice returns the string list for key. Non-string elements are
// skipped.
func (p Params) StringSlice(key string) []string {
	v, ok := p[key].([]any)
	if !ok {
		if s, ok := p[key].([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(v))
	for _, e := range v {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
