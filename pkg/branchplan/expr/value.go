package expr

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// IsTruthy reports whether a value counts as true in a condition: nil,
// false, "" and numeric zero are false; everything else is true.
func IsTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}

// ToFloat64 converts a value for ordering comparisons. Strings are parsed;
// anything that is not a number reads as 0.
func ToFloat64(v any) float64 {
	if f, ok := number(v); ok {
		return f
	}
	if s, ok := v.(string); ok {
		f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f
	}
	return 0
}

// number converts Go numeric kinds. Strings are not numbers here.
func number(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// Lookup walks a dot-separated path through nested maps and slices.
// Map keys must be strings; slice segments must be non-negative integers.
// An empty path returns root itself. The boolean is false when any segment
// cannot be resolved.
//
// Example:
//
//	v, ok := expr.Lookup(payload, "result.users.0.name")
func Lookup(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	current := root
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func step(v any, seg string) (any, bool) {
	if v == nil || seg == "" {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		val, found := m[seg]
		return val, found
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil, false
		}
		return val.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, false
		}
		return step(rv.Elem().Interface(), seg)
	default:
		return nil, false
	}
}
