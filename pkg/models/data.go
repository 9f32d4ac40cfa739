package models

import (
	"strconv"
	"strings"
)

// Data is the opaque, platform-specific payload carried by an activity.
// Values follow encoding/json decoding: map[string]any, []any, string,
// float64, bool and nil.
type Data map[string]any

// Lookup resolves a dot-separated path such as "post.message" or
// "attachments.0.text". Numeric segments index into arrays.
func (d Data) Lookup(path string) (any, bool) {
	if d == nil || path == "" {
		return nil, false
	}

	var current any = map[string]any(d)

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case Data:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// String resolves path and renders scalar values as strings. Missing values,
// nulls, maps and arrays report false.
func (d Data) String(path string) (string, bool) {
	value, ok := d.Lookup(path)
	if !ok {
		return "", false
	}

	return ScalarString(value)
}

// FirstString returns the first non-empty string found among paths.
func (d Data) FirstString(paths ...string) (string, bool) {
	for _, path := range paths {
		if value, ok := d.String(path); ok && value != "" {
			return value, true
		}
	}

	return "", false
}

// Map resolves path to a nested object.
func (d Data) Map(path string) (Data, bool) {
	value, ok := d.Lookup(path)
	if !ok {
		return nil, false
	}

	switch m := value.(type) {
	case map[string]any:
		return Data(m), true
	case Data:
		return m, true
	default:
		return nil, false
	}
}

// ScalarString renders a JSON scalar as a string.
func ScalarString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}
