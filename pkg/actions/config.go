package actions

import (
	"fmt"
	"strings"
)

// ConfigString reads a string option, trimming blanks.
func ConfigString(config map[string]any, key string) string {
	value, _ := config[key].(string)

	return strings.TrimSpace(value)
}

// RequiredString reads a mandatory string option.
func RequiredString(config map[string]any, key string) (string, error) {
	value := ConfigString(config, key)
	if value == "" {
		return "", fmt.Errorf("%w: missing or invalid '%s'", ErrInvalidConfig, key)
	}

	return value, nil
}

// ConfigInt reads a numeric option decoded from JSON.
func ConfigInt(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// ConfigStringMap reads an object whose values are strings, such as headers.
func ConfigStringMap(config map[string]any, key string) map[string]string {
	result := make(map[string]string)

	raw, ok := config[key].(map[string]any)
	if !ok {
		return result
	}

	for k, v := range raw {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}

	return result
}
