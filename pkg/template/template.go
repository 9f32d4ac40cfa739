// Package template renders the text/template strings found in trigger
// agent configurations: prompts, message bodies and card titles.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"truncate": truncate,
	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
	"trim":     strings.TrimSpace,
	"default": func(fallback, value any) any {
		if value == nil {
			return fallback
		}

		if s, ok := value.(string); ok && s == "" {
			return fallback
		}

		return value
	},
	"json": func(value any) (string, error) {
		b, err := json.Marshal(value)
		if err != nil {
			return "", err
		}

		return string(b), nil
	},
}

// Parse compiles templateStr with the inbox helper functions.
func Parse(templateStr string) (*template.Template, error) {
	tmpl, err := template.New("inbox").Option("missingkey=zero").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}

// RenderString executes templateStr against data and returns the text.
func RenderString(templateStr string, data any) (string, error) {
	tmpl, err := Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Render executes templateStr and decodes the output: JSON objects and
// arrays, numbers and booleans come back typed, anything else as a string.
func Render(templateStr string, data any) (any, error) {
	rendered, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func truncate(limit int, s string) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)

	return string(runes[:limit]) + "…"
}
