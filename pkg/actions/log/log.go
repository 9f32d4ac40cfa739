// Package log provides the log action: it records the match as a
// structured log line and is the default for triggers without actions.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/inbox/pkg/actions"
	"github.com/dukex/inbox/pkg/template"
)

const defaultMessage = `Trigger {{ .trigger.name }} matched {{ .activity.event_type }} on {{ .activity.platform }}`

type Action struct {
	Message string
	Level   slog.Level
}

func NewAction(config map[string]any) (*Action, error) {
	message := actions.ConfigString(config, "message")
	if message == "" {
		message = defaultMessage
	}

	if _, err := template.Parse(message); err != nil {
		return nil, fmt.Errorf("%w: message: %w", actions.ErrInvalidConfig, err)
	}

	level, err := parseLevel(actions.ConfigString(config, "level"))
	if err != nil {
		return nil, err
	}

	return &Action{Message: message, Level: level}, nil
}

func (a *Action) Execute(ctx context.Context, input actions.Input, logger *slog.Logger) error {
	message, err := template.RenderString(a.Message, input.TemplateData())
	if err != nil {
		return fmt.Errorf("failed to render log message: %w", err)
	}

	attrs := []any{"text", input.Text}
	if input.Prompt != "" {
		attrs = append(attrs, "prompt", input.Prompt)
	}

	logger.Log(ctx, a.Level, message, attrs...)

	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown log level %q", actions.ErrInvalidConfig, level)
	}
}

// ActionFactory is the factory for creating log actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return actions.DefaultActionType
}

func (*ActionFactory) Description() string {
	return "Logs a message at a specified level. Supports templating for dynamic content."
}

func (*ActionFactory) Create(_ context.Context, config map[string]any) (actions.Action, error) {
	return NewAction(config)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log. Supports templating for dynamic content.",
				"examples": []string{
					"{{ .trigger.name }} fired for {{ .activity.user_id }}",
				},
			},
			"level": map[string]any{
				"type":    "string",
				"default": "info",
				"enum":    []string{"debug", "info", "warn", "warning", "error"},
			},
		},
	}
}
