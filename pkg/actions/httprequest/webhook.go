package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukex/inbox/pkg/actions"
	"github.com/dukex/inbox/pkg/template"
)

// WebhookAction posts the match to an arbitrary URL. Without a body
// template the payload is {trigger, activity, text, prompt, data}.
type WebhookAction struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	client  *Client
}

func NewWebhookAction(config map[string]any, httpClient *http.Client) (*WebhookAction, error) {
	rawURL, err := actions.RequiredString(config, "url")
	if err != nil {
		return nil, err
	}

	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	method := strings.ToUpper(actions.ConfigString(config, "method"))
	if method == "" {
		method = http.MethodPost
	}

	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, fmt.Errorf("%w: unsupported method %q", actions.ErrInvalidConfig, method)
	}

	body := actions.ConfigString(config, "body")
	if body != "" {
		if _, err := template.Parse(body); err != nil {
			return nil, fmt.Errorf("%w: body: %w", actions.ErrInvalidConfig, err)
		}
	}

	return &WebhookAction{
		URL:     rawURL,
		Method:  method,
		Headers: actions.ConfigStringMap(config, "headers"),
		Body:    body,
		client:  NewClient(httpClient, ParseRetryConfig(config)),
	}, nil
}

func (a *WebhookAction) Execute(ctx context.Context, input actions.Input, logger *slog.Logger) error {
	payload, err := a.payload(input)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Calling custom webhook", "method", a.Method, "host", HostOf(a.URL))

	_, err = a.client.Do(ctx, Request{
		Method:  a.Method,
		URL:     a.URL,
		Headers: a.Headers,
		Body:    payload,
	}, logger)

	return err
}

func (a *WebhookAction) payload(input actions.Input) ([]byte, error) {
	data := input.TemplateData()

	if a.Body == "" {
		return json.Marshal(data)
	}

	rendered, err := template.Render(a.Body, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render body template: %w", err)
	}

	if s, ok := rendered.(string); ok {
		return []byte(s), nil
	}

	return json.Marshal(rendered)
}

// WebhookFactory creates custom_webhook actions.
type WebhookFactory struct {
	httpClient *http.Client
}

func NewWebhookFactory(httpClient *http.Client) *WebhookFactory {
	return &WebhookFactory{httpClient: httpClient}
}

func (*WebhookFactory) ID() string {
	return "custom_webhook"
}

func (*WebhookFactory) Description() string {
	return "Sends the matched activity to a custom webhook URL."
}

func (f *WebhookFactory) Create(_ context.Context, config map[string]any) (actions.Action, error) {
	return NewWebhookAction(config, f.httpClient)
}

func (*WebhookFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":   "string",
				"format": "uri",
			},
			"method": map[string]any{
				"type":    "string",
				"default": "POST",
				"enum":    []string{"POST", "PUT", "PATCH"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Body template. Defaults to the JSON encoded match.",
				"examples": []string{
					`{"summary": {{ json .prompt }}, "user": "{{ .activity.user_id }}"}`,
				},
			},
			"retry": retrySchema(),
		},
		"required": []string{"url"},
	}
}

func retrySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"attempts": map[string]any{"type": "integer", "minimum": 1, "maximum": maxAttempts},
			"delay":    map[string]any{"type": "integer", "minimum": 0, "description": "Delay between attempts in milliseconds"},
		},
	}
}

// ValidateURL accepts absolute http and https URLs.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", actions.ErrInvalidConfig)
	}

	return nil
}

// HostOf returns the host of rawURL, for logging without credentials.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return u.Host
}
