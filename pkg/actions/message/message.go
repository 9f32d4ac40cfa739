// Package message provides the send_message and notify_user actions. Both
// post to an incoming-webhook URL in the Mattermost/Slack format, which
// Flock incoming webhooks accept as well.
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukex/inbox/pkg/actions"
	"github.com/dukex/inbox/pkg/actions/httprequest"
	"github.com/dukex/inbox/pkg/template"
)

const (
	SendMessageType = "send_message"
	NotifyUserType  = "notify_user"

	defaultText = `{{ default .text .prompt }}`
)

// Action posts one templated message.
type Action struct {
	WebhookURL string
	Text       string
	Channel    string
	Username   string
	IconURL    string
	client     *httprequest.Client
}

type payload struct {
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

func newAction(config map[string]any, httpClient *http.Client) (*Action, error) {
	webhookURL, err := actions.RequiredString(config, "webhook_url")
	if err != nil {
		return nil, err
	}

	if err := httprequest.ValidateURL(webhookURL); err != nil {
		return nil, err
	}

	text := actions.ConfigString(config, "text")
	if text == "" {
		text = defaultText
	}

	if _, err := template.Parse(text); err != nil {
		return nil, fmt.Errorf("%w: text: %w", actions.ErrInvalidConfig, err)
	}

	return &Action{
		WebhookURL: webhookURL,
		Text:       text,
		Channel:    actions.ConfigString(config, "channel"),
		Username:   actions.ConfigString(config, "username"),
		IconURL:    actions.ConfigString(config, "icon_url"),
		client:     httprequest.NewClient(httpClient, httprequest.ParseRetryConfig(config)),
	}, nil
}

// NewSendMessage posts to the webhook's channel, or to "channel" when set.
func NewSendMessage(config map[string]any, httpClient *http.Client) (*Action, error) {
	return newAction(config, httpClient)
}

// NewNotifyUser addresses the message to "user" as a direct message.
func NewNotifyUser(config map[string]any, httpClient *http.Client) (*Action, error) {
	user, err := actions.RequiredString(config, "user")
	if err != nil {
		return nil, err
	}

	action, err := newAction(config, httpClient)
	if err != nil {
		return nil, err
	}

	action.Channel = "@" + strings.TrimPrefix(user, "@")

	return action, nil
}

func (a *Action) Execute(ctx context.Context, input actions.Input, logger *slog.Logger) error {
	text, err := template.RenderString(a.Text, input.TemplateData())
	if err != nil {
		return fmt.Errorf("failed to render message text: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: message text rendered empty", actions.ErrInvalidConfig)
	}

	body, err := json.Marshal(payload{
		Text:     text,
		Channel:  a.Channel,
		Username: a.Username,
		IconURL:  a.IconURL,
	})
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Posting message", "host", httprequest.HostOf(a.WebhookURL), "channel", a.Channel)

	_, err = a.client.Do(ctx, httprequest.Request{
		Method: http.MethodPost,
		URL:    a.WebhookURL,
		Body:   body,
	}, logger)

	return err
}

// Factory creates send_message or notify_user actions.
type Factory struct {
	id         string
	httpClient *http.Client
}

func NewSendMessageFactory(httpClient *http.Client) *Factory {
	return &Factory{id: SendMessageType, httpClient: httpClient}
}

func NewNotifyUserFactory(httpClient *http.Client) *Factory {
	return &Factory{id: NotifyUserType, httpClient: httpClient}
}

func (f *Factory) ID() string {
	return f.id
}

func (f *Factory) Description() string {
	if f.id == NotifyUserType {
		return "Sends a direct message to a user through an incoming webhook."
	}

	return "Posts a message to a channel through an incoming webhook."
}

func (f *Factory) Create(_ context.Context, config map[string]any) (actions.Action, error) {
	if f.id == NotifyUserType {
		return NewNotifyUser(config, f.httpClient)
	}

	return NewSendMessage(config, f.httpClient)
}

func (f *Factory) Schema() map[string]any {
	properties := map[string]any{
		"webhook_url": map[string]any{"type": "string", "format": "uri"},
		"text": map[string]any{
			"type":        "string",
			"description": "Message template. Defaults to the rendered prompt, else the activity text.",
			"examples": []string{
				"New {{ .activity.event_type }} from {{ .activity.user_id }}: {{ truncate 200 .text }}",
			},
		},
		"channel":  map[string]any{"type": "string"},
		"username": map[string]any{"type": "string"},
		"icon_url": map[string]any{"type": "string"},
	}
	required := []string{"webhook_url"}

	if f.id == NotifyUserType {
		delete(properties, "channel")
		properties["user"] = map[string]any{"type": "string"}
		required = append(required, "user")
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
