// Package card provides the create_card action for Trello-compatible boards.
package card

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukex/inbox/pkg/actions"
	"github.com/dukex/inbox/pkg/actions/httprequest"
	"github.com/dukex/inbox/pkg/template"
)

const (
	ActionType = "create_card"

	DefaultEndpoint = "https://api.trello.com/1/cards"
	defaultName     = `{{ truncate 80 (default "New activity" .text) }}`
	defaultDesc     = `{{ default .text .prompt }}`
)

type Action struct {
	Endpoint string
	ListID   string
	Name     string
	Desc     string
	Position string
	Labels   []string
	apiKey   string
	token    string
	client   *httprequest.Client
}

type card struct {
	IDList   string `json:"idList"`
	Name     string `json:"name"`
	Desc     string `json:"desc,omitempty"`
	Pos      string `json:"pos,omitempty"`
	IDLabels string `json:"idLabels,omitempty"`
}

func NewAction(config map[string]any, httpClient *http.Client) (*Action, error) {
	listID, err := actions.RequiredString(config, "list_id")
	if err != nil {
		return nil, err
	}

	endpoint := actions.ConfigString(config, "url")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	if err := httprequest.ValidateURL(endpoint); err != nil {
		return nil, err
	}

	name := actions.ConfigString(config, "name")
	if name == "" {
		name = defaultName
	}

	desc := actions.ConfigString(config, "desc")
	if desc == "" {
		desc = defaultDesc
	}

	for field, tmpl := range map[string]string{"name": name, "desc": desc} {
		if _, err := template.Parse(tmpl); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", actions.ErrInvalidConfig, field, err)
		}
	}

	position := actions.ConfigString(config, "position")
	switch position {
	case "", "top", "bottom":
	default:
		return nil, fmt.Errorf("%w: position must be top or bottom", actions.ErrInvalidConfig)
	}

	return &Action{
		Endpoint: endpoint,
		ListID:   listID,
		Name:     name,
		Desc:     desc,
		Position: position,
		Labels:   labels(config["label_ids"]),
		apiKey:   actions.ConfigString(config, "api_key"),
		token:    actions.ConfigString(config, "token"),
		client:   httprequest.NewClient(httpClient, httprequest.ParseRetryConfig(config)),
	}, nil
}

func (a *Action) Execute(ctx context.Context, input actions.Input, logger *slog.Logger) error {
	data := input.TemplateData()

	name, err := template.RenderString(a.Name, data)
	if err != nil {
		return fmt.Errorf("failed to render card name: %w", err)
	}

	desc, err := template.RenderString(a.Desc, data)
	if err != nil {
		return fmt.Errorf("failed to render card description: %w", err)
	}

	body, err := json.Marshal(card{
		IDList:   a.ListID,
		Name:     strings.TrimSpace(name),
		Desc:     strings.TrimSpace(desc),
		Pos:      a.Position,
		IDLabels: strings.Join(a.Labels, ","),
	})
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Creating card", "host", httprequest.HostOf(a.Endpoint), "list_id", a.ListID)

	_, err = a.client.Do(ctx, httprequest.Request{
		Method: http.MethodPost,
		URL:    a.requestURL(),
		Body:   body,
	}, logger)

	return err
}

// requestURL carries the Trello credentials as query parameters.
func (a *Action) requestURL() string {
	if a.apiKey == "" && a.token == "" {
		return a.Endpoint
	}

	u, err := url.Parse(a.Endpoint)
	if err != nil {
		return a.Endpoint
	}

	query := u.Query()
	if a.apiKey != "" {
		query.Set("key", a.apiKey)
	}

	if a.token != "" {
		query.Set("token", a.token)
	}

	u.RawQuery = query.Encode()

	return u.String()
}

func labels(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}

	result := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			result = append(result, s)
		}
	}

	return result
}

type Factory struct {
	httpClient *http.Client
}

func NewFactory(httpClient *http.Client) *Factory {
	return &Factory{httpClient: httpClient}
}

func (*Factory) ID() string {
	return ActionType
}

func (*Factory) Description() string {
	return "Creates a card on a board list."
}

func (f *Factory) Create(_ context.Context, config map[string]any) (actions.Action, error) {
	return NewAction(config, f.httpClient)
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"list_id":   map[string]any{"type": "string"},
			"url":       map[string]any{"type": "string", "format": "uri", "default": DefaultEndpoint},
			"name":      map[string]any{"type": "string", "description": "Card title template"},
			"desc":      map[string]any{"type": "string", "description": "Card description template"},
			"position":  map[string]any{"type": "string", "enum": []string{"top", "bottom"}},
			"label_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"api_key":   map[string]any{"type": "string"},
			"token":     map[string]any{"type": "string"},
		},
		"required": []string{"list_id"},
	}
}
