package card_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/dukex/inbox/pkg/actions"
	"github.com/dukex/inbox/pkg/actions/card"
	"github.com/dukex/inbox/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCard(t *testing.T) {
	var (
		query url.Values
		body  map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":"card1"}`))
	}))
	defer server.Close()

	action, err := card.NewFactory(server.Client()).Create(context.Background(), map[string]any{
		"url":       server.URL + "/1/cards",
		"list_id":   "list-9",
		"api_key":   "k",
		"token":     "tok",
		"position":  "top",
		"label_ids": []any{"l1", "l2"},
	})
	require.NoError(t, err)

	input := actions.Input{
		Activity: &models.Activity{ID: "a1", Platform: models.PlatformFlock},
		Text:     strings.Repeat("x", 100),
		Prompt:   "Created from flock",
	}

	require.NoError(t, action.Execute(context.Background(), input, slog.New(slog.NewTextHandler(io.Discard, nil))))

	assert.Equal(t, "k", query.Get("key"))
	assert.Equal(t, "tok", query.Get("token"))
	assert.Equal(t, "list-9", body["idList"])
	assert.Equal(t, strings.Repeat("x", 80)+"…", body["name"])
	assert.Equal(t, "Created from flock", body["desc"])
	assert.Equal(t, "top", body["pos"])
	assert.Equal(t, "l1,l2", body["idLabels"])
}

func TestCreateCard_Templates(t *testing.T) {
	var body map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer server.Close()

	action, err := card.NewAction(map[string]any{
		"url":     server.URL,
		"list_id": "l",
		"name":    "[{{ .activity.platform }}] {{ .text }}",
		"desc":    "from {{ .activity.user_id }}",
	}, server.Client())
	require.NoError(t, err)
	assert.Equal(t, server.URL, action.Endpoint)

	input := actions.Input{
		Activity: &models.Activity{Platform: models.PlatformMattermost, UserID: "u1"},
		Text:     "fix login",
	}

	require.NoError(t, action.Execute(context.Background(), input, slog.New(slog.NewTextHandler(io.Discard, nil))))
	assert.Equal(t, "[mattermost] fix login", body["name"])
	assert.Equal(t, "from u1", body["desc"])
	assert.NotContains(t, body, "pos")
}

func TestNewAction_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{name: "missing list", config: map[string]any{}},
		{name: "bad url", config: map[string]any{"list_id": "l", "url": "trello"}},
		{name: "bad position", config: map[string]any{"list_id": "l", "position": "middle"}},
		{name: "bad name template", config: map[string]any{"list_id": "l", "name": "{{ .x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := card.NewAction(tt.config, nil)
			require.ErrorIs(t, err, actions.ErrInvalidConfig)
		})
	}
}

func TestNewAction_Defaults(t *testing.T) {
	action, err := card.NewAction(map[string]any{"list_id": "l"}, nil)
	require.NoError(t, err)
	assert.Equal(t, card.DefaultEndpoint, action.Endpoint)
}
