package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/inbox/pkg/actions"
	actionlog "github.com/dukex/inbox/pkg/actions/log"
	"github.com/dukex/inbox/pkg/eventbus"
	"github.com/dukex/inbox/pkg/events"
	"github.com/dukex/inbox/pkg/mocks"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/dukex/inbox/pkg/persistence/file"
	"github.com/dukex/inbox/pkg/services"
)

func newTriggers(t *testing.T, publisher eventbus.EventPublisher) (*services.Triggers, *file.TriggerRepository) {
	t.Helper()

	repo := file.NewTriggerRepository(t.TempDir())

	registry := actions.NewRegistry()
	registry.Register(actionlog.NewActionFactory())

	svc, err := services.NewTriggers(repo, registry, publisher, discardLogger())
	require.NoError(t, err)

	return svc, repo
}

func bugTrigger() services.TriggerRequest {
	return services.TriggerRequest{
		Name:        "Bug reports",
		Platform:    models.PlatformMattermost,
		EventType:   "message_posted",
		Conditions:  json.RawMessage(`{"and": [{"contains_text": "bug"}, {"not": {"user_id": "bot"}}]}`),
		AgentConfig: json.RawMessage(`{"agent_type": "log", "prompt_template": "New bug: {{ .text }}", "timeout_seconds": 5}`),
	}
}

func TestTriggers_Create(t *testing.T) {
	bus := &mocks.MockEventBus{}
	svc, repo := newTriggers(t, bus)
	ctx := context.Background()

	bus.On("Publish", mock.Anything, mock.Anything, mock.MatchedBy(func(e *events.TriggerChanged) bool {
		return e.Type == events.TriggerCreatedEvent
	})).Return(nil).Once()

	trigger, err := svc.Create(ctx, bugTrigger())
	require.NoError(t, err)

	assert.NotEmpty(t, trigger.ID)
	assert.True(t, trigger.Enabled)
	assert.Equal(t, "log", trigger.AgentConfig.AgentType)
	assert.Equal(t, 5, trigger.AgentConfig.TimeoutSeconds)

	stored, err := repo.ByID(ctx, trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bug reports", stored.Name)
	assert.JSONEq(t, string(bugTrigger().Conditions), string(stored.Conditions))

	bus.AssertExpectations(t)
}

func TestTriggers_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*services.TriggerRequest)
		target error
	}{
		{
			name:   "short name",
			mutate: func(r *services.TriggerRequest) { r.Name = "ab" },
			target: services.ErrInvalidRequest,
		},
		{
			name:   "unknown platform",
			mutate: func(r *services.TriggerRequest) { r.Platform = "slack" },
			target: services.ErrInvalidRequest,
		},
		{
			name:   "missing event type",
			mutate: func(r *services.TriggerRequest) { r.EventType = "" },
			target: services.ErrInvalidRequest,
		},
		{
			name:   "conditions not json",
			mutate: func(r *services.TriggerRequest) { r.Conditions = json.RawMessage(`{nope`) },
			target: services.ErrInvalidConditions,
		},
		{
			name:   "unknown predicate",
			mutate: func(r *services.TriggerRequest) { r.Conditions = json.RawMessage(`{"sentiment": "angry"}`) },
			target: services.ErrInvalidConditions,
		},
		{
			name:   "bad time range",
			mutate: func(r *services.TriggerRequest) { r.Conditions = json.RawMessage(`{"time_range": {"start": "25:00"}}`) },
			target: services.ErrInvalidConditions,
		},
		{
			name:   "agent config wrong type",
			mutate: func(r *services.TriggerRequest) { r.AgentConfig = json.RawMessage(`{"timeout_seconds": "ten"}`) },
			target: services.ErrInvalidAgentConfig,
		},
		{
			name:   "agent config unknown key",
			mutate: func(r *services.TriggerRequest) { r.AgentConfig = json.RawMessage(`{"model": "gpt"}`) },
			target: services.ErrInvalidAgentConfig,
		},
		{
			name: "unregistered action",
			mutate: func(r *services.TriggerRequest) {
				r.AgentConfig = json.RawMessage(`{"actions": [{"type": "launch_rockets"}]}`)
			},
			target: services.ErrInvalidAgentConfig,
		},
		{
			name:   "bad prompt template",
			mutate: func(r *services.TriggerRequest) { r.AgentConfig = json.RawMessage(`{"prompt_template": "{{ .text "}`) },
			target: services.ErrInvalidAgentConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTriggers(t, nil)

			req := bugTrigger()
			tt.mutate(&req)

			_, err := svc.Create(context.Background(), req)
			require.ErrorIs(t, err, tt.target)
			assert.True(t, services.IsValidationError(err))

			all, err := repo.List(context.Background(), persistence.TriggerFilter{})
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestTriggers_CreateDefaults(t *testing.T) {
	svc, _ := newTriggers(t, nil)

	disabled := false
	req := bugTrigger()
	req.Conditions = nil
	req.AgentConfig = json.RawMessage(`null`)
	req.Enabled = &disabled

	trigger, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, trigger.Enabled)
	assert.JSONEq(t, `{}`, string(trigger.Conditions))
	assert.Equal(t, models.AgentConfig{}, trigger.AgentConfig)
}

func TestTriggers_UpdateToggleDelete(t *testing.T) {
	bus := &mocks.MockEventBus{}
	svc, repo := newTriggers(t, bus)
	ctx := context.Background()

	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	trigger, err := svc.Create(ctx, bugTrigger())
	require.NoError(t, err)

	name := "Renamed trigger"
	updated, err := svc.Update(ctx, trigger.ID, services.TriggerPatch{
		Name:       &name,
		Conditions: json.RawMessage(`{"channel_name": "bugs"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed trigger", updated.Name)
	assert.Equal(t, "log", updated.AgentConfig.AgentType)
	assert.JSONEq(t, `{"channel_name": "bugs"}`, string(updated.Conditions))

	_, err = svc.Update(ctx, trigger.ID, services.TriggerPatch{Conditions: json.RawMessage(`{"or": {}}`)})
	require.ErrorIs(t, err, services.ErrInvalidConditions)

	short := "x"
	_, err = svc.Update(ctx, trigger.ID, services.TriggerPatch{Name: &short})
	require.ErrorIs(t, err, services.ErrInvalidRequest)

	_, err = svc.Update(ctx, "missing", services.TriggerPatch{Name: &name})
	assert.True(t, services.IsNotFound(err))

	toggled, err := svc.Toggle(ctx, trigger.ID, nil)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)

	enabled := true
	toggled, err = svc.Toggle(ctx, trigger.ID, &enabled)
	require.NoError(t, err)
	assert.True(t, toggled.Enabled)

	require.NoError(t, svc.Delete(ctx, trigger.ID))

	_, err = repo.ByID(ctx, trigger.ID)
	assert.True(t, services.IsNotFound(err))

	err = svc.Delete(ctx, trigger.ID)
	assert.True(t, services.IsNotFound(err))

	var kinds []events.EventType

	for _, call := range bus.Calls {
		kinds = append(kinds, call.Arguments.Get(2).(*events.TriggerChanged).Type)
	}

	assert.Equal(t, []events.EventType{
		events.TriggerCreatedEvent,
		events.TriggerUpdatedEvent,
		events.TriggerUpdatedEvent,
		events.TriggerUpdatedEvent,
		events.TriggerDeletedEvent,
	}, kinds)
}

func TestTriggers_PublishFailureDoesNotFailWrite(t *testing.T) {
	bus := &mocks.MockEventBus{}
	svc, _ := newTriggers(t, bus)

	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	_, err := svc.Create(context.Background(), bugTrigger())
	require.NoError(t, err)
}

func TestTriggers_List(t *testing.T) {
	svc, _ := newTriggers(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, bugTrigger())
	require.NoError(t, err)

	other := bugTrigger()
	other.Name = "Trello cards"
	other.Platform = models.PlatformTrello
	other.EventType = "card_created"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	all, err := svc.List(ctx, services.TriggerQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	trello, err := svc.List(ctx, services.TriggerQuery{Platform: "Trello"})
	require.NoError(t, err)
	require.Len(t, trello, 1)
	assert.Equal(t, "Trello cards", trello[0].Name)

	_, err = svc.List(ctx, services.TriggerQuery{Platform: "irc"})
	assert.True(t, services.IsValidationError(err))
}

func TestTriggers_Test(t *testing.T) {
	svc, _ := newTriggers(t, nil)
	ctx := context.Background()

	trigger, err := svc.Create(ctx, bugTrigger())
	require.NoError(t, err)

	_, err = svc.Toggle(ctx, trigger.ID, new(bool))
	require.NoError(t, err)

	tests := []struct {
		name     string
		activity *models.Activity
		matched  bool
	}{
		{
			name: "matching message",
			activity: &models.Activity{
				UserID: "u1", Data: models.Data{"message": "found a BUG"}, Timestamp: time.Now(),
			},
			matched: true,
		},
		{
			name: "bot is excluded",
			activity: &models.Activity{
				UserID: "bot", Data: models.Data{"message": "found a bug"}, Timestamp: time.Now(),
			},
		},
		{
			name: "other event type",
			activity: &models.Activity{
				EventType: "user_joined", UserID: "u1", Data: models.Data{"message": "bug"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.Test(ctx, trigger.ID, tt.activity)
			require.NoError(t, err)
			assert.Equal(t, tt.matched, result.Matched)
			assert.Empty(t, result.Problems)
		})
	}

	_, err = svc.Test(ctx, trigger.ID, nil)
	require.ErrorIs(t, err, services.ErrInvalidRequest)

	_, err = svc.Test(ctx, "missing", &models.Activity{})
	assert.True(t, services.IsNotFound(err))
}
