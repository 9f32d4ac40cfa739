package cmd

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/inbox/pkg/events"
	"github.com/dukex/inbox/pkg/mocks"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/normalizer"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/dukex/inbox/pkg/persistence/file"
	"github.com/dukex/inbox/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/inbox":   "postgres",
		"postgresql://u:p@localhost/inbox": "postgresql",
		"file:///var/lib/inbox":            "file",
		"/tmp/inbox":                       "file",
		"mysql://localhost/inbox":          "file",
	}

	for url, expected := range tests {
		assert.Equal(t, expected, parsePersistenceProvider(url), url)
	}
}

func TestNewPersistence_File(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := NewPersistence(context.Background(), logger, "file://"+t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)
	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestNewEventBus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus, err := NewEventBus(EventBusNone, "inbox", logger)
	require.NoError(t, err)
	assert.Nil(t, bus)

	bus, err = NewEventBus(EventBusGoChannel, "inbox", logger)
	require.NoError(t, err)
	require.NotNil(t, bus)
	assert.NoError(t, bus.Close())

	t.Setenv("KAFKA_BROKERS", "")
	_, err = NewEventBus(EventBusKafka, "inbox", logger)
	require.Error(t, err)

	_, err = NewEventBus("rabbitmq", "inbox", logger)
	require.Error(t, err)
}

func TestNewActionRegistry(t *testing.T) {
	registry := NewActionRegistry(time.Second)

	assert.Equal(t,
		[]string{"create_card", "custom_webhook", "log", "notify_user", "send_message"},
		registry.Types())
}

func TestNewEngine_TriggerCache(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	p := file.NewPersistence(t.TempDir())

	engine := NewEngine(p, EngineConfig{TriggerCacheTTL: time.Hour}, logger)
	require.NotNil(t, engine.Cache)

	filter := persistence.TriggerFilter{Platform: models.PlatformMattermost, EventType: "message_posted", EnabledOnly: true}

	triggers, err := engine.Cache.List(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, triggers)

	require.NoError(t, p.TriggerRepository().Create(ctx, &models.WorkflowTrigger{
		ID:          "t1",
		Name:        "Everything",
		Platform:    models.PlatformMattermost,
		EventType:   "message_posted",
		Conditions:  []byte(`{}`),
		AgentConfig: models.AgentConfig{AgentType: "log"},
		Enabled:     true,
	}))

	triggers, err = engine.Cache.List(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, triggers)

	require.NoError(t, engine.HandleTriggerChanged(ctx, &events.TriggerChanged{TriggerID: "t1"}))

	triggers, err = engine.Cache.List(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, triggers, 1)

	executions, err := engine.Dispatcher.Dispatch(ctx, &models.Activity{
		ID:        "a1",
		Platform:  models.PlatformMattermost,
		EventType: "message_posted",
		Data:      models.Data{"text": "hello"},
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)
}

func TestNewEngine_WithoutCache(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := NewEngine(file.NewPersistence(t.TempDir()), EngineConfig{}, logger)
	assert.Nil(t, engine.Cache)
	assert.NotNil(t, engine.Reaper)
	assert.NoError(t, engine.HandleTriggerChanged(context.Background(), &events.TriggerChanged{TriggerID: "t1"}))
}

func TestEngine_Listen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := file.NewPersistence(t.TempDir())
	engine := NewEngine(p, EngineConfig{}, logger)

	bus := &mocks.MockEventBus{}
	bus.On("Handle", events.TriggerCreatedEvent, mock.Anything).Return(nil).Once()
	bus.On("Handle", events.TriggerUpdatedEvent, mock.Anything).Return(nil).Once()
	bus.On("Handle", events.TriggerDeletedEvent, mock.Anything).Return(nil).Once()

	require.NoError(t, engine.Listen(bus, nil))
	bus.AssertNotCalled(t, "Handle", events.ActivityReceivedEvent, mock.Anything)

	ingestion := services.NewIngestion(normalizer.NewRegistry(logger), p.ActivityRepository(), engine.Dispatcher, logger)

	bus.On("Handle", events.TriggerCreatedEvent, mock.Anything).Return(nil).Once()
	bus.On("Handle", events.TriggerUpdatedEvent, mock.Anything).Return(nil).Once()
	bus.On("Handle", events.TriggerDeletedEvent, mock.Anything).Return(nil).Once()
	bus.On("Handle", events.ActivityReceivedEvent, mock.Anything).Return(nil).Once()

	require.NoError(t, engine.Listen(bus, ingestion))
	bus.AssertExpectations(t)
}

func TestNewGuard_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	guard, client, err := NewGuard(context.Background(), "", logger)
	require.NoError(t, err)
	assert.Nil(t, guard)
	assert.Nil(t, client)

	_, _, err = NewGuard(context.Background(), "not-a-url", logger)
	require.Error(t, err)
}

func TestNewTracer_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tracer, shutdown := NewTracer(context.Background(), false, "inbox-test", logger)
	require.NotNil(t, tracer)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
