package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/inbox/pkg/directory"
	"github.com/dukex/inbox/pkg/dispatcher"
	"github.com/dukex/inbox/pkg/events"
	"github.com/dukex/inbox/pkg/mocks"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/normalizer"
	"github.com/dukex/inbox/pkg/persistence/file"
	"github.com/dukex/inbox/pkg/services"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func post(id, text string) map[string]any {
	return map[string]any{
		"post_id":    id,
		"channel_id": "c1",
		"user_id":    "u1",
		"text":       text,
		"timestamp":  float64(1710072000000),
	}
}

type ingestionFixture struct {
	activities *file.ActivityRepository
	dispatcher *mocks.MockDispatcher
	service    *services.Ingestion
}

func newIngestion(t *testing.T, opts ...services.IngestionOption) *ingestionFixture {
	t.Helper()

	f := &ingestionFixture{
		activities: file.NewActivityRepository(t.TempDir()),
		dispatcher: &mocks.MockDispatcher{},
	}

	f.service = services.NewIngestion(normalizer.NewRegistry(discardLogger()), f.activities, f.dispatcher, discardLogger(), opts...)

	return f
}

func TestIngest_NewActivity(t *testing.T) {
	f := newIngestion(t)
	ctx := context.Background()

	exec := &models.WorkflowExecution{ID: "e1", TriggerID: "t1", Status: models.ExecutionStatusCompleted}
	f.dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(a *models.Activity) bool {
		return a.SourceKey == "mattermost:p1" && a.ID != ""
	})).Return([]*models.WorkflowExecution{exec}, nil).Once()

	result, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "bug report"), normalizer.Receipt{})
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.False(t, result.Queued)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, "e1", result.Executions[0].ID)
	assert.Equal(t, "message_posted", result.Activity.EventType)

	stored, err := f.activities.ByID(ctx, result.Activity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusDispatched, stored.DispatchStatus)
	f.dispatcher.AssertExpectations(t)
}

func TestIngest_DuplicateDeliverySkipsDispatch(t *testing.T) {
	f := newIngestion(t)
	ctx := context.Background()

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return([]*models.WorkflowExecution{}, nil).Once()

	first, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hello"), normalizer.Receipt{})
	require.NoError(t, err)

	second, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hello"), normalizer.Receipt{})
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.False(t, second.Redispatched)
	assert.Equal(t, first.Activity.ID, second.Activity.ID)
	assert.Empty(t, second.Executions)
	f.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
}

func TestIngest_ConcurrentDuplicatesDispatchOnce(t *testing.T) {
	f := newIngestion(t)

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return([]*models.WorkflowExecution{}, nil)

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := f.service.Ingest(context.Background(), models.PlatformMattermost, post("p-race", "x"), normalizer.Receipt{})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	f.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
}

func TestIngest_RedeliveryAfterFailedDispatch(t *testing.T) {
	f := newIngestion(t)
	ctx := context.Background()

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).
		Return(nil, dispatcher.ErrTriggersUnavailable).Once()

	_, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hello"), normalizer.Receipt{})
	require.ErrorIs(t, err, dispatcher.ErrTriggersUnavailable)

	stored, _, err := f.activities.Insert(ctx, &models.Activity{Platform: models.PlatformMattermost, SourceKey: "mattermost:p1", EventType: "message_posted"})
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusFailed, stored.DispatchStatus)

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return([]*models.WorkflowExecution{{ID: "e1"}}, nil).Once()

	result, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hello"), normalizer.Receipt{})
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.True(t, result.Redispatched)
	assert.Len(t, result.Executions, 1)
	assert.Equal(t, models.DispatchStatusDispatched, result.Activity.DispatchStatus)

	third, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hello"), normalizer.Receipt{})
	require.NoError(t, err)
	assert.False(t, third.Redispatched)
	f.dispatcher.AssertNumberOfCalls(t, "Dispatch", 2)
}

func TestIngest_MalformedBody(t *testing.T) {
	f := newIngestion(t)

	_, err := f.service.IngestBody(context.Background(), models.PlatformMattermost, "application/json", []byte(`{"text": `), normalizer.Receipt{})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestIngest_FormBody(t *testing.T) {
	f := newIngestion(t)

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return([]*models.WorkflowExecution{}, nil)

	result, err := f.service.IngestBody(context.Background(), models.PlatformMattermost,
		"application/x-www-form-urlencoded", []byte("post_id=p9&channel_id=c1&user_id=u1&text=hi"), normalizer.Receipt{})
	require.NoError(t, err)
	assert.Equal(t, "mattermost:p9", result.Activity.SourceKey)
}

func TestIngest_UnknownPlatform(t *testing.T) {
	f := newIngestion(t)

	_, err := f.service.Ingest(context.Background(), models.Platform("slack"), post("p1", "x"), normalizer.Receipt{})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestIngest_BusMode(t *testing.T) {
	bus := &mocks.MockEventBus{}
	f := newIngestion(t, services.WithBus(bus))
	ctx := context.Background()

	assert.Equal(t, services.DispatchBus, f.service.Mode())

	bus.On("Publish", mock.Anything, mock.Anything, mock.MatchedBy(func(e *events.ActivityReceived) bool {
		return e.Activity != nil && e.Activity.SourceKey == "mattermost:p1"
	})).Return(nil).Once()

	result, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hi"), normalizer.Receipt{})
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.Empty(t, result.Executions)

	stored, err := f.activities.ByID(ctx, result.Activity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusPending, stored.DispatchStatus)

	bus.AssertExpectations(t)
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestIngest_BusPublishFailure(t *testing.T) {
	bus := &mocks.MockEventBus{}
	f := newIngestion(t, services.WithBus(bus))
	ctx := context.Background()

	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	_, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hi"), normalizer.Receipt{})
	require.Error(t, err)

	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	result, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hi"), normalizer.Receipt{})
	require.NoError(t, err)
	assert.True(t, result.Redispatched)
	assert.True(t, result.Queued)
}

func TestHandleActivityReceived(t *testing.T) {
	f := newIngestion(t)
	ctx := context.Background()

	stored, _, err := f.activities.Insert(ctx, &models.Activity{
		Platform: models.PlatformMattermost, EventType: "message_posted", SourceKey: "mattermost:p1",
	})
	require.NoError(t, err)

	f.dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(a *models.Activity) bool {
		return a.ID == stored.ID
	})).Return([]*models.WorkflowExecution{}, nil).Once()

	require.NoError(t, f.service.HandleActivityReceived(ctx, events.NewActivityReceived(stored)))

	// a redelivered event is acknowledged without dispatching again
	require.NoError(t, f.service.HandleActivityReceived(ctx, events.NewActivityReceived(stored)))
	f.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)

	missing := events.NewActivityReceived(&models.Activity{ID: "missing"})
	require.NoError(t, f.service.HandleActivityReceived(ctx, missing))

	require.Error(t, f.service.HandleActivityReceived(ctx, "not an event"))
}

func TestHandleActivityReceived_DispatchFailureIsRetried(t *testing.T) {
	f := newIngestion(t)
	ctx := context.Background()

	stored, _, err := f.activities.Insert(ctx, &models.Activity{
		Platform: models.PlatformTrello, EventType: "card_created", SourceKey: "trello:1",
	})
	require.NoError(t, err)

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil, dispatcher.ErrTriggersUnavailable).Once()

	err = f.service.HandleActivityReceived(ctx, events.NewActivityReceived(stored))
	require.ErrorIs(t, err, dispatcher.ErrTriggersUnavailable)

	reloaded, err := f.activities.ByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusFailed, reloaded.DispatchStatus)
}

type fakeGuard struct {
	mu     sync.Mutex
	claims map[string]string
	err    error
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{claims: make(map[string]string)}
}

func (g *fakeGuard) key(platform models.Platform, sourceKey string) string {
	return string(platform) + ":" + sourceKey
}

func (g *fakeGuard) Claim(_ context.Context, platform models.Platform, sourceKey string) (bool, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return false, "", g.err
	}

	id, ok := g.claims[g.key(platform, sourceKey)]
	if ok {
		return false, id, nil
	}

	g.claims[g.key(platform, sourceKey)] = ""

	return true, "", nil
}

func (g *fakeGuard) Remember(_ context.Context, platform models.Platform, sourceKey, activityID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.claims[g.key(platform, sourceKey)] = activityID

	return nil
}

func (g *fakeGuard) Release(_ context.Context, platform models.Platform, sourceKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.claims, g.key(platform, sourceKey))

	return nil
}

func TestIngest_Guard(t *testing.T) {
	guard := newFakeGuard()
	f := newIngestion(t, services.WithGuard(guard))
	ctx := context.Background()

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return([]*models.WorkflowExecution{}, nil).Once()

	first, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hi"), normalizer.Receipt{})
	require.NoError(t, err)
	assert.Equal(t, first.Activity.ID, guard.claims["mattermost:mattermost:p1"])

	second, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hi"), normalizer.Receipt{})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Activity.ID, second.Activity.ID)
	f.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
}

func TestIngest_GuardUnavailableFailsOpen(t *testing.T) {
	guard := newFakeGuard()
	guard.err = errors.New("redis down")

	f := newIngestion(t, services.WithGuard(guard))

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return([]*models.WorkflowExecution{}, nil).Once()

	result, err := f.service.Ingest(context.Background(), models.PlatformMattermost, post("p1", "hi"), normalizer.Receipt{})
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
}

func TestIngest_GuardReleasedOnFailure(t *testing.T) {
	guard := newFakeGuard()
	f := newIngestion(t, services.WithGuard(guard))
	ctx := context.Background()

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil, dispatcher.ErrTriggersUnavailable).Once()

	_, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p1", "hi"), normalizer.Receipt{})
	require.Error(t, err)
	assert.Empty(t, guard.claims)
}

func TestIngest_DirectoryFillsChannelName(t *testing.T) {
	dir, err := directory.New(16, discardLogger())
	require.NoError(t, err)

	f := newIngestion(t, services.WithDirectory(dir))
	ctx := context.Background()

	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return([]*models.WorkflowExecution{}, nil)

	named := post("p1", "hi")
	named["channel_name"] = "town-square"

	_, err = f.service.Ingest(ctx, models.PlatformMattermost, named, normalizer.Receipt{})
	require.NoError(t, err)

	result, err := f.service.Ingest(ctx, models.PlatformMattermost, post("p2", "again"), normalizer.Receipt{})
	require.NoError(t, err)
	assert.Equal(t, "town-square", result.Activity.Data["channel_name"])
}

func TestParseDispatchMode(t *testing.T) {
	mode, err := services.ParseDispatchMode("")
	require.NoError(t, err)
	assert.Equal(t, services.DispatchInline, mode)

	mode, err = services.ParseDispatchMode("bus")
	require.NoError(t, err)
	assert.Equal(t, services.DispatchBus, mode)

	_, err = services.ParseDispatchMode("carrier-pigeon")
	require.ErrorIs(t, err, services.ErrInvalidRequest)
}
