package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("/tmp/test")
	fp := p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)

	p = NewPersistence("file:///tmp/test")
	fp = p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := NewPersistence(t.TempDir())
	require.NoError(t, p.HealthCheck(t.Context()))
	require.NoError(t, p.Close(t.Context()))

	missing := NewPersistence(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, missing.HealthCheck(t.Context()), os.ErrNotExist)
}

func newActivity(sourceKey string, ts time.Time) *models.Activity {
	return &models.Activity{
		Platform:  models.PlatformMattermost,
		EventType: "message_posted",
		UserID:    "u1",
		ChannelID: "c1",
		SourceKey: sourceKey,
		Data:      models.Data{"message": "hello"},
		Timestamp: ts,
	}
}

func TestActivityRepository_InsertDeduplicates(t *testing.T) {
	repo := NewActivityRepository(t.TempDir())
	ctx := t.Context()
	ts := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

	stored, inserted, err := repo.Insert(ctx, newActivity("mattermost:p1", ts))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, models.DispatchStatusPending, stored.DispatchStatus)
	assert.False(t, stored.CreatedAt.IsZero())

	again, inserted, err := repo.Insert(ctx, newActivity("mattermost:p1", ts.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, stored.ID, again.ID)
	assert.Equal(t, ts, again.Timestamp)

	other := newActivity("mattermost:p1", ts)
	other.Platform = models.PlatformFlock
	_, inserted, err = repo.Insert(ctx, other)
	require.NoError(t, err)
	assert.True(t, inserted, "same source key on another platform is a different activity")

	all, err := repo.Query(ctx, persistence.ActivityFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestActivityRepository_ConcurrentInsert(t *testing.T) {
	root := t.TempDir()
	repos := []*ActivityRepository{NewActivityRepository(root), NewActivityRepository(root)}
	ts := time.Now().UTC()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		ids      = make(map[string]struct{})
	)

	for i := range 10 {
		wg.Add(1)

		go func(repo *ActivityRepository) {
			defer wg.Done()

			stored, ok, err := repo.Insert(t.Context(), newActivity("mattermost:same", ts))
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()

			if ok {
				inserted++
			}

			if stored != nil {
				ids[stored.ID] = struct{}{}
			}
		}(repos[i%2])
	}

	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Len(t, ids, 1)
}

func TestActivityRepository_QueryAndStats(t *testing.T) {
	repo := NewActivityRepository(t.TempDir())
	ctx := t.Context()
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		activity := newActivity(fmt.Sprintf("k%d", i), base.Add(time.Duration(i)*time.Hour))
		if i%2 == 1 {
			activity.Platform = models.PlatformTrello
			activity.EventType = "createCard"
		}

		_, _, err := repo.Insert(ctx, activity)
		require.NoError(t, err)
	}

	newest, err := repo.Query(ctx, persistence.ActivityFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "k4", newest[0].SourceKey)
	assert.Equal(t, "k3", newest[1].SourceKey)

	page, err := repo.Query(ctx, persistence.ActivityFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "k0", page[0].SourceKey)

	trello, err := repo.Query(ctx, persistence.ActivityFilter{Platform: models.PlatformTrello})
	require.NoError(t, err)
	assert.Len(t, trello, 2)

	recent, err := repo.Query(ctx, persistence.ActivityFilter{Since: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	stats, err := repo.Stats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, map[string]int64{"mattermost": 3, "trello": 2}, stats.ByPlatform)
	assert.Equal(t, map[string]int64{"message_posted": 3, "createCard": 2}, stats.ByEventType)

	stats, err = repo.Stats(ctx, base.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
}

func TestActivityRepository_DispatchStatus(t *testing.T) {
	repo := NewActivityRepository(t.TempDir())
	ctx := t.Context()

	stored, _, err := repo.Insert(ctx, newActivity("k", time.Now()))
	require.NoError(t, err)

	claimed, err := repo.ClaimRedispatch(ctx, stored.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "pending activities cannot be claimed")

	require.NoError(t, repo.SetDispatchStatus(ctx, stored.ID, models.DispatchStatusFailed))

	claimed, err = repo.ClaimRedispatch(ctx, stored.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimRedispatch(ctx, stored.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "a claim is won once")

	reloaded, err := repo.ByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusPending, reloaded.DispatchStatus)

	err = repo.SetDispatchStatus(ctx, "missing", models.DispatchStatusDispatched)
	assert.ErrorIs(t, err, persistence.ErrActivityNotFound)

	_, err = repo.ByID(ctx, "../escape")
	assert.Error(t, err)
}

func TestTriggerRepository_CRUD(t *testing.T) {
	repo := NewTriggerRepository(t.TempDir())
	ctx := t.Context()

	clockTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clockTime = clockTime.Add(time.Second)

		return clockTime
	}

	first := &models.WorkflowTrigger{
		Name:       "Bug reports",
		Platform:   models.PlatformMattermost,
		EventType:  "message_posted",
		Conditions: json.RawMessage(`{"contains_text":"bug"}`),
		Enabled:    true,
	}
	require.NoError(t, repo.Create(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &models.WorkflowTrigger{Name: "Cards", Platform: models.PlatformTrello, EventType: "createCard", Enabled: true}
	require.NoError(t, repo.Create(ctx, second))

	third := &models.WorkflowTrigger{Name: "Disabled", Platform: models.PlatformMattermost, EventType: "message_posted"}
	require.NoError(t, repo.Create(ctx, third))

	err := repo.Create(ctx, &models.WorkflowTrigger{ID: first.ID, Name: "dup"})
	assert.ErrorIs(t, err, persistence.ErrTriggerAlreadyExists)

	candidates, err := repo.List(ctx, persistence.TriggerFilter{
		Platform: models.PlatformMattermost, EventType: "message_posted", EnabledOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, first.ID, candidates[0].ID)
	assert.JSONEq(t, `{"contains_text":"bug"}`, string(candidates[0].Conditions))

	all, err := repo.List(ctx, persistence.TriggerFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	toggled, err := repo.SetEnabled(ctx, third.ID, true)
	require.NoError(t, err)
	assert.True(t, toggled.Enabled)
	assert.True(t, toggled.UpdatedAt.After(toggled.CreatedAt))

	first.Name = "Renamed"
	first.CreatedAt = time.Time{}
	require.NoError(t, repo.Update(ctx, first))

	reloaded, err := repo.ByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Name)
	assert.False(t, reloaded.CreatedAt.IsZero())

	require.NoError(t, repo.Delete(ctx, first.ID))
	assert.ErrorIs(t, repo.Delete(ctx, first.ID), persistence.ErrTriggerNotFound)

	_, err = repo.ByID(ctx, first.ID)
	assert.True(t, persistence.IsTriggerNotFound(err))

	err = repo.Update(ctx, &models.WorkflowTrigger{ID: "missing", Name: "x"})
	assert.ErrorIs(t, err, persistence.ErrTriggerNotFound)
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := t.Context()

	execution := &models.WorkflowExecution{TriggerID: "t1", ActivityID: "a1"}
	require.NoError(t, repo.Create(ctx, execution))
	assert.NotEmpty(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)

	running := *execution
	running.Status = models.ExecutionStatusRunning
	startedAt := time.Now().UTC()
	running.StartedAt = &startedAt
	require.NoError(t, repo.Transition(ctx, &running, models.ExecutionStatusPending))

	stale := running
	stale.Status = models.ExecutionStatusCompleted
	err := repo.Transition(ctx, &stale, models.ExecutionStatusPending)
	assert.ErrorIs(t, err, persistence.ErrInvalidTransition, "stored status is running, not pending")

	completed := running
	completed.Status = models.ExecutionStatusCompleted
	ms := int64(120)
	completed.ExecutionTimeMs = &ms
	require.NoError(t, repo.Transition(ctx, &completed, models.ExecutionStatusRunning))

	reopened := completed
	reopened.Status = models.ExecutionStatusRunning
	assert.ErrorIs(t, repo.Transition(ctx, &reopened, models.ExecutionStatusCompleted), persistence.ErrInvalidTransition)

	reloaded, err := repo.ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, reloaded.Status)
	require.NotNil(t, reloaded.ExecutionTimeMs)
	assert.Equal(t, int64(120), *reloaded.ExecutionTimeMs)

	_, err = repo.ByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestExecutionRepository_ListStatsStale(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := t.Context()
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	durations := []int64{100, 300}
	statuses := []models.ExecutionStatus{
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		models.ExecutionStatusPending,
		models.ExecutionStatusRunning,
	}

	for i, status := range statuses {
		execution := &models.WorkflowExecution{
			TriggerID:  fmt.Sprintf("t%d", i%2),
			ActivityID: "a1",
			Status:     status,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}

		if i < len(durations) {
			execution.ExecutionTimeMs = &durations[i]
		}

		if status == models.ExecutionStatusRunning {
			started := base.Add(time.Hour)
			execution.StartedAt = &started
		}

		require.NoError(t, repo.Create(ctx, execution))
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStats{
		Total: 4, Pending: 1, Running: 1, Completed: 1, Failed: 1, AverageExecutionTimeMs: 200,
	}, *stats)

	byTrigger, err := repo.List(ctx, persistence.ExecutionFilter{TriggerID: "t0"})
	require.NoError(t, err)
	require.Len(t, byTrigger, 2)
	assert.Equal(t, models.ExecutionStatusPending, byTrigger[0].Status, "newest first")

	failed, err := repo.List(ctx, persistence.ExecutionFilter{Status: models.ExecutionStatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	staleList, err := repo.Stale(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, staleList, 1, "running execution started after the cutoff is not stale")
	assert.Equal(t, models.ExecutionStatusPending, staleList[0].Status)

	staleList, err = repo.Stale(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, staleList, 2)
}
