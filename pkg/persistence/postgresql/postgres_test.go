//go:build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/dukex/inbox/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"workflow_executions", "workflow_triggers", "activities", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("inbox_test"),
			postgres.WithUsername("inbox"),
			postgres.WithPassword("inbox"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)
	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { require.NoError(t, db.Close()) }()

	for _, table := range []string{"activities", "workflow_triggers", "workflow_executions", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	require.NoError(t, db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)
}

func testActivity(sourceKey string) *models.Activity {
	return &models.Activity{
		Platform:  models.PlatformMattermost,
		EventType: "message_posted",
		UserID:    "u1",
		ChannelID: "c1",
		SourceKey: sourceKey,
		Data:      models.Data{"message": "I found a bug report here", "post": map[string]any{"id": "p1"}},
		Timestamp: time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC),
	}
}

func TestActivityRepository_InsertOrIgnore(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ActivityRepository()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		ids      = make(map[string]struct{})
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			stored, ok, err := repo.Insert(ctx, testActivity("mattermost:p1"))
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()

			if ok {
				inserted++
			}

			if stored != nil {
				ids[stored.ID] = struct{}{}
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Len(t, ids, 1)

	for id := range ids {
		stored, err := repo.ByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "I found a bug report here", stored.Data["message"])
		assert.Equal(t, models.DispatchStatusPending, stored.DispatchStatus)
		assert.Equal(t, time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC), stored.Timestamp)
	}
}

func TestActivityRepository_QueryStatsAndClaim(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ActivityRepository()

	for i := range 3 {
		activity := testActivity(fmt.Sprintf("k%d", i))
		activity.Timestamp = activity.Timestamp.Add(time.Duration(i) * time.Hour)

		if i == 2 {
			activity.Platform = models.PlatformTrello
			activity.EventType = "createCard"
			activity.UserID = ""
		}

		_, _, err := repo.Insert(ctx, activity)
		require.NoError(t, err)
	}

	activities, err := repo.Query(ctx, persistence.ActivityFilter{Platform: models.PlatformMattermost})
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, "k1", activities[0].SourceKey)

	stats, err := repo.Stats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.ByPlatform["mattermost"])
	assert.Equal(t, int64(1), stats.ByEventType["createCard"])

	target := activities[0].ID
	require.NoError(t, repo.SetDispatchStatus(ctx, target, models.DispatchStatusFailed))

	claimed, err := repo.ClaimRedispatch(ctx, target)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimRedispatch(ctx, target)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = repo.ByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrActivityNotFound)
}

func TestTriggerAndExecutionRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	activity, _, err := p.ActivityRepository().Insert(ctx, testActivity("mattermost:p9"))
	require.NoError(t, err)

	triggers := p.TriggerRepository()
	trigger := &models.WorkflowTrigger{
		Name:       "Bug reports",
		Platform:   models.PlatformMattermost,
		EventType:  "message_posted",
		Conditions: json.RawMessage(`{"and": [{"contains_text": "bug report"}]}`),
		AgentConfig: models.AgentConfig{
			AgentType: "triage",
			Actions:   []models.AgentAction{{Type: "log"}},
		},
		Enabled: true,
	}
	require.NoError(t, triggers.Create(ctx, trigger))

	listed, err := triggers.List(ctx, persistence.TriggerFilter{
		Platform: models.PlatformMattermost, EventType: "message_posted", EnabledOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.JSONEq(t, string(trigger.Conditions), string(listed[0].Conditions))
	assert.Equal(t, "triage", listed[0].AgentConfig.AgentType)

	disabled, err := triggers.SetEnabled(ctx, trigger.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)

	listed, err = triggers.List(ctx, persistence.TriggerFilter{EnabledOnly: true})
	require.NoError(t, err)
	assert.Empty(t, listed)

	err = triggers.Create(ctx, &models.WorkflowTrigger{ID: trigger.ID, Name: "dup", Platform: models.PlatformFlock, EventType: "x"})
	assert.ErrorIs(t, err, persistence.ErrTriggerAlreadyExists)

	executions := p.ExecutionRepository()
	execution := &models.WorkflowExecution{TriggerID: trigger.ID, ActivityID: activity.ID}
	require.NoError(t, executions.Create(ctx, execution))

	started := time.Now().UTC()
	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &started
	require.NoError(t, executions.Transition(ctx, execution, models.ExecutionStatusPending))

	err = executions.Transition(ctx, execution, models.ExecutionStatusPending)
	assert.ErrorIs(t, err, persistence.ErrInvalidTransition)

	ms := int64(42)
	completed := time.Now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.ExecutionTimeMs = &ms
	execution.CompletedAt = &completed
	require.NoError(t, executions.Transition(ctx, execution, models.ExecutionStatusRunning))

	stats, err := executions.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.InDelta(t, 42, stats.AverageExecutionTimeMs, 0.001)

	stale, err := executions.Stale(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	require.NoError(t, triggers.Delete(ctx, trigger.ID))
	assert.ErrorIs(t, triggers.Delete(ctx, trigger.ID), persistence.ErrTriggerNotFound)

	history, err := executions.List(ctx, persistence.ExecutionFilter{TriggerID: trigger.ID})
	require.NoError(t, err)
	assert.Len(t, history, 1, "executions outlive their trigger")
}
