package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/inbox/pkg/mocks"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/dukex/inbox/pkg/persistence/file"
	"github.com/dukex/inbox/pkg/services"
	"github.com/dukex/inbox/pkg/tracker"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "1h", want: time.Hour},
		{raw: "24h", want: 24 * time.Hour},
		{raw: "7d", want: 7 * 24 * time.Hour},
		{raw: "30D", want: 30 * 24 * time.Hour},
		{raw: "90m", want: 90 * time.Minute},
		{raw: "0d", wantErr: true},
		{raw: "-1h", wantErr: true},
		{raw: "week", wantErr: true},
		{raw: "xd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := services.ParseTimeframe(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, services.ErrInvalidTimeframe)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActivities_List(t *testing.T) {
	repo := &mocks.MockActivityRepository{}
	svc := services.NewActivities(repo)

	repo.On("Query", mock.Anything, mock.MatchedBy(func(f persistence.ActivityFilter) bool {
		return f.Platform == models.PlatformTrello &&
			f.Limit == persistence.DefaultLimit &&
			!f.Since.IsZero() &&
			time.Since(f.Since) > 6*24*time.Hour
	})).Return([]*models.Activity{{ID: "a1"}}, nil).Once()

	activities, err := svc.List(context.Background(), services.ActivityQuery{Platform: "trello", Timeframe: "7d"})
	require.NoError(t, err)
	assert.Len(t, activities, 1)
	repo.AssertExpectations(t)
}

func TestActivities_ListValidation(t *testing.T) {
	svc := services.NewActivities(&mocks.MockActivityRepository{})

	for _, query := range []services.ActivityQuery{
		{Platform: "slack"},
		{Timeframe: "forever"},
		{Limit: -1},
		{Limit: persistence.MaxLimit + 1},
		{Offset: -5},
	} {
		_, err := svc.List(context.Background(), query)
		assert.True(t, services.IsValidationError(err), "%+v", query)
	}
}

func TestActivities_Stats(t *testing.T) {
	repo := &mocks.MockActivityRepository{}
	svc := services.NewActivities(repo)

	stats := &models.ActivityStats{Total: 3, ByPlatform: map[string]int64{"mattermost": 3}}

	repo.On("Stats", mock.Anything, mock.MatchedBy(func(since time.Time) bool {
		age := time.Since(since)

		return age > 23*time.Hour && age < 25*time.Hour
	})).Return(stats, nil).Once()

	got, err := svc.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, stats, got)

	repo.On("Stats", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()

	_, err = svc.Stats(context.Background(), "1h")
	require.Error(t, err)
	assert.False(t, services.IsValidationError(err))

	_, err = svc.Stats(context.Background(), "1y")
	require.ErrorIs(t, err, services.ErrInvalidTimeframe)
}

func TestExecutions(t *testing.T) {
	repo := file.NewExecutionRepository(t.TempDir())
	tr := tracker.New(repo, discardLogger())
	svc := services.NewExecutions(repo)
	ctx := context.Background()

	done, err := tr.Create(ctx, "t1", "a1")
	require.NoError(t, err)
	require.NoError(t, tr.Start(ctx, done))
	require.NoError(t, tr.Complete(ctx, done))

	failed, err := tr.Create(ctx, "t2", "a1")
	require.NoError(t, err)
	require.NoError(t, tr.Fail(ctx, failed, errors.New("boom")))

	list, err := svc.List(ctx, services.ExecutionQuery{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "boom", list[0].ErrorMessage)

	list, err = svc.List(ctx, services.ExecutionQuery{ActivityID: "a1"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = svc.List(ctx, services.ExecutionQuery{Status: "exploded"})
	require.ErrorIs(t, err, services.ErrInvalidStatus)

	got, err := svc.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)

	_, err = svc.Get(ctx, "missing")
	assert.True(t, services.IsNotFound(err))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestHealth(t *testing.T) {
	msg, ok := services.NewHealth(nil).HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Contains(t, msg, "not initialized")

	msg, ok = services.NewHealth(file.NewPersistence(t.TempDir())).HealthCheck(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", msg)
}

func TestServiceError(t *testing.T) {
	err := services.NewValidationError("CreateTrigger", "invalid_conditions", "conditions are malformed",
		services.ErrInvalidConditions, "$.and[0]: unknown predicate")

	assert.Equal(t, "CreateTrigger: conditions are malformed: $.and[0]: unknown predicate", err.Error())
	assert.ErrorIs(t, err, services.ErrInvalidConditions)
	assert.True(t, services.IsValidationError(err))
	assert.False(t, services.IsNotFound(err))
}
