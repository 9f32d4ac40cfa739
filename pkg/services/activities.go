package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
)

// DefaultTimeframe is used for stats when none is given.
const DefaultTimeframe = 24 * time.Hour

// ParseTimeframe accepts "1h", "24h", "7d", "30d" or any Go duration.
// Empty means no bound.
func ParseTimeframe(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return 0, nil
	}

	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, raw)
		}

		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, raw)
	}

	return d, nil
}

type ActivityQuery struct {
	Platform  string
	EventType string
	ChannelID string
	Timeframe string
	Limit     int
	Offset    int
}

type Activities struct {
	repo persistence.ActivityRepository
	now  func() time.Time
}

func NewActivities(repo persistence.ActivityRepository) *Activities {
	return &Activities{repo: repo, now: time.Now}
}

func (s *Activities) List(ctx context.Context, query ActivityQuery) ([]*models.Activity, error) {
	filter := persistence.ActivityFilter{
		EventType: query.EventType,
		ChannelID: query.ChannelID,
	}

	if query.Limit < 0 || query.Limit > persistence.MaxLimit || query.Offset < 0 {
		return nil, NewValidationError("ListActivities", "invalid_pagination",
			fmt.Sprintf("limit must be between 0 and %d and offset must not be negative", persistence.MaxLimit), ErrInvalidRequest)
	}

	filter.Limit, filter.Offset = persistence.PageBounds(query.Limit, query.Offset)

	if query.Platform != "" {
		platform, err := models.ParsePlatform(query.Platform)
		if err != nil {
			return nil, NewValidationError("ListActivities", "invalid_platform", "", err)
		}

		filter.Platform = platform
	}

	since, err := s.since(query.Timeframe, 0)
	if err != nil {
		return nil, NewValidationError("ListActivities", "invalid_timeframe", "", err)
	}

	filter.Since = since

	activities, err := s.repo.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}

	return activities, nil
}

func (s *Activities) Get(ctx context.Context, id string) (*models.Activity, error) {
	return s.repo.ByID(ctx, id)
}

// Stats aggregates activities of the timeframe, 24h when empty.
func (s *Activities) Stats(ctx context.Context, timeframe string) (*models.ActivityStats, error) {
	since, err := s.since(timeframe, DefaultTimeframe)
	if err != nil {
		return nil, NewValidationError("ActivityStats", "invalid_timeframe", "", err)
	}

	stats, err := s.repo.Stats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to compute activity stats: %w", err)
	}

	return stats, nil
}

func (s *Activities) since(timeframe string, fallback time.Duration) (time.Time, error) {
	d, err := ParseTimeframe(timeframe)
	if err != nil {
		return time.Time{}, err
	}

	if d == 0 {
		d = fallback
	}

	if d == 0 {
		return time.Time{}, nil
	}

	return s.now().Add(-d), nil
}
