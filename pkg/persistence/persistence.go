// Package persistence provides the storage abstraction for activities,
// workflow triggers and their executions.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultLimit is applied when a query does not set one.
	DefaultLimit = 50
	// MaxLimit caps the page size of any query.
	MaxLimit = 500
)

type Persistence interface {
	ActivityRepository() ActivityRepository
	TriggerRepository() TriggerRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ActivityRepository stores activities. Activities are unique per
// (platform, source_key); inserting a duplicate is not an error.
type ActivityRepository interface {
	// Insert stores activity unless one with the same natural key exists.
	// It returns the stored record and whether this call inserted it.
	Insert(ctx context.Context, activity *models.Activity) (*models.Activity, bool, error)
	ByID(ctx context.Context, id string) (*models.Activity, error)
	Query(ctx context.Context, filter ActivityFilter) ([]*models.Activity, error)
	Stats(ctx context.Context, since time.Time) (*models.ActivityStats, error)
	SetDispatchStatus(ctx context.Context, id string, status models.DispatchStatus) error
	// ClaimRedispatch moves a failed activity back to pending. Only one
	// caller wins the claim.
	ClaimRedispatch(ctx context.Context, id string) (bool, error)
}

type TriggerRepository interface {
	List(ctx context.Context, filter TriggerFilter) ([]*models.WorkflowTrigger, error)
	ByID(ctx context.Context, id string) (*models.WorkflowTrigger, error)
	Create(ctx context.Context, trigger *models.WorkflowTrigger) error
	Update(ctx context.Context, trigger *models.WorkflowTrigger) error
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) (*models.WorkflowTrigger, error)
}

type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	// Transition persists execution if the stored status still equals from.
	Transition(ctx context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) error
	ByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]*models.WorkflowExecution, error)
	Stats(ctx context.Context) (*models.ExecutionStats, error)
	// Stale returns non-terminal executions created before the given time.
	Stale(ctx context.Context, before time.Time) ([]*models.WorkflowExecution, error)
}

// ActivityFilter narrows activity queries. Zero values match everything.
type ActivityFilter struct {
	Platform  models.Platform
	EventType string
	ChannelID string
	Since     time.Time
	Limit     int
	Offset    int
}

// Matches reports whether activity passes the filter, ignoring pagination.
func (f ActivityFilter) Matches(activity *models.Activity) bool {
	switch {
	case f.Platform != "" && activity.Platform != f.Platform:
		return false
	case f.EventType != "" && activity.EventType != f.EventType:
		return false
	case f.ChannelID != "" && activity.ChannelID != f.ChannelID:
		return false
	case !f.Since.IsZero() && activity.Timestamp.Before(f.Since):
		return false
	default:
		return true
	}
}

type TriggerFilter struct {
	Platform    models.Platform
	EventType   string
	EnabledOnly bool
}

func (f TriggerFilter) Matches(trigger *models.WorkflowTrigger) bool {
	switch {
	case f.Platform != "" && trigger.Platform != f.Platform:
		return false
	case f.EventType != "" && trigger.EventType != f.EventType:
		return false
	case f.EnabledOnly && !trigger.Enabled:
		return false
	default:
		return true
	}
}

type ExecutionFilter struct {
	TriggerID  string
	ActivityID string
	Status     models.ExecutionStatus
	Limit      int
	Offset     int
}

func (f ExecutionFilter) Matches(execution *models.WorkflowExecution) bool {
	switch {
	case f.TriggerID != "" && execution.TriggerID != f.TriggerID:
		return false
	case f.ActivityID != "" && execution.ActivityID != f.ActivityID:
		return false
	case f.Status != "" && execution.Status != f.Status:
		return false
	default:
		return true
	}
}

// PageBounds normalizes a limit/offset pair.
func PageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	if limit > MaxLimit {
		limit = MaxLimit
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

// NewActivityID returns a lexicographically time-ordered identifier.
func NewActivityID() string {
	return ulid.Make().String()
}

// NewID returns a UUIDv7 for triggers and executions.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}

	return id.String(), nil
}
