package file

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
)

// ExecutionRepository handles workflow execution file operations.
type ExecutionRepository struct {
	mu         sync.Mutex
	executions collection[models.WorkflowExecution]
	now        clock
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{
		executions: newCollection[models.WorkflowExecution](root, "executions"),
		now:        utcNow,
	}
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if execution.ID == "" {
		id, err := persistence.NewID()
		if err != nil {
			return persistence.NewExecutionError("Create", "", err)
		}

		execution.ID = id
	}

	if execution.Status == "" {
		execution.Status = models.ExecutionStatusPending
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = r.now()
	}

	if err := r.executions.write(execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Transition stores execution when the persisted status is still from.
func (r *ExecutionRepository) Transition(_ context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.executions.read(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, err)
	}

	if stored == nil {
		return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrExecutionNotFound)
	}

	if stored.Status != from || !models.CanTransition(from, execution.Status) {
		return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrInvalidTransition)
	}

	if err := r.executions.write(execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := r.executions.read(id)
	if err != nil {
		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	if execution == nil {
		return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

// List returns matching executions, newest first.
func (r *ExecutionRepository) List(_ context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	all, err := r.executions.readAll()
	if err != nil {
		return nil, persistence.NewExecutionError("List", "", err)
	}

	matched := make([]*models.WorkflowExecution, 0, len(all))

	for _, execution := range all {
		if filter.Matches(execution) {
			matched = append(matched, execution)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}

		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit, offset := persistence.PageBounds(filter.Limit, filter.Offset)

	return paginate(matched, limit, offset), nil
}

func (r *ExecutionRepository) Stats(_ context.Context) (*models.ExecutionStats, error) {
	all, err := r.executions.readAll()
	if err != nil {
		return nil, persistence.NewExecutionError("Stats", "", err)
	}

	stats := &models.ExecutionStats{}

	var (
		totalMs int64
		timed   int64
	)

	for _, execution := range all {
		stats.Total++

		switch execution.Status {
		case models.ExecutionStatusPending:
			stats.Pending++
		case models.ExecutionStatusRunning:
			stats.Running++
		case models.ExecutionStatusCompleted:
			stats.Completed++
		case models.ExecutionStatusFailed:
			stats.Failed++
		}

		if execution.Status.Terminal() && execution.ExecutionTimeMs != nil {
			totalMs += *execution.ExecutionTimeMs
			timed++
		}
	}

	if timed > 0 {
		stats.AverageExecutionTimeMs = float64(totalMs) / float64(timed)
	}

	return stats, nil
}

// Stale returns pending executions created before the cutoff and running
// executions started before it.
func (r *ExecutionRepository) Stale(_ context.Context, before time.Time) ([]*models.WorkflowExecution, error) {
	all, err := r.executions.readAll()
	if err != nil {
		return nil, persistence.NewExecutionError("Stale", "", err)
	}

	stale := make([]*models.WorkflowExecution, 0)

	for _, execution := range all {
		if execution.Status.Terminal() {
			continue
		}

		since := execution.CreatedAt
		if execution.StartedAt != nil {
			since = *execution.StartedAt
		}

		if since.Before(before) {
			stale = append(stale, execution)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})

	return stale, nil
}
