// Package tracker records the lifecycle of workflow executions:
// pending -> running -> completed | failed.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
)

// TimeoutPrefix starts the error message of executions that ran out of time.
const TimeoutPrefix = "timeout: "

// ErrInvalidTransition is returned when a transition would move an
// execution backwards or out of a terminal state.
var ErrInvalidTransition = models.ErrInvalidTransition

type Tracker struct {
	repo   persistence.ExecutionRepository
	logger *slog.Logger
	now    func() time.Time
}

func New(repo persistence.ExecutionRepository, logger *slog.Logger) *Tracker {
	return &Tracker{
		repo:   repo,
		logger: logger.With("module", "execution_tracker"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now

	return t
}

// Create records a pending execution for a trigger match.
func (t *Tracker) Create(ctx context.Context, triggerID, activityID string) (*models.WorkflowExecution, error) {
	exec := &models.WorkflowExecution{
		TriggerID:  triggerID,
		ActivityID: activityID,
		Status:     models.ExecutionStatusPending,
		CreatedAt:  t.now(),
	}

	if err := t.repo.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	t.logger.DebugContext(ctx, "Execution created", "execution_id", exec.ID, "trigger_id", triggerID, "activity_id", activityID)

	return exec, nil
}

// Start moves a pending execution to running.
func (t *Tracker) Start(ctx context.Context, exec *models.WorkflowExecution) error {
	return t.apply(ctx, exec, models.ExecutionStatusRunning, "", nil)
}

// Complete closes a running execution successfully.
func (t *Tracker) Complete(ctx context.Context, exec *models.WorkflowExecution) error {
	return t.apply(ctx, exec, models.ExecutionStatusCompleted, "", nil)
}

// Fail closes an execution with the cause's message. Deadline errors are
// recorded with the timeout prefix.
func (t *Tracker) Fail(ctx context.Context, exec *models.WorkflowExecution, cause error) error {
	return t.apply(ctx, exec, models.ExecutionStatusFailed, FailureMessage(cause), nil)
}

// Transition moves the stored execution id to status. When executionTimeMs
// is nil on a terminal transition the elapsed time since start is used.
func (t *Tracker) Transition(
	ctx context.Context,
	id string,
	status models.ExecutionStatus,
	executionTimeMs *int64,
) (*models.WorkflowExecution, error) {
	exec, err := t.repo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := t.apply(ctx, exec, status, "", executionTimeMs); err != nil {
		return nil, err
	}

	return exec, nil
}

func (t *Tracker) Stats(ctx context.Context) (*models.ExecutionStats, error) {
	return t.repo.Stats(ctx)
}

// apply mutates a copy of exec, persists it against the current status and
// copies it back on success.
func (t *Tracker) apply(
	ctx context.Context,
	exec *models.WorkflowExecution,
	to models.ExecutionStatus,
	errorMessage string,
	executionTimeMs *int64,
) error {
	from := exec.Status
	if !models.CanTransition(from, to) {
		return persistence.NewExecutionError("Transition", exec.ID,
			fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to))
	}

	next := *exec
	next.Status = to
	now := t.now()

	switch to {
	case models.ExecutionStatusRunning:
		next.StartedAt = &now
	case models.ExecutionStatusCompleted, models.ExecutionStatusFailed:
		next.CompletedAt = &now
		next.ErrorMessage = errorMessage

		if executionTimeMs != nil {
			next.ExecutionTimeMs = executionTimeMs
		} else if next.StartedAt != nil {
			elapsed := now.Sub(*next.StartedAt).Milliseconds()
			next.ExecutionTimeMs = &elapsed
		}
	}

	if err := t.repo.Transition(ctx, &next, from); err != nil {
		return err
	}

	*exec = next

	logger := t.logger.With("execution_id", exec.ID, "trigger_id", exec.TriggerID, "from", from, "to", to)
	if to == models.ExecutionStatusFailed {
		logger.WarnContext(ctx, "Execution failed", "error", errorMessage)
	} else {
		logger.DebugContext(ctx, "Execution transitioned")
	}

	return nil
}

// FailureMessage renders an action error for storage.
func FailureMessage(cause error) string {
	if cause == nil {
		return "unknown error"
	}

	if errors.Is(cause, context.DeadlineExceeded) {
		return TimeoutPrefix + cause.Error()
	}

	return cause.Error()
}
