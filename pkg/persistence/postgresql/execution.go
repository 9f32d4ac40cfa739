package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
)

const executionColumns = `
	id
  , trigger_id
  , activity_id
  , status
  , execution_time_ms
  , error_message
  , created_at
  , started_at
  , completed_at`

// ExecutionRepository handles workflow execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
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
		execution.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, trigger_id, activity_id, status, execution_time_ms, error_message, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		execution.ID,
		execution.TriggerID,
		execution.ActivityID,
		execution.Status,
		execution.ExecutionTimeMs,
		execution.ErrorMessage,
		execution.CreatedAt,
		execution.StartedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to save execution: %w", err))
	}

	return nil
}

// Transition is a compare-and-set on status: the row is only updated while
// it still holds from, so racing writers cannot move an execution backwards.
func (r *ExecutionRepository) Transition(ctx context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) error {
	if !models.CanTransition(from, execution.Status) {
		return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrInvalidTransition)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions SET
			status = $3,
			execution_time_ms = $4,
			error_message = $5,
			started_at = $6,
			completed_at = $7
		WHERE id = $1 AND status = $2`,
		execution.ID,
		from,
		execution.Status,
		execution.ExecutionTimeMs,
		execution.ErrorMessage,
		execution.StartedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, fmt.Errorf("failed to update execution: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Transition", execution.ID, fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected == 1 {
		return nil
	}

	if _, err := r.ByID(ctx, execution.ID); err != nil {
		return err
	}

	return persistence.NewExecutionError("Transition", execution.ID, persistence.ErrInvalidTransition)
}

func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := scanExecution(r.db.QueryRowContext(ctx, `SELECT`+executionColumns+` FROM workflow_executions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	return execution, nil
}

// List returns matching executions, newest first.
func (r *ExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	var where whereClause

	if filter.TriggerID != "" {
		where.add("trigger_id = $%d", filter.TriggerID)
	}

	if filter.ActivityID != "" {
		where.add("activity_id = $%d", filter.ActivityID)
	}

	if filter.Status != "" {
		where.add("status = $%d", filter.Status)
	}

	limit, offset := persistence.PageBounds(filter.Limit, filter.Offset)

	query := `SELECT` + executionColumns + ` FROM workflow_executions` + where.String() +
		` ORDER BY created_at DESC, id DESC LIMIT ` + where.placeholder(limit) + ` OFFSET ` + where.placeholder(offset)

	return r.query(ctx, "List", query, where.args...)
}

func (r *ExecutionRepository) Stats(ctx context.Context) (*models.ExecutionStats, error) {
	var (
		stats   models.ExecutionStats
		average sql.NullFloat64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)
		  , COUNT(*) FILTER (WHERE status = 'pending')
		  , COUNT(*) FILTER (WHERE status = 'running')
		  , COUNT(*) FILTER (WHERE status = 'completed')
		  , COUNT(*) FILTER (WHERE status = 'failed')
		  , AVG(execution_time_ms) FILTER (WHERE status IN ('completed', 'failed'))
		FROM workflow_executions`,
	).Scan(&stats.Total, &stats.Pending, &stats.Running, &stats.Completed, &stats.Failed, &average)
	if err != nil {
		return nil, persistence.NewExecutionError("Stats", "", fmt.Errorf("failed to aggregate executions: %w", err))
	}

	stats.AverageExecutionTimeMs = average.Float64

	return &stats, nil
}

// Stale returns pending executions created before the cutoff and running
// executions started before it.
func (r *ExecutionRepository) Stale(ctx context.Context, before time.Time) ([]*models.WorkflowExecution, error) {
	query := `SELECT` + executionColumns + ` FROM workflow_executions
		WHERE status IN ('pending', 'running') AND COALESCE(started_at, created_at) < $1
		ORDER BY created_at`

	return r.query(ctx, "Stale", query, before)
}

func (r *ExecutionRepository) query(ctx context.Context, op, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewExecutionError(op, "", fmt.Errorf("failed to query executions: %w", err))
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.NewExecutionError(op, "", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewExecutionError(op, "", fmt.Errorf("error iterating executions: %w", err))
	}

	return executions, nil
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution     models.WorkflowExecution
		executionTime sql.NullInt64
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.TriggerID,
		&execution.ActivityID,
		&execution.Status,
		&executionTime,
		&execution.ErrorMessage,
		&execution.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.CreatedAt = execution.CreatedAt.UTC()

	if executionTime.Valid {
		execution.ExecutionTimeMs = &executionTime.Int64
	}

	if startedAt.Valid {
		t := startedAt.Time.UTC()
		execution.StartedAt = &t
	}

	if completedAt.Valid {
		t := completedAt.Time.UTC()
		execution.CompletedAt = &t
	}

	return &execution, nil
}
