package services

import (
	"context"
	"fmt"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
)

type ExecutionQuery struct {
	TriggerID  string
	ActivityID string
	Status     string
	Limit      int
	Offset     int
}

type Executions struct {
	repo persistence.ExecutionRepository
}

func NewExecutions(repo persistence.ExecutionRepository) *Executions {
	return &Executions{repo: repo}
}

func (s *Executions) List(ctx context.Context, query ExecutionQuery) ([]*models.WorkflowExecution, error) {
	if query.Limit < 0 || query.Limit > persistence.MaxLimit || query.Offset < 0 {
		return nil, NewValidationError("ListExecutions", "invalid_pagination",
			fmt.Sprintf("limit must be between 0 and %d and offset must not be negative", persistence.MaxLimit), ErrInvalidRequest)
	}

	filter := persistence.ExecutionFilter{TriggerID: query.TriggerID, ActivityID: query.ActivityID}
	filter.Limit, filter.Offset = persistence.PageBounds(query.Limit, query.Offset)

	if query.Status != "" {
		status, err := models.ParseExecutionStatus(query.Status)
		if err != nil {
			return nil, NewValidationError("ListExecutions", "invalid_status", "", fmt.Errorf("%w: %w", ErrInvalidStatus, err))
		}

		filter.Status = status
	}

	executions, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

func (s *Executions) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return s.repo.ByID(ctx, id)
}

func (s *Executions) Stats(ctx context.Context) (*models.ExecutionStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute execution stats: %w", err)
	}

	return stats, nil
}
