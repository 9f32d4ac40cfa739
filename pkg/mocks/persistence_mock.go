package mocks

import (
	"context"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockActivityRepository is a mock implementation of persistence.ActivityRepository interface.
type MockActivityRepository struct {
	mock.Mock
}

func (m *MockActivityRepository) Insert(ctx context.Context, activity *models.Activity) (*models.Activity, bool, error) {
	args := m.Called(ctx, activity)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}

	return args.Get(0).(*models.Activity), args.Bool(1), args.Error(2)
}

func (m *MockActivityRepository) ByID(ctx context.Context, id string) (*models.Activity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Activity), args.Error(1)
}

func (m *MockActivityRepository) Query(ctx context.Context, filter persistence.ActivityFilter) ([]*models.Activity, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Activity), args.Error(1)
}

func (m *MockActivityRepository) Stats(ctx context.Context, since time.Time) (*models.ActivityStats, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ActivityStats), args.Error(1)
}

func (m *MockActivityRepository) SetDispatchStatus(ctx context.Context, id string, status models.DispatchStatus) error {
	args := m.Called(ctx, id, status)

	return args.Error(0)
}

func (m *MockActivityRepository) ClaimRedispatch(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)

	return args.Bool(0), args.Error(1)
}

// MockTriggerRepository is a mock implementation of persistence.TriggerRepository interface.
type MockTriggerRepository struct {
	mock.Mock
}

func (m *MockTriggerRepository) List(ctx context.Context, filter persistence.TriggerFilter) ([]*models.WorkflowTrigger, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowTrigger), args.Error(1)
}

func (m *MockTriggerRepository) ByID(ctx context.Context, id string) (*models.WorkflowTrigger, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowTrigger), args.Error(1)
}

func (m *MockTriggerRepository) Create(ctx context.Context, trigger *models.WorkflowTrigger) error {
	args := m.Called(ctx, trigger)

	return args.Error(0)
}

func (m *MockTriggerRepository) Update(ctx context.Context, trigger *models.WorkflowTrigger) error {
	args := m.Called(ctx, trigger)

	return args.Error(0)
}

func (m *MockTriggerRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockTriggerRepository) SetEnabled(ctx context.Context, id string, enabled bool) (*models.WorkflowTrigger, error) {
	args := m.Called(ctx, id, enabled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowTrigger), args.Error(1)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) Transition(ctx context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) error {
	args := m.Called(ctx, execution, from)

	return args.Error(0)
}

func (m *MockExecutionRepository) ByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) Stats(ctx context.Context) (*models.ExecutionStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionStats), args.Error(1)
}

func (m *MockExecutionRepository) Stale(ctx context.Context, before time.Time) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

var (
	_ persistence.ActivityRepository  = (*MockActivityRepository)(nil)
	_ persistence.TriggerRepository   = (*MockTriggerRepository)(nil)
	_ persistence.ExecutionRepository = (*MockExecutionRepository)(nil)
)
