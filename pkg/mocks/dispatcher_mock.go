package mocks

import (
	"context"

	"github.com/dukex/inbox/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockDispatcher is a mock implementation of services.Dispatcher interface.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, activity *models.Activity) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, activity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}
