package mocks

import (
	"context"

	"github.com/dukex/inbox/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockInvoker is a mock implementation of actions.Invoker interface.
type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) Invoke(ctx context.Context, trigger *models.WorkflowTrigger, activity *models.Activity) error {
	args := m.Called(ctx, trigger, activity)

	return args.Error(0)
}
