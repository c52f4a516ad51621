package mocks

import (
	"context"

	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/runner"
	"github.com/stretchr/testify/mock"
)

// MockRunner is a mock implementation of runner.Runner interface.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Start(ctx context.Context, instance models.WorkflowInstance, spec runner.RunSpec) (string, error) {
	args := m.Called(ctx, instance, spec)

	return args.String(0), args.Error(1)
}

func (m *MockRunner) Status(ctx context.Context, executionID string) (*runner.JobStatus, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*runner.JobStatus), args.Error(1)
}

func (m *MockRunner) Cleanup(ctx context.Context, instance models.WorkflowInstance, executionID string) error {
	args := m.Called(ctx, instance, executionID)

	return args.Error(0)
}

func (m *MockRunner) Close() error {
	args := m.Called()

	return args.Error(0)
}
