package mocks

import (
	"context"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
// RunInTransaction calls fn with Tx when the expectation returns no error.
type MockPersistence struct {
	mock.Mock

	Tx *MockTransaction
}

func (m *MockPersistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockPersistence) Workflow(ctx context.Context, id models.WorkflowID) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockPersistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockPersistence) DeleteWorkflow(ctx context.Context, id models.WorkflowID) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockPersistence) ActiveStates(ctx context.Context) ([]models.RunState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.RunState), args.Error(1)
}

func (m *MockPersistence) ActiveState(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	args := m.Called(ctx, instance)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RunState), args.Error(1)
}

func (m *MockPersistence) Events(ctx context.Context, instance models.WorkflowInstance) ([]events.SequenceEvent, error) {
	args := m.Called(ctx, instance)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]events.SequenceEvent), args.Error(1)
}

func (m *MockPersistence) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx persistence.Transaction) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}

	return fn(ctx, m.Tx)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockTransaction is a mock implementation of persistence.Transaction interface.
type MockTransaction struct {
	mock.Mock
}

func (m *MockTransaction) ActiveState(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	args := m.Called(ctx, instance)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RunState), args.Error(1)
}

func (m *MockTransaction) StoreActiveState(ctx context.Context, state models.RunState) error {
	args := m.Called(ctx, state)

	return args.Error(0)
}

func (m *MockTransaction) DeleteActiveState(ctx context.Context, instance models.WorkflowInstance) error {
	args := m.Called(ctx, instance)

	return args.Error(0)
}

func (m *MockTransaction) AppendEvent(ctx context.Context, event events.SequenceEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}
