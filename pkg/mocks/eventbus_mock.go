package mocks

import (
	"context"

	"github.com/dukex/tideflow/pkg/eventbus"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, transition eventbus.Transition) error {
	args := m.Called(ctx, transition)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context, handler eventbus.Handler) error {
	args := m.Called(ctx, handler)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockEventBus) GenerateID() string {
	args := m.Called()

	return args.String(0)
}
