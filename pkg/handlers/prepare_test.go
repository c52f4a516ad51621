package handlers_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/handlers"
	"github.com/dukex/tideflow/pkg/mocks"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestPrepareHandler(t *testing.T) {
	t.Parallel()

	instance := testutil.Instance()
	prepare := testutil.NewRunState(models.StatePrepare)

	tests := []struct {
		name     string
		workflow *models.Workflow
		loadErr  error
		expected events.Event
	}{
		{
			name:     "submits with description and deterministic id",
			workflow: testutil.Workflow(),
			expected: events.NewSubmit(instance, testutil.ExecutionDescription(), handlers.ExecutionID(prepare)),
		},
		{
			name:     "deleted workflow halts",
			loadErr:  persistence.NewWorkflowError("Workflow", instance.Workflow.Key(), persistence.ErrWorkflowNotFound),
			expected: events.NewHalt(instance),
		},
		{
			name:    "storage failure waits",
			loadErr: errors.New("connection reset"),
		},
		{
			name:     "invalid image halts",
			workflow: testutil.Workflow(func(w *models.Workflow) { w.DockerImage = "Not A Valid Image" }),
			expected: events.NewHalt(instance),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := &mocks.MockPersistence{}
			store.On("Workflow", mock.Anything, instance.Workflow).Return(tt.workflow, tt.loadErr).Once()

			handler := handlers.NewPrepareHandler(store, discardLogger())

			event, ok := handler.TransitionInto(context.Background(), prepare)

			assert.Equal(t, tt.expected != nil, ok)
			assert.Equal(t, tt.expected, event)
			store.AssertExpectations(t)
		})
	}
}

func TestPrepareHandler_IgnoresOtherStates(t *testing.T) {
	t.Parallel()

	store := &mocks.MockPersistence{}
	handler := handlers.NewPrepareHandler(store, discardLogger())

	event, ok := handler.TransitionInto(context.Background(), testutil.NewRunState(models.StateQueued))

	assert.False(t, ok)
	assert.Nil(t, event)
	store.AssertNotCalled(t, "Workflow", mock.Anything, mock.Anything)
}

func TestExecutionID(t *testing.T) {
	t.Parallel()

	state := testutil.NewRunState(models.StatePrepare)

	id := handlers.ExecutionID(state)

	assert.True(t, strings.HasPrefix(id, handlers.ExecutionIDPrefix))
	assert.LessOrEqual(t, len(id), 63)
	assert.Equal(t, id, handlers.ExecutionID(state))
	assert.NotEqual(t, id, handlers.ExecutionID(testutil.NewRunState(models.StatePrepare, testutil.WithCounter(6))))

	other := models.NewWorkflowInstance(state.Instance.Workflow, "2024-03-02")
	assert.NotEqual(t, id, handlers.ExecutionID(testutil.NewRunState(models.StatePrepare, testutil.WithInstance(other))))
}
