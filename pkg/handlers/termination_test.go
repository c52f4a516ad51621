package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/handlers"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/retry"
	"github.com/dukex/tideflow/pkg/state"
	"github.com/dukex/tideflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminationHandler(t *testing.T) {
	t.Parallel()

	instance := testutil.Instance()
	backoff := retry.NewExponential(time.Minute, time.Hour)

	tests := []struct {
		name     string
		state    models.RunState
		expected events.Event
	}{
		{
			name:     "exit 0 succeeds",
			state:    testutil.NewRunState(models.StateTerminated, testutil.WithLastExit(0)),
			expected: events.NewSuccess(instance),
		},
		{
			name:     "exit 0 succeeds even with exhausted budget",
			state:    testutil.NewRunState(models.StateTerminated, testutil.WithLastExit(0), testutil.WithFailures(60, 60)),
			expected: events.NewSuccess(instance),
		},
		{
			name:     "budget exhausted stops",
			state:    testutil.NewRunState(models.StateTerminated, testutil.WithLastExit(1), testutil.WithFailures(50, 50)),
			expected: events.NewStop(instance),
		},
		{
			name:     "budget exhausted stops missing dependencies",
			state:    testutil.NewRunState(models.StateTerminated, testutil.WithLastExit(20), testutil.WithFailures(3, 50.05)),
			expected: events.NewStop(instance),
		},
		{
			name:     "budget exhausted stops failed instance",
			state:    testutil.NewRunState(models.StateFailed, testutil.WithFailures(50, 50)),
			expected: events.NewStop(instance),
		},
		{
			name:     "fail fast exit stops",
			state:    testutil.NewRunState(models.StateTerminated, testutil.WithLastExit(50), testutil.WithFailures(1, 1)),
			expected: events.NewStop(instance),
		},
		{
			name:     "missing dependencies retries after ten minutes",
			state:    testutil.NewRunState(models.StateTerminated, testutil.WithLastExit(20), testutil.WithFailures(7, 0.7)),
			expected: events.NewRetryAfter(instance, 10*time.Minute),
		},
		{
			name:     "other exit uses backoff",
			state:    testutil.NewRunState(models.StateTerminated, testutil.WithLastExit(1), testutil.WithFailures(3, 3)),
			expected: events.NewRetryAfter(instance, 4*time.Minute),
		},
		{
			name:     "missing exit code uses backoff",
			state:    testutil.NewRunState(models.StateTerminated, testutil.WithFailures(1, 1)),
			expected: events.NewRetryAfter(instance, time.Minute),
		},
		{
			name:     "failed instance uses backoff",
			state:    testutil.NewRunState(models.StateFailed, testutil.WithFailures(2, 2)),
			expected: events.NewRetryAfter(instance, 2*time.Minute),
		},
		{
			name:     "backoff is capped",
			state:    testutil.NewRunState(models.StateFailed, testutil.WithFailures(40, 40)),
			expected: events.NewRetryAfter(instance, time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := handlers.NewTerminationHandler(backoff, discardLogger())

			event, ok := handler.TransitionInto(context.Background(), tt.state)

			assert.True(t, ok)
			assert.Equal(t, tt.expected, event)
		})
	}
}

func TestTerminationHandler_IgnoresOtherStates(t *testing.T) {
	t.Parallel()

	handler := handlers.NewTerminationHandler(retry.Default(), discardLogger())

	for _, s := range models.States {
		if s == models.StateTerminated || s == models.StateFailed {
			continue
		}

		event, ok := handler.TransitionInto(context.Background(), testutil.NewRunState(s))

		assert.False(t, ok, s)
		assert.Nil(t, event, s)
	}
}

func TestTerminationHandler_MissingDependencyDelayIsExact(t *testing.T) {
	t.Parallel()

	handler := handlers.NewTerminationHandler(retry.Default(), discardLogger())

	event, ok := handler.TransitionInto(context.Background(), testutil.NewRunState(models.StateTerminated, testutil.WithLastExit(20)))

	require.True(t, ok)
	require.IsType(t, events.RetryAfter{}, event)
	assert.Equal(t, int64(600000), event.(events.RetryAfter).DelayMillis)
}

// The decision for a terminated instance combined with the state machine's cost
// accounting: a missing-dependency exit, then a regular failure, then repeated
// failures until the budget is spent.
func TestTerminationHandler_RetryBudgetScenario(t *testing.T) {
	t.Parallel()

	backoff := retry.Default()
	handler := handlers.NewTerminationHandler(backoff, discardLogger())
	now := testutil.DefaultTimestamp

	running := testutil.NewRunState(models.StateRunning)

	terminate := func(current models.RunState, exitCode int) models.RunState {
		t.Helper()

		next, err := state.Apply(current, events.NewTerminate(current.Instance, &exitCode), now)
		require.NoError(t, err)

		return next
	}

	// Brings a re-queued instance back to RUNNING with a fresh execution id.
	rerun := func(current models.RunState) models.RunState {
		t.Helper()

		steps := []events.Event{
			events.NewDequeue(current.Instance),
			events.NewSubmit(current.Instance, testutil.ExecutionDescription(), handlers.ExecutionID(current)),
			events.NewSubmitted(current.Instance, handlers.ExecutionID(current)),
			events.NewStarted(current.Instance),
		}

		for _, step := range steps {
			var err error

			current, err = state.Apply(current, step, now)
			require.NoError(t, err)
		}

		return current
	}

	decide := func(current models.RunState) events.Event {
		t.Helper()

		event, ok := handler.TransitionInto(context.Background(), current)
		require.True(t, ok)

		return event
	}

	requeue := func(current models.RunState, event events.Event) models.RunState {
		t.Helper()

		next, err := state.Apply(current, event, now)
		require.NoError(t, err)
		require.Equal(t, models.StateQueued, next.State)

		return next
	}

	terminated := terminate(running, 20)
	assert.Equal(t, 1, terminated.Data.ConsecutiveFailures)
	assert.InDelta(t, 0.1, terminated.Data.RetryCost, 1e-9)

	event := decide(terminated)
	assert.Equal(t, events.NewRetryAfter(terminated.Instance, 10*time.Minute), event)

	terminated = terminate(rerun(requeue(terminated, event)), 1)
	assert.Equal(t, 2, terminated.Data.ConsecutiveFailures)

	event = decide(terminated)
	assert.Equal(t, events.NewRetryAfter(terminated.Instance, backoff.CalculateDelay(2)), event)

	for terminated.Data.RetryCost < handlers.MaxRetryCost {
		event = decide(terminated)
		require.IsType(t, events.RetryAfter{}, event)

		terminated = terminate(rerun(requeue(terminated, event)), 1)
	}

	assert.Equal(t, events.NewStop(terminated.Instance), decide(terminated))

	stopped, err := state.Apply(terminated, events.NewStop(terminated.Instance), now)
	require.NoError(t, err)
	assert.Equal(t, models.StateError, stopped.State)
}
