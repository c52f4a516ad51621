package state_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/state"
	"github.com/dukex/tideflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func TestApply_HappyPath(t *testing.T) {
	t.Parallel()

	instance := testutil.Instance()
	description := testutil.ExecutionDescription()
	current := models.NewRunState(instance, now)

	steps := []struct {
		event    events.Event
		expected models.State
	}{
		{events.NewTriggerExecution(instance, models.NewTrigger(models.TriggerTypeNatural, "schedule")), models.StateQueued},
		{events.NewDequeue(instance), models.StatePrepare},
		{events.NewSubmit(instance, description, "run-1"), models.StateSubmitting},
		{events.NewSubmitted(instance, "run-1"), models.StateSubmitted},
		{events.NewStarted(instance), models.StateRunning},
		{events.NewTerminate(instance, intPtr(0)), models.StateTerminated},
		{events.NewSuccess(instance), models.StateDone},
	}

	for i, step := range steps {
		next, err := state.Apply(current, step.event, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err, "step %d (%s)", i, step.event.GetType())
		assert.Equal(t, step.expected, next.State)
		assert.Equal(t, current.Counter+1, next.Counter)
		assert.Equal(t, now.Add(time.Duration(i)*time.Second), next.Timestamp)

		if next.State == models.StateSubmitted || next.State == models.StateRunning {
			_, ok := next.ExecutionID()
			assert.True(t, ok, "execution id must be present in %s", next.State)
		}

		current = next
	}

	assert.Equal(t, 1, current.Data.Tries)
	assert.Equal(t, 0, *current.Data.LastExit)
	assert.Zero(t, current.Data.ConsecutiveFailures)
	assert.Zero(t, current.Data.RetryCost)
	assert.True(t, current.State.IsTerminal())
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	current := testutil.NewRunState(models.StateRunning, testutil.WithExecutionID("run-1"))
	before := current

	next, err := state.Apply(current, events.NewTerminate(current.Instance, intPtr(1)), now)
	require.NoError(t, err)

	assert.Equal(t, before, current)
	assert.Nil(t, current.Data.LastExit)
	assert.Equal(t, 1, *next.Data.LastExit)
}

func TestApply_FailureBookkeeping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		from             models.State
		event            func(models.WorkflowInstance) events.Event
		expectedState    models.State
		expectedFailures int
		expectedCost     float64
	}{
		{
			name:             "nonzero exit",
			from:             models.StateRunning,
			event:            func(i models.WorkflowInstance) events.Event { return events.NewTerminate(i, intPtr(1)) },
			expectedState:    models.StateTerminated,
			expectedFailures: 3,
			expectedCost:     3.5,
		},
		{
			name:             "missing dependencies exit",
			from:             models.StateRunning,
			event:            func(i models.WorkflowInstance) events.Event { return events.NewTerminate(i, intPtr(20)) },
			expectedState:    models.StateTerminated,
			expectedFailures: 3,
			expectedCost:     2.6,
		},
		{
			name:             "unknown exit code",
			from:             models.StateRunning,
			event:            func(i models.WorkflowInstance) events.Event { return events.NewTerminate(i, nil) },
			expectedState:    models.StateTerminated,
			expectedFailures: 3,
			expectedCost:     3.5,
		},
		{
			name:             "zero exit keeps counters",
			from:             models.StateRunning,
			event:            func(i models.WorkflowInstance) events.Event { return events.NewTerminate(i, intPtr(0)) },
			expectedState:    models.StateTerminated,
			expectedFailures: 2,
			expectedCost:     2.5,
		},
		{
			name:             "run error",
			from:             models.StateSubmitted,
			event:            func(i models.WorkflowInstance) events.Event { return events.NewRunError(i, "Job gone") },
			expectedState:    models.StateFailed,
			expectedFailures: 3,
			expectedCost:     3.5,
		},
		{
			name:             "timeout",
			from:             models.StateRunning,
			event:            func(i models.WorkflowInstance) events.Event { return events.NewTimeout(i) },
			expectedState:    models.StateFailed,
			expectedFailures: 3,
			expectedCost:     3.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := testutil.NewRunState(tt.from,
				testutil.WithExecutionID("run-1"),
				testutil.WithFailures(2, 2.5),
			)

			next, err := state.Apply(current, tt.event(current.Instance), now)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedState, next.State)
			assert.Equal(t, tt.expectedFailures, next.Data.ConsecutiveFailures)
			assert.InDelta(t, tt.expectedCost, next.Data.RetryCost, 1e-9)
			assert.GreaterOrEqual(t, next.Data.RetryCost, current.Data.RetryCost)
		})
	}
}

func TestApply_RetryAfterStartsFreshAttempt(t *testing.T) {
	t.Parallel()

	current := testutil.NewRunState(models.StateTerminated,
		testutil.WithExecutionID("run-1"),
		testutil.WithLastExit(1),
		testutil.WithFailures(1, 1),
	)

	next, err := state.Apply(current, events.NewRetryAfter(current.Instance, 3*time.Minute), now)
	require.NoError(t, err)

	assert.Equal(t, models.StateQueued, next.State)
	assert.Equal(t, 3*time.Minute, next.RetryDelay())
	assert.Nil(t, next.Data.LastExit)
	assert.Nil(t, next.Data.ExecutionID)
	assert.Nil(t, next.Data.ExecutionDescription)
	assert.Equal(t, 1, next.Data.ConsecutiveFailures)
	assert.InDelta(t, 1.0, next.Data.RetryCost, 1e-9)

	dequeued, err := state.Apply(next, events.NewDequeue(next.Instance), now)
	require.NoError(t, err)
	assert.Zero(t, dequeued.RetryDelay())
}

func TestApply_StopAndHaltAreTerminal(t *testing.T) {
	t.Parallel()

	failed := testutil.NewRunState(models.StateFailed)
	stopped, err := state.Apply(failed, events.NewStop(failed.Instance), now)
	require.NoError(t, err)
	assert.Equal(t, models.StateError, stopped.State)

	submitting := testutil.NewRunState(models.StateSubmitting)
	halted, err := state.Apply(submitting, events.NewHalt(submitting.Instance), now)
	require.NoError(t, err)
	assert.Equal(t, models.StateError, halted.State)

	_, err = state.Apply(halted, events.NewHalt(halted.Instance), now)
	require.ErrorIs(t, err, state.ErrIllegalTransition)
}

func TestApply_IllegalTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from  models.State
		event func(models.WorkflowInstance) events.Event
	}{
		{models.StateNew, func(i models.WorkflowInstance) events.Event { return events.NewStarted(i) }},
		{models.StateQueued, func(i models.WorkflowInstance) events.Event { return events.NewSuccess(i) }},
		{models.StateRunning, func(i models.WorkflowInstance) events.Event { return events.NewSubmitted(i, "x") }},
		{models.StateRunning, func(i models.WorkflowInstance) events.Event { return events.NewStop(i) }},
		{models.StateDone, func(i models.WorkflowInstance) events.Event { return events.NewRetry(i) }},
		{models.StateDone, func(i models.WorkflowInstance) events.Event { return events.NewInfo(i, "late") }},
		{models.StateTerminated, func(i models.WorkflowInstance) events.Event { return events.NewTriggerExecution(i, models.Trigger{}) }},
	}

	for _, tt := range tests {
		current := testutil.NewRunState(tt.from)
		event := tt.event(current.Instance)

		next, err := state.Apply(current, event, now)
		require.Error(t, err)

		var transitionErr *state.TransitionError
		require.True(t, errors.As(err, &transitionErr))
		assert.Equal(t, tt.from, transitionErr.State)
		assert.Equal(t, event.GetType(), transitionErr.Event)
		assert.Equal(t, current, next)
	}
}

func TestApply_InstanceMismatch(t *testing.T) {
	t.Parallel()

	current := testutil.NewRunState(models.StateQueued)
	other := models.NewWorkflowInstance(current.Instance.Workflow, "other-parameter")

	_, err := state.Apply(current, events.NewDequeue(other), now)
	require.ErrorIs(t, err, state.ErrInstanceMismatch)
}

func TestApply_InfoKeepsState(t *testing.T) {
	t.Parallel()

	current := testutil.NewRunState(models.StateRunning, testutil.WithExecutionID("run-1"))

	next, err := state.Apply(current, events.NewInfo(current.Instance, "pulled image"), now)
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, next.State)
	assert.Equal(t, "pulled image", *next.Data.Message)
	assert.Equal(t, current.Counter+1, next.Counter)
}

func TestAccepts(t *testing.T) {
	t.Parallel()

	assert.True(t, state.Accepts(models.StateFailed, events.RetryAfterEvent))
	assert.False(t, state.Accepts(models.StateRunning, events.RetryAfterEvent))
	assert.True(t, state.Accepts(models.StateQueued, events.HaltEvent))
	assert.False(t, state.Accepts(models.StateDone, events.HaltEvent))
	assert.False(t, state.Accepts(models.StateQueued, events.EventType("bogus")))
}

func TestExitCost(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, state.MissingDepsCost, state.ExitCost(state.MissingDepsExitCode), 1e-9)
	assert.InDelta(t, state.FailureCost, state.ExitCost(1), 1e-9)
	assert.InDelta(t, state.FailureCost, state.ExitCost(state.FailFastExitCode), 1e-9)
}

func TestReplay(t *testing.T) {
	t.Parallel()

	instance := testutil.Instance()
	log := []events.SequenceEvent{
		{Event: events.NewTriggerExecution(instance, models.NewTrigger(models.TriggerTypeAdhoc, "op")), Counter: 1, Timestamp: now},
		{Event: events.NewDequeue(instance), Counter: 2, Timestamp: now.Add(time.Minute)},
		{Event: events.NewHalt(instance), Counter: 3, Timestamp: now.Add(2 * time.Minute)},
	}

	replayed, err := state.Replay(instance, log)
	require.NoError(t, err)
	assert.Equal(t, models.StateError, replayed.State)
	assert.Equal(t, int64(3), replayed.Counter)
	assert.Equal(t, now.Add(2*time.Minute), replayed.Timestamp)

	_, err = state.Replay(instance, nil)
	require.Error(t, err)

	_, err = state.Replay(instance, log[1:])
	require.ErrorIs(t, err, state.ErrCorruptLog)

	_, err = state.Replay(instance, []events.SequenceEvent{log[0], log[0]})
	require.ErrorIs(t, err, state.ErrCorruptLog)

	skipped := []events.SequenceEvent{log[0], {Event: events.NewStarted(instance), Counter: 2, Timestamp: now}}
	_, err = state.Replay(instance, skipped)
	require.ErrorIs(t, err, state.ErrIllegalTransition)
}

func TestReplay_TriggeredAgainAfterArchival(t *testing.T) {
	t.Parallel()

	instance := testutil.Instance()
	trigger := models.NewTrigger(models.TriggerTypeAdhoc, "op")
	log := []events.SequenceEvent{
		{Event: events.NewTriggerExecution(instance, trigger), Counter: 1, Timestamp: now},
		{Event: events.NewHalt(instance), Counter: 2, Timestamp: now.Add(time.Minute)},
		{Event: events.NewTriggerExecution(instance, models.NewTrigger(models.TriggerTypeBackfill, "rerun")), Counter: 3, Timestamp: now.Add(time.Hour)},
	}

	replayed, err := state.Replay(instance, log)
	require.NoError(t, err)
	assert.Equal(t, models.StateQueued, replayed.State)
	assert.Equal(t, int64(3), replayed.Counter)
	require.NotNil(t, replayed.Data.Trigger)
	assert.Equal(t, models.NewTrigger(models.TriggerTypeBackfill, "rerun"), *replayed.Data.Trigger)
}
