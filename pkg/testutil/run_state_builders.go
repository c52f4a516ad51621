// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/tideflow/pkg/models"
)

// DefaultTimestamp is the timestamp given to states built by NewRunState.
var DefaultTimestamp = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// DefaultExecutionID is attached to SUBMITTED and RUNNING states built by NewRunState.
const DefaultExecutionID = "tideflow-run-test"

// Instance returns the instance used by the builders.
func Instance() models.WorkflowInstance {
	return models.NewWorkflowInstance(models.NewWorkflowID("billing", "daily-report"), "2024-03-01")
}

// ExecutionDescription returns a minimal valid execution description.
func ExecutionDescription() models.ExecutionDescription {
	return models.ExecutionDescription{
		DockerImage: "ghcr.io/acme/report:1.2.0",
		DockerArgs:  []string{"--date", "{}"},
		Env:         map[string]string{"MODE": "full"},
	}
}

// Workflow returns a valid workflow configuration for Instance().
func Workflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:          Instance().Workflow,
		Schedule:    "daily",
		DockerImage: "ghcr.io/acme/report:1.2.0",
		DockerArgs:  []string{"--date", "{}"},
		Env:         map[string]string{"MODE": "full"},
		CreatedAt:   DefaultTimestamp,
		UpdatedAt:   DefaultTimestamp,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// NewRunState builds a RunState in the given state with the data a real instance
// would carry there: an execution description from SUBMITTING on and an execution
// id while SUBMITTED or RUNNING.
func NewRunState(state models.State, overrides ...func(*models.RunState)) models.RunState {
	runState := models.RunState{
		Instance:  Instance(),
		State:     state,
		Timestamp: DefaultTimestamp,
		Counter:   5,
	}

	trigger := models.NewTrigger(models.TriggerTypeNatural, "schedule")
	runState.Data.Trigger = &trigger

	switch state {
	case models.StateSubmitting, models.StateSubmitted, models.StateRunning,
		models.StateTerminated, models.StateFailed:
		description := ExecutionDescription()
		runState.Data.ExecutionDescription = &description
		runState.Data.Tries = 1
	}

	switch state {
	case models.StateSubmitting, models.StateSubmitted, models.StateRunning:
		executionID := DefaultExecutionID
		runState.Data.ExecutionID = &executionID
	}

	for _, override := range overrides {
		override(&runState)
	}

	return runState
}

// WithInstance replaces the instance.
func WithInstance(instance models.WorkflowInstance) func(*models.RunState) {
	return func(r *models.RunState) {
		r.Instance = instance
	}
}

// WithExecutionID attaches an execution id.
func WithExecutionID(executionID string) func(*models.RunState) {
	return func(r *models.RunState) {
		r.Data.ExecutionID = &executionID
	}
}

// WithoutExecutionID removes the execution id.
func WithoutExecutionID() func(*models.RunState) {
	return func(r *models.RunState) {
		r.Data.ExecutionID = nil
	}
}

// WithoutExecutionDescription removes the execution description.
func WithoutExecutionDescription() func(*models.RunState) {
	return func(r *models.RunState) {
		r.Data.ExecutionDescription = nil
	}
}

// WithLastExit sets the exit code of the last terminated run.
func WithLastExit(exitCode int) func(*models.RunState) {
	return func(r *models.RunState) {
		r.Data.LastExit = &exitCode
	}
}

// WithFailures sets the retry bookkeeping.
func WithFailures(consecutiveFailures int, retryCost float64) func(*models.RunState) {
	return func(r *models.RunState) {
		r.Data.ConsecutiveFailures = consecutiveFailures
		r.Data.RetryCost = retryCost
	}
}

// WithRetryDelay sets the queue delay.
func WithRetryDelay(delay time.Duration) func(*models.RunState) {
	return func(r *models.RunState) {
		millis := delay.Milliseconds()
		r.Data.RetryDelayMillis = &millis
	}
}

// WithTimestamp sets the time of the last transition.
func WithTimestamp(timestamp time.Time) func(*models.RunState) {
	return func(r *models.RunState) {
		r.Timestamp = timestamp
	}
}

// WithCounter sets the number of applied events.
func WithCounter(counter int64) func(*models.RunState) {
	return func(r *models.RunState) {
		r.Counter = counter
	}
}
