package models

import "time"

// State is the lifecycle position of a workflow instance.
type State string

const (
	StateNew        State = "NEW"
	StateQueued     State = "QUEUED"
	StatePrepare    State = "PREPARE"
	StateSubmitting State = "SUBMITTING"
	StateSubmitted  State = "SUBMITTED"
	StateRunning    State = "RUNNING"
	StateTerminated State = "TERMINATED"
	StateFailed     State = "FAILED"
	StateError      State = "ERROR"
	StateDone       State = "DONE"
)

// States lists every state in lifecycle order.
var States = []State{
	StateNew, StateQueued, StatePrepare, StateSubmitting, StateSubmitted,
	StateRunning, StateTerminated, StateFailed, StateError, StateDone,
}

func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no further events are accepted. Terminal instances
// are archived by the dispatcher.
func (s State) IsTerminal() bool {
	return s == StateError || s == StateDone
}

// StateData is the bookkeeping carried along with a state.
type StateData struct {
	// Trigger is who or what caused the instance to run
	Trigger *Trigger `json:"trigger,omitempty"`

	// ExecutionID identifies the current attempt on the execution backend
	ExecutionID *string `json:"execution_id,omitempty"`

	// ExecutionDescription is attached when the instance enters SUBMITTING
	ExecutionDescription *ExecutionDescription `json:"execution_description,omitempty"`

	// LastExit is the exit code of the attempt that last reached TERMINATED
	LastExit *int `json:"last_exit,omitempty"`

	// ConsecutiveFailures counts failed attempts since the last success
	ConsecutiveFailures int `json:"consecutive_failures"`

	// RetryCost accumulates per failed attempt and bounds automatic retries
	RetryCost float64 `json:"retry_cost"`

	// RetryDelayMillis is how long a QUEUED instance waits before being dequeued
	RetryDelayMillis *int64 `json:"retry_delay_millis,omitempty"`

	// Tries counts submissions
	Tries int `json:"tries"`

	// Message is the most recent info or error message
	Message *string `json:"message,omitempty"`
}

// RunState is an immutable snapshot of one instance. It is only ever replaced by
// applying an event, never changed in place.
type RunState struct {
	Instance  WorkflowInstance `json:"instance"`
	State     State            `json:"state"`
	Timestamp time.Time        `json:"timestamp"`

	// Counter is the number of events applied so far; storage uses it to detect stale writes
	Counter int64     `json:"counter"`
	Data    StateData `json:"data"`
}

// NewRunState returns the initial NEW state of an instance.
func NewRunState(instance WorkflowInstance, now time.Time) RunState {
	return RunState{
		Instance:  instance,
		State:     StateNew,
		Timestamp: now.UTC(),
	}
}

// ExecutionID returns the attached execution id and whether one is set.
func (r RunState) ExecutionID() (string, bool) {
	if r.Data.ExecutionID == nil || *r.Data.ExecutionID == "" {
		return "", false
	}

	return *r.Data.ExecutionID, true
}

// RetryDelay returns the configured queue delay, zero when none is set.
func (r RunState) RetryDelay() time.Duration {
	if r.Data.RetryDelayMillis == nil {
		return 0
	}

	return time.Duration(*r.Data.RetryDelayMillis) * time.Millisecond
}
