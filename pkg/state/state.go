// Package state applies events to run states. Apply is pure: it never touches
// storage or the execution backend and returns a new value on every call.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
)

const (
	// FailureCost is added to the retry cost for each failed attempt.
	FailureCost = 1.0

	// MissingDepsCost is added instead of FailureCost when a run exits with MissingDepsExitCode.
	MissingDepsCost = 0.1

	// MissingDepsExitCode is the exit code a job uses to report unmet dependencies.
	MissingDepsExitCode = 20

	// FailFastExitCode is the exit code a job uses to ask never to be retried.
	FailFastExitCode = 50
)

var (
	// ErrIllegalTransition is returned when an event is not accepted in the current state.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrInstanceMismatch is returned when an event addresses another instance.
	ErrInstanceMismatch = errors.New("event does not belong to instance")

	// ErrCorruptLog is returned by Replay when counters are not consecutive.
	ErrCorruptLog = errors.New("event log out of sequence")
)

// TransitionError describes an event rejected by the state machine.
type TransitionError struct {
	Instance models.WorkflowInstance
	State    models.State
	Event    events.EventType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s cannot receive %s in state %s", ErrIllegalTransition, e.Instance, e.Event, e.State)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// ExitCost is the retry cost of a nonzero exit code.
func ExitCost(exitCode int) float64 {
	if exitCode == MissingDepsExitCode {
		return MissingDepsCost
	}

	return FailureCost
}

// Apply returns the state reached by applying event to current at time now.
// The result has its Counter incremented and Timestamp set to now.
func Apply(current models.RunState, event events.Event, now time.Time) (models.RunState, error) {
	if event.GetInstance() != current.Instance {
		return current, fmt.Errorf("%w: %s != %s", ErrInstanceMismatch, event.GetInstance(), current.Instance)
	}

	next, ok := transition(current, event)
	if !ok {
		return current, &TransitionError{Instance: current.Instance, State: current.State, Event: event.GetType()}
	}

	next.Instance = current.Instance
	next.Timestamp = now.UTC()
	next.Counter = current.Counter + 1

	return next, nil
}

// Accepts reports whether event would be accepted in state s.
func Accepts(s models.State, eventType events.EventType) bool {
	allowed, ok := acceptedIn[eventType]
	if !ok {
		return false
	}

	if allowed == nil {
		return !s.IsTerminal()
	}

	for _, state := range allowed {
		if state == s {
			return true
		}
	}

	return false
}

// acceptedIn lists the source states per event; nil means any non-terminal state.
var acceptedIn = map[events.EventType][]models.State{
	events.TriggerExecutionEvent: {models.StateNew},
	events.InfoEvent:             nil,
	events.DequeueEvent:          {models.StateQueued},
	events.SubmitEvent:           {models.StatePrepare, models.StateQueued},
	events.SubmittedEvent:        {models.StateSubmitting},
	events.StartedEvent:          {models.StateSubmitted},
	events.TerminateEvent:        {models.StateRunning},
	events.RunErrorEvent:         {models.StatePrepare, models.StateSubmitting, models.StateSubmitted, models.StateRunning},
	events.TimeoutEvent:          {models.StateSubmitted, models.StateRunning},
	events.SuccessEvent:          {models.StateTerminated},
	events.RetryAfterEvent:       {models.StateTerminated, models.StateFailed},
	events.RetryEvent:            {models.StateTerminated, models.StateFailed},
	events.StopEvent:             {models.StateTerminated, models.StateFailed},
	events.HaltEvent:             nil,
}

func transition(current models.RunState, event events.Event) (models.RunState, bool) {
	if !Accepts(current.State, event.GetType()) {
		return current, false
	}

	next := current
	data := &next.Data

	switch e := event.(type) {
	case events.TriggerExecution:
		trigger := e.Trigger
		data.Trigger = &trigger
		data.Tries = 0
		next.State = models.StateQueued

	case events.Info:
		message := e.Message
		data.Message = &message

	case events.Dequeue:
		data.RetryDelayMillis = nil
		next.State = models.StatePrepare

	case events.Submit:
		description := e.ExecutionDescription
		executionID := e.ExecutionID
		data.ExecutionDescription = &description
		data.ExecutionID = &executionID
		data.RetryDelayMillis = nil
		data.Tries++
		next.State = models.StateSubmitting

	case events.Submitted:
		if e.ExecutionID != "" {
			executionID := e.ExecutionID
			data.ExecutionID = &executionID
		}

		next.State = models.StateSubmitted

	case events.Started:
		next.State = models.StateRunning

	case events.Terminate:
		data.LastExit = copyInt(e.ExitCode)

		if e.ExitCode == nil || *e.ExitCode != 0 {
			cost := FailureCost
			if e.ExitCode != nil {
				cost = ExitCost(*e.ExitCode)
			}

			data.ConsecutiveFailures++
			data.RetryCost += cost
		}

		next.State = models.StateTerminated

	case events.RunError:
		message := e.Message
		data.Message = &message
		data.ConsecutiveFailures++
		data.RetryCost += FailureCost
		next.State = models.StateFailed

	case events.Timeout:
		message := "Timed out in state " + current.State.String()
		data.Message = &message
		data.ConsecutiveFailures++
		data.RetryCost += FailureCost
		next.State = models.StateFailed

	case events.Success:
		data.ConsecutiveFailures = 0
		data.RetryCost = 0
		next.State = models.StateDone

	case events.RetryAfter:
		delay := e.DelayMillis
		data.RetryDelayMillis = &delay
		resetAttempt(data)
		next.State = models.StateQueued

	case events.Retry:
		data.RetryDelayMillis = nil
		resetAttempt(data)
		next.State = models.StatePrepare

	case events.Stop, events.Halt:
		next.State = models.StateError

	default:
		return current, false
	}

	return next, true
}

// resetAttempt clears the fields that describe one attempt so the next one starts clean.
func resetAttempt(data *models.StateData) {
	data.ExecutionID = nil
	data.ExecutionDescription = nil
	data.LastExit = nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}

// Replay rebuilds the state of instance from its event log. Counters must run
// 1, 2, 3...; each entry is applied at its recorded timestamp.
func Replay(instance models.WorkflowInstance, log []events.SequenceEvent) (models.RunState, error) {
	if len(log) == 0 {
		return models.RunState{}, fmt.Errorf("%s: empty event log", instance)
	}

	current := models.NewRunState(instance, log[0].Timestamp)

	for _, entry := range log {
		if entry.Counter != current.Counter+1 {
			return current, fmt.Errorf("replaying event %d: %w: expected counter %d", entry.Counter, ErrCorruptLog, current.Counter+1)
		}

		// an archived instance triggered again starts a new run from NEW
		if current.State.IsTerminal() && entry.Event.GetType() == events.TriggerExecutionEvent {
			counter := current.Counter
			current = models.NewRunState(instance, entry.Timestamp)
			current.Counter = counter
		}

		next, err := Apply(current, entry.Event, entry.Timestamp)
		if err != nil {
			return current, fmt.Errorf("replaying event %d: %w", entry.Counter, err)
		}

		current = next
	}

	return current, nil
}
