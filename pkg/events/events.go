// Package events defines the event vocabulary that advances workflow instances
// through their lifecycle. Events are immutable values; applying them is the job
// of the state package.
package events

import (
	"time"

	"github.com/dukex/tideflow/pkg/models"
)

type EventType string

const (
	TriggerExecutionEvent EventType = "triggerExecution"
	InfoEvent             EventType = "info"
	DequeueEvent          EventType = "dequeue"
	SubmitEvent           EventType = "submit"
	SubmittedEvent        EventType = "submitted"
	StartedEvent          EventType = "started"
	TerminateEvent        EventType = "terminate"
	RunErrorEvent         EventType = "runError"
	TimeoutEvent          EventType = "timeout"
	SuccessEvent          EventType = "success"
	RetryAfterEvent       EventType = "retryAfter"
	RetryEvent            EventType = "retry"
	StopEvent             EventType = "stop"
	HaltEvent             EventType = "halt"
)

// Event is a request to move one instance to its next state.
type Event interface {
	GetType() EventType
	GetInstance() models.WorkflowInstance
}

type BaseEvent struct {
	Type     EventType               `json:"type"`
	Instance models.WorkflowInstance `json:"instance"`
}

func (b BaseEvent) GetType() EventType {
	return b.Type
}

func (b BaseEvent) GetInstance() models.WorkflowInstance {
	return b.Instance
}

func newBase(eventType EventType, instance models.WorkflowInstance) BaseEvent {
	return BaseEvent{Type: eventType, Instance: instance}
}

// TriggerExecution queues a NEW instance for its first run.
type TriggerExecution struct {
	BaseEvent

	Trigger models.Trigger `json:"trigger"`
}

func NewTriggerExecution(instance models.WorkflowInstance, trigger models.Trigger) TriggerExecution {
	return TriggerExecution{BaseEvent: newBase(TriggerExecutionEvent, instance), Trigger: trigger}
}

// Info attaches an informational message without changing state.
type Info struct {
	BaseEvent

	Message string `json:"message"`
}

func NewInfo(instance models.WorkflowInstance, message string) Info {
	return Info{BaseEvent: newBase(InfoEvent, instance), Message: message}
}

type Dequeue struct {
	BaseEvent
}

func NewDequeue(instance models.WorkflowInstance) Dequeue {
	return Dequeue{BaseEvent: newBase(DequeueEvent, instance)}
}

// Submit attaches the execution description and allocated execution id.
type Submit struct {
	BaseEvent

	ExecutionDescription models.ExecutionDescription `json:"execution_description"`
	ExecutionID          string                      `json:"execution_id"`
}

func NewSubmit(instance models.WorkflowInstance, description models.ExecutionDescription, executionID string) Submit {
	return Submit{
		BaseEvent:            newBase(SubmitEvent, instance),
		ExecutionDescription: description,
		ExecutionID:          executionID,
	}
}

// Submitted reports that the execution backend accepted the run.
type Submitted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func NewSubmitted(instance models.WorkflowInstance, executionID string) Submitted {
	return Submitted{BaseEvent: newBase(SubmittedEvent, instance), ExecutionID: executionID}
}

type Started struct {
	BaseEvent
}

func NewStarted(instance models.WorkflowInstance) Started {
	return Started{BaseEvent: newBase(StartedEvent, instance)}
}

// Terminate reports the exit code of a finished container.
type Terminate struct {
	BaseEvent

	ExitCode *int `json:"exit_code,omitempty"`
}

func NewTerminate(instance models.WorkflowInstance, exitCode *int) Terminate {
	return Terminate{BaseEvent: newBase(TerminateEvent, instance), ExitCode: exitCode}
}

type RunError struct {
	BaseEvent

	Message string `json:"message"`
}

func NewRunError(instance models.WorkflowInstance, message string) RunError {
	return RunError{BaseEvent: newBase(RunErrorEvent, instance), Message: message}
}

type Timeout struct {
	BaseEvent
}

func NewTimeout(instance models.WorkflowInstance) Timeout {
	return Timeout{BaseEvent: newBase(TimeoutEvent, instance)}
}

type Success struct {
	BaseEvent
}

func NewSuccess(instance models.WorkflowInstance) Success {
	return Success{BaseEvent: newBase(SuccessEvent, instance)}
}

// RetryAfter re-queues the instance after DelayMillis.
type RetryAfter struct {
	BaseEvent

	DelayMillis int64 `json:"delay_millis"`
}

func NewRetryAfter(instance models.WorkflowInstance, delay time.Duration) RetryAfter {
	return RetryAfter{BaseEvent: newBase(RetryAfterEvent, instance), DelayMillis: delay.Milliseconds()}
}

// Delay returns DelayMillis as a duration.
func (r RetryAfter) Delay() time.Duration {
	return time.Duration(r.DelayMillis) * time.Millisecond
}

// Retry re-runs a failed instance immediately.
type Retry struct {
	BaseEvent
}

func NewRetry(instance models.WorkflowInstance) Retry {
	return Retry{BaseEvent: newBase(RetryEvent, instance)}
}

// Stop ends an instance permanently after retries are exhausted or the job asked not to be retried.
type Stop struct {
	BaseEvent
}

func NewStop(instance models.WorkflowInstance) Stop {
	return Stop{BaseEvent: newBase(StopEvent, instance)}
}

// Halt ends an instance that can never run, or that an operator aborted.
type Halt struct {
	BaseEvent
}

func NewHalt(instance models.WorkflowInstance) Halt {
	return Halt{BaseEvent: newBase(HaltEvent, instance)}
}

// SequenceEvent is an applied event as recorded in an instance's event log.
type SequenceEvent struct {
	Event     Event
	Counter   int64
	Timestamp time.Time
}
