package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrActiveStateNotFound indicates the instance has no active state.
	ErrActiveStateNotFound = errors.New("active state not found")

	// ErrConflict indicates a concurrent write to the same instance; the transaction can be retried.
	ErrConflict = errors.New("transaction conflict")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "Workflow", "SaveWorkflow")
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// InstanceError wraps instance state errors with additional context.
type InstanceError struct {
	Op       string
	Instance string
	Err      error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.Instance, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instance string, err error) *InstanceError {
	return &InstanceError{Op: op, Instance: instance, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsActiveStateNotFound checks if an error indicates an instance has no active state.
func IsActiveStateNotFound(err error) bool {
	return errors.Is(err, ErrActiveStateNotFound)
}

// IsConflict checks if an error is a retryable transaction conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
