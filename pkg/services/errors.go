// Package services provides the operations behind the HTTP API and their error types.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/state"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidWorkflow = errors.New("invalid workflow")
	ErrInvalidState    = errors.New("invalid state filter")
	ErrWorkflowNil     = errors.New("workflow cannot be nil")

	// Lookup Errors (404 Not Found).
	ErrInstanceNotFound = errors.New("instance not found")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidWorkflow) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrWorkflowNil)
}

// IsConflictError checks if an error should return HTTP 409: the instance is not in
// a state that accepts the requested event, or a concurrent writer won.
func IsConflictError(err error) bool {
	return errors.Is(err, state.ErrIllegalTransition) ||
		persistence.IsConflict(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrInstanceNotFound) ||
		persistence.IsWorkflowNotFound(err) ||
		persistence.IsActiveStateNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
