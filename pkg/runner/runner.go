// Package runner defines the contract between the scheduler and a container
// execution backend, plus the pieces shared by every backend.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"github.com/dukex/tideflow/pkg/models"
)

// Phase is the backend-reported lifecycle stage of a submitted job.
type Phase string

const (
	PhasePending   Phase = "PENDING"
	PhaseRunning   Phase = "RUNNING"
	PhaseSucceeded Phase = "SUCCEEDED"
	PhaseFailed    Phase = "FAILED"
)

// JobStatus is the observed status of one execution.
type JobStatus struct {
	Phase    Phase
	Error    *string
	ExitCode *int
}

// Runner starts, observes and releases container executions. Every method must
// be safe to call repeatedly for the same execution id.
type Runner interface {
	// Start submits the run and returns its execution id. A rejected submission
	// caused by the run itself returns an *InvalidExecutionError.
	Start(ctx context.Context, instance models.WorkflowInstance, spec RunSpec) (string, error)

	// Status reports the execution status, or nil when the backend no longer knows the execution.
	Status(ctx context.Context, executionID string) (*JobStatus, error)

	// Cleanup releases resources held by the execution.
	Cleanup(ctx context.Context, instance models.WorkflowInstance, executionID string) error

	Close() error
}

// ErrInvalidExecution marks submissions rejected because of the run itself, such as a malformed image.
var ErrInvalidExecution = errors.New("invalid execution")

// InvalidExecutionError is a user-caused submission failure.
type InvalidExecutionError struct {
	Reason string
	Err    error
}

func (e *InvalidExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInvalidExecution, e.Reason, e.Err)
	}

	return fmt.Sprintf("%s: %s", ErrInvalidExecution, e.Reason)
}

func (e *InvalidExecutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidExecution}
	}

	return []error{ErrInvalidExecution, e.Err}
}

// NewInvalidExecutionError creates a user-caused submission failure.
func NewInvalidExecutionError(reason string, err error) *InvalidExecutionError {
	return &InvalidExecutionError{Reason: reason, Err: err}
}

// IsInvalidExecution reports whether err is a user-caused submission failure.
func IsInvalidExecution(err error) bool {
	return errors.Is(err, ErrInvalidExecution)
}

// ValidateImage checks that image is a well-formed image reference.
func ValidateImage(image string) error {
	if strings.TrimSpace(image) == "" {
		return NewInvalidExecutionError("missing docker image", nil)
	}

	_, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return NewInvalidExecutionError("malformed docker image "+image, err)
	}

	return nil
}
