// Package models defines the domain types tracked by the scheduler: workflows,
// their scheduled instances and the run state of each instance.
package models

import (
	"errors"
	"fmt"
	"strings"
)

const keySeparator = "#"

// ErrInvalidKey is returned when a serialized workflow or instance key cannot be parsed.
var ErrInvalidKey = errors.New("invalid key")

// WorkflowID identifies a workflow inside the component that owns it.
type WorkflowID struct {
	// ComponentID is the owning component (usually a repository or service name)
	ComponentID string `json:"component_id" validate:"required,excludes=#"`

	// ID is the workflow name, unique inside its component
	ID string `json:"id" validate:"required,excludes=#"`
}

// NewWorkflowID creates a workflow identifier.
func NewWorkflowID(componentID, id string) WorkflowID {
	return WorkflowID{ComponentID: componentID, ID: id}
}

// Key returns the stable string form "component#id".
func (w WorkflowID) Key() string {
	return w.ComponentID + keySeparator + w.ID
}

func (w WorkflowID) String() string {
	return w.Key()
}

// ParseWorkflowKey reverses WorkflowID.Key.
func ParseWorkflowKey(key string) (WorkflowID, error) {
	parts := strings.SplitN(key, keySeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return WorkflowID{}, fmt.Errorf("%w: workflow key %q", ErrInvalidKey, key)
	}

	return NewWorkflowID(parts[0], parts[1]), nil
}

// WorkflowInstance is one scheduled execution of a workflow, addressed by a parameter
// such as a date or a partition key.
type WorkflowInstance struct {
	Workflow  WorkflowID `json:"workflow"  validate:"required"`
	Parameter string     `json:"parameter" validate:"required"`
}

// NewWorkflowInstance creates an instance of workflow for parameter.
func NewWorkflowInstance(workflow WorkflowID, parameter string) WorkflowInstance {
	return WorkflowInstance{Workflow: workflow, Parameter: parameter}
}

// Key returns the stable string form "component#id#parameter" used for storage,
// logging and message keys.
func (w WorkflowInstance) Key() string {
	return w.Workflow.Key() + keySeparator + w.Parameter
}

func (w WorkflowInstance) String() string {
	return w.Key()
}

// ParseInstanceKey reverses WorkflowInstance.Key. The parameter may itself contain '#'.
func ParseInstanceKey(key string) (WorkflowInstance, error) {
	parts := strings.SplitN(key, keySeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return WorkflowInstance{}, fmt.Errorf("%w: instance key %q", ErrInvalidKey, key)
	}

	return NewWorkflowInstance(NewWorkflowID(parts[0], parts[1]), parts[2]), nil
}
