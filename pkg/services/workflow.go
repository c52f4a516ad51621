package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type Workflow struct {
	persistence persistence.Persistence
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: persistence,
		validate:    models.NewValidator(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	ComponentID string

	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows returns workflows ordered by key, optionally limited to one component.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if req.Limit == 0 {
		req.Limit = defaultLimit
	}

	if err := w.validate.Struct(req); err != nil {
		return nil, NewValidationError("ListWorkflows", "invalid_pagination", err.Error(), ErrInvalidRequest)
	}

	all, err := w.persistence.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	filtered := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if req.ComponentID == "" || workflow.ID.ComponentID == req.ComponentID {
			filtered = append(filtered, workflow)
		}
	}

	page, hasNext := paginate(filtered, req.Offset, req.Limit)

	return &ListWorkflowsResponse{
		Workflows:   page,
		TotalCount:  int64(len(filtered)),
		HasNextPage: hasNext,
	}, nil
}

// FetchByID returns one workflow.
func (w *Workflow) FetchByID(ctx context.Context, id models.WorkflowID) (*models.Workflow, error) {
	workflow, err := w.persistence.Workflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return workflow, nil
}

// Save validates and stores a workflow configuration, creating it when it does not
// exist yet. The creation time of an existing workflow is kept. It reports whether
// the workflow was created.
func (w *Workflow) Save(ctx context.Context, workflow *models.Workflow) (*models.Workflow, bool, error) {
	if workflow == nil {
		return nil, false, ErrWorkflowNil
	}

	workflow.Schedule = strings.TrimSpace(workflow.Schedule)

	if err := w.validate.Struct(workflow); err != nil {
		return nil, false, NewValidationError("Save", "invalid_workflow", describeValidation(err), ErrInvalidWorkflow)
	}

	created := true

	existing, err := w.persistence.Workflow(ctx, workflow.ID)

	switch {
	case err == nil:
		created = false
		workflow.CreatedAt = existing.CreatedAt
	case persistence.IsWorkflowNotFound(err):
		workflow.CreatedAt = time.Time{}
	default:
		return nil, false, fmt.Errorf("failed to get workflow: %w", err)
	}

	err = w.persistence.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, created, nil
}

// Delete removes a workflow configuration. Its instances keep running to completion.
func (w *Workflow) Delete(ctx context.Context, id models.WorkflowID) error {
	err := w.persistence.DeleteWorkflow(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// UpcomingExecutions lists the next count execution times of a workflow after from,
// together with the parameter each would run with.
func (w *Workflow) UpcomingExecutions(ctx context.Context, id models.WorkflowID, from time.Time, count int) ([]UpcomingExecution, error) {
	if count <= 0 || count > maxLimit {
		return nil, NewValidationError("UpcomingExecutions", "invalid_count",
			fmt.Sprintf("count must be between 1 and %d", maxLimit), ErrInvalidRequest)
	}

	workflow, err := w.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	upcoming := make([]UpcomingExecution, 0, count)
	at := from

	for range count {
		at, err = models.NextExecution(workflow.Schedule, at)
		if err != nil {
			return nil, NewValidationError("UpcomingExecutions", "invalid_schedule", err.Error(), ErrInvalidWorkflow)
		}

		upcoming = append(upcoming, UpcomingExecution{
			At:        at,
			Parameter: models.Parameter(workflow.Schedule, at),
		})
	}

	return upcoming, nil
}

// UpcomingExecution is a future scheduled run of a workflow.
type UpcomingExecution struct {
	At        time.Time `json:"at"`
	Parameter string    `json:"parameter"`
}

func describeValidation(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		messages = append(messages, fmt.Sprintf("%s failed on %q", fieldError.Namespace(), fieldError.Tag()))
	}

	return strings.Join(messages, "; ")
}

func paginate[T any](items []T, offset, limit int) ([]T, bool) {
	if offset >= len(items) {
		return []T{}, false
	}

	end := offset + limit
	if end >= len(items) {
		return items[offset:], false
	}

	return items[offset:end], true
}
