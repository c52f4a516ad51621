package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/state"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Receiver applies an event to the current state of its instance.
type Receiver interface {
	Receive(ctx context.Context, event events.Event) (models.RunState, error)
}

// Instance inspects workflow instances and injects operator events into them.
type Instance struct {
	persistence persistence.Persistence
	receiver    Receiver
	validate    *validator.Validate
}

// NewInstance creates a new instance service.
func NewInstance(persistence persistence.Persistence, receiver Receiver) *Instance {
	return &Instance{
		persistence: persistence,
		receiver:    receiver,
		validate:    models.NewValidator(),
	}
}

// ListInstancesRequest contains options for listing active instances.
type ListInstancesRequest struct {
	ComponentID string
	WorkflowID  string
	State       models.State

	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`
}

// ListInstancesResponse contains the result of listing instances.
type ListInstancesResponse struct {
	Instances   []models.RunState `json:"instances"`
	TotalCount  int64             `json:"total_count"`
	HasNextPage bool              `json:"has_next_page"`
}

// ListInstances returns active instances ordered by key.
func (s *Instance) ListInstances(ctx context.Context, req ListInstancesRequest) (*ListInstancesResponse, error) {
	if req.Limit == 0 {
		req.Limit = defaultLimit
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, NewValidationError("ListInstances", "invalid_pagination", err.Error(), ErrInvalidRequest)
	}

	if req.State != "" && !req.State.Valid() {
		return nil, NewValidationError("ListInstances", "invalid_state",
			fmt.Sprintf("unknown state %q", req.State), ErrInvalidState)
	}

	all, err := s.persistence.ActiveStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	filtered := make([]models.RunState, 0, len(all))

	for _, runState := range all {
		workflow := runState.Instance.Workflow

		if req.ComponentID != "" && workflow.ComponentID != req.ComponentID {
			continue
		}

		if req.WorkflowID != "" && workflow.ID != req.WorkflowID {
			continue
		}

		if req.State != "" && runState.State != req.State {
			continue
		}

		filtered = append(filtered, runState)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Instance.Key() < filtered[j].Instance.Key()
	})

	page, hasNext := paginate(filtered, req.Offset, req.Limit)

	return &ListInstancesResponse{
		Instances:   page,
		TotalCount:  int64(len(filtered)),
		HasNextPage: hasNext,
	}, nil
}

// FetchState returns the current state of an instance. Archived instances are
// rebuilt from their event log.
func (s *Instance) FetchState(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	active, err := s.persistence.ActiveState(ctx, instance)
	if err == nil {
		return active, nil
	}

	if !persistence.IsActiveStateNotFound(err) {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	log, err := s.Events(ctx, instance)
	if err != nil {
		return nil, err
	}

	replayed, err := state.Replay(instance, log)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild archived instance: %w", err)
	}

	return &replayed, nil
}

// Events returns the event log of an instance, oldest first.
func (s *Instance) Events(ctx context.Context, instance models.WorkflowInstance) ([]events.SequenceEvent, error) {
	log, err := s.persistence.Events(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	if len(log) == 0 {
		return nil, &ServiceError{Op: "Events", Code: "instance_not_found", Err: ErrInstanceNotFound}
	}

	return log, nil
}

// TriggerRequest describes an operator-initiated run.
type TriggerRequest struct {
	Type models.TriggerType `json:"type" validate:"omitempty,oneof=backfill adhoc"`
	ID   string             `json:"id"`
}

// Trigger starts a new instance of an existing workflow. Missing trigger fields
// default to an adhoc trigger with a generated id.
func (s *Instance) Trigger(ctx context.Context, instance models.WorkflowInstance, req TriggerRequest) (*models.RunState, error) {
	if err := s.validate.Struct(instance); err != nil {
		return nil, NewValidationError("Trigger", "invalid_instance", describeValidation(err), ErrInvalidRequest)
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, NewValidationError("Trigger", "invalid_trigger", describeValidation(err), ErrInvalidRequest)
	}

	_, err := s.persistence.Workflow(ctx, instance.Workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if req.Type == "" {
		req.Type = models.TriggerTypeAdhoc
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	return s.receive(ctx, events.NewTriggerExecution(instance, models.NewTrigger(req.Type, req.ID)))
}

// Halt stops an active instance permanently.
func (s *Instance) Halt(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	if err := s.requireActive(ctx, instance); err != nil {
		return nil, err
	}

	return s.receive(ctx, events.NewHalt(instance))
}

// Retry resubmits a failed or terminated instance immediately.
func (s *Instance) Retry(ctx context.Context, instance models.WorkflowInstance) (*models.RunState, error) {
	if err := s.requireActive(ctx, instance); err != nil {
		return nil, err
	}

	return s.receive(ctx, events.NewRetry(instance))
}

// requireActive keeps operator events from creating instances that were never triggered.
func (s *Instance) requireActive(ctx context.Context, instance models.WorkflowInstance) error {
	_, err := s.persistence.ActiveState(ctx, instance)
	if err != nil {
		return fmt.Errorf("failed to get instance: %w", err)
	}

	return nil
}

func (s *Instance) receive(ctx context.Context, event events.Event) (*models.RunState, error) {
	next, err := s.receiver.Receive(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", event.GetType(), err)
	}

	return &next, nil
}
