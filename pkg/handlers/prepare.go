package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ExecutionIDPrefix starts every execution id. Ids are valid Kubernetes object
// names and Docker container names.
const ExecutionIDPrefix = "tideflow-run-"

var executionNamespace = uuid.MustParse("6f1c8e0a-3c1d-4f0e-9a57-2d4b8f61c0de")

// WorkflowSource loads workflow configuration.
type WorkflowSource interface {
	Workflow(ctx context.Context, id models.WorkflowID) (*models.Workflow, error)
}

// PrepareHandler attaches the execution description and an execution id to a
// PREPARE instance by emitting submit.
type PrepareHandler struct {
	workflows WorkflowSource
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewPrepareHandler(workflows WorkflowSource, logger *slog.Logger) *PrepareHandler {
	return &PrepareHandler{
		workflows: workflows,
		validate:  models.NewValidator(),
		logger:    logger.With("handler", "prepare"),
	}
}

func (h *PrepareHandler) TransitionInto(ctx context.Context, state models.RunState) (events.Event, bool) {
	if state.State != models.StatePrepare {
		return none()
	}

	instance := state.Instance

	workflow, err := h.workflows.Workflow(ctx, instance.Workflow)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			h.logger.WarnContext(ctx, "Workflow no longer exists, halting", "instance", instance.Key())

			return emit(events.NewHalt(instance))
		}

		h.logger.ErrorContext(ctx, "Failed to load workflow", "instance", instance.Key(), "error", err)

		return none()
	}

	description := workflow.ExecutionDescription()

	err = h.validate.Struct(description)
	if err != nil {
		h.logger.WarnContext(ctx, "Workflow has an invalid execution description, halting",
			"instance", instance.Key(), "error", err)

		return emit(events.NewHalt(instance))
	}

	return emit(events.NewSubmit(instance, description, ExecutionID(state)))
}

// ExecutionID derives the execution id for the attempt that starts from state.
// The same snapshot always yields the same id.
func ExecutionID(state models.RunState) string {
	name := state.Instance.Key() + "#" + strconv.FormatInt(state.Counter, 10)

	return ExecutionIDPrefix + uuid.NewSHA1(executionNamespace, []byte(name)).String()
}
