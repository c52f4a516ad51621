package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/runner"
)

// DefaultStatusTimeout bounds a single status call to the execution backend.
const DefaultStatusTimeout = 10 * time.Second

// ContainerHandler drives an instance through submission and polling on the
// execution backend. It re-derives the next event from backend truth on every
// call, so missed or repeated polls correct themselves.
type ContainerHandler struct {
	runner        runner.Runner
	logger        *slog.Logger
	statusTimeout time.Duration
}

func NewContainerHandler(r runner.Runner, logger *slog.Logger, statusTimeout time.Duration) *ContainerHandler {
	if statusTimeout <= 0 {
		statusTimeout = DefaultStatusTimeout
	}

	return &ContainerHandler{
		runner:        r,
		logger:        logger.With("handler", "container"),
		statusTimeout: statusTimeout,
	}
}

func (h *ContainerHandler) TransitionInto(ctx context.Context, state models.RunState) (events.Event, bool) {
	switch state.State {
	case models.StateSubmitting:
		return h.submit(ctx, state)
	case models.StateSubmitted:
		return h.pollSubmitted(ctx, state)
	case models.StateRunning:
		return h.pollRunning(ctx, state)
	case models.StateTerminated, models.StateFailed, models.StateError:
		h.cleanup(ctx, state)

		return none()
	default:
		return none()
	}
}

func (h *ContainerHandler) submit(ctx context.Context, state models.RunState) (events.Event, bool) {
	instance := state.Instance
	executionID, hasID := state.ExecutionID()

	if state.Data.ExecutionDescription == nil || !hasID {
		h.logger.ErrorContext(ctx, "Instance is missing its execution description or execution id",
			"instance", instance.Key(),
			"has_description", state.Data.ExecutionDescription != nil,
			"has_execution_id", hasID)

		return emit(events.NewHalt(instance))
	}

	spec := runner.BuildRunSpec(executionID, *state.Data.ExecutionDescription, state)

	h.logger.InfoContext(ctx, "Submitting execution",
		"instance", instance.Key(), "execution_id", executionID, "image", spec.ImageName)

	submittedID, err := h.runner.Start(ctx, instance, spec)
	if err != nil {
		attrs := []any{"instance", instance.Key(), "execution_id", executionID, "error", err}

		if runner.IsInvalidExecution(err) {
			h.logger.InfoContext(ctx, "Execution rejected", attrs...)
		} else {
			h.logger.ErrorContext(ctx, "Failed to start execution", attrs...)
		}

		return emit(events.NewRunError(instance, err.Error()))
	}

	if submittedID == "" {
		submittedID = executionID
	}

	return emit(events.NewSubmitted(instance, submittedID))
}

func (h *ContainerHandler) pollSubmitted(ctx context.Context, state models.RunState) (events.Event, bool) {
	status, event, decided := h.status(ctx, state)
	if decided {
		return event, event != nil
	}

	switch status.Phase {
	case runner.PhaseRunning, runner.PhaseSucceeded, runner.PhaseFailed:
		return emit(events.NewStarted(state.Instance))
	default:
		return none()
	}
}

func (h *ContainerHandler) pollRunning(ctx context.Context, state models.RunState) (events.Event, bool) {
	status, event, decided := h.status(ctx, state)
	if decided {
		return event, event != nil
	}

	switch status.Phase {
	case runner.PhasePending:
		return emit(events.NewRunError(state.Instance, "Unexpected job phase: "+string(runner.PhasePending)))
	case runner.PhaseSucceeded, runner.PhaseFailed:
		return emit(events.NewTerminate(state.Instance, status.ExitCode))
	default:
		return none()
	}
}

// status fetches the backend status. When decided is true the caller returns event
// as is (nil meaning no event); otherwise it inspects the phase.
func (h *ContainerHandler) status(ctx context.Context, state models.RunState) (*runner.JobStatus, events.Event, bool) {
	instance := state.Instance

	executionID, ok := state.ExecutionID()
	if !ok {
		h.logger.ErrorContext(ctx, "Instance is missing its execution id", "instance", instance.Key(), "state", state.State)

		return nil, events.NewHalt(instance), true
	}

	statusCtx, cancel := context.WithTimeout(ctx, h.statusTimeout)
	defer cancel()

	status, err := h.runner.Status(statusCtx, executionID)
	if err != nil {
		if statusCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			h.logger.WarnContext(ctx, "Timed out polling execution status",
				"instance", instance.Key(), "execution_id", executionID, "error", err)

			return nil, nil, true
		}

		return nil, events.NewRunError(instance, "Job status error: "+err.Error()), true
	}

	if status == nil {
		return nil, events.NewRunError(instance, "Job gone"), true
	}

	if status.Error != nil {
		return nil, events.NewRunError(instance, "Job error: "+*status.Error), true
	}

	return status, nil, false
}

func (h *ContainerHandler) cleanup(ctx context.Context, state models.RunState) {
	executionID, ok := state.ExecutionID()
	if !ok {
		return
	}

	guarded(ctx, h.logger, "clean up execution", func() error {
		return h.runner.Cleanup(ctx, state.Instance, executionID)
	}, "instance", state.Instance.Key(), "execution_id", executionID)
}
