package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/retry"
	"github.com/dukex/tideflow/pkg/state"
)

const (
	// MaxRetryCost is the retry budget of an instance. Once the accumulated cost
	// reaches it the instance is stopped.
	MaxRetryCost = 50.0

	MissingDepsExitCode = state.MissingDepsExitCode
	FailFastExitCode    = state.FailFastExitCode

	// MissingDepsRetryDelay is the fixed delay after a missing-dependencies exit.
	MissingDepsRetryDelay = 10 * time.Minute
)

// TerminationHandler turns a finished attempt into success, a delayed retry or a permanent stop.
type TerminationHandler struct {
	backoff retry.Backoff
	logger  *slog.Logger
}

func NewTerminationHandler(backoff retry.Backoff, logger *slog.Logger) *TerminationHandler {
	return &TerminationHandler{
		backoff: backoff,
		logger:  logger.With("handler", "termination"),
	}
}

func (h *TerminationHandler) TransitionInto(ctx context.Context, runState models.RunState) (events.Event, bool) {
	switch runState.State {
	case models.StateTerminated:
		if runState.Data.LastExit != nil && *runState.Data.LastExit == 0 {
			return emit(events.NewSuccess(runState.Instance))
		}

		return h.checkRetry(ctx, runState)
	case models.StateFailed:
		return h.checkRetry(ctx, runState)
	default:
		return none()
	}
}

func (h *TerminationHandler) checkRetry(ctx context.Context, runState models.RunState) (events.Event, bool) {
	instance := runState.Instance
	data := runState.Data

	if !(data.RetryCost < MaxRetryCost) {
		h.logger.InfoContext(ctx, "Retry budget exhausted, stopping",
			"instance", instance.Key(), "retry_cost", data.RetryCost)

		return emit(events.NewStop(instance))
	}

	if data.LastExit != nil && *data.LastExit == FailFastExitCode {
		h.logger.InfoContext(ctx, "Fail-fast exit code, stopping", "instance", instance.Key())

		return emit(events.NewStop(instance))
	}

	var delay time.Duration
	if data.LastExit != nil && *data.LastExit == MissingDepsExitCode {
		delay = MissingDepsRetryDelay
	} else {
		delay = h.backoff.CalculateDelay(data.ConsecutiveFailures)
	}

	h.logger.InfoContext(ctx, "Scheduling retry",
		"instance", instance.Key(),
		"delay", delay,
		"consecutive_failures", data.ConsecutiveFailures,
		"retry_cost", data.RetryCost)

	return emit(events.NewRetryAfter(instance, delay))
}
