package handlers

import (
	"context"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/jonboulle/clockwork"
)

// QueueHandler dequeues QUEUED instances once their retry delay has elapsed.
type QueueHandler struct {
	clock clockwork.Clock
}

func NewQueueHandler(clock clockwork.Clock) *QueueHandler {
	return &QueueHandler{clock: clock}
}

func (h *QueueHandler) TransitionInto(_ context.Context, state models.RunState) (events.Event, bool) {
	if state.State != models.StateQueued {
		return none()
	}

	if h.clock.Since(state.Timestamp) < state.RetryDelay() {
		return none()
	}

	return emit(events.NewDequeue(state.Instance))
}
