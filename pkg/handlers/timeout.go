package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultSubmittedTimeout = 30 * time.Minute
	DefaultRunningTimeout   = 24 * time.Hour
)

// TimeoutHandler fails instances that stay too long in a waiting state.
type TimeoutHandler struct {
	ttls   map[models.State]time.Duration
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewTimeoutHandler creates a handler with a time-to-live per state. States
// without a positive TTL never time out.
func NewTimeoutHandler(ttls map[models.State]time.Duration, clock clockwork.Clock, logger *slog.Logger) *TimeoutHandler {
	return &TimeoutHandler{
		ttls:   ttls,
		clock:  clock,
		logger: logger.With("handler", "timeout"),
	}
}

// DefaultTTLs returns the default time-to-live per state.
func DefaultTTLs() map[models.State]time.Duration {
	return map[models.State]time.Duration{
		models.StateSubmitted: DefaultSubmittedTimeout,
		models.StateRunning:   DefaultRunningTimeout,
	}
}

func (h *TimeoutHandler) TransitionInto(ctx context.Context, state models.RunState) (events.Event, bool) {
	ttl, ok := h.ttls[state.State]
	if !ok || ttl <= 0 {
		return none()
	}

	age := h.clock.Since(state.Timestamp)
	if age < ttl {
		return none()
	}

	h.logger.InfoContext(ctx, "Instance timed out",
		"instance", state.Instance.Key(), "state", state.State, "age", age, "ttl", ttl)

	return emit(events.NewTimeout(state.Instance))
}
