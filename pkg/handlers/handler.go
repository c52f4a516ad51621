// Package handlers decides the next event for a workflow instance. Each handler
// looks at one immutable RunState and returns at most one event; applying it is
// left to the dispatcher.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/tideflow/pkg/events"
	"github.com/dukex/tideflow/pkg/models"
)

// OutputHandler produces the next event for a state. It returns false when it has
// nothing to say, which includes "keep waiting". Implementations must not keep
// per-instance state between calls, and any backend side effect must be safe to repeat.
type OutputHandler interface {
	TransitionInto(ctx context.Context, state models.RunState) (events.Event, bool)
}

// Func adapts a function to OutputHandler.
type Func func(ctx context.Context, state models.RunState) (events.Event, bool)

func (f Func) TransitionInto(ctx context.Context, state models.RunState) (events.Event, bool) {
	return f(ctx, state)
}

// Chain asks each handler in order and returns the first event produced.
type Chain []OutputHandler

func (c Chain) TransitionInto(ctx context.Context, state models.RunState) (events.Event, bool) {
	for _, handler := range c {
		event, ok := handler.TransitionInto(ctx, state)
		if ok {
			return event, true
		}
	}

	return nil, false
}

func emit(event events.Event) (events.Event, bool) {
	return event, true
}

func none() (events.Event, bool) {
	return nil, false
}

// guarded runs a best-effort side effect, logging and swallowing its error or panic.
func guarded(ctx context.Context, logger *slog.Logger, operation string, fn func() error, attrs ...any) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Recovered from panic in "+operation, append(attrs, "panic", fmt.Sprint(r))...)
		}
	}()

	err := fn()
	if err != nil {
		logger.WarnContext(ctx, "Failed to "+operation, append(attrs, "error", err)...)
	}
}
