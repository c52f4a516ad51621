package cmd

import (
	"log/slog"
	"time"

	"github.com/dukex/tideflow/pkg/handlers"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/retry"
	"github.com/dukex/tideflow/pkg/runner"
	"github.com/jonboulle/clockwork"
)

// ChainConfig tunes the handler chain.
type ChainConfig struct {
	StatusTimeout    time.Duration
	SubmittedTimeout time.Duration
	RunningTimeout   time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
}

// NewHandlerChain assembles the handlers in the order they are consulted:
// timeout, queue, prepare, container, termination.
func NewHandlerChain(
	workflows handlers.WorkflowSource,
	r runner.Runner,
	clock clockwork.Clock,
	logger *slog.Logger,
	config ChainConfig,
) handlers.Chain {
	ttls := map[models.State]time.Duration{
		models.StateSubmitted: config.SubmittedTimeout,
		models.StateRunning:   config.RunningTimeout,
	}

	return handlers.Chain{
		handlers.NewTimeoutHandler(ttls, clock, logger),
		handlers.NewQueueHandler(clock),
		handlers.NewPrepareHandler(workflows, logger),
		handlers.NewContainerHandler(r, logger, config.StatusTimeout),
		handlers.NewTerminationHandler(retry.NewExponential(config.BackoffInitial, config.BackoffMax), logger),
	}
}
