package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/tideflow/pkg/cmd"
	"github.com/dukex/tideflow/pkg/dispatcher"
	"github.com/dukex/tideflow/pkg/eventbus"
	"github.com/dukex/tideflow/pkg/log"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/runner"
	"github.com/dukex/tideflow/pkg/runner/kubernetes"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const serviceName = "tideflow-scheduler"

var errDatabaseURLRequired = errors.New("--database-url is required")

// RunScheduler wires persistence, the execution backend and the event bus into a
// dispatcher and runs it until SIGINT or SIGTERM.
func RunScheduler(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule(serviceName)

	ctx, stop := signalContext(ctx, logger)
	defer stop()

	telemetry, err := cmd.NewTelemetry(ctx, serviceName, command.Bool("otel-enabled"))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := openPersistence(ctx, logger, command, telemetry)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	r, err := cmd.NewRunner(logger, cmd.RunnerConfig{
		Kind:          command.String("runner"),
		DockerNetwork: command.String("docker-network"),
		Kubernetes: kubernetes.Config{
			Namespace:  command.String("kube-namespace"),
			Kubeconfig: command.String("kubeconfig"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	defer closeRunner(ctx, logger, r)

	bus, err := cmd.NewEventBus(command.String("event-bus"), logger, command.StringSlice("kafka-brokers"), serviceName)
	if err != nil {
		return err
	}

	defer closeEventBus(ctx, logger, bus)

	clock := clockwork.NewRealClock()
	chain := cmd.NewHandlerChain(store, r, clock, logger, cmd.ChainConfig{
		StatusTimeout:    command.Duration("status-timeout"),
		SubmittedTimeout: command.Duration("submitted-timeout"),
		RunningTimeout:   command.Duration("running-timeout"),
		BackoffInitial:   command.Duration("backoff-initial"),
		BackoffMax:       command.Duration("backoff-max"),
	})

	d, err := dispatcher.New(store, chain, bus, clock, logger, telemetry.Meter, dispatcher.Config{
		TickInterval: command.Duration("tick-interval"),
		Concurrency:  command.Int("concurrency"),
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	logger.InfoContext(ctx, "Initializing tideflow scheduler",
		"runner", command.String("runner"), "event_bus", command.String("event-bus"))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return d.Run(groupCtx) })

	if command.Bool("schedule") {
		trigger := dispatcher.NewScheduleTrigger(store, d, clock, logger, command.Duration("tick-interval"))
		group.Go(func() error { return trigger.Run(groupCtx) })
	}

	return group.Wait()
}

func openPersistence(ctx context.Context, logger *slog.Logger, command *cli.Command, telemetry *cmd.Telemetry) (persistence.Persistence, error) {
	databaseURL := command.String("database-url")
	if databaseURL == "" {
		return nil, errDatabaseURLRequired
	}

	return cmd.NewPersistence(ctx, logger, databaseURL, telemetry)
}

// signalContext is cancelled on SIGINT or SIGTERM so every loop can drain.
func signalContext(ctx context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-signals:
			logger.InfoContext(ctx, "Received signal, shutting down gracefully", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}

func closeRunner(ctx context.Context, logger *slog.Logger, r runner.Runner) {
	if err := r.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close runner", "error", err)
	}
}

func closeEventBus(ctx context.Context, logger *slog.Logger, bus eventbus.EventBus) {
	if err := bus.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}
}
