package main

import (
	"context"
	"fmt"

	"github.com/dukex/tideflow/pkg/cmd"
	"github.com/dukex/tideflow/pkg/eventbus"
	"github.com/dukex/tideflow/pkg/log"
	"github.com/urfave/cli/v3"
)

func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"w"},
		Usage:   "Log instance transitions published on the event bus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "consumer-group",
				Usage:   "Kafka consumer group of the watcher",
				Value:   "tideflow-watch",
				Sources: cli.EnvVars("TIDEFLOW_WATCH_CONSUMER_GROUP"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule(serviceName).With("action", "watch")

			ctx, stop := signalContext(ctx, logger)
			defer stop()

			bus, err := cmd.NewEventBus(command.String("event-bus"), logger,
				command.StringSlice("kafka-brokers"), command.String("consumer-group"))
			if err != nil {
				return err
			}

			defer closeEventBus(ctx, logger, bus)

			err = bus.Subscribe(ctx, func(ctx context.Context, transition eventbus.Transition) error {
				logger.InfoContext(ctx, "Transition",
					"instance", transition.Instance.Key(),
					"event_type", transition.Event.Event.GetType(),
					"from", transition.From,
					"to", transition.To,
					"counter", transition.Event.Counter,
					"timestamp", transition.Event.Timestamp)

				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to subscribe to transitions: %w", err)
			}

			logger.InfoContext(ctx, "Watching transitions", "event_bus", command.String("event-bus"))

			<-ctx.Done()

			return nil
		},
	}
}
