package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/tideflow/pkg/cmd"
	"github.com/dukex/tideflow/pkg/log"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

const (
	serviceName = "tideflow-api"
	defaultPort = 9091
)

func main() {
	cmd := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Configure workflows and inspect their instances",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("TIDEFLOW_PORT", "PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL (file path, file://, postgres://, redis://)",
				Required: true,
				Sources:  cli.EnvVars("TIDEFLOW_DATABASE_URL", "DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Transition event bus (none, gochannel, kafka)",
				Value:   "none",
				Sources: cli.EnvVars("TIDEFLOW_EVENT_BUS"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Sources: cli.EnvVars("TIDEFLOW_KAFKA_BROKERS", "KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("TIDEFLOW_LOG_LEVEL", "LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("TIDEFLOW_LOG_FORMAT"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TIDEFLOW_OTEL_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing tideflow API")

			telemetry, err := cmd.NewTelemetry(ctx, serviceName, command.Bool("otel-enabled"))
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), telemetry)
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger, command.StringSlice("kafka-brokers"), serviceName)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, eventBus, clockwork.NewRealClock(), telemetry.Meter)

			return api.Start(command.Int("port"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
