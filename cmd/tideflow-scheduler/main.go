// Package main provides the tideflow scheduler: the dispatch loop that drives
// workflow instances through their lifecycle.
package main

import (
	"context"
	"os"

	"github.com/dukex/tideflow/pkg/dispatcher"
	"github.com/dukex/tideflow/pkg/handlers"
	"github.com/dukex/tideflow/pkg/retry"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "tideflow-scheduler",
		Usage:                 "Run workflow instances on a container backend",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewApplyCommand(),
			NewValidateCommand(),
			NewWatchCommand(),
		},
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:    "runner",
				Usage:   "Execution backend (docker, kubernetes)",
				Value:   "docker",
				Sources: cli.EnvVars("TIDEFLOW_RUNNER"),
			},
			&cli.StringFlag{
				Name:    "docker-network",
				Usage:   "Docker network mode for job containers",
				Sources: cli.EnvVars("TIDEFLOW_DOCKER_NETWORK"),
			},
			&cli.StringFlag{
				Name:    "kube-namespace",
				Usage:   "Kubernetes namespace for jobs",
				Value:   "default",
				Sources: cli.EnvVars("TIDEFLOW_KUBE_NAMESPACE"),
			},
			&cli.StringFlag{
				Name:    "kubeconfig",
				Usage:   "Path to a kubeconfig file (in-cluster configuration when empty)",
				Sources: cli.EnvVars("TIDEFLOW_KUBECONFIG", "KUBECONFIG"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "Time between dispatch ticks",
				Value:   dispatcher.DefaultTickInterval,
				Sources: cli.EnvVars("TIDEFLOW_TICK_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Instances processed in parallel per tick",
				Value:   dispatcher.DefaultConcurrency,
				Sources: cli.EnvVars("TIDEFLOW_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "status-timeout",
				Usage:   "Timeout of one job status call",
				Value:   handlers.DefaultStatusTimeout,
				Sources: cli.EnvVars("TIDEFLOW_STATUS_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "submitted-timeout",
				Usage:   "How long an instance may wait in SUBMITTED",
				Value:   handlers.DefaultSubmittedTimeout,
				Sources: cli.EnvVars("TIDEFLOW_SUBMITTED_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "running-timeout",
				Usage:   "How long an instance may stay RUNNING",
				Value:   handlers.DefaultRunningTimeout,
				Sources: cli.EnvVars("TIDEFLOW_RUNNING_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "backoff-initial",
				Usage:   "Retry delay after the first failure",
				Value:   retry.DefaultInitialDelay,
				Sources: cli.EnvVars("TIDEFLOW_BACKOFF_INITIAL"),
			},
			&cli.DurationFlag{
				Name:    "backoff-max",
				Usage:   "Upper bound of the retry delay",
				Value:   retry.DefaultMaxDelay,
				Sources: cli.EnvVars("TIDEFLOW_BACKOFF_MAX"),
			},
			&cli.BoolFlag{
				Name:    "schedule",
				Usage:   "Create instances from workflow schedules",
				Value:   true,
				Sources: cli.EnvVars("TIDEFLOW_SCHEDULE"),
			},
		),
		Action: RunScheduler,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL (file path, file://, postgres://, redis://)",
			Sources: cli.EnvVars("TIDEFLOW_DATABASE_URL", "DATABASE_URL"),
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
	}
}
