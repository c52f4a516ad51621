package main

import (
	"context"
	"fmt"

	"github.com/dukex/tideflow/pkg/cmd"
	"github.com/dukex/tideflow/pkg/config"
	"github.com/dukex/tideflow/pkg/log"
	"github.com/dukex/tideflow/pkg/services"
	"github.com/urfave/cli/v3"
)

func NewApplyCommand() *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "Create or update workflows from a YAML file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path of the workflows YAML file",
				Required: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule(serviceName).With("action", "apply")

			workflows, err := config.LoadWorkflows(command.String("file"))
			if err != nil {
				return err
			}

			telemetry, err := cmd.NewTelemetry(ctx, serviceName, false)
			if err != nil {
				return err
			}

			store, err := openPersistence(ctx, logger, command, telemetry)
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			service := services.NewWorkflow(store)

			for _, workflow := range workflows {
				_, created, err := service.Save(ctx, workflow)
				if err != nil {
					return fmt.Errorf("failed to apply %s: %w", workflow.ID.Key(), err)
				}

				logger.InfoContext(ctx, "Applied workflow", "workflow_id", workflow.ID.Key(), "created", created)
			}

			return nil
		},
	}
}
