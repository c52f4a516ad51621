package main

import (
	"context"
	"fmt"

	"github.com/dukex/tideflow/pkg/cmd"
	"github.com/dukex/tideflow/pkg/log"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate stored workflow configurations",
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule(serviceName).With("action", "validate")

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

			workflows, err := store.Workflows(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch workflows: %w", err)
			}

			logger.InfoContext(ctx, "Validating workflows", "workflows", len(workflows))

			invalid := validateWorkflows(workflows, models.NewValidator())

			fmt.Printf("\nValidation Summary:\n")
			fmt.Printf("  Total workflows: %d\n", len(workflows))
			fmt.Printf("  Valid workflows: %d\n", len(workflows)-invalid)
			fmt.Printf("  Invalid workflows: %d\n", invalid)

			if invalid > 0 {
				return fmt.Errorf("found %d invalid workflows", invalid)
			}

			fmt.Println("All workflows are valid! ✅")

			return nil
		},
	}
}

// validateWorkflows prints one line per workflow and returns how many are invalid.
func validateWorkflows(workflows []*models.Workflow, validate *validator.Validate) int {
	fmt.Println("Workflow Validation Results:")
	fmt.Println("============================")

	invalid := 0

	for _, workflow := range workflows {
		fmt.Printf("\nWorkflow: %s (%s)\n", workflow.ID.Key(), workflow.Schedule)

		err := validate.Struct(workflow)
		if err != nil {
			fmt.Printf("    ❌ INVALID: %v\n", err)
			invalid++

			continue
		}

		fmt.Printf("    ✅ VALID\n")
	}

	return invalid
}
