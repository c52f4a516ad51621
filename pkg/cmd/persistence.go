// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/persistence/file"
	"github.com/dukex/tideflow/pkg/persistence/postgresql"
	"github.com/dukex/tideflow/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql", "redis", "rediss"}

// NewPersistence opens the backend selected by the URL scheme and decorates it
// with tracing and metrics. Plain paths use the file backend.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, telemetry *Telemetry) (persistence.Persistence, error) {
	var (
		backend persistence.Persistence
		err     error
	)

	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		backend, err = postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis", "rediss":
		backend, err = redis.NewPersistence(ctx, logger, databaseURL)
	default:
		backend = file.NewPersistence(databaseURL)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	instrumented, err := persistence.NewInstrumented(backend, telemetry.Tracer, telemetry.Meter)
	if err != nil {
		_ = backend.Close(ctx)

		return nil, err
	}

	return instrumented, nil
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)
	if len(parts) < 2 {
		return "file"
	}

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
