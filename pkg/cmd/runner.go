package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/tideflow/pkg/runner"
	"github.com/dukex/tideflow/pkg/runner/docker"
	"github.com/dukex/tideflow/pkg/runner/kubernetes"
)

// RunnerConfig selects and configures the execution backend.
type RunnerConfig struct {
	// Kind is "docker" or "kubernetes"
	Kind string

	DockerNetwork string
	Kubernetes    kubernetes.Config
}

// NewRunner creates the execution backend named by config.Kind.
func NewRunner(logger *slog.Logger, config RunnerConfig) (runner.Runner, error) {
	switch config.Kind {
	case "docker":
		r, err := docker.NewRunner(logger, config.DockerNetwork)
		if err != nil {
			return nil, err
		}

		return r, nil
	case "kubernetes", "k8s":
		r, err := kubernetes.NewRunner(logger, config.Kubernetes)
		if err != nil {
			return nil, err
		}

		return r, nil
	default:
		return nil, fmt.Errorf("unsupported runner: %s", config.Kind)
	}
}
