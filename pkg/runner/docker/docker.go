// Package docker runs executions as containers on a Docker Engine.
package docker

import (
	"context"
	"fmt"
	"log/slog"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/runner"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	LabelExecutionID = "io.tideflow.execution-id"
	LabelInstance    = "io.tideflow.instance"
	LabelComponent   = "io.tideflow.component-id"
	LabelWorkflow    = "io.tideflow.workflow-id"
)

// API is the subset of the Docker Engine client used by the runner.
type API interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Runner implements runner.Runner with one container per execution, named after the execution id.
type Runner struct {
	api         API
	logger      *slog.Logger
	networkMode string
}

// NewRunner connects to the Docker Engine configured by the DOCKER_* environment variables.
func NewRunner(logger *slog.Logger, networkMode string) (*Runner, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return NewRunnerWithAPI(api, logger, networkMode), nil
}

// NewRunnerWithAPI creates a runner on top of an existing client.
func NewRunnerWithAPI(api API, logger *slog.Logger, networkMode string) *Runner {
	return &Runner{
		api:         api,
		logger:      logger.With("runner", "docker"),
		networkMode: networkMode,
	}
}

func (r *Runner) Start(ctx context.Context, instance models.WorkflowInstance, spec runner.RunSpec) (string, error) {
	err := runner.ValidateImage(spec.ImageName)
	if err != nil {
		return "", err
	}

	if spec.Secret != nil || spec.ServiceAccount != nil {
		r.logger.DebugContext(ctx, "Secrets and service accounts are not supported by the docker runner",
			"instance", instance.Key(), "execution_id", spec.ExecutionID)
	}

	config := &container.Config{
		Image: spec.ImageName,
		Cmd:   spec.Args,
		Env:   spec.SortedEnvironment(instance),
		Labels: map[string]string{
			LabelExecutionID: spec.ExecutionID,
			LabelInstance:    instance.Key(),
			LabelComponent:   instance.Workflow.ComponentID,
			LabelWorkflow:    instance.Workflow.ID,
		},
	}

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(r.networkMode),
	}

	_, err = r.api.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.ExecutionID)

	switch {
	case err == nil:
	case cerrdefs.IsConflict(err):
		started, inspectErr := r.alreadyStarted(ctx, spec.ExecutionID)
		if inspectErr != nil {
			return "", inspectErr
		}

		if started {
			r.logger.InfoContext(ctx, "Container already started",
				"instance", instance.Key(), "execution_id", spec.ExecutionID)

			return spec.ExecutionID, nil
		}

		r.logger.InfoContext(ctx, "Container already exists, starting it",
			"instance", instance.Key(), "execution_id", spec.ExecutionID)
	case cerrdefs.IsNotFound(err):
		return "", runner.NewInvalidExecutionError("image not found "+spec.ImageName, err)
	case cerrdefs.IsInvalidArgument(err):
		return "", runner.NewInvalidExecutionError("container rejected", err)
	default:
		return "", fmt.Errorf("failed to create container %s: %w", spec.ExecutionID, err)
	}

	err = r.api.ContainerStart(ctx, spec.ExecutionID, container.StartOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", spec.ExecutionID, err)
	}

	return spec.ExecutionID, nil
}

// alreadyStarted reports whether the container left the created state. Starting
// an exited container would run the job a second time.
func (r *Runner) alreadyStarted(ctx context.Context, executionID string) (bool, error) {
	inspect, err := r.api.ContainerInspect(ctx, executionID)
	if err != nil {
		return false, fmt.Errorf("failed to inspect existing container %s: %w", executionID, err)
	}

	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return false, nil
	}

	return string(inspect.State.Status) != "created", nil
}

func (r *Runner) Status(ctx context.Context, executionID string) (*runner.JobStatus, error) {
	inspect, err := r.api.ContainerInspect(ctx, executionID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to inspect container %s: %w", executionID, err)
	}

	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return &runner.JobStatus{Phase: runner.PhasePending}, nil
	}

	return statusFromState(inspect.State), nil
}

func statusFromState(state *container.State) *runner.JobStatus {
	status := &runner.JobStatus{}

	if state.Error != "" {
		message := state.Error
		status.Error = &message
	}

	switch string(state.Status) {
	case "running", "paused", "restarting":
		status.Phase = runner.PhaseRunning
	case "exited", "dead":
		exitCode := state.ExitCode
		status.ExitCode = &exitCode

		if exitCode == 0 {
			status.Phase = runner.PhaseSucceeded
		} else {
			status.Phase = runner.PhaseFailed
		}
	default:
		status.Phase = runner.PhasePending
	}

	return status
}

func (r *Runner) Cleanup(ctx context.Context, instance models.WorkflowInstance, executionID string) error {
	err := r.api.ContainerRemove(ctx, executionID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s of %s: %w", executionID, instance.Key(), err)
	}

	return nil
}

func (r *Runner) Close() error {
	return r.api.Close()
}

var _ runner.Runner = (*Runner)(nil)

