// Package config loads workflow definitions from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/tideflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrDuplicateWorkflow is returned when a file defines the same workflow twice.
var ErrDuplicateWorkflow = errors.New("duplicate workflow")

// WorkflowsFile represents the structure of a workflows.yaml file:
//
//	component: billing
//	workflows:
//	  - id: daily-report
//	    schedule: daily
//	    docker_image: ghcr.io/acme/report:1.2.0
//	    docker_args: ["--date", "{}"]
type WorkflowsFile struct {
	// Component is the default component of every workflow in the file
	Component string         `yaml:"component"`
	Workflows []WorkflowFile `yaml:"workflows"`
}

// WorkflowFile represents one workflow in the YAML file.
type WorkflowFile struct {
	Component                string            `yaml:"component"`
	ID                       string            `yaml:"id"`
	Schedule                 string            `yaml:"schedule"`
	DockerImage              string            `yaml:"docker_image"`
	DockerArgs               []string          `yaml:"docker_args"`
	DockerTerminationLogging bool              `yaml:"docker_termination_logging"`
	Secret                   *SecretFile       `yaml:"secret"`
	ServiceAccount           string            `yaml:"service_account"`
	CommitSha                string            `yaml:"commit_sha"`
	Env                      map[string]string `yaml:"env"`
}

type SecretFile struct {
	Name      string `yaml:"name"`
	MountPath string `yaml:"mount_path"`
}

// LoadWorkflows reads workflow definitions from a YAML file.
func LoadWorkflows(path string) ([]*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return ParseWorkflows(data)
}

// ParseWorkflows decodes workflow definitions. Unknown keys are rejected so typos
// do not silently drop settings.
func ParseWorkflows(data []byte) ([]*models.Workflow, error) {
	var file WorkflowsFile

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(file.Workflows))
	seen := make(map[string]bool, len(file.Workflows))

	for _, entry := range file.Workflows {
		workflow := entry.toWorkflow(file.Component)

		key := workflow.ID.Key()
		if seen[key] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateWorkflow, key)
		}

		seen[key] = true

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (w WorkflowFile) toWorkflow(defaultComponent string) *models.Workflow {
	component := w.Component
	if component == "" {
		component = defaultComponent
	}

	workflow := &models.Workflow{
		ID:                       models.NewWorkflowID(component, w.ID),
		Schedule:                 w.Schedule,
		DockerImage:              w.DockerImage,
		DockerArgs:               w.DockerArgs,
		DockerTerminationLogging: w.DockerTerminationLogging,
		Env:                      w.Env,
	}

	if w.Secret != nil {
		workflow.Secret = &models.Secret{Name: w.Secret.Name, MountPath: w.Secret.MountPath}
	}

	if w.ServiceAccount != "" {
		serviceAccount := w.ServiceAccount
		workflow.ServiceAccount = &serviceAccount
	}

	if w.CommitSha != "" {
		commitSha := w.CommitSha
		workflow.CommitSha = &commitSha
	}

	return workflow
}
