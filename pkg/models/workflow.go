package models

import "time"

// Workflow is the configuration of a recurring job. Instances of a workflow are
// created per parameter and executed with the ExecutionDescription derived from it.
type Workflow struct {
	ID WorkflowID `json:"id" validate:"required"`

	// Schedule is a well-known name (hourly, daily, weekly, monthly, yearly) or a 5-field cron expression
	Schedule string `json:"schedule" validate:"required,schedule"`

	DockerImage              string            `json:"docker_image"               validate:"required,docker_image"`
	DockerArgs               []string          `json:"docker_args,omitempty"`
	DockerTerminationLogging bool              `json:"docker_termination_logging"`
	Secret                   *Secret           `json:"secret,omitempty"`
	ServiceAccount           *string           `json:"service_account,omitempty"  validate:"omitempty,min=1"`
	CommitSha                *string           `json:"commit_sha,omitempty"       validate:"omitempty,hexadecimal,len=40"`
	Env                      map[string]string `json:"env,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionDescription derives the description used to run instances of the workflow.
// Slices and maps are copied so the description stays independent of later edits.
func (w *Workflow) ExecutionDescription() ExecutionDescription {
	description := ExecutionDescription{
		DockerImage:              w.DockerImage,
		DockerTerminationLogging: w.DockerTerminationLogging,
		ServiceAccount:           w.ServiceAccount,
		CommitSha:                w.CommitSha,
	}

	if len(w.DockerArgs) > 0 {
		description.DockerArgs = append([]string(nil), w.DockerArgs...)
	}

	if w.Secret != nil {
		secret := *w.Secret
		description.Secret = &secret
	}

	if len(w.Env) > 0 {
		description.Env = make(map[string]string, len(w.Env))
		for k, v := range w.Env {
			description.Env[k] = v
		}
	}

	return description
}
