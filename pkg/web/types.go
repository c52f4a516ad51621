package web

import "github.com/dukex/tideflow/pkg/models"

// WorkflowRequest is the body of PUT /workflows/:component/:id.
type WorkflowRequest struct {
	Schedule                 string            `json:"schedule"`
	DockerImage              string            `json:"docker_image"`
	DockerArgs               []string          `json:"docker_args,omitempty"`
	DockerTerminationLogging bool              `json:"docker_termination_logging"`
	Secret                   *models.Secret    `json:"secret,omitempty"`
	ServiceAccount           *string           `json:"service_account,omitempty"`
	CommitSha                *string           `json:"commit_sha,omitempty"`
	Env                      map[string]string `json:"env,omitempty"`
}

// ToWorkflow builds the workflow configuration identified by id.
func (r WorkflowRequest) ToWorkflow(id models.WorkflowID) *models.Workflow {
	return &models.Workflow{
		ID:                       id,
		Schedule:                 r.Schedule,
		DockerImage:              r.DockerImage,
		DockerArgs:               r.DockerArgs,
		DockerTerminationLogging: r.DockerTerminationLogging,
		Secret:                   r.Secret,
		ServiceAccount:           r.ServiceAccount,
		CommitSha:                r.CommitSha,
		Env:                      r.Env,
	}
}

// TriggerRequest is the optional body of POST .../trigger.
type TriggerRequest struct {
	Type models.TriggerType `json:"type"`
	ID   string             `json:"id"`
}
