package models

// TriggerType tells what caused an instance to be created.
type TriggerType string

const (
	TriggerTypeNatural  TriggerType = "natural"  // created by the workflow schedule
	TriggerTypeBackfill TriggerType = "backfill" // created by a backfill over past parameters
	TriggerTypeAdhoc    TriggerType = "adhoc"    // created on demand by an operator
	TriggerTypeUnknown  TriggerType = "unknown"
)

// Trigger records who or what caused a run.
type Trigger struct {
	Type TriggerType `json:"type" validate:"required,oneof=natural backfill adhoc unknown"`
	ID   string      `json:"id"   validate:"required"`
}

// NewTrigger creates a trigger of the given type.
func NewTrigger(triggerType TriggerType, id string) Trigger {
	return Trigger{Type: triggerType, ID: id}
}

// Secret references a pre-provisioned secret mounted into the container.
type Secret struct {
	Name      string `json:"name"       validate:"required"`
	MountPath string `json:"mount_path" validate:"required,startswith=/"`
}

// ExecutionDescription describes how to run one instance. It is attached to the run
// state before submission and never modified afterwards.
type ExecutionDescription struct {
	// DockerImage is the container image reference
	DockerImage string `json:"docker_image" validate:"required,docker_image"`

	// DockerArgs is the argument template; "{}" is replaced by the instance parameter
	DockerArgs []string `json:"docker_args,omitempty"`

	// DockerTerminationLogging makes the backend keep the container log tail as the termination message
	DockerTerminationLogging bool `json:"docker_termination_logging"`

	Secret         *Secret           `json:"secret,omitempty"`
	ServiceAccount *string           `json:"service_account,omitempty"`
	CommitSha      *string           `json:"commit_sha,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
}
