package runner

import (
	"maps"
	"slices"
	"strings"

	"github.com/dukex/tideflow/pkg/models"
)

// ParameterPlaceholder is replaced by the instance parameter in every argument.
const ParameterPlaceholder = "{}"

// Environment variables injected into every execution. They take precedence over
// variables of the same name in the execution description.
const (
	EnvComponentID = "TIDEFLOW_COMPONENT_ID"
	EnvWorkflowID  = "TIDEFLOW_WORKFLOW_ID"
	EnvParameter   = "TIDEFLOW_PARAMETER"
	EnvExecutionID = "TIDEFLOW_EXECUTION_ID"
	EnvTriggerID   = "TIDEFLOW_TRIGGER_ID"
	EnvTriggerType = "TIDEFLOW_TRIGGER_TYPE"
	EnvCommitSha   = "TIDEFLOW_COMMIT_SHA"
)

// RunSpec is a fully resolved request to run one execution. It is built at
// submission time and never stored.
type RunSpec struct {
	ExecutionID        string
	ImageName          string
	Args               []string
	TerminationLogging bool
	Secret             *models.Secret
	ServiceAccount     *string
	Trigger            *models.Trigger
	CommitSha          *string
	Env                map[string]string
}

// BuildRunSpec resolves description against the instance of state.
func BuildRunSpec(executionID string, description models.ExecutionDescription, state models.RunState) RunSpec {
	return RunSpec{
		ExecutionID:        executionID,
		ImageName:          description.DockerImage,
		Args:               ArgsReplace(description.DockerArgs, state.Instance.Parameter),
		TerminationLogging: description.DockerTerminationLogging,
		Secret:             description.Secret,
		ServiceAccount:     description.ServiceAccount,
		Trigger:            state.Data.Trigger,
		CommitSha:          description.CommitSha,
		Env:                description.Env,
	}
}

// ArgsReplace substitutes the parameter for every placeholder in args.
func ArgsReplace(args []string, parameter string) []string {
	if len(args) == 0 {
		return nil
	}

	replaced := make([]string, len(args))
	for i, arg := range args {
		replaced[i] = strings.ReplaceAll(arg, ParameterPlaceholder, parameter)
	}

	return replaced
}

// Environment returns the execution environment: the description variables overlaid
// with the tideflow variables for instance.
func (s RunSpec) Environment(instance models.WorkflowInstance) map[string]string {
	env := make(map[string]string, len(s.Env)+7)
	maps.Copy(env, s.Env)

	env[EnvComponentID] = instance.Workflow.ComponentID
	env[EnvWorkflowID] = instance.Workflow.ID
	env[EnvParameter] = instance.Parameter
	env[EnvExecutionID] = s.ExecutionID

	if s.Trigger != nil {
		env[EnvTriggerID] = s.Trigger.ID
		env[EnvTriggerType] = string(s.Trigger.Type)
	}

	if s.CommitSha != nil {
		env[EnvCommitSha] = *s.CommitSha
	}

	return env
}

// SortedEnvironment returns Environment as KEY=VALUE pairs sorted by key.
func (s RunSpec) SortedEnvironment(instance models.WorkflowInstance) []string {
	env := s.Environment(instance)

	pairs := make([]string, 0, len(env))
	for _, key := range slices.Sorted(maps.Keys(env)) {
		pairs = append(pairs, key+"="+env[key])
	}

	return pairs
}
