// Package kubernetes runs executions as batch/v1 Jobs.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/tideflow/pkg/models"
	"github.com/dukex/tideflow/pkg/runner"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
)

const (
	LabelExecutionID      = "tideflow.io/execution-id"
	AnnotationInstance    = "tideflow.io/instance"
	AnnotationComponentID = "tideflow.io/component-id"
	AnnotationWorkflowID  = "tideflow.io/workflow-id"
	AnnotationParameter   = "tideflow.io/parameter"

	// MainContainer is the name of the container running the workflow image.
	MainContainer = "main"

	secretVolume = "tideflow-secret"

	DefaultTTLAfterFinished = 24 * time.Hour
)

// waitingFailures are container waiting reasons that will not resolve on their own.
var waitingFailures = map[string]bool{
	"ErrImagePull":               true,
	"ImagePullBackOff":           true,
	"InvalidImageName":           true,
	"ErrImageNeverPull":          true,
	"CreateContainerConfigError": true,
	"CreateContainerError":       true,
}

type Config struct {
	// Namespace the jobs are created in
	Namespace string

	// Kubeconfig is the path of a kubeconfig file; in-cluster configuration is used when empty
	Kubeconfig string

	// TTLAfterFinished is how long finished jobs are kept by Kubernetes when cleanup does not run
	TTLAfterFinished time.Duration
}

// Runner implements runner.Runner with one Job per execution, named after the execution id.
type Runner struct {
	client    kubernetes.Interface
	logger    *slog.Logger
	namespace string
	ttl       time.Duration
}

// NewRunner builds a clientset from config and returns a runner using it.
func NewRunner(logger *slog.Logger, config Config) (*Runner, error) {
	var (
		restConfig *rest.Config
		err        error
	)

	if config.Kubeconfig == "" {
		restConfig, err = rest.InClusterConfig()
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", config.Kubeconfig)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes configuration: %w", err)
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return NewRunnerWithClient(client, logger, config), nil
}

// NewRunnerWithClient creates a runner on top of an existing clientset.
func NewRunnerWithClient(client kubernetes.Interface, logger *slog.Logger, config Config) *Runner {
	namespace := config.Namespace
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}

	ttl := config.TTLAfterFinished
	if ttl <= 0 {
		ttl = DefaultTTLAfterFinished
	}

	return &Runner{
		client:    client,
		logger:    logger.With("runner", "kubernetes", "namespace", namespace),
		namespace: namespace,
		ttl:       ttl,
	}
}

func (r *Runner) Start(ctx context.Context, instance models.WorkflowInstance, spec runner.RunSpec) (string, error) {
	err := runner.ValidateImage(spec.ImageName)
	if err != nil {
		return "", err
	}

	_, err = r.client.BatchV1().Jobs(r.namespace).Create(ctx, r.buildJob(instance, spec), metav1.CreateOptions{})

	switch {
	case err == nil:
	case apierrors.IsAlreadyExists(err):
		r.logger.InfoContext(ctx, "Job already exists", "instance", instance.Key(), "execution_id", spec.ExecutionID)
	case apierrors.IsInvalid(err):
		return "", runner.NewInvalidExecutionError("job rejected", err)
	default:
		return "", fmt.Errorf("failed to create job %s: %w", spec.ExecutionID, err)
	}

	return spec.ExecutionID, nil
}

func (r *Runner) buildJob(instance models.WorkflowInstance, spec runner.RunSpec) *batchv1.Job {
	podLabels := map[string]string{LabelExecutionID: spec.ExecutionID}
	annotations := map[string]string{
		AnnotationInstance:    instance.Key(),
		AnnotationComponentID: instance.Workflow.ComponentID,
		AnnotationWorkflowID:  instance.Workflow.ID,
		AnnotationParameter:   instance.Parameter,
	}

	env := spec.Environment(instance)
	keys := make([]string, 0, len(env))

	for key := range env {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	envVars := make([]corev1.EnvVar, 0, len(keys))
	for _, key := range keys {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: env[key]})
	}

	// with termination logging the log tail stands in for a missing termination file
	terminationPolicy := corev1.TerminationMessageReadFile
	if spec.TerminationLogging {
		terminationPolicy = corev1.TerminationMessageFallbackToLogsOnError
	}

	mainContainer := corev1.Container{
		Name:                     MainContainer,
		Image:                    spec.ImageName,
		Args:                     spec.Args,
		Env:                      envVars,
		TerminationMessagePolicy: terminationPolicy,
	}

	podSpec := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
	}

	if spec.ServiceAccount != nil {
		podSpec.ServiceAccountName = *spec.ServiceAccount
	}

	if spec.Secret != nil {
		podSpec.Volumes = []corev1.Volume{{
			Name: secretVolume,
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: spec.Secret.Name},
			},
		}}
		mainContainer.VolumeMounts = []corev1.VolumeMount{{
			Name:      secretVolume,
			MountPath: spec.Secret.MountPath,
			ReadOnly:  true,
		}}
	}

	podSpec.Containers = []corev1.Container{mainContainer}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        spec.ExecutionID,
			Namespace:   r.namespace,
			Labels:      podLabels,
			Annotations: annotations,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr.To[int32](0),
			TTLSecondsAfterFinished: ptr.To(int32(r.ttl.Seconds())),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels, Annotations: annotations},
				Spec:       podSpec,
			},
		},
	}
}

func (r *Runner) Status(ctx context.Context, executionID string) (*runner.JobStatus, error) {
	job, err := r.client.BatchV1().Jobs(r.namespace).Get(ctx, executionID, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get job %s: %w", executionID, err)
	}

	selector := labels.SelectorFromSet(labels.Set{LabelExecutionID: executionID})

	pods, err := r.client.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods of job %s: %w", executionID, err)
	}

	if len(pods.Items) == 0 {
		return jobStatusWithoutPod(job), nil
	}

	latest := pods.Items[0]
	for _, pod := range pods.Items[1:] {
		if pod.CreationTimestamp.After(latest.CreationTimestamp.Time) {
			latest = pod
		}
	}

	r.logTerminationMessage(ctx, executionID, &latest)

	return podStatus(&latest), nil
}

// logTerminationMessage reports what a failed main container left as its
// termination message: the termination file, or its log tail when termination
// logging is enabled.
func (r *Runner) logTerminationMessage(ctx context.Context, executionID string, pod *corev1.Pod) {
	for _, status := range pod.Status.ContainerStatuses {
		terminated := status.State.Terminated
		if status.Name != MainContainer || terminated == nil || terminated.ExitCode == 0 || terminated.Message == "" {
			continue
		}

		r.logger.InfoContext(ctx, "Container failed",
			"execution_id", executionID,
			"pod", pod.Name,
			"exit_code", terminated.ExitCode,
			"termination_message", terminated.Message)
	}
}

func jobStatusWithoutPod(job *batchv1.Job) *runner.JobStatus {
	for _, condition := range job.Status.Conditions {
		if condition.Type == batchv1.JobFailed && condition.Status == corev1.ConditionTrue {
			message := condition.Reason + ": " + condition.Message

			return &runner.JobStatus{Phase: runner.PhaseFailed, Error: &message}
		}
	}

	return &runner.JobStatus{Phase: runner.PhasePending}
}

func podStatus(pod *corev1.Pod) *runner.JobStatus {
	for _, status := range pod.Status.ContainerStatuses {
		if status.Name != MainContainer {
			continue
		}

		switch {
		case status.State.Terminated != nil:
			exitCode := int(status.State.Terminated.ExitCode)
			phase := runner.PhaseFailed

			if exitCode == 0 {
				phase = runner.PhaseSucceeded
			}

			return &runner.JobStatus{Phase: phase, ExitCode: &exitCode}
		case status.State.Waiting != nil && waitingFailures[status.State.Waiting.Reason]:
			message := status.State.Waiting.Reason + ": " + status.State.Waiting.Message

			return &runner.JobStatus{Phase: runner.PhasePending, Error: &message}
		case status.State.Running != nil:
			return &runner.JobStatus{Phase: runner.PhaseRunning}
		}
	}

	switch pod.Status.Phase {
	case corev1.PodRunning:
		return &runner.JobStatus{Phase: runner.PhaseRunning}
	case corev1.PodFailed:
		message := "Pod failed"
		if pod.Status.Reason != "" {
			message = pod.Status.Reason + ": " + pod.Status.Message
		}

		return &runner.JobStatus{Phase: runner.PhaseFailed, Error: &message}
	default:
		return &runner.JobStatus{Phase: runner.PhasePending}
	}
}

func (r *Runner) Cleanup(ctx context.Context, instance models.WorkflowInstance, executionID string) error {
	err := r.client.BatchV1().Jobs(r.namespace).Delete(ctx, executionID, metav1.DeleteOptions{
		PropagationPolicy: ptr.To(metav1.DeletePropagationBackground),
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete job %s of %s: %w", executionID, instance.Key(), err)
	}

	return nil
}

func (r *Runner) Close() error {
	return nil
}

var _ runner.Runner = (*Runner)(nil)
