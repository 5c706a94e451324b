package k8s

// Runs pipeline commands as Kubernetes jobs.
import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/config"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

const defaultPollInterval = 10 * time.Second

type K8sRunner struct {
	logger *slog.Logger
	helper *KubernetesHelper
	config *config.K8sConfig
	newID  func() string
}

// NewK8sRunner creates a command runner that runs every command as a job.
func NewK8sRunner(logger *slog.Logger, k8sConfig *config.K8sConfig) (abstractions.CommandRunner, error) {
	helper, err := NewKubernetesHelper()
	if err != nil {
		return nil, err
	}
	return &K8sRunner{logger: logger, helper: helper, config: k8sConfig, newID: uuid.NewString}, nil
}

func (r *K8sRunner) WithLogger(logger *slog.Logger) abstractions.CommandRunner {
	return &K8sRunner{
		logger: logger,
		helper: r.helper,
		config: r.config,
		newID:  r.newID,
	}
}

func (r *K8sRunner) Name() string {
	return "kubernetes"
}

// Run creates the job, waits for it to finish and returns the pod logs as the
// command output. Cancelling ctx deletes the job.
func (r *K8sRunner) Run(ctx context.Context, spec abstractions.CommandSpec) (*abstractions.CommandResult, error) {
	commandID := r.newID()
	jobConfig, err := buildJobConfig(r.config, spec, commandID)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", spec.Name, err)
	}
	job, err := buildJob(jobConfig)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", spec.Name, err)
	}
	logger := r.logger.With("command_id", commandID, "job_name", job.Name, "namespace", job.Namespace)
	logger.Info("kubernetes resource", "kind", "Job", "object", job)

	created, err := r.helper.CreateJob(ctx, job)
	if err != nil {
		logger.Error("kubernetes job create error", "error", err)
		return nil, fmt.Errorf("command %s: %w", spec.Name, err)
	}

	finished, err := r.waitForJob(ctx, created)
	if err != nil {
		// the context is usually done here so the delete gets its own
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if deleteErr := r.helper.DeleteJob(cleanupCtx, created.Namespace, created.Name); deleteErr != nil && !apierrors.IsNotFound(deleteErr) {
			logger.Error("failed to delete the job", "error", deleteErr)
		}
		return nil, fmt.Errorf("command %s: %w", spec.Name, err)
	}

	result := &abstractions.CommandResult{}
	pods, err := r.helper.ListJobPods(ctx, finished.Namespace, finished.Name)
	if err != nil {
		logger.Warn("failed to list the job pods", "error", err)
	}
	var logs bytes.Buffer
	for _, pod := range pods {
		podLogs, err := r.helper.GetPodLogs(ctx, pod.Namespace, pod.Name, commandContainerName)
		if err != nil {
			logger.Warn("failed to read the pod logs", "pod", pod.Name, "error", err)
			continue
		}
		logs.Write(podLogs)
		if code, ok := terminatedExitCode(&pod); ok && code != 0 {
			result.ExitCode = code
		}
	}
	result.Stdout = logs.Bytes()
	if jobFailed(finished) && result.ExitCode == 0 {
		result.ExitCode = 1
	}
	logger.Info("kubernetes job finished", "exit_code", result.ExitCode)
	return result, nil
}

func (r *K8sRunner) waitForJob(ctx context.Context, job *batchv1.Job) (*batchv1.Job, error) {
	interval := defaultPollInterval
	if r.config != nil && r.config.PollInterval > 0 {
		interval = r.config.PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		current, err := r.helper.GetJob(ctx, job.Namespace, job.Name)
		if err != nil {
			return nil, err
		}
		if jobSucceeded(current) || jobFailed(current) {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func jobSucceeded(job *batchv1.Job) bool {
	return job.Status.Succeeded > 0 || jobCondition(job, batchv1.JobComplete)
}

func jobFailed(job *batchv1.Job) bool {
	return job.Status.Failed > 0 || jobCondition(job, batchv1.JobFailed)
}

func jobCondition(job *batchv1.Job, conditionType batchv1.JobConditionType) bool {
	for _, condition := range job.Status.Conditions {
		if condition.Type == conditionType && condition.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func terminatedExitCode(pod *corev1.Pod) (int, bool) {
	for _, status := range pod.Status.ContainerStatuses {
		if status.Name == commandContainerName && status.State.Terminated != nil {
			return int(status.State.Terminated.ExitCode), true
		}
	}
	return 0, false
}
