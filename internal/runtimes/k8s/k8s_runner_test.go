package k8s

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/config"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

const testNamespace = "ml"

func newTestRunner(clientset *fake.Clientset) *K8sRunner {
	return &K8sRunner{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		helper: &KubernetesHelper{clientset: clientset},
		config: &config.K8sConfig{Namespace: testNamespace, Image: "ultralytics/ultralytics:latest", PollInterval: 5 * time.Millisecond},
		newID:  func() string { return "cmd-1" },
	}
}

func finishedPod(exitCode int32) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "forge-yolo-cmd-1-abcde",
			Namespace: testNamespace,
			Labels:    map[string]string{labelJobNameKey: "forge-yolo-cmd-1"},
		},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{
				Name:  commandContainerName,
				State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: exitCode}},
			}},
		},
	}
}

func reactWithJobStatus(clientset *fake.Clientset, status batchv1.JobStatus) {
	clientset.PrependReactor("get", "jobs", func(action k8stesting.Action) (bool, k8sruntime.Object, error) {
		get := action.(k8stesting.GetAction)
		return true, &batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{Name: get.GetName(), Namespace: get.GetNamespace()},
			Status:     status,
		}, nil
	})
}

func TestK8sRunnerName(t *testing.T) {
	runner := &K8sRunner{}
	if runner.Name() != "kubernetes" {
		t.Fatalf("expected Name to be kubernetes")
	}
}

func TestRunReturnsPodLogs(t *testing.T) {
	clientset := fake.NewSimpleClientset(finishedPod(0))
	reactWithJobStatus(clientset, batchv1.JobStatus{Succeeded: 1})

	result, err := newTestRunner(clientset).Run(context.Background(), abstractions.CommandSpec{Name: "yolo", Args: []string{"detect", "val"}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
	if !strings.Contains(string(result.Stdout), "fake logs") {
		t.Fatalf("expected the pod logs as stdout, got %q", result.Stdout)
	}
	job, err := clientset.Tracker().Get(batchv1.SchemeGroupVersion.WithResource("jobs"), testNamespace, "forge-yolo-cmd-1")
	if err != nil {
		t.Fatalf("expected the job to be created, got %v", err)
	}
	if job.(*batchv1.Job).Spec.Template.Spec.Containers[0].Command[0] != "yolo" {
		t.Fatalf("expected the job to run yolo")
	}
}

func TestRunReportsFailedJobExitCode(t *testing.T) {
	clientset := fake.NewSimpleClientset(finishedPod(2))
	reactWithJobStatus(clientset, batchv1.JobStatus{Failed: 1})

	result, err := newTestRunner(clientset).Run(context.Background(), abstractions.CommandSpec{Name: "yolo"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ExitCode != 2 {
		t.Fatalf("expected exit code 2, got %d", result.ExitCode)
	}
}

func TestRunFailedJobWithoutPodsIsNonZero(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	reactWithJobStatus(clientset, batchv1.JobStatus{Conditions: []batchv1.JobCondition{{Type: batchv1.JobFailed, Status: corev1.ConditionTrue}}})

	result, err := newTestRunner(clientset).Run(context.Background(), abstractions.CommandSpec{Name: "yolo"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ExitCode == 0 {
		t.Fatalf("expected a non zero exit code")
	}
}

func TestRunDeletesJobWhenCancelled(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	reactWithJobStatus(clientset, batchv1.JobStatus{Active: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := newTestRunner(clientset).Run(ctx, abstractions.CommandSpec{Name: "yolo"}); err == nil {
		t.Fatalf("expected an error for a cancelled command")
	}
	deleted := false
	for _, action := range clientset.Actions() {
		if action.GetVerb() == "delete" && action.GetResource().Resource == "jobs" {
			deleted = true
		}
	}
	if !deleted {
		t.Fatalf("expected the job to be deleted")
	}
}

func TestRunReturnsCreateErrors(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	clientset.PrependReactor("create", "jobs", func(action k8stesting.Action) (bool, k8sruntime.Object, error) {
		return true, nil, fmt.Errorf("job create failed")
	})
	if _, err := newTestRunner(clientset).Run(context.Background(), abstractions.CommandSpec{Name: "yolo"}); err == nil {
		t.Fatalf("expected error, got nil")
	}
}
