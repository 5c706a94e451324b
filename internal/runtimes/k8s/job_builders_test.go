package k8s

import (
	"testing"

	"github.com/model-forge/model-forge/pkg/api"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

func sampleJobConfig() *jobConfig {
	return &jobConfig{
		commandID:       "cmd-123",
		command:         "yolo",
		namespace:       "ml",
		image:           "ultralytics/ultralytics:latest",
		pvcName:         "workspace",
		mountPath:       "/workspace",
		workDir:         "/workspace",
		args:            []string{"detect", "train", " ", "epochs=100"},
		env:             []api.EnvVar{{Name: "YOLO_OFFLINE", Value: "1"}},
		cpuRequest:      "2",
		memoryRequest:   "8Gi",
		gpuResourceName: defaultGPUResourceName,
	}
}

func TestBuildK8sNameSanitizes(t *testing.T) {
	name := buildK8sName("Yolo_Detect", "ABC.123")
	if name != "forge-yolo-detect-abc-123" {
		t.Fatalf("expected sanitized name %q, got %q", "forge-yolo-detect-abc-123", name)
	}
}

func TestBuildK8sNameTruncates(t *testing.T) {
	name := buildK8sName("yolo", "0f8fad5b-d9cb-469f-a165-70867728950e-0f8fad5b-d9cb-469f")
	if len(name) > maxK8sNameLength {
		t.Fatalf("expected at most %d characters, got %d", maxK8sNameLength, len(name))
	}
}

func TestBuildJobRequiresImage(t *testing.T) {
	cfg := sampleJobConfig()
	cfg.image = ""
	if _, err := buildJob(cfg); err == nil {
		t.Fatalf("expected error for missing image")
	}
}

func TestBuildJobCommandAndWorkspace(t *testing.T) {
	job, err := buildJob(sampleJobConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if *job.Spec.BackoffLimit != 0 {
		t.Fatalf("expected no retries, got %d", *job.Spec.BackoffLimit)
	}
	container := job.Spec.Template.Spec.Containers[0]
	expected := []string{"yolo", "detect", "train", "epochs=100"}
	if len(container.Command) != len(expected) {
		t.Fatalf("expected command %v, got %v", expected, container.Command)
	}
	for i := range expected {
		if container.Command[i] != expected[i] {
			t.Fatalf("expected command %v, got %v", expected, container.Command)
		}
	}
	if container.WorkingDir != "/workspace" {
		t.Fatalf("expected working dir /workspace, got %s", container.WorkingDir)
	}
	foundClaim := false
	for _, volume := range job.Spec.Template.Spec.Volumes {
		if volume.PersistentVolumeClaim != nil && volume.PersistentVolumeClaim.ClaimName == "workspace" {
			foundClaim = true
		}
	}
	if !foundClaim {
		t.Fatalf("expected the workspace claim to be mounted")
	}
	if container.Env[0].Name != envCommandIDName || container.Env[0].Value != "cmd-123" {
		t.Fatalf("expected the command id first in the environment, got %v", container.Env)
	}
}

func TestBuildJobSecurityContext(t *testing.T) {
	job, err := buildJob(sampleJobConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	securityContext := job.Spec.Template.Spec.Containers[0].SecurityContext
	if securityContext == nil {
		t.Fatalf("expected security context to be set")
	}
	if securityContext.RunAsNonRoot == nil || !*securityContext.RunAsNonRoot {
		t.Fatalf("expected RunAsNonRoot to be true")
	}
	if securityContext.AllowPrivilegeEscalation == nil || *securityContext.AllowPrivilegeEscalation {
		t.Fatalf("expected AllowPrivilegeEscalation to be false")
	}
	if len(securityContext.Capabilities.Drop) != 1 || securityContext.Capabilities.Drop[0] != capabilityDropAll {
		t.Fatalf("expected all capabilities to be dropped")
	}
}

func TestBuildJobGPULimit(t *testing.T) {
	cfg := sampleJobConfig()
	cfg.gpu = true
	job, err := buildJob(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	limits := job.Spec.Template.Spec.Containers[0].Resources.Limits
	gpus, ok := limits[corev1.ResourceName(defaultGPUResourceName)]
	if !ok || !gpus.Equal(resource.MustParse("1")) {
		t.Fatalf("expected one GPU in the limits, got %v", limits)
	}
}

func TestBuildJobWithoutGPUHasNoGPULimit(t *testing.T) {
	job, err := buildJob(sampleJobConfig())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := job.Spec.Template.Spec.Containers[0].Resources.Limits[corev1.ResourceName(defaultGPUResourceName)]; ok {
		t.Fatalf("expected no GPU limit")
	}
}

func TestBuildJobInvalidQuantity(t *testing.T) {
	cfg := sampleJobConfig()
	cfg.memoryRequest = "lots"
	if _, err := buildJob(cfg); err == nil {
		t.Fatalf("expected error for an invalid memory request")
	}
}

func TestBuildJobAppliesPatch(t *testing.T) {
	cfg := sampleJobConfig()
	cfg.jobPatch = `[
		{"op": "add", "path": "/spec/template/spec/nodeSelector", "value": {"accelerator": "a10g"}},
		{"op": "replace", "path": "/spec/template/spec/containers/0/imagePullPolicy", "value": "Always"}
	]`
	job, err := buildJob(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if job.Spec.Template.Spec.NodeSelector["accelerator"] != "a10g" {
		t.Fatalf("expected the node selector to be patched, got %v", job.Spec.Template.Spec.NodeSelector)
	}
	if job.Spec.Template.Spec.Containers[0].ImagePullPolicy != corev1.PullAlways {
		t.Fatalf("expected the pull policy to be patched")
	}
}

func TestBuildJobInvalidPatch(t *testing.T) {
	cfg := sampleJobConfig()
	cfg.jobPatch = `[{"op": "remove", "path": "/spec/does/not/exist"}]`
	if _, err := buildJob(cfg); err == nil {
		t.Fatalf("expected error for a patch that does not apply")
	}
}
