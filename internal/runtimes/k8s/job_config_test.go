package k8s

import (
	"testing"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/config"
)

func TestBuildJobConfigDefaults(t *testing.T) {
	spec := abstractions.CommandSpec{
		Name:    "yolo",
		Args:    []string{"detect", "val"},
		Env:     map[string]string{"B": "2", "A": "1"},
		WorkDir: "runs",
		UseGPU:  true,
	}
	cfg, err := buildJobConfig(&config.K8sConfig{Namespace: "ml", Image: "ultralytics/ultralytics:latest"}, spec, "cmd-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.cpuRequest != defaultCPURequest || cfg.memoryRequest != defaultMemoryRequest {
		t.Fatalf("expected default requests, got %s %s", cfg.cpuRequest, cfg.memoryRequest)
	}
	if cfg.cpuLimit != defaultCPULimit || cfg.memoryLimit != defaultMemoryLimit {
		t.Fatalf("expected default limits, got %s %s", cfg.cpuLimit, cfg.memoryLimit)
	}
	if cfg.workDir != "/workspace/runs" {
		t.Fatalf("expected the work dir under the mount path, got %s", cfg.workDir)
	}
	if cfg.namespace != "ml" || !cfg.gpu || cfg.ttlSeconds != defaultJobTTLSeconds {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.env[0].Name != "A" || cfg.env[1].Name != "B" {
		t.Fatalf("expected the environment to be sorted, got %v", cfg.env)
	}
}

func TestBuildJobConfigMissingSection(t *testing.T) {
	if _, err := buildJobConfig(nil, abstractions.CommandSpec{Name: "yolo"}, "cmd-1"); err == nil {
		t.Fatalf("expected error for a missing k8s section")
	}
}

func TestBuildJobConfigMissingImage(t *testing.T) {
	if _, err := buildJobConfig(&config.K8sConfig{Namespace: "ml"}, abstractions.CommandSpec{Name: "yolo"}, "cmd-1"); err == nil {
		t.Fatalf("expected error for a missing image")
	}
}

func TestBuildJobConfigAbsoluteWorkDir(t *testing.T) {
	cfg, err := buildJobConfig(&config.K8sConfig{Namespace: "ml", Image: "img"}, abstractions.CommandSpec{Name: "yolo", WorkDir: "/data"}, "cmd-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.workDir != "/data" {
		t.Fatalf("expected /data, got %s", cfg.workDir)
	}
}
