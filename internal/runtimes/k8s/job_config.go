package k8s

// Contains the configuration logic that prepares the data needed by the builders
import (
	"fmt"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/pkg/api"
)

const (
	defaultCPURequest      = "2"
	defaultMemoryRequest   = "8Gi"
	defaultCPULimit        = "8"
	defaultMemoryLimit     = "32Gi"
	defaultGPUResourceName = "nvidia.com/gpu"
	defaultMountPath       = "/workspace"
	defaultNamespace       = "default"
	inClusterNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
)

type jobConfig struct {
	commandID       string
	command         string
	namespace       string
	image           string
	serviceAccount  string
	pvcName         string
	mountPath       string
	workDir         string
	args            []string
	env             []api.EnvVar
	cpuRequest      string
	memoryRequest   string
	cpuLimit        string
	memoryLimit     string
	gpu             bool
	gpuResourceName string
	ttlSeconds      int32
	jobPatch        string
}

func buildJobConfig(k8sConfig *config.K8sConfig, spec abstractions.CommandSpec, commandID string) (*jobConfig, error) {
	if k8sConfig == nil {
		return nil, fmt.Errorf("the k8s section is required to run commands as jobs")
	}
	if k8sConfig.Image == "" {
		return nil, fmt.Errorf("the job image is required")
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("the command name is required")
	}
	mountPath := defaultIfEmpty(k8sConfig.MountPath, defaultMountPath)
	workDir := mountPath
	if spec.WorkDir != "" {
		if path.IsAbs(spec.WorkDir) {
			workDir = spec.WorkDir
		} else {
			workDir = path.Join(mountPath, spec.WorkDir)
		}
	}
	ttl := defaultJobTTLSeconds
	if k8sConfig.TTLSecondsAfterFinished > 0 {
		ttl = k8sConfig.TTLSecondsAfterFinished
	}

	return &jobConfig{
		commandID:       commandID,
		command:         spec.Name,
		namespace:       resolveNamespace(k8sConfig.Namespace),
		image:           k8sConfig.Image,
		serviceAccount:  k8sConfig.ServiceAccount,
		pvcName:         k8sConfig.PVCName,
		mountPath:       mountPath,
		workDir:         workDir,
		args:            spec.Args,
		env:             sortedEnv(spec.Env),
		cpuRequest:      defaultIfEmpty(k8sConfig.CPURequest, defaultCPURequest),
		memoryRequest:   defaultIfEmpty(k8sConfig.MemoryRequest, defaultMemoryRequest),
		cpuLimit:        defaultIfEmpty(k8sConfig.CPULimit, defaultCPULimit),
		memoryLimit:     defaultIfEmpty(k8sConfig.MemoryLimit, defaultMemoryLimit),
		gpu:             spec.UseGPU,
		gpuResourceName: defaultIfEmpty(k8sConfig.GPUResourceName, defaultGPUResourceName),
		ttlSeconds:      ttl,
		jobPatch:        k8sConfig.JobPatch,
	}, nil
}

func sortedEnv(env map[string]string) []api.EnvVar {
	vars := make([]api.EnvVar, 0, len(env))
	for name, value := range env {
		vars = append(vars, api.EnvVar{Name: name, Value: value})
	}
	slices.SortFunc(vars, func(a, b api.EnvVar) int {
		return strings.Compare(a.Name, b.Name)
	})
	return vars
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func resolveNamespace(configured string) string {
	if configured != "" {
		return configured
	}
	inClusterNamespace := readInClusterNamespace()
	if inClusterNamespace != "" {
		return inClusterNamespace
	}
	return defaultNamespace
}

func readInClusterNamespace() string {
	content, err := os.ReadFile(inClusterNamespaceFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}
