package k8s

// Contains the builder functions that construct Kubernetes objects
import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	jsonpatch "gopkg.in/evanphx/json-patch.v4"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	maxK8sNameLength                = 63
	defaultJobTTLSeconds            = int32(3600)
	commandContainerName            = "command"
	workspaceVolumeName             = "workspace"
	shmVolumeName                   = "dshm"
	shmMountPath                    = "/dev/shm"
	jobPrefix                       = "forge-"
	envCommandIDName                = "COMMAND_ID"
	defaultAllowPrivilegeEscalation = false
	defaultRunAsUser                = int64(1000)
	defaultRunAsGroup               = int64(1000)
	labelAppKey                     = "app"
	labelComponentKey               = "component"
	labelCommandIDKey               = "command_id"
	labelCommandKey                 = "command"
	labelJobNameKey                 = "job-name"
	labelAppValue                   = "model-forge"
	labelComponentValue             = "pipeline-command"
	capabilityDropAll               = "ALL"
)

var dnsLabelSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

func sanitizeDNS1123Label(value string) string {
	safe := strings.ToLower(value)
	safe = dnsLabelSanitizer.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, "-")
	if safe == "" {
		return "x"
	}
	return safe
}

func buildK8sName(command, commandID string) string {
	name := jobPrefix + sanitizeDNS1123Label(command) + "-" + sanitizeDNS1123Label(commandID)
	if len(name) > maxK8sNameLength {
		name = strings.Trim(name[:maxK8sNameLength], "-")
	}
	return name
}

func jobName(command, commandID string) string {
	return buildK8sName(command, commandID)
}

func jobLabels(command, commandID string) map[string]string {
	return map[string]string{
		labelAppKey:       labelAppValue,
		labelComponentKey: labelComponentValue,
		labelCommandIDKey: sanitizeDNS1123Label(commandID),
		labelCommandKey:   sanitizeDNS1123Label(command),
	}
}

func buildJob(cfg *jobConfig) (*batchv1.Job, error) {
	if cfg.image == "" {
		return nil, fmt.Errorf("job image is required")
	}
	labels := jobLabels(cfg.command, cfg.commandID)
	ttl := cfg.ttlSeconds
	if ttl <= 0 {
		ttl = defaultJobTTLSeconds
	}
	// failures of training commands are not transient, they are never retried
	backoff := int32(0)

	resources, err := buildResources(cfg)
	if err != nil {
		return nil, err
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName(cfg.command, cfg.commandID),
			Namespace: cfg.namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: cfg.serviceAccount,
					Containers: []corev1.Container{
						{
							Name:            commandContainerName,
							Image:           cfg.image,
							ImagePullPolicy: corev1.PullIfNotPresent,
							Command:         buildContainerCommand(cfg.command, cfg.args),
							WorkingDir:      cfg.workDir,
							Env:             buildEnvVars(cfg),
							Resources:       resources,
							SecurityContext: defaultSecurityContext(),
							VolumeMounts:    buildVolumeMounts(cfg),
						},
					},
					Volumes: buildVolumes(cfg),
				},
			},
		},
	}
	if cfg.jobPatch != "" {
		return applyJobPatch(job, cfg.jobPatch)
	}
	return job, nil
}

// applyJobPatch applies an RFC 6902 JSON patch to the job, it is used for cluster
// specific settings such as tolerations and node selectors.
func applyJobPatch(job *batchv1.Job, patchJSON string) (*batchv1.Job, error) {
	patch, err := jsonpatch.DecodePatch([]byte(patchJSON))
	if err != nil {
		return nil, fmt.Errorf("decode job patch: %w", err)
	}
	original, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	patched, err := patch.Apply(original)
	if err != nil {
		return nil, fmt.Errorf("apply job patch: %w", err)
	}
	result := &batchv1.Job{}
	if err := json.Unmarshal(patched, result); err != nil {
		return nil, fmt.Errorf("unmarshal patched job: %w", err)
	}
	return result, nil
}

func buildContainerCommand(command string, args []string) []string {
	parts := []string{strings.TrimSpace(command)}
	for _, arg := range args {
		item := strings.TrimSpace(arg)
		if item == "" {
			continue
		}
		parts = append(parts, item)
	}
	return parts
}

func buildVolumeMounts(cfg *jobConfig) []corev1.VolumeMount {
	mounts := []corev1.VolumeMount{
		{
			Name:      shmVolumeName,
			MountPath: shmMountPath,
		},
	}
	if cfg.pvcName != "" {
		mounts = append(mounts, corev1.VolumeMount{
			Name:      workspaceVolumeName,
			MountPath: cfg.mountPath,
		})
	}
	return mounts
}

func buildVolumes(cfg *jobConfig) []corev1.Volume {
	volumes := []corev1.Volume{
		{
			// data loader workers exchange batches through shared memory
			Name: shmVolumeName,
			VolumeSource: corev1.VolumeSource{
				EmptyDir: &corev1.EmptyDirVolumeSource{Medium: corev1.StorageMediumMemory},
			},
		},
	}
	if cfg.pvcName != "" {
		volumes = append(volumes, corev1.Volume{
			Name: workspaceVolumeName,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: cfg.pvcName},
			},
		})
	}
	return volumes
}

func defaultSecurityContext() *corev1.SecurityContext {
	return &corev1.SecurityContext{
		AllowPrivilegeEscalation: boolPtr(defaultAllowPrivilegeEscalation),
		RunAsNonRoot:             boolPtr(true),
		RunAsUser:                int64Ptr(defaultRunAsUser),
		RunAsGroup:               int64Ptr(defaultRunAsGroup),
		Capabilities: &corev1.Capabilities{
			Drop: []corev1.Capability{
				capabilityDropAll,
			},
		},
		SeccompProfile: &corev1.SeccompProfile{
			Type: corev1.SeccompProfileTypeRuntimeDefault,
		},
	}
}

func boolPtr(value bool) *bool {
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func buildEnvVars(cfg *jobConfig) []corev1.EnvVar {
	env := []corev1.EnvVar{{Name: envCommandIDName, Value: cfg.commandID}}
	seen := map[string]bool{envCommandIDName: true}
	for _, item := range cfg.env {
		if item.Name == "" || seen[item.Name] {
			continue
		}
		seen[item.Name] = true
		env = append(env, corev1.EnvVar{Name: item.Name, Value: item.Value})
	}
	return env
}

func buildResources(cfg *jobConfig) (corev1.ResourceRequirements, error) {
	resources := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{},
		Limits:   corev1.ResourceList{},
	}
	quantities := []struct {
		value string
		what  string
		list  corev1.ResourceList
		name  corev1.ResourceName
	}{
		{cfg.cpuRequest, "cpu request", resources.Requests, corev1.ResourceCPU},
		{cfg.memoryRequest, "memory request", resources.Requests, corev1.ResourceMemory},
		{cfg.cpuLimit, "cpu limit", resources.Limits, corev1.ResourceCPU},
		{cfg.memoryLimit, "memory limit", resources.Limits, corev1.ResourceMemory},
	}
	for _, q := range quantities {
		if q.value == "" {
			continue
		}
		quantity, err := resource.ParseQuantity(q.value)
		if err != nil {
			return corev1.ResourceRequirements{}, fmt.Errorf("parse %s: %w", q.what, err)
		}
		q.list[q.name] = quantity
	}
	if cfg.gpu {
		resources.Limits[corev1.ResourceName(cfg.gpuResourceName)] = resource.MustParse("1")
	}
	if len(resources.Requests) == 0 {
		resources.Requests = nil
	}
	if len(resources.Limits) == 0 {
		resources.Limits = nil
	}
	return resources, nil
}
