package config

import (
	"time"

	"github.com/model-forge/model-forge/pkg/api"
)

type Config struct {
	Pipeline     *PipelineConfig     `mapstructure:"pipeline"`
	Dataset      *DatasetConfig      `mapstructure:"dataset"`
	Training     *TrainingConfig     `mapstructure:"training"`
	K8s          *K8sConfig          `mapstructure:"k8s,omitempty"`
	Optimization *OptimizationConfig `mapstructure:"optimization"`
	Benchmark    *BenchmarkConfig    `mapstructure:"benchmark"`
	Inference    *InferenceConfig    `mapstructure:"inference"`
	Database     *map[string]any     `mapstructure:"database,omitempty"`
	MLFlow       *MLFlowConfig       `mapstructure:"mlflow,omitempty"`
	Metrics      *MetricsConfig      `mapstructure:"metrics,omitempty"`
	Tracing      *TracingConfig      `mapstructure:"tracing,omitempty"`
}

type PipelineConfig struct {
	Version         string `mapstructure:"version,omitempty"`
	Build           string `mapstructure:"build,omitempty"`
	BuildDate       string `mapstructure:"build_date,omitempty"`
	PublishDir      string `mapstructure:"publish_dir"`
	Quantize        bool   `mapstructure:"quantize"`
	Benchmark       bool   `mapstructure:"benchmark"`
	TerminationFile string `mapstructure:"termination_file"`
}

type DatasetConfig struct {
	Provider  string          `mapstructure:"provider" validate:"oneof=roboflow local"`
	Workspace string          `mapstructure:"workspace"`
	Project   string          `mapstructure:"project"`
	Version   int             `mapstructure:"version"`
	Format    string          `mapstructure:"format"`
	Dir       string          `mapstructure:"dir"`
	LocalDir  string          `mapstructure:"local_dir"`
	Roboflow  *RoboflowConfig `mapstructure:"roboflow,omitempty"`
}

type RoboflowConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// TrainingConfig holds the training run parameters plus the way the backend commands are executed.
type TrainingConfig struct {
	Runtime            string `mapstructure:"runtime" validate:"oneof=local k8s"`
	Command            string `mapstructure:"command"`
	api.TrainingConfig `mapstructure:",squash"`
}

type K8sConfig struct {
	Namespace               string        `mapstructure:"namespace"`
	Image                   string        `mapstructure:"image"`
	ServiceAccount          string        `mapstructure:"service_account"`
	PVCName                 string        `mapstructure:"pvc_name"`
	MountPath               string        `mapstructure:"mount_path"`
	CPURequest              string        `mapstructure:"cpu_request"`
	MemoryRequest           string        `mapstructure:"memory_request"`
	CPULimit                string        `mapstructure:"cpu_limit"`
	MemoryLimit             string        `mapstructure:"memory_limit"`
	GPUResourceName         string        `mapstructure:"gpu_resource_name"`
	TTLSecondsAfterFinished int32         `mapstructure:"ttl_seconds_after_finished"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	JobPatch                string        `mapstructure:"job_patch"`
}

type OptimizationConfig struct {
	QuantizeMinElements int  `mapstructure:"quantize_min_elements"`
	VerifyWithRuntime   bool `mapstructure:"verify_with_runtime"`
}

type BenchmarkConfig struct {
	Seed       int64   `mapstructure:"seed"`
	InputShape []int64 `mapstructure:"input_shape"`
}

type InferenceConfig struct {
	SharedLibraryPath string `mapstructure:"shared_library_path"`
}

type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter" validate:"omitempty,oneof=stdout otlp-http otlp-grpc"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Events      bool    `mapstructure:"events"`
}

// DatasetRef returns the dataset identifiers of the training plan.
func (c *Config) DatasetRef() api.DatasetRef {
	if c.Dataset == nil {
		return api.DatasetRef{}
	}
	return api.DatasetRef{
		Workspace: c.Dataset.Workspace,
		Project:   c.Dataset.Project,
		Version:   c.Dataset.Version,
		Format:    c.Dataset.Format,
	}
}

// IsDatabaseConfigured reports whether the run store has been configured.
func (c *Config) IsDatabaseConfigured() bool {
	return c.Database != nil && len(*c.Database) > 0
}

// IsMLFlowConfigured reports whether runs are tracked in MLflow.
func (c *Config) IsMLFlowConfigured() bool {
	return c.MLFlow != nil && c.MLFlow.TrackingURI != ""
}
