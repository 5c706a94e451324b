package api

import (
	"fmt"
	"time"
)

// Stage is the cursor of the pipeline state machine
type Stage string

const (
	StageIdle             Stage = "idle"
	StageAcquiringDataset Stage = "acquiring_dataset"
	StageTraining         Stage = "training"
	StageEvaluating       Stage = "evaluating"
	StageExporting        Stage = "exporting"
	StageOptimizing       Stage = "optimizing"
	StageQuantizing       Stage = "quantizing"
	StageBenchmarking     Stage = "benchmarking"
	StagePublishing       Stage = "publishing"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

func (s Stage) String() string {
	return string(s)
}

func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Status is the outcome of a pipeline run
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func GetStatus(s string) (Status, error) {
	switch s {
	case string(StatusRunning):
		return StatusRunning, nil
	case string(StatusSuccess):
		return StatusSuccess, nil
	case string(StatusFailed):
		return StatusFailed, nil
	default:
		return Status(s), fmt.Errorf("invalid status: %s", s)
	}
}

// ErrorKind classifies pipeline errors, see Fatal for the propagation policy
type ErrorKind string

const (
	ErrorKindDatasetUnavailable   ErrorKind = "DatasetUnavailable"
	ErrorKindModelNotFound        ErrorKind = "ModelNotFound"
	ErrorKindTrainingFailure      ErrorKind = "TrainingFailure"
	ErrorKindEvaluationFailure    ErrorKind = "EvaluationFailure"
	ErrorKindExportFailure        ErrorKind = "ExportFailure"
	ErrorKindOptimizationFailure  ErrorKind = "OptimizationFailure"
	ErrorKindQuantizationFailure  ErrorKind = "QuantizationFailure"
	ErrorKindBenchmarkFailure     ErrorKind = "BenchmarkFailure"
	ErrorKindPublishFailure       ErrorKind = "PublishFailure"
	ErrorKindConfigurationFailure ErrorKind = "ConfigurationFailure"
)

// Fatal reports whether errors of this kind stop the pipeline. Optimization and
// quantization degrade to a copy, evaluation and benchmarking omit their result.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrorKindOptimizationFailure, ErrorKindQuantizationFailure,
		ErrorKindEvaluationFailure, ErrorKindBenchmarkFailure:
		return false
	default:
		return true
	}
}

// FailureInfo is attached to a failed run
type FailureInfo struct {
	Kind          ErrorKind    `json:"kind"`
	Stage         Stage        `json:"stage"`
	LastCompleted Stage        `json:"last_completed"`
	Message       *MessageInfo `json:"message,omitempty"`
}

// Plan selects the stages of a run. A plan with an InputModel starts from an
// existing portable graph and skips dataset acquisition, training, evaluation and export.
type Plan struct {
	Dataset       DatasetRef     `json:"dataset"`
	Training      TrainingConfig `json:"training"`
	InputModel    string         `json:"input_model,omitempty"`
	OptimizedPath string         `json:"optimized_path,omitempty"`
	QuantizedPath string         `json:"quantized_path,omitempty"`
	Quantize      bool           `json:"quantize"`
	Benchmark     bool           `json:"benchmark"`
	PublishDir    string         `json:"publish_dir,omitempty"`
}

// FromModel reports whether the plan starts from an existing model.
func (p *Plan) FromModel() bool {
	return p.InputModel != ""
}

// PipelineContext is the state threaded through one run. Only the orchestrator
// mutates it, between stages.
type PipelineContext struct {
	RunID         string              `json:"run_id"`
	Stage         Stage               `json:"stage"`
	LastCompleted Stage               `json:"last_completed"`
	Status        Status              `json:"status"`
	Dataset       *DatasetDescriptor  `json:"dataset,omitempty"`
	Training      *TrainingConfig     `json:"training,omitempty"`
	Current       *Artifact           `json:"current,omitempty"`
	History       []*Artifact         `json:"history,omitempty"`
	Metrics       *PerformanceMetrics `json:"metrics,omitempty"`
	Latency       *LatencyReport      `json:"latency,omitempty"`
	SizeReports   []SizeReport        `json:"size_reports,omitempty"`
	PublishedPath string              `json:"published_path,omitempty"`
	Failure       *FailureInfo        `json:"failure,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
}

// NewPipelineContext creates the context of a new run in the idle state.
func NewPipelineContext(runID string) *PipelineContext {
	return &PipelineContext{
		RunID:         runID,
		Stage:         StageIdle,
		LastCompleted: StageIdle,
		Status:        StatusRunning,
		StartedAt:     time.Now(),
	}
}

// SetCurrent replaces the current artifact, keeping the previous one in the history.
func (c *PipelineContext) SetCurrent(artifact *Artifact) {
	c.Current = artifact
	c.History = append(c.History, artifact)
}

// PipelineReport is emitted once at the end of every run
type PipelineReport struct {
	RunID           string              `json:"run_id"`
	Status          Status              `json:"status"`
	LastCompleted   Stage               `json:"last_completed"`
	Failure         *FailureInfo        `json:"failure,omitempty"`
	FinalArtifact   *Artifact           `json:"final_artifact,omitempty"`
	PublishedPath   string              `json:"published_path,omitempty"`
	Metrics         *PerformanceMetrics `json:"metrics,omitempty"`
	SizeReports     []SizeReport        `json:"size_reports,omitempty"`
	Latency         *LatencyReport      `json:"latency,omitempty"`
	DurationSeconds float64             `json:"duration_seconds"`
}

// Report builds the final report from the context.
func (c *PipelineContext) Report() *PipelineReport {
	return &PipelineReport{
		RunID:           c.RunID,
		Status:          c.Status,
		LastCompleted:   c.LastCompleted,
		Failure:         c.Failure,
		FinalArtifact:   c.Current,
		PublishedPath:   c.PublishedPath,
		Metrics:         c.Metrics,
		SizeReports:     c.SizeReports,
		Latency:         c.Latency,
		DurationSeconds: time.Since(c.StartedAt).Seconds(),
	}
}

// PipelineRunResource is a run as stored in the run store
type PipelineRunResource struct {
	Resource
	Status        Status              `json:"status"`
	Stage         Stage               `json:"stage"`
	Plan          *Plan               `json:"plan,omitempty"`
	Failure       *FailureInfo        `json:"failure,omitempty"`
	FinalArtifact *Artifact           `json:"final_artifact,omitempty"`
	PublishedPath string              `json:"published_path,omitempty"`
	Metrics       *PerformanceMetrics `json:"metrics,omitempty"`
	SizeReports   []SizeReport        `json:"size_reports,omitempty"`
	Events        []StageEvent        `json:"events,omitempty"`
}

// StageOutcome is the outcome of one stage
type StageOutcome string

const (
	OutcomeStarted   StageOutcome = "started"
	OutcomeCompleted StageOutcome = "completed"
	OutcomeDegraded  StageOutcome = "degraded"
	OutcomeSkipped   StageOutcome = "skipped"
	OutcomeFailed    StageOutcome = "failed"
)

// StageEvent is one transition of a stored run
type StageEvent struct {
	Stage     Stage        `json:"stage"`
	Outcome   StageOutcome `json:"outcome"`
	Message   string       `json:"message,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// PipelineRunResourceList represents a page of stored runs
type PipelineRunResourceList struct {
	Page
	Items []PipelineRunResource `json:"items"`
}
