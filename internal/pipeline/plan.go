package pipeline

import (
	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/pkg/api"
)

// TrainingPlan is the full build: dataset, training, evaluation, export,
// optimization, optional quantization and benchmark, then publishing.
func TrainingPlan(conf *config.Config) *api.Plan {
	plan := &api.Plan{
		Dataset:    conf.DatasetRef(),
		Training:   api.DefaultTrainingConfig(),
		PublishDir: constants.DefaultPublishDir,
	}
	if conf.Training != nil {
		plan.Training = conf.Training.TrainingConfig
	}
	if conf.Pipeline != nil {
		plan.Quantize = conf.Pipeline.Quantize
		plan.Benchmark = conf.Pipeline.Benchmark
		if conf.Pipeline.PublishDir != "" {
			plan.PublishDir = conf.Pipeline.PublishDir
		}
	}
	return plan
}

// OptimizePlan starts from an existing portable graph. The optimized and
// quantized paths are derived from output, nothing is published when publishDir is empty.
func OptimizePlan(model string, output string, quantize bool, benchmark bool, publishDir string) *api.Plan {
	if output == "" {
		output = constants.DefaultOutputModel
	}
	optimized, quantized := api.DeriveOutputPaths(output)
	return &api.Plan{
		InputModel:    model,
		OptimizedPath: optimized,
		QuantizedPath: quantized,
		Quantize:      quantize,
		Benchmark:     benchmark,
		PublishDir:    publishDir,
	}
}

// PlannedStages returns the stages the plan goes through, in order.
func PlannedStages(plan *api.Plan) []api.Stage {
	var stages []api.Stage
	if !plan.FromModel() {
		stages = append(stages, api.StageAcquiringDataset, api.StageTraining, api.StageEvaluating, api.StageExporting)
	}
	stages = append(stages, api.StageOptimizing)
	if plan.Quantize {
		stages = append(stages, api.StageQuantizing)
	}
	if plan.Benchmark {
		stages = append(stages, api.StageBenchmarking)
	}
	if plan.PublishDir != "" {
		stages = append(stages, api.StagePublishing)
	}
	return stages
}

// outputPaths returns the optimized and quantized paths of the current artifact
func outputPaths(plan *api.Plan, current *api.Artifact) (string, string) {
	optimized, quantized := api.DeriveOutputPaths(current.Path)
	if plan.OptimizedPath != "" {
		optimized = plan.OptimizedPath
	}
	if plan.QuantizedPath != "" {
		quantized = plan.QuantizedPath
	}
	return optimized, quantized
}
