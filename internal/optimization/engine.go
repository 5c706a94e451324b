package optimization

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/fsutil"
	"github.com/model-forge/model-forge/internal/graph"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/messages"
	"github.com/model-forge/model-forge/internal/pipelineerrors"
	"github.com/model-forge/model-forge/pkg/api"
)

// Engine shrinks portable graphs. Both of its operations either produce a
// rewritten graph with the same inputs and outputs or a copy of the input, so the
// pipeline always has a usable artifact at the output path.
type Engine struct {
	logger  *slog.Logger
	runtime abstractions.InferenceRuntime
}

func NewEngine(logger *slog.Logger, runtime abstractions.InferenceRuntime) *Engine {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	return &Engine{logger: logger, runtime: runtime}
}

func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	return &Engine{logger: logger, runtime: e.runtime}
}

// Optimize writes the optimized graph of in to outPath.
func (e *Engine) Optimize(ctx context.Context, in *api.Artifact, outPath string) (*api.Artifact, api.SizeReport, error) {
	return e.rewrite(ctx, api.StageOptimizing, in, outPath, e.runtime.OptimizeGraph)
}

// Quantize writes the quantized graph of in to outPath, in is the optimized graph.
func (e *Engine) Quantize(ctx context.Context, in *api.Artifact, outPath string) (*api.Artifact, api.SizeReport, error) {
	return e.rewrite(ctx, api.StageQuantizing, in, outPath, e.runtime.QuantizeGraph)
}

type rewriteFunc func(ctx context.Context, src string, dst string) error

func (e *Engine) rewrite(ctx context.Context, stage api.Stage, in *api.Artifact, outPath string, apply rewriteFunc) (*api.Artifact, api.SizeReport, error) {
	if sameFile(in.Path, outPath) {
		return nil, api.SizeReport{}, pipelineerrors.NewPipelineError(messages.OutputOverwritesInput, "Path", outPath).InStage(stage)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return e.fallback(ctx, stage, in, outPath, err)
	}

	if err := apply(ctx, in.Path, outPath); err != nil {
		return e.fallback(ctx, stage, in, outPath, err)
	}
	result, err := graph.Inspect(outPath)
	if err != nil {
		return e.fallback(ctx, stage, in, outPath, fmt.Errorf("the rewritten graph can not be read: %w", err))
	}
	if !in.SameSignature(result) {
		return e.fallback(ctx, stage, in, outPath, fmt.Errorf("the rewritten graph changed the inputs or outputs from %v -> %v to %v -> %v", in.Inputs, in.Outputs, result.Inputs, result.Outputs))
	}

	report := api.NewSizeReport(stage, in.SizeBytes, result.SizeBytes)
	e.logger.Info("Graph rewritten", "stage", stage, "path", outPath, "original_bytes", report.OriginalBytes, "result_bytes", report.ResultBytes, "reduction_percent", report.ReductionPercent)
	return result, report, nil
}

// fallback copies the input unchanged. Only a failing copy is returned as an error.
func (e *Engine) fallback(ctx context.Context, stage api.Stage, in *api.Artifact, outPath string, cause error) (*api.Artifact, api.SizeReport, error) {
	failure := failureMessage(stage)
	logging.LogStageDegraded(ctx, e.logger, stage, failure.GetKind(), messages.GetErrorMessage(failure, "Path", in.Path, "Error", cause.Error()))

	if err := fsutil.CloneFile(in.Path, outPath); err != nil {
		return nil, api.SizeReport{}, pipelineerrors.NewPipelineError(copyFailureMessage(stage), "Path", in.Path, "Destination", outPath, "Error", err.Error()).
			WithCause(err).InStage(stage).Escalate()
	}
	copied := *in
	copied.Path = outPath
	return &copied, api.FallbackSizeReport(stage, in.SizeBytes, cause.Error()), nil
}

func failureMessage(stage api.Stage) *messages.MessageCode {
	if stage == api.StageQuantizing {
		return messages.QuantizationFailed
	}
	return messages.OptimizationFailed
}

func copyFailureMessage(stage api.Stage) *messages.MessageCode {
	if stage == api.StageQuantizing {
		return messages.QuantizedCopyFailed
	}
	return messages.FallbackCopyFailed
}

func sameFile(a string, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
