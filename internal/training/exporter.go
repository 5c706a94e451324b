package training

import (
	"context"
	"errors"
	"log/slog"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/graph"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/messages"
	"github.com/model-forge/model-forge/internal/pipelineerrors"
	"github.com/model-forge/model-forge/pkg/api"
)

var errNoMetrics = errors.New("the backend returned no metrics")

type Exporter struct {
	logger  *slog.Logger
	backend abstractions.TrainingBackend
}

func NewExporter(logger *slog.Logger, backend abstractions.TrainingBackend) *Exporter {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	return &Exporter{logger: logger, backend: backend}
}

// Export converts the native model to the portable graph format and reads the
// metadata of the result. Failures are a fatal ExportFailure.
func (e *Exporter) Export(ctx context.Context, model *api.Artifact) (*api.Artifact, error) {
	if model == nil {
		return nil, pipelineerrors.NewPipelineError(messages.ExportFailed, "Path", "", "Error", "no model to export")
	}
	path, err := e.backend.ExportPortable(ctx, model)
	if err != nil {
		return nil, pipelineerrors.NewPipelineError(messages.ExportFailed, "Path", model.Path, "Error", err.Error()).WithCause(err)
	}
	artifact, err := graph.Inspect(path)
	if err != nil {
		return nil, pipelineerrors.NewPipelineError(messages.ExportFailed, "Path", model.Path, "Error", err.Error()).WithCause(err)
	}
	e.logger.Info("Model exported", "path", artifact.Path, "size_bytes", artifact.SizeBytes,
		"ir_version", artifact.IRVersion, "opset", artifact.OpsetVersion, "nodes", artifact.NodeCount)
	return artifact, nil
}
