package training

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/messages"
	"github.com/model-forge/model-forge/internal/validation"
	"github.com/model-forge/model-forge/pkg/api"
)

type Evaluator struct {
	logger   *slog.Logger
	backend  abstractions.TrainingBackend
	devices  abstractions.DeviceManager
	validate *validator.Validate
	device   api.DeviceKind
	workers  int
}

func NewEvaluator(logger *slog.Logger, backend abstractions.TrainingBackend, devices abstractions.DeviceManager, validate *validator.Validate, device api.DeviceKind, workers int) *Evaluator {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	return &Evaluator{logger: logger, backend: backend, devices: devices, validate: validate, device: device, workers: workers}
}

// Evaluate returns the quality metrics of the model on the held-out split. It
// never fails the pipeline: errors and out of range metrics give nil.
func (e *Evaluator) Evaluate(ctx context.Context, model *api.Artifact, ds *api.DatasetDescriptor) *api.PerformanceMetrics {
	metrics, err := e.evaluate(ctx, model, ds)
	if err != nil {
		path := ""
		if model != nil {
			path = model.Path
		}
		logging.LogStageDegraded(ctx, e.logger, api.StageEvaluating, api.ErrorKindEvaluationFailure,
			messages.GetErrorMessage(messages.EvaluationFailed, "Path", path, "Error", err.Error()))
		return nil
	}
	e.logger.Info("Model evaluated", "map50", metrics.MAP50, "map50_95", metrics.MAP50_95, "precision", metrics.Precision, "recall", metrics.Recall)
	return metrics
}

func (e *Evaluator) evaluate(ctx context.Context, model *api.Artifact, ds *api.DatasetDescriptor) (*api.PerformanceMetrics, error) {
	resources, release, err := e.devices.Acquire(ctx, e.device, e.workers)
	if err != nil {
		return nil, err
	}
	defer release()

	metrics, err := e.backend.Evaluate(ctx, model, ds, resources)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		return nil, errNoMetrics
	}
	if e.validate != nil {
		if err := validation.Struct(ctx, e.logger, e.validate, metrics); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}
