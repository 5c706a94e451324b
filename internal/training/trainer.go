package training

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/internal/dataset"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/messages"
	"github.com/model-forge/model-forge/internal/pipelineerrors"
	"github.com/model-forge/model-forge/internal/validation"
	"github.com/model-forge/model-forge/pkg/api"
)

// Trainer runs the training backend with the device claimed for the whole run.
type Trainer struct {
	logger   *slog.Logger
	backend  abstractions.TrainingBackend
	devices  abstractions.DeviceManager
	validate *validator.Validate
}

func NewTrainer(logger *slog.Logger, backend abstractions.TrainingBackend, devices abstractions.DeviceManager, validate *validator.Validate) *Trainer {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	return &Trainer{logger: logger, backend: backend, devices: devices, validate: validate}
}

// Train produces a native model from the dataset. Every failure is a fatal
// TrainingFailure.
func (t *Trainer) Train(ctx context.Context, ds *api.DatasetDescriptor, config *api.TrainingConfig) (*api.Artifact, error) {
	if config == nil {
		return nil, pipelineerrors.NewPipelineError(messages.TrainingConfigInvalid, "Error", "no training configuration")
	}
	logger := t.logger.With(constants.LOG_RUN_NAME, config.RunName)

	if err := dataset.CheckManifest(ds); err != nil {
		return nil, pipelineerrors.NewPipelineError(messages.TrainingFailed, "RunName", config.RunName, "Error", fmt.Sprintf("the dataset manifest is missing: %s", err.Error())).WithCause(err)
	}
	bound := *config
	if bound.DatasetLocation == "" {
		bound = bound.WithDataset(ds.Location)
	}
	if t.validate != nil {
		if err := validation.Struct(ctx, logger, t.validate, &bound); err != nil {
			return nil, pipelineerrors.NewPipelineError(messages.TrainingConfigInvalid, "Error", err.Error()).WithCause(err)
		}
	}

	resources, release, err := t.devices.Acquire(ctx, bound.Device, bound.WorkerCount)
	if err != nil {
		return nil, pipelineerrors.NewPipelineError(messages.TrainingFailed, "RunName", bound.RunName, "Error", err.Error()).WithCause(err)
	}
	defer release()

	logger.Info("Training started", "backend", t.backend.Name(), "device", resources.Device, "device_name", resources.DeviceName,
		"epochs", bound.Epochs, "image_size", bound.ImageSize, "batch_size", bound.BatchSize, "classes", ds.ClassCount)
	artifact, err := t.backend.Train(ctx, &bound, resources)
	if err != nil {
		return nil, pipelineerrors.NewPipelineError(messages.TrainingFailed, "RunName", bound.RunName, "Error", err.Error()).WithCause(err)
	}
	if artifact == nil || artifact.Path == "" {
		return nil, pipelineerrors.NewPipelineError(messages.TrainingFailed, "RunName", bound.RunName, "Error", "the backend returned no model")
	}
	if artifact.GraphFormat == "" {
		c := *artifact
		c.GraphFormat = api.GraphFormatNative
		artifact = &c
	}
	return artifact, nil
}
