package dataset

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/internal/messages"
	"github.com/model-forge/model-forge/internal/pipelineerrors"
	"github.com/model-forge/model-forge/pkg/api"
)

// Acquirer fetches a dataset version through the provider and checks that it is
// usable for training. It never retries.
type Acquirer struct {
	logger   *slog.Logger
	provider abstractions.DatasetProvider
	destDir  string
}

func NewAcquirer(logger *slog.Logger, provider abstractions.DatasetProvider, destDir string) *Acquirer {
	if destDir == "" {
		destDir = constants.DefaultDatasetsDir
	}
	return &Acquirer{logger: logger, provider: provider, destDir: destDir}
}

func (a *Acquirer) Acquire(ctx context.Context, ref api.DatasetRef) (*api.DatasetDescriptor, error) {
	logger := a.logger.With(constants.LOG_DATASET, ref.String(), "provider", a.provider.Name())

	format, err := api.GetDatasetFormat(formatOrDefault(ref.Format))
	if err != nil {
		return nil, pipelineerrors.NewPipelineError(messages.DatasetUnavailable, "Dataset", ref.String(), "Error", err.Error()).WithCause(err)
	}
	if err := os.MkdirAll(a.destDir, 0o755); err != nil {
		return nil, pipelineerrors.NewPipelineError(messages.DatasetUnavailable, "Dataset", ref.String(), "Error", err.Error()).WithCause(err)
	}

	location, err := a.provider.Fetch(ctx, ref, a.destDir)
	if err != nil {
		logger.Error("Dataset download failed", constants.LOG_ERROR, err.Error())
		return nil, pipelineerrors.NewPipelineError(messages.DatasetUnavailable, "Dataset", ref.String(), "Error", err.Error()).WithCause(err)
	}
	return Describe(location, format)
}

// Describe builds the descriptor of a dataset directory from its manifest.
func Describe(location string, format api.DatasetFormat) (*api.DatasetDescriptor, error) {
	manifestPath := filepath.Join(location, constants.DatasetManifestName)
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, pipelineerrors.NewPipelineError(messages.DatasetManifestMissing, "Location", location, "Manifest", constants.DatasetManifestName).WithCause(err)
	}
	manifest, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, pipelineerrors.NewPipelineError(messages.DatasetManifestInvalid, "Manifest", manifestPath, "Error", err.Error()).WithCause(err)
	}
	return &api.DatasetDescriptor{
		Location:      location,
		ManifestPath:  manifestPath,
		Format:        format,
		ClassCount:    manifest.ClassCount,
		ClassNames:    manifest.ClassNames,
		ValidationDir: validationDir(location, manifest),
	}, nil
}

// CheckManifest verifies that a descriptor still points at a dataset with a manifest
func CheckManifest(descriptor *api.DatasetDescriptor) error {
	if descriptor == nil {
		return os.ErrNotExist
	}
	_, err := os.Stat(descriptor.ManifestPath)
	return err
}

// validationDir resolves the validation images. The manifest path is tried first,
// both against the dataset root and against the manifest's path key, then the
// split names used by the common exporters.
func validationDir(location string, manifest *Manifest) string {
	var candidates []string
	if manifest.Val != "" {
		if filepath.IsAbs(manifest.Val) {
			candidates = append(candidates, manifest.Val)
		} else {
			candidates = append(candidates, filepath.Join(location, manifest.Val))
			if manifest.Path != "" {
				candidates = append(candidates, filepath.Join(manifest.Path, manifest.Val))
			}
			// Roboflow writes ../valid/images relative to the train split
			candidates = append(candidates, filepath.Join(location, "train", manifest.Val))
		}
	}
	candidates = append(candidates,
		filepath.Join(location, "valid", "images"),
		filepath.Join(location, "val", "images"),
	)
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}

func formatOrDefault(format string) string {
	if format == "" {
		return "yolov8"
	}
	return format
}
