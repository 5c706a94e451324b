package publish

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/internal/fsutil"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/messages"
	"github.com/model-forge/model-forge/internal/pipelineerrors"
	"github.com/model-forge/model-forge/pkg/api"
)

// Publisher copies the final artifact to the deployment directory as best<ext>.
// The file is replaced atomically so a reader never sees a partial model.
type Publisher struct {
	logger *slog.Logger
}

func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	return &Publisher{logger: logger}
}

// PublishedPath is the file the artifact is published as
func PublishedPath(artifact *api.Artifact, destDir string) string {
	return filepath.Join(destDir, constants.PublishedBaseName+artifact.Extension())
}

func (p *Publisher) Publish(ctx context.Context, artifact *api.Artifact, destDir string) (string, error) {
	if destDir == "" {
		destDir = constants.DefaultPublishDir
	}
	dst := PublishedPath(artifact, destDir)
	if err := fsutil.CopyFile(artifact.Path, dst, 0o644); err != nil {
		return "", pipelineerrors.NewPipelineError(messages.PublishFailed, "Path", artifact.Path, "Destination", destDir, "Error", err.Error()).WithCause(err)
	}
	p.logger.Info("Artifact published", constants.LOG_PATH, dst, "source", artifact.Path, "size_bytes", artifact.SizeBytes)
	return dst, nil
}
