package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/pkg/api"
)

// Provider serves a dataset that was staged on disk beforehand, the reference is
// only used for logging.
type Provider struct {
	logger *slog.Logger
	dir    string
}

func NewProvider(logger *slog.Logger, dir string) (abstractions.DatasetProvider, error) {
	if dir == "" {
		return nil, fmt.Errorf("the local dataset provider needs dataset.local_dir")
	}
	return &Provider{logger: logger, dir: dir}, nil
}

func (p *Provider) Name() string {
	return "local"
}

func (p *Provider) Fetch(ctx context.Context, ref api.DatasetRef, destDir string) (string, error) {
	info, err := os.Stat(p.dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", p.dir)
	}
	p.logger.Info("Using the staged dataset", constants.LOG_DATASET, ref.String(), "location", p.dir)
	return p.dir, nil
}
