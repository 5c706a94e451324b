package roboflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/pkg/api"
	"github.com/model-forge/model-forge/pkg/roboflowclient"
)

const DefaultFormat = "yolov8"

// Provider downloads dataset versions from Roboflow. A version that was already
// extracted into the destination is reused without contacting the API.
type Provider struct {
	logger *slog.Logger
	client *roboflowclient.Client
}

func NewProvider(logger *slog.Logger, conf *config.RoboflowConfig) (abstractions.DatasetProvider, error) {
	client := roboflowclient.NewClient("")
	if conf != nil {
		client = roboflowclient.NewClient(conf.BaseURL).WithAPIKey(conf.APIKey).WithTimeout(conf.HTTPTimeout)
		if conf.APIKey == "" {
			logger.Warn("No Roboflow API key is configured, only public datasets can be downloaded")
		}
	}
	return &Provider{logger: logger, client: client.WithLogger(logger)}, nil
}

// NewProviderWithClient is used when the client needs a custom transport
func NewProviderWithClient(logger *slog.Logger, client *roboflowclient.Client) abstractions.DatasetProvider {
	return &Provider{logger: logger, client: client.WithLogger(logger)}
}

func (p *Provider) Name() string {
	return "roboflow"
}

// Location is the directory a dataset version is extracted to, <project>-<version>
func Location(ref api.DatasetRef, destDir string) string {
	return filepath.Join(destDir, fmt.Sprintf("%s-%d", ref.Project, ref.Version))
}

func (p *Provider) Fetch(ctx context.Context, ref api.DatasetRef, destDir string) (string, error) {
	format := ref.Format
	if format == "" {
		format = DefaultFormat
	}
	location := Location(ref, destDir)
	logger := p.logger.With(constants.LOG_DATASET, ref.String())

	if _, err := os.Stat(filepath.Join(location, constants.DatasetManifestName)); err == nil {
		logger.Info("Dataset already downloaded", "location", location)
		return location, nil
	}

	client := p.client.WithContext(ctx)
	export, err := client.GetExport(ref.Workspace, ref.Project, ref.Version, format)
	if err != nil {
		return "", err
	}
	if err := client.DownloadTo(export, location); err != nil {
		// leave nothing half extracted behind, the next run would reuse it
		_ = os.RemoveAll(location)
		return "", err
	}
	logger.Info("Dataset downloaded", "location", location, "format", format)
	return location, nil
}
