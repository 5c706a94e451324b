package providers

import (
	"fmt"
	"log/slog"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/providers/local"
	"github.com/model-forge/model-forge/internal/providers/roboflow"
)

// NewDatasetProvider returns the provider selected by dataset.provider, roboflow when unset.
func NewDatasetProvider(logger *slog.Logger, conf *config.Config) (abstractions.DatasetProvider, error) {
	if conf.Dataset == nil {
		return nil, fmt.Errorf("the dataset section is missing from the configuration")
	}
	provider := conf.Dataset.Provider
	if provider == "" {
		provider = "roboflow"
	}
	switch provider {
	case "roboflow":
		return roboflow.NewProvider(logger, conf.Dataset.Roboflow)
	case "local":
		return local.NewProvider(logger, conf.Dataset.LocalDir)
	default:
		return nil, fmt.Errorf("unknown dataset provider %q", provider)
	}
}
