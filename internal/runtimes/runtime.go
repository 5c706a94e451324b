package runtimes

import (
	"fmt"
	"log/slog"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/runtimes/k8s"
	"github.com/model-forge/model-forge/internal/runtimes/local"
)

// NewCommandRunner returns the runner selected by training.runtime, local when unset.
func NewCommandRunner(logger *slog.Logger, conf *config.Config) (abstractions.CommandRunner, error) {
	runtime := "local"
	if conf.Training != nil && conf.Training.Runtime != "" {
		runtime = conf.Training.Runtime
	}
	switch runtime {
	case "local":
		return local.NewLocalRunner(logger)
	case "k8s":
		return k8s.NewK8sRunner(logger, conf.K8s)
	default:
		return nil, fmt.Errorf("unknown training runtime %q", runtime)
	}
}
