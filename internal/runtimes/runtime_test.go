package runtimes_test

import (
	"testing"

	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/runtimes"
)

func TestNewCommandRunner(t *testing.T) {
	logger := logging.FallbackLogger()

	t.Run("the local runner is the default", func(t *testing.T) {
		runner, err := runtimes.NewCommandRunner(logger, &config.Config{})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if runner.Name() != "local" {
			t.Fatalf("Expected the local runner, got %s", runner.Name())
		}
	})

	t.Run("an unknown runtime is rejected", func(t *testing.T) {
		_, err := runtimes.NewCommandRunner(logger, &config.Config{Training: &config.TrainingConfig{Runtime: "slurm"}})
		if err == nil {
			t.Fatalf("Expected an error for an unknown runtime")
		}
	})
}
