package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/pkg/api"
)

// kubernetes drops everything past 4096 bytes of a termination message
const maxTerminationMessage = 4096

// GetTerminationFile returns the file the reason of a failed start or run is
// written to, so that a Kubernetes job shows it in the pod status.
func GetTerminationFile(conf *config.Config, logger *slog.Logger) string {
	if conf != nil && conf.Pipeline != nil {
		if tf := strings.TrimSpace(conf.Pipeline.TerminationFile); tf != "" {
			return tf
		}
	}
	// still needed when the configuration could not be loaded
	if tf := os.Getenv(constants.EnvVarTerminationFile); tf != "" {
		logger.Debug("Termination file from the environment", "env", constants.EnvVarTerminationFile, "file", tf)
		return tf
	}
	return constants.DefaultTerminationFile
}

// TerminationMessage summarizes a failed run in one line.
func TerminationMessage(report *api.PipelineReport) string {
	if report == nil || report.Failure == nil {
		return "Pipeline failed"
	}
	msg := fmt.Sprintf("Pipeline failed in %s (%s)", report.Failure.Stage, report.Failure.Kind)
	if report.Failure.Message != nil {
		msg = fmt.Sprintf("%s: %s", msg, report.Failure.Message.Message)
	}
	return msg
}

func SetTerminationMessage(terminationFile string, message string, logger *slog.Logger) error {
	if len(message) > maxTerminationMessage {
		message = message[:maxTerminationMessage]
	}
	filename := filepath.Clean(terminationFile)
	if err := os.WriteFile(filename, []byte(message), 0o644); err != nil {
		logger.Error("Failed to write the termination message", "file", filename, "message", message, "error", err.Error())
		return fmt.Errorf("failed to write the termination file %s: %w", filename, err)
	}
	logger.Info("Set termination message", "file", filename, "message", message)
	return nil
}
