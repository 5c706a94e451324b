package ultralytics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/pkg/api"
)

const (
	DefaultCommand = "yolo"
	weightsDir     = "weights"
	bestWeights    = "best.pt"
)

// Backend drives the ultralytics command line. Every step is one command run
// through the configured CommandRunner, so the same backend works locally and
// as Kubernetes jobs.
type Backend struct {
	logger  *slog.Logger
	runner  abstractions.CommandRunner
	command string
	workDir string
}

type Option func(*Backend)

// WithCommand overrides the executable, "yolo" by default
func WithCommand(command string) Option {
	return func(b *Backend) {
		if command != "" {
			b.command = command
		}
	}
}

// WithWorkDir sets the directory relative paths are resolved against
func WithWorkDir(dir string) Option {
	return func(b *Backend) {
		b.workDir = dir
	}
}

func NewBackend(logger *slog.Logger, runner abstractions.CommandRunner, opts ...Option) *Backend {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	b := &Backend{
		logger:  logger,
		runner:  runner,
		command: DefaultCommand,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string {
	return "ultralytics"
}

// WeightsPath is where a training run leaves its best checkpoint
func WeightsPath(config *api.TrainingConfig) string {
	return filepath.Join(config.ProjectDir, config.RunName, weightsDir, bestWeights)
}

// TrainArgs builds the arguments of the training command
func TrainArgs(config *api.TrainingConfig, resources *api.ExecutionResources) []string {
	return []string{
		"detect", "train",
		"data=" + filepath.Join(config.DatasetLocation, constants.DatasetManifestName),
		"model=" + config.BaseModel,
		"epochs=" + strconv.Itoa(config.Epochs),
		"imgsz=" + strconv.Itoa(config.ImageSize),
		"batch=" + strconv.Itoa(config.BatchSize),
		"patience=" + strconv.Itoa(config.Patience),
		"project=" + config.ProjectDir,
		"name=" + config.RunName,
		"device=" + deviceArg(resources),
		"workers=" + strconv.Itoa(workers(config, resources)),
		"cache=" + pyBool(config.CacheEnabled),
		"amp=" + pyBool(config.MixedPrecision),
		"save=True",
		// keep the run directory stable, otherwise a second run writes to <name>2
		"exist_ok=True",
	}
}

func (b *Backend) Train(ctx context.Context, config *api.TrainingConfig, resources *api.ExecutionResources) (*api.Artifact, error) {
	if config == nil {
		return nil, fmt.Errorf("no training configuration")
	}
	logger := b.logger.With(constants.LOG_RUN_NAME, config.RunName)
	if _, err := b.run(ctx, logger, TrainArgs(config, resources), resources); err != nil {
		return nil, fmt.Errorf("training run %s: %w", config.RunName, err)
	}

	path := WeightsPath(config)
	artifact, err := b.stat(path, api.GraphFormatNative)
	if err != nil {
		return nil, fmt.Errorf("training run %s did not produce %s: %w", config.RunName, path, err)
	}
	logger.Info("Training finished", constants.LOG_PATH, artifact.Path, "size_bytes", artifact.SizeBytes)
	return artifact, nil
}

func (b *Backend) Evaluate(ctx context.Context, model *api.Artifact, dataset *api.DatasetDescriptor, resources *api.ExecutionResources) (*api.PerformanceMetrics, error) {
	if model == nil || dataset == nil {
		return nil, fmt.Errorf("evaluation needs a model and a dataset")
	}
	args := []string{
		"detect", "val",
		"model=" + model.Path,
		"data=" + dataset.ManifestPath,
		"device=" + deviceArg(resources),
	}
	result, err := b.run(ctx, b.logger, args, resources)
	if err != nil {
		return nil, err
	}
	// the summary table is printed to stderr by recent versions and to stdout by older ones
	metrics, err := ParseValidationSummary(string(result.Stdout) + "\n" + string(result.Stderr))
	if err != nil {
		return nil, fmt.Errorf("validation of %s: %w", model.Path, err)
	}
	return metrics, nil
}

// ExportPortable writes <weights>.onnx next to the native weights
func (b *Backend) ExportPortable(ctx context.Context, model *api.Artifact) (string, error) {
	if model == nil {
		return "", fmt.Errorf("no model to export")
	}
	args := []string{
		"export",
		"model=" + model.Path,
		"format=onnx",
		"dynamic=True",
	}
	if _, err := b.run(ctx, b.logger, args, nil); err != nil {
		return "", fmt.Errorf("export of %s: %w", model.Path, err)
	}
	path := ExportPath(model.Path)
	if _, err := os.Stat(b.resolve(path)); err != nil {
		return "", fmt.Errorf("export of %s did not produce %s: %w", model.Path, path, err)
	}
	return b.resolve(path), nil
}

// ExportPath replaces the extension of the native weights with the portable one
func ExportPath(weights string) string {
	return strings.TrimSuffix(weights, filepath.Ext(weights)) + api.DefaultPortableExtension
}

func (b *Backend) run(ctx context.Context, logger *slog.Logger, args []string, resources *api.ExecutionResources) (*abstractions.CommandResult, error) {
	spec := abstractions.CommandSpec{
		Name:    b.command,
		Args:    args,
		WorkDir: b.workDir,
		UseGPU:  resources != nil && resources.Device == api.DeviceGPU,
	}
	result, err := b.runner.WithLogger(logger).Run(ctx, spec)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return result, fmt.Errorf("%s %s exited with code %d: %s", b.command, args[0], result.ExitCode, lastLine(result.Stderr))
	}
	return result, nil
}

func (b *Backend) resolve(path string) string {
	if b.workDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.workDir, path)
}

func (b *Backend) stat(path string, format api.GraphFormat) (*api.Artifact, error) {
	path = b.resolve(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &api.Artifact{
		Path:        path,
		SizeBytes:   info.Size(),
		GraphFormat: format,
	}, nil
}

func deviceArg(resources *api.ExecutionResources) string {
	if resources != nil && resources.Device == api.DeviceGPU {
		return "0"
	}
	return "cpu"
}

func workers(config *api.TrainingConfig, resources *api.ExecutionResources) int {
	if resources != nil && resources.WorkerCount > 0 {
		return resources.WorkerCount
	}
	return config.WorkerCount
}

func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
