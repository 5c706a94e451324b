package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/backends/ultralytics"
	"github.com/model-forge/model-forge/internal/benchmark"
	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/constants"
	"github.com/model-forge/model-forge/internal/dataset"
	"github.com/model-forge/model-forge/internal/graph"
	"github.com/model-forge/model-forge/internal/metrics"
	"github.com/model-forge/model-forge/internal/mlflow"
	"github.com/model-forge/model-forge/internal/onnxrt"
	"github.com/model-forge/model-forge/internal/optimization"
	"github.com/model-forge/model-forge/internal/pipeline"
	"github.com/model-forge/model-forge/internal/providers"
	"github.com/model-forge/model-forge/internal/publish"
	"github.com/model-forge/model-forge/internal/resources"
	"github.com/model-forge/model-forge/internal/runtimes"
	"github.com/model-forge/model-forge/internal/storage"
	"github.com/model-forge/model-forge/internal/tracing"
	"github.com/model-forge/model-forge/internal/training"
	"github.com/model-forge/model-forge/pkg/api"
)

// Options select what New builds
type Options struct {
	// Training builds the dataset, training, evaluation and export collaborators
	Training bool
	// Reports receives the human-readable stage reports, nil prints nothing
	Reports io.Writer
	// RunName is the tracking run name of runs without a training configuration
	RunName string
}

// App holds the collaborators of a pipeline run, built once from the configuration.
type App struct {
	logger    *slog.Logger
	stages    pipeline.Stages
	observers []pipeline.Observer
	tracing   *tracing.Provider
	storage   abstractions.Storage
}

func New(ctx context.Context, logger *slog.Logger, conf *config.Config, validate *validator.Validate, opts Options) (*App, error) {
	a := &App{logger: logger, tracing: tracing.Disabled()}

	runtime := onnxrt.NewRuntime(logger, conf)
	if err := runtime.Initialize(); err != nil {
		// the graph rewrites do not need the library, benchmarks and smoke tests degrade
		logger.Warn("The inference runtime is not available", "runtime", runtime.Name(), "error", err.Error())
	}

	runner, err := runtimes.NewCommandRunner(logger, conf)
	if err != nil {
		return nil, err
	}
	logger.Info("Command runner created", "runner", runner.Name())
	devices := resources.NewManager(logger, runner)

	device, workers := executionDevice(conf)
	a.stages = pipeline.Stages{
		Shrinker:  optimization.NewEngine(logger, runtime),
		Benchmark: benchmark.NewRunner(logger, runtime, devices, benchmarkOptions(conf, device, workers)...),
		Publisher: publish.NewPublisher(logger),
		Inspect:   graph.Inspect,
	}

	if opts.Training {
		provider, err := providers.NewDatasetProvider(logger, conf)
		if err != nil {
			return nil, err
		}
		backend := ultralytics.NewBackend(logger, runner, backendOptions(conf)...)
		imageSize := api.DefaultTrainingConfig().ImageSize
		if conf.Training != nil && conf.Training.ImageSize > 0 {
			imageSize = conf.Training.ImageSize
		}
		a.stages.Acquirer = dataset.NewAcquirer(logger, provider, datasetDir(conf))
		a.stages.Trainer = training.NewTrainer(logger, backend, devices, validate)
		a.stages.Evaluator = training.NewEvaluator(logger, backend, devices, validate, device, workers)
		a.stages.Exporter = training.NewExporter(logger, backend)
		a.stages.SmokeTester = training.NewSmokeTester(logger, runtime, imageSize)
	}

	if err := a.setupObservers(ctx, logger, conf, opts); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) setupObservers(ctx context.Context, logger *slog.Logger, conf *config.Config, opts Options) error {
	if opts.Reports != nil {
		a.observers = append(a.observers, pipeline.NewReportPrinter(opts.Reports))
	}

	if conf.IsDatabaseConfigured() {
		store, err := storage.NewStorage(conf.Database, logger)
		if err != nil {
			return err
		}
		a.storage = store
		a.observers = append(a.observers, pipeline.NewStoreObserver(store))
		logger.Info("Run store created", "datasource", store.GetDatasourceName())
	}

	if conf.Metrics != nil && conf.Metrics.Enabled {
		recorder := metrics.NewRecorder(logger)
		a.observers = append(a.observers, pipeline.NewMetricsObserver(recorder, conf.Metrics.PushgatewayURL, conf.Metrics.Job))
	}

	tracker, err := mlflow.NewTracker(conf, logger)
	if err != nil {
		return err
	}
	if tracker != nil {
		runName := opts.RunName
		if runName == "" {
			runName = constants.DefaultRunName
		}
		a.observers = append(a.observers, pipeline.NewTrackerObserver(tracker, runName, logger))
	}

	provider, err := tracing.NewProvider(ctx, conf.Tracing, os.Stderr, logger)
	if err != nil {
		return err
	}
	a.tracing = provider
	if conf.Tracing != nil && conf.Tracing.Events {
		a.observers = append(a.observers, pipeline.NewEventsObserver(provider.Events))
	}
	return nil
}

// Stages returns the collaborators, mostly for tests.
func (a *App) Stages() pipeline.Stages {
	return a.stages
}

// Observers returns the observers every run is reported to
func (a *App) Observers() []pipeline.Observer {
	return a.observers
}

func (a *App) Orchestrator(opts ...pipeline.Option) *pipeline.Orchestrator {
	opts = append([]pipeline.Option{
		pipeline.WithObservers(a.observers...),
		pipeline.WithTracer(a.tracing.Tracer),
	}, opts...)
	return pipeline.NewOrchestrator(a.logger, a.stages, opts...)
}

// Close flushes the exporters and releases the run store and the inference runtime.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(ctx))
	}
	if a.storage != nil {
		errs = append(errs, a.storage.Close())
	}
	errs = append(errs, onnxrt.Shutdown())
	return errors.Join(errs...)
}

func executionDevice(conf *config.Config) (api.DeviceKind, int) {
	defaults := api.DefaultTrainingConfig()
	if conf.Training == nil || conf.Training.Device == "" {
		return defaults.Device, defaults.WorkerCount
	}
	return conf.Training.Device, conf.Training.WorkerCount
}

func benchmarkOptions(conf *config.Config, device api.DeviceKind, workers int) []benchmark.Option {
	opts := []benchmark.Option{benchmark.WithDevice(device, workers)}
	if conf.Benchmark != nil {
		if conf.Benchmark.Seed != 0 {
			opts = append(opts, benchmark.WithSeed(uint64(conf.Benchmark.Seed)))
		}
		opts = append(opts, benchmark.WithDefaultShape(conf.Benchmark.InputShape))
	}
	return opts
}

func backendOptions(conf *config.Config) []ultralytics.Option {
	var opts []ultralytics.Option
	if conf.Training != nil {
		opts = append(opts, ultralytics.WithCommand(conf.Training.Command))
	}
	if conf.K8s != nil && conf.Training != nil && conf.Training.Runtime == "k8s" {
		opts = append(opts, ultralytics.WithWorkDir(conf.K8s.MountPath))
	}
	return opts
}

func datasetDir(conf *config.Config) string {
	if conf.Dataset != nil && conf.Dataset.Dir != "" {
		return conf.Dataset.Dir
	}
	return constants.DefaultDatasetsDir
}
