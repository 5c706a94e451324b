package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/messages"
	"github.com/model-forge/model-forge/pkg/api"
)

const (
	WarmupRuns = 5
	TimedRuns  = 10
)

// DefaultInputShape fills the dynamic dimensions of the benchmark input
var DefaultInputShape = []int64{1, 3, 640, 640}

// Clock returns the current time, tests replace it to get deterministic latencies
type Clock func() time.Time

type Runner struct {
	logger       *slog.Logger
	runtime      abstractions.InferenceRuntime
	devices      abstractions.DeviceManager
	device       api.DeviceKind
	workers      int
	seed         uint64
	defaultShape []int64
	now          Clock
}

type Option func(*Runner)

func WithClock(now Clock) Option {
	return func(r *Runner) { r.now = now }
}

func WithSeed(seed uint64) Option {
	return func(r *Runner) { r.seed = seed }
}

// WithDefaultShape sets the dimensions used for dynamic input dimensions
func WithDefaultShape(shape []int64) Option {
	return func(r *Runner) {
		if len(shape) > 0 {
			r.defaultShape = shape
		}
	}
}

func WithDevice(device api.DeviceKind, workers int) Option {
	return func(r *Runner) {
		r.device = device
		r.workers = workers
	}
}

func NewRunner(logger *slog.Logger, runtime abstractions.InferenceRuntime, devices abstractions.DeviceManager, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	r := &Runner{
		logger:       logger,
		runtime:      runtime,
		devices:      devices,
		device:       api.DeviceGPU,
		seed:         42,
		defaultShape: DefaultInputShape,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Benchmark measures the inference latency of the artifact. It never fails the
// pipeline, errors are logged and reported as a nil result.
func (r *Runner) Benchmark(ctx context.Context, artifact *api.Artifact) *api.LatencyReport {
	report, err := r.run(ctx, artifact)
	if err != nil {
		logging.LogStageDegraded(ctx, r.logger, api.StageBenchmarking, api.ErrorKindBenchmarkFailure,
			messages.GetErrorMessage(messages.BenchmarkFailed, "Path", artifact.Path, "Error", err.Error()))
		return nil
	}
	r.logger.Info("Benchmark completed", "path", artifact.Path, "mean_ms", report.MeanMs, "std_dev_ms", report.StdDevMs, "fps", report.FPS)
	return report
}

func (r *Runner) run(ctx context.Context, artifact *api.Artifact) (*api.LatencyReport, error) {
	resources, release, err := r.devices.Acquire(ctx, r.device, r.workers)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := r.runtime.LoadGraph(ctx, artifact.Path, resources)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("Failed to close the inference session", "error", err.Error())
		}
	}()

	inputs := session.Inputs()
	if len(inputs) == 0 {
		return nil, fmt.Errorf("the graph has no inputs")
	}
	input := r.randomInput(inputs[0])

	for range WarmupRuns {
		if err := session.Run(ctx, input); err != nil {
			return nil, fmt.Errorf("warmup: %w", err)
		}
	}
	samples := make([]float64, 0, TimedRuns)
	for range TimedRuns {
		start := r.now()
		err := session.Run(ctx, input)
		elapsed := r.now().Sub(start)
		if err != nil {
			return nil, err
		}
		samples = append(samples, float64(elapsed)/float64(time.Millisecond))
	}
	return latencyReport(samples)
}

// randomInput builds a standard normal tensor shaped like info, dynamic
// dimensions are taken from the default shape.
func (r *Runner) randomInput(info api.TensorInfo) *abstractions.Tensor {
	shape := make([]int64, len(info.Shape))
	size := int64(1)
	for i, dim := range info.Shape {
		if dim <= 0 {
			dim = 1
			if i < len(r.defaultShape) {
				dim = r.defaultShape[i]
			}
		}
		shape[i] = dim
		size *= dim
	}
	rng := rand.New(rand.NewPCG(r.seed, r.seed))
	data := make([]float32, size)
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return &abstractions.Tensor{Name: info.Name, Shape: shape, Data: data}
}

func latencyReport(samples []float64) (*api.LatencyReport, error) {
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))
	if mean <= 0 {
		return nil, fmt.Errorf("mean latency of %vms can not give a frame rate", mean)
	}
	var variance float64
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(samples))
	return &api.LatencyReport{
		MeanMs:      mean,
		StdDevMs:    math.Sqrt(variance),
		FPS:         1000 / mean,
		SampleCount: len(samples),
	}, nil
}
