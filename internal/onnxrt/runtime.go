package onnxrt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/graph"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/pkg/api"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrNotConfigured is returned by LoadGraph when no shared library was configured
var ErrNotConfigured = errors.New("the onnxruntime shared library path is not configured")

// the onnxruntime environment is process wide
var (
	environmentOnce sync.Once
	environmentErr  error
)

// Runtime executes portable graphs with onnxruntime and rewrites them with the
// graph package. Rewritten graphs are loaded once into onnxruntime before they
// are accepted, when the environment is available.
type Runtime struct {
	logger      *slog.Logger
	libraryPath string
	minElements int
	verify      bool
}

func NewRuntime(logger *slog.Logger, conf *config.Config) *Runtime {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	r := &Runtime{logger: logger, verify: true}
	if conf.Inference != nil {
		r.libraryPath = conf.Inference.SharedLibraryPath
	}
	if conf.Optimization != nil {
		r.minElements = conf.Optimization.QuantizeMinElements
		r.verify = conf.Optimization.VerifyWithRuntime
	}
	return r
}

func (r *Runtime) Name() string {
	return "onnxruntime"
}

// Initialize loads the shared library. It runs once per process, later calls
// return the first result.
func (r *Runtime) Initialize() error {
	if r.libraryPath == "" {
		return ErrNotConfigured
	}
	environmentOnce.Do(func() {
		if _, err := os.Stat(r.libraryPath); err != nil {
			environmentErr = fmt.Errorf("onnxruntime shared library: %w", err)
			return
		}
		ort.SetSharedLibraryPath(r.libraryPath)
		if err := ort.InitializeEnvironment(); err != nil {
			environmentErr = fmt.Errorf("error initializing the onnxruntime environment: %w", err)
			return
		}
		r.logger.Info("onnxruntime initialized", "library", r.libraryPath, "version", ort.GetVersion())
	})
	return environmentErr
}

// Shutdown releases the environment, no session may be used afterwards
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func (r *Runtime) LoadGraph(ctx context.Context, path string, resources *api.ExecutionResources) (abstractions.GraphSession, error) {
	if err := r.Initialize(); err != nil {
		return nil, err
	}
	return newSession(r.logger, path, resources)
}

// OptimizeGraph writes the structurally simplified graph of src to dst
func (r *Runtime) OptimizeGraph(ctx context.Context, src string, dst string) error {
	return r.rewrite(src, dst, func(model *graph.Model) (*graph.Model, graph.Stats, error) {
		return graph.Optimize(model)
	})
}

// QuantizeGraph writes the weight quantized graph of src to dst
func (r *Runtime) QuantizeGraph(ctx context.Context, src string, dst string) error {
	return r.rewrite(src, dst, func(model *graph.Model) (*graph.Model, graph.Stats, error) {
		return graph.Quantize(model, graph.QuantizeOptions{MinElements: int64(r.minElements)})
	})
}

type rewriteFunc func(model *graph.Model) (*graph.Model, graph.Stats, error)

func (r *Runtime) rewrite(src string, dst string, apply rewriteFunc) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	model, err := graph.Load(src)
	if err != nil {
		return err
	}
	rewritten, stats, err := apply(model)
	if err != nil {
		return err
	}
	if err := graph.Save(rewritten, dst, info.Mode().Perm()); err != nil {
		return err
	}
	r.logger.Info("Graph rewritten", "src", src, "dst", dst, "stats", fmt.Sprintf("%+v", stats))

	if err := r.check(dst); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("the rewritten graph does not load: %w", err)
	}
	return nil
}

// check loads the graph into onnxruntime, it is skipped when the runtime is not
// available on this host.
func (r *Runtime) check(path string) error {
	if !r.verify {
		return nil
	}
	if err := r.Initialize(); err != nil {
		r.logger.Debug("Skipping the onnxruntime check", "error", err.Error())
		return nil
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return err
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return err
	}
	defer options.Destroy()
	session, err := ort.NewDynamicAdvancedSession(path, names(inputs), names(outputs), options)
	if err != nil {
		return err
	}
	return session.Destroy()
}

func names(infos []ort.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}
