package abstractions

import (
	"context"

	"github.com/model-forge/model-forge/pkg/api"
)

// DatasetProvider downloads a dataset version into a local directory and returns
// the directory the bundle was extracted to.
type DatasetProvider interface {
	Name() string
	Fetch(ctx context.Context, ref api.DatasetRef, destDir string) (string, error)
}

// TrainingBackend owns the training algorithm. It trains a native model, evaluates it
// on the held-out split and exports it to the portable graph format.
type TrainingBackend interface {
	Name() string
	Train(ctx context.Context, config *api.TrainingConfig, resources *api.ExecutionResources) (*api.Artifact, error)
	Evaluate(ctx context.Context, model *api.Artifact, dataset *api.DatasetDescriptor, resources *api.ExecutionResources) (*api.PerformanceMetrics, error)
	ExportPortable(ctx context.Context, model *api.Artifact) (string, error)
}

// InferenceRuntime executes and rewrites portable graphs.
type InferenceRuntime interface {
	Name() string
	LoadGraph(ctx context.Context, path string, resources *api.ExecutionResources) (GraphSession, error)
	OptimizeGraph(ctx context.Context, src string, dst string) error
	QuantizeGraph(ctx context.Context, src string, dst string) error
}

// GraphSession is a graph loaded into the inference runtime
type GraphSession interface {
	Inputs() []api.TensorInfo
	Run(ctx context.Context, input *Tensor) error
	Close() error
}

// Tensor is a dense float32 input tensor
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// Tracker records runs in an experiment tracking backend
type Tracker interface {
	StartRun(ctx context.Context, runName string, tags map[string]string) (string, error)
	LogParams(ctx context.Context, trackingRunID string, params map[string]string) error
	LogMetrics(ctx context.Context, trackingRunID string, metrics map[string]float64) error
	EndRun(ctx context.Context, trackingRunID string, status api.Status) error
}
