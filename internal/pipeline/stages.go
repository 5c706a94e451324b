package pipeline

import (
	"context"

	"github.com/model-forge/model-forge/pkg/api"
)

// The orchestrator only depends on these narrow interfaces so every stage can
// be replaced by a fake.

type DatasetAcquirer interface {
	Acquire(ctx context.Context, ref api.DatasetRef) (*api.DatasetDescriptor, error)
}

type ModelTrainer interface {
	Train(ctx context.Context, ds *api.DatasetDescriptor, config *api.TrainingConfig) (*api.Artifact, error)
}

// ModelEvaluator returns nil when the evaluation failed
type ModelEvaluator interface {
	Evaluate(ctx context.Context, model *api.Artifact, ds *api.DatasetDescriptor) *api.PerformanceMetrics
}

type ModelExporter interface {
	Export(ctx context.Context, model *api.Artifact) (*api.Artifact, error)
}

// SmokeTester runs one inference over the exported graph
type SmokeTester interface {
	Test(ctx context.Context, artifact *api.Artifact, ds *api.DatasetDescriptor) bool
}

// GraphShrinker returns an error only when not even the fallback copy could be written.
type GraphShrinker interface {
	Optimize(ctx context.Context, in *api.Artifact, outPath string) (*api.Artifact, api.SizeReport, error)
	Quantize(ctx context.Context, in *api.Artifact, outPath string) (*api.Artifact, api.SizeReport, error)
}

// LatencyBenchmark returns nil when the benchmark failed
type LatencyBenchmark interface {
	Benchmark(ctx context.Context, artifact *api.Artifact) *api.LatencyReport
}

type ArtifactPublisher interface {
	Publish(ctx context.Context, artifact *api.Artifact, destDir string) (string, error)
}

// ModelInspector reads the metadata of an existing portable graph
type ModelInspector func(path string) (*api.Artifact, error)

// Stages are the collaborators of a run. Stages a plan never reaches may be nil.
type Stages struct {
	Acquirer    DatasetAcquirer
	Trainer     ModelTrainer
	Evaluator   ModelEvaluator
	Exporter    ModelExporter
	SmokeTester SmokeTester
	Shrinker    GraphShrinker
	Benchmark   LatencyBenchmark
	Publisher   ArtifactPublisher
	Inspect     ModelInspector
}
