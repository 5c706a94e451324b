package abstractions

import (
	"context"
	"log/slog"
	"time"

	"github.com/model-forge/model-forge/pkg/api"
)

// QueryResults is one page of a listing, TotalStored counts every match.
type QueryResults[T any] struct {
	Items       []T
	TotalStored int
}

// Storage keeps the history of pipeline runs together with the stage events
// of each run. Implementations must be safe for concurrent use.
type Storage interface {
	WithLogger(logger *slog.Logger) Storage
	WithContext(ctx context.Context) Storage

	GetDatasourceName() string
	Ping(timeout time.Duration) error

	CreateRun(runID string, plan *api.Plan) (*api.PipelineRunResource, error)
	RecordStage(runID string, event *api.StageEvent) error
	CompleteRun(runID string, report *api.PipelineReport) error
	GetRun(runID string) (*api.PipelineRunResource, error)
	GetRuns(limit int, offset int, statusFilter string) (*QueryResults[api.PipelineRunResource], error)

	Close() error
}
