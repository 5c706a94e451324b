package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/metrics"
	"github.com/model-forge/model-forge/internal/tracing"
	"github.com/model-forge/model-forge/pkg/api"
)

// Observer is told about every transition of a run. Errors are logged by the
// orchestrator and never change the outcome of the run.
type Observer interface {
	RunStarted(ctx context.Context, pc *api.PipelineContext, plan *api.Plan) error
	Transition(ctx context.Context, pc *api.PipelineContext, event *api.StageEvent, duration time.Duration) error
	RunFinished(ctx context.Context, pc *api.PipelineContext, report *api.PipelineReport) error
}

// StoreObserver keeps the run history in the run store
type StoreObserver struct {
	storage abstractions.Storage
}

func NewStoreObserver(storage abstractions.Storage) *StoreObserver {
	return &StoreObserver{storage: storage}
}

func (s *StoreObserver) RunStarted(ctx context.Context, pc *api.PipelineContext, plan *api.Plan) error {
	_, err := s.storage.WithContext(ctx).CreateRun(pc.RunID, plan)
	return err
}

func (s *StoreObserver) Transition(ctx context.Context, pc *api.PipelineContext, event *api.StageEvent, _ time.Duration) error {
	return s.storage.WithContext(ctx).RecordStage(pc.RunID, event)
}

func (s *StoreObserver) RunFinished(ctx context.Context, pc *api.PipelineContext, report *api.PipelineReport) error {
	return s.storage.WithContext(ctx).CompleteRun(pc.RunID, report)
}

// MetricsObserver updates the Prometheus metrics and pushes them when the run ends
type MetricsObserver struct {
	recorder   *metrics.Recorder
	gatewayURL string
	job        string
}

func NewMetricsObserver(recorder *metrics.Recorder, gatewayURL string, job string) *MetricsObserver {
	return &MetricsObserver{recorder: recorder, gatewayURL: gatewayURL, job: job}
}

func (m *MetricsObserver) RunStarted(context.Context, *api.PipelineContext, *api.Plan) error {
	return nil
}

func (m *MetricsObserver) Transition(_ context.Context, pc *api.PipelineContext, event *api.StageEvent, duration time.Duration) error {
	m.recorder.StageTransition(event.Stage, event.Outcome)
	if event.Outcome != api.OutcomeCompleted && event.Outcome != api.OutcomeDegraded {
		return nil
	}
	m.recorder.StageDuration(event.Stage, duration)
	switch event.Stage {
	case api.StageOptimizing, api.StageQuantizing:
		if report := lastSizeReport(pc, event.Stage); report != nil {
			m.recorder.SizeReport(*report)
		}
	case api.StageBenchmarking:
		m.recorder.Latency(pc.Latency)
	case api.StageEvaluating:
		m.recorder.Quality(pc.Metrics)
	}
	return nil
}

func (m *MetricsObserver) RunFinished(ctx context.Context, pc *api.PipelineContext, report *api.PipelineReport) error {
	m.recorder.RunFinished(report.Status)
	return m.recorder.Push(ctx, m.gatewayURL, m.job, pc.RunID)
}

// TrackerObserver logs the finished run to the experiment tracker
type TrackerObserver struct {
	tracker abstractions.Tracker
	runName string
	logger  *slog.Logger
}

func NewTrackerObserver(tracker abstractions.Tracker, runName string, logger *slog.Logger) *TrackerObserver {
	return &TrackerObserver{tracker: tracker, runName: runName, logger: logger}
}

func (t *TrackerObserver) RunStarted(context.Context, *api.PipelineContext, *api.Plan) error {
	return nil
}

func (t *TrackerObserver) Transition(context.Context, *api.PipelineContext, *api.StageEvent, time.Duration) error {
	return nil
}

func (t *TrackerObserver) RunFinished(ctx context.Context, pc *api.PipelineContext, report *api.PipelineReport) error {
	runName := t.runName
	if pc.Training != nil && pc.Training.RunName != "" {
		runName = pc.Training.RunName
	}
	trackingRunID, err := t.tracker.StartRun(ctx, runName, map[string]string{
		"model_forge.run_id":         pc.RunID,
		"model_forge.last_completed": string(report.LastCompleted),
	})
	if err != nil {
		return err
	}
	// the run is always ended, even when logging failed
	errs := []error{
		t.tracker.LogParams(ctx, trackingRunID, trackedParams(pc)),
		t.tracker.LogMetrics(ctx, trackingRunID, trackedMetrics(report)),
		t.tracker.EndRun(ctx, trackingRunID, report.Status),
	}
	return errors.Join(errs...)
}

func trackedParams(pc *api.PipelineContext) map[string]string {
	params := map[string]string{}
	if c := pc.Training; c != nil {
		params["epochs"] = strconv.Itoa(c.Epochs)
		params["image_size"] = strconv.Itoa(c.ImageSize)
		params["batch_size"] = strconv.Itoa(c.BatchSize)
		params["device"] = string(c.Device)
		params["worker_count"] = strconv.Itoa(c.WorkerCount)
		params["cache_enabled"] = strconv.FormatBool(c.CacheEnabled)
		params["mixed_precision"] = strconv.FormatBool(c.MixedPrecision)
		params["patience"] = strconv.Itoa(c.Patience)
		params["base_model"] = c.BaseModel
		params["dataset_location"] = c.DatasetLocation
	}
	if pc.Dataset != nil {
		params["class_count"] = strconv.Itoa(pc.Dataset.ClassCount)
	}
	if len(pc.History) > 0 {
		params["input_model"] = pc.History[0].Path
	}
	return params
}

func trackedMetrics(report *api.PipelineReport) map[string]float64 {
	values := map[string]float64{"duration_seconds": report.DurationSeconds}
	if report.Metrics != nil {
		for k, v := range report.Metrics.AsMap() {
			values[k] = v
		}
	}
	for _, size := range report.SizeReports {
		values[fmt.Sprintf("%s_reduction_percent", size.Stage)] = size.ReductionPercent
		values[fmt.Sprintf("%s_size_bytes", size.Stage)] = float64(size.ResultBytes)
	}
	if report.Latency != nil {
		values["latency_mean_ms"] = report.Latency.MeanMs
		values["latency_std_dev_ms"] = report.Latency.StdDevMs
		values["fps"] = report.Latency.FPS
	}
	return values
}

// EventsObserver emits the transitions as OpenTelemetry log records
type EventsObserver struct {
	events *tracing.Events
}

func NewEventsObserver(events *tracing.Events) *EventsObserver {
	return &EventsObserver{events: events}
}

func (e *EventsObserver) RunStarted(context.Context, *api.PipelineContext, *api.Plan) error {
	return nil
}

func (e *EventsObserver) Transition(ctx context.Context, pc *api.PipelineContext, event *api.StageEvent, _ time.Duration) error {
	e.events.Stage(ctx, pc.RunID, event)
	return nil
}

func (e *EventsObserver) RunFinished(ctx context.Context, _ *api.PipelineContext, report *api.PipelineReport) error {
	e.events.RunCompleted(ctx, report)
	return nil
}

func lastSizeReport(pc *api.PipelineContext, stage api.Stage) *api.SizeReport {
	for i := len(pc.SizeReports) - 1; i >= 0; i-- {
		if pc.SizeReports[i].Stage == stage {
			return &pc.SizeReports[i]
		}
	}
	return nil
}
