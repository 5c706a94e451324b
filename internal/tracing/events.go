package tracing

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/model-forge/model-forge/pkg/api"
)

const (
	EventRunCompleted = "pipeline.run.completed"
	EventStage        = "pipeline.stage"
)

// Events emits the run and stage events as OpenTelemetry log records
type Events struct {
	logger otellog.Logger
}

func DisabledEvents() *Events {
	return &Events{logger: lognoop.NewLoggerProvider().Logger(TracerName)}
}

// NewEvents creates an emitter exporting synchronously to w.
func NewEvents(w io.Writer, res *resource.Resource) (*Events, ShutdownFunc, error) {
	exporter, err := stdoutlog.New(stdoutlog.WithWriter(w))
	if err != nil {
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)
	return NewEventsWithProvider(lp), lp.Shutdown, nil
}

func NewEventsWithProvider(lp otellog.LoggerProvider) *Events {
	return &Events{logger: lp.Logger(TracerName)}
}

// Stage emits one stage transition.
func (e *Events) Stage(ctx context.Context, runID string, event *api.StageEvent) {
	severity := otellog.SeverityInfo
	switch event.Outcome {
	case api.OutcomeDegraded:
		severity = otellog.SeverityWarn
	case api.OutcomeFailed:
		severity = otellog.SeverityError
	}
	var rec otellog.Record
	rec.SetEventName(EventStage)
	rec.SetTimestamp(event.CreatedAt)
	rec.SetSeverity(severity)
	rec.SetBody(otellog.StringValue(string(event.Stage) + " " + string(event.Outcome)))
	rec.AddAttributes(
		otellog.String("run_id", runID),
		otellog.String("stage", string(event.Stage)),
		otellog.String("outcome", string(event.Outcome)),
	)
	if event.Message != "" {
		rec.AddAttributes(otellog.String("message", event.Message))
	}
	e.logger.Emit(ctx, rec)
}

// RunCompleted emits the final report of a run.
func (e *Events) RunCompleted(ctx context.Context, report *api.PipelineReport) {
	var rec otellog.Record
	rec.SetEventName(EventRunCompleted)
	rec.SetTimestamp(time.Now())
	if report.Status == api.StatusFailed {
		rec.SetSeverity(otellog.SeverityError)
	} else {
		rec.SetSeverity(otellog.SeverityInfo)
	}
	rec.SetBody(otellog.StringValue(string(report.Status)))
	rec.AddAttributes(
		otellog.String("run_id", report.RunID),
		otellog.String("status", string(report.Status)),
		otellog.String("last_completed", string(report.LastCompleted)),
		otellog.Float64("duration_seconds", report.DurationSeconds),
	)
	if report.Failure != nil {
		rec.AddAttributes(otellog.String("error_kind", string(report.Failure.Kind)))
	}
	if report.PublishedPath != "" {
		rec.AddAttributes(otellog.String("published_path", report.PublishedPath))
	}
	for _, size := range report.SizeReports {
		rec.AddAttributes(otellog.Float64(string(size.Stage)+".reduction_percent", size.ReductionPercent))
	}
	e.logger.Emit(ctx, rec)
}
