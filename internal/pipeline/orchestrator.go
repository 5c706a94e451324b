package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/messages"
	"github.com/model-forge/model-forge/internal/pipelineerrors"
	"github.com/model-forge/model-forge/pkg/api"
)

// Orchestrator drives one run through the stage state machine. Stages run
// strictly one after the other, only the orchestrator mutates the context and
// only between stages.
type Orchestrator struct {
	logger    *slog.Logger
	stages    Stages
	observers []Observer
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
}

type Option func(*Orchestrator)

func WithObservers(observers ...Observer) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, observers...)
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func WithRunID(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

func NewOrchestrator(logger *slog.Logger, stages Stages, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	o := &Orchestrator{
		logger: logger,
		stages: stages,
		tracer: noop.NewTracerProvider().Tracer(""),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the state of one run that is not part of the reported context
type run struct {
	plan          *api.Plan
	pc            *api.PipelineContext
	logger        *slog.Logger
	quantizedPath string
}

// stageResult is what a stage tells the orchestrator besides a fatal error
type stageResult struct {
	outcome api.StageOutcome
	message string
}

func completed() stageResult {
	return stageResult{outcome: api.OutcomeCompleted}
}

func degraded(message string) stageResult {
	return stageResult{outcome: api.OutcomeDegraded, message: message}
}

type stageFunc func(ctx context.Context, r *run) (stageResult, error)

// Run executes the plan and returns the final report. A failed run is reported,
// never returned as an error.
func (o *Orchestrator) Run(ctx context.Context, plan *api.Plan) *api.PipelineReport {
	pc := api.NewPipelineContext(o.newID())
	pc.StartedAt = o.now()
	r := &run{
		plan:   plan,
		pc:     pc,
		logger: logging.WithRun(o.logger, pc.RunID),
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", pc.RunID),
		attribute.Bool("from_model", plan.FromModel()),
		attribute.Bool("quantize", plan.Quantize),
		attribute.Bool("benchmark", plan.Benchmark),
	))
	defer span.End()

	// an optimize plan checks its model before any stage starts
	var loadErr error
	if plan.FromModel() {
		loadErr = o.loadInputModel(r)
	}

	r.logger.Info("Pipeline started", "stages", PlannedStages(plan))
	o.notify(r, "run started", func(obs Observer) error { return obs.RunStarted(ctx, pc, plan) })

	if loadErr != nil {
		span.RecordError(loadErr)
		pe := o.recordFailure(r, api.StageIdle, loadErr)
		r.logger.Error("Input model rejected", "path", plan.InputModel, "kind", pe.Kind(), "error", pe.Error())
	} else {
		for _, stage := range PlannedStages(plan) {
			if err := o.runStage(ctx, r, stage); err != nil {
				o.fail(ctx, r, stage, err)
				break
			}
		}
	}
	if pc.Status == api.StatusRunning {
		pc.Status = api.StatusSuccess
		pc.Stage = api.StageDone
	}

	report := pc.Report()
	report.DurationSeconds = o.now().Sub(pc.StartedAt).Seconds()
	if report.Status == api.StatusFailed {
		span.SetStatus(codes.Error, string(report.Failure.Kind))
	}
	r.logger.Info("Pipeline finished", "status", report.Status, "last_completed", report.LastCompleted, "duration_seconds", report.DurationSeconds)
	o.notify(r, "run finished", func(obs Observer) error { return obs.RunFinished(ctx, pc, report) })
	return report
}

func (o *Orchestrator) runStage(ctx context.Context, r *run, stage api.Stage) error {
	fn, err := o.stageFunc(stage)
	if err != nil {
		return err
	}

	ctx, span := o.tracer.Start(ctx, string(stage))
	defer span.End()

	r.pc.Stage = stage
	logger := logging.WithStage(r.logger, stage)
	logging.LogStageStarted(ctx, logger, stage)
	o.transition(ctx, r, &api.StageEvent{Stage: stage, Outcome: api.OutcomeStarted, CreatedAt: o.now()}, 0)

	start := o.now()
	result, err := fn(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	duration := o.now().Sub(start)

	switch result.outcome {
	case api.OutcomeDegraded:
		span.SetAttributes(attribute.String("degraded", result.message))
	default:
		logging.LogStageCompleted(ctx, logger, stage, duration)
	}
	r.pc.LastCompleted = stage
	o.transition(ctx, r, &api.StageEvent{Stage: stage, Outcome: result.outcome, Message: result.message, CreatedAt: o.now()}, duration)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run, stage api.Stage, err error) {
	pe := o.recordFailure(r, stage, err)
	logging.LogStageFailed(ctx, logging.WithStage(r.logger, stage), stage, pe.Kind(), pe.Error())
	o.transition(ctx, r, &api.StageEvent{Stage: stage, Outcome: api.OutcomeFailed, Message: pe.Error(), CreatedAt: o.now()}, 0)
}

// recordFailure moves the run to the failed state, stage is where it failed
func (o *Orchestrator) recordFailure(r *run, stage api.Stage, err error) *pipelineerrors.PipelineError {
	pe := pipelineerrors.FromError(err, stage)
	r.pc.Status = api.StatusFailed
	r.pc.Stage = api.StageFailed
	r.pc.Failure = &api.FailureInfo{
		Kind:          pe.Kind(),
		Stage:         stage,
		LastCompleted: r.pc.LastCompleted,
		Message:       pe.MessageInfo(),
	}
	return pe
}

func (o *Orchestrator) transition(ctx context.Context, r *run, event *api.StageEvent, duration time.Duration) {
	o.notify(r, "stage transition", func(obs Observer) error { return obs.Transition(ctx, r.pc, event, duration) })
}

// notify calls every observer. Observer failures never change the outcome of the run.
func (o *Orchestrator) notify(r *run, what string, call func(Observer) error) {
	for _, obs := range o.observers {
		if err := call(obs); err != nil {
			r.logger.Warn("Observer failed", "observer", fmt.Sprintf("%T", obs), "event", what, "error", err.Error())
		}
	}
}

func (o *Orchestrator) stageFunc(stage api.Stage) (stageFunc, error) {
	var fn stageFunc
	var ok bool
	switch stage {
	case api.StageAcquiringDataset:
		fn, ok = o.acquire, o.stages.Acquirer != nil
	case api.StageTraining:
		fn, ok = o.train, o.stages.Trainer != nil
	case api.StageEvaluating:
		fn, ok = o.evaluate, o.stages.Evaluator != nil
	case api.StageExporting:
		fn, ok = o.export, o.stages.Exporter != nil
	case api.StageOptimizing:
		fn, ok = o.optimize, o.stages.Shrinker != nil
	case api.StageQuantizing:
		fn, ok = o.quantize, o.stages.Shrinker != nil
	case api.StageBenchmarking:
		fn, ok = o.benchmark, o.stages.Benchmark != nil
	case api.StagePublishing:
		fn, ok = o.publish, o.stages.Publisher != nil
	}
	if !ok {
		return nil, pipelineerrors.NewPipelineError(messages.ConfigurationFailed, "Error", fmt.Sprintf("no collaborator for the %s stage", stage)).InStage(stage)
	}
	return fn, nil
}

func (o *Orchestrator) acquire(ctx context.Context, r *run) (stageResult, error) {
	ds, err := o.stages.Acquirer.Acquire(ctx, r.plan.Dataset)
	if err != nil {
		return stageResult{}, err
	}
	r.pc.Dataset = ds
	return completed(), nil
}

func (o *Orchestrator) train(ctx context.Context, r *run) (stageResult, error) {
	config := r.plan.Training.WithDataset(r.pc.Dataset.Location)
	model, err := o.stages.Trainer.Train(ctx, r.pc.Dataset, &config)
	if err != nil {
		return stageResult{}, err
	}
	r.pc.Training = &config
	r.pc.SetCurrent(model)
	return completed(), nil
}

func (o *Orchestrator) evaluate(ctx context.Context, r *run) (stageResult, error) {
	metrics := o.stages.Evaluator.Evaluate(ctx, r.pc.Current, r.pc.Dataset)
	if metrics == nil {
		return degraded("the evaluation metrics are not available"), nil
	}
	r.pc.Metrics = metrics
	return completed(), nil
}

func (o *Orchestrator) export(ctx context.Context, r *run) (stageResult, error) {
	artifact, err := o.stages.Exporter.Export(ctx, r.pc.Current)
	if err != nil {
		return stageResult{}, err
	}
	r.pc.SetCurrent(artifact)
	if o.stages.SmokeTester != nil && !o.stages.SmokeTester.Test(ctx, artifact, r.pc.Dataset) {
		return degraded("the exported graph failed the smoke test"), nil
	}
	return completed(), nil
}

// loadInputModel inspects the model an optimize plan starts from. A missing
// file fails the run while it is still idle, before anything is written.
func (o *Orchestrator) loadInputModel(r *run) error {
	path := r.plan.InputModel
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pipelineerrors.NewPipelineError(messages.ModelNotFound, "Path", path).WithCause(err)
		}
		return pipelineerrors.NewPipelineError(messages.ModelUnreadable, "Path", path, "Error", err.Error()).WithCause(err)
	}
	inspect := o.stages.Inspect
	if inspect == nil {
		return pipelineerrors.NewPipelineError(messages.ConfigurationFailed, "Error", "no model inspector")
	}
	artifact, err := inspect(path)
	if err != nil {
		return pipelineerrors.NewPipelineError(messages.ModelUnreadable, "Path", path, "Error", err.Error()).WithCause(err)
	}
	r.logger.Info("Model loaded", "path", artifact.Path, "size_bytes", artifact.SizeBytes, "ir_version", artifact.IRVersion,
		"producer", artifact.ProducerName, "opset", artifact.OpsetVersion, "nodes", artifact.NodeCount)
	r.pc.SetCurrent(artifact)
	return nil
}

func (o *Orchestrator) optimize(ctx context.Context, r *run) (stageResult, error) {
	if r.pc.Current == nil {
		return stageResult{}, pipelineerrors.NewPipelineError(messages.ConfigurationFailed, "Error", "no model to optimize")
	}
	optimizedPath, quantizedPath := outputPaths(r.plan, r.pc.Current)
	r.quantizedPath = quantizedPath
	return o.shrink(r, func() (*api.Artifact, api.SizeReport, error) {
		return o.stages.Shrinker.Optimize(ctx, r.pc.Current, optimizedPath)
	})
}

// quantize always starts from the optimized graph
func (o *Orchestrator) quantize(ctx context.Context, r *run) (stageResult, error) {
	return o.shrink(r, func() (*api.Artifact, api.SizeReport, error) {
		return o.stages.Shrinker.Quantize(ctx, r.pc.Current, r.quantizedPath)
	})
}

func (o *Orchestrator) shrink(r *run, apply func() (*api.Artifact, api.SizeReport, error)) (stageResult, error) {
	artifact, report, err := apply()
	if err != nil {
		return stageResult{}, err
	}
	r.pc.SizeReports = append(r.pc.SizeReports, report)
	r.pc.SetCurrent(artifact)
	if report.FallbackUsed {
		return degraded(report.Reason), nil
	}
	return completed(), nil
}

func (o *Orchestrator) benchmark(ctx context.Context, r *run) (stageResult, error) {
	latency := o.stages.Benchmark.Benchmark(ctx, r.pc.Current)
	if latency == nil {
		return degraded("the latency report is not available"), nil
	}
	r.pc.Latency = latency
	return completed(), nil
}

func (o *Orchestrator) publish(ctx context.Context, r *run) (stageResult, error) {
	path, err := o.stages.Publisher.Publish(ctx, r.pc.Current, r.plan.PublishDir)
	if err != nil {
		return stageResult{}, err
	}
	r.pc.PublishedPath = path
	return completed(), nil
}
