package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/model-forge/model-forge/pkg/api"
)

const (
	namespace = "model_forge"

	DefaultJob = "model_forge"
)

// Recorder holds the pipeline metrics of one process. Every recorder has its own
// registry so tests and concurrent runs never share collectors.
type Recorder struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	stageTransitions *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	runs             *prometheus.CounterVec
	sizeReduction    *prometheus.GaugeVec
	artifactBytes    *prometheus.GaugeVec
	fallbacks        *prometheus.CounterVec
	latency          *prometheus.GaugeVec
	modelQuality     *prometheus.GaugeVec
}

func NewRecorder(logger *slog.Logger) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logger:   logger,
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage transitions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall clock duration of each stage.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished pipeline runs by status.",
		}, []string{"status"}),
		sizeReduction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "size_reduction_percent",
			Help:      "Size reduction of the last optimization or quantization.",
		}, []string{"stage"}),
		artifactBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_size_bytes",
			Help:      "Size of the artifact produced by a stage.",
		}, []string{"stage"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_copies_total",
			Help:      "Stages that copied their input unchanged.",
		}, []string{"stage"}),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_latency",
			Help:      "Result of the last benchmark.",
		}, []string{"statistic"}),
		modelQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_quality",
			Help:      "Detection quality of the last evaluated model.",
		}, []string{"metric"}),
	}
	r.registry.MustRegister(
		r.stageTransitions,
		r.stageDuration,
		r.runs,
		r.sizeReduction,
		r.artifactBytes,
		r.fallbacks,
		r.latency,
		r.modelQuality,
	)
	return r
}

// Registry exposes the collectors, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) StageTransition(stage api.Stage, outcome api.StageOutcome) {
	r.stageTransitions.WithLabelValues(string(stage), string(outcome)).Inc()
}

func (r *Recorder) StageDuration(stage api.Stage, duration time.Duration) {
	r.stageDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())
}

func (r *Recorder) SizeReport(report api.SizeReport) {
	stage := string(report.Stage)
	r.sizeReduction.WithLabelValues(stage).Set(report.ReductionPercent)
	r.artifactBytes.WithLabelValues(stage).Set(float64(report.ResultBytes))
	if report.FallbackUsed {
		r.fallbacks.WithLabelValues(stage).Inc()
	}
}

func (r *Recorder) Latency(report *api.LatencyReport) {
	if report == nil {
		return
	}
	r.latency.WithLabelValues("mean_ms").Set(report.MeanMs)
	r.latency.WithLabelValues("std_dev_ms").Set(report.StdDevMs)
	r.latency.WithLabelValues("fps").Set(report.FPS)
}

func (r *Recorder) Quality(m *api.PerformanceMetrics) {
	if m == nil {
		return
	}
	for name, value := range m.AsMap() {
		r.modelQuality.WithLabelValues(name).Set(value)
	}
}

func (r *Recorder) RunFinished(status api.Status) {
	r.runs.WithLabelValues(string(status)).Inc()
}

// Push sends the registry to a Pushgateway, the run being a batch job that
// is gone before any scrape.
func (r *Recorder) Push(ctx context.Context, gatewayURL string, job string, runID string) error {
	if gatewayURL == "" {
		return nil
	}
	if job == "" {
		job = DefaultJob
	}
	pusher := push.New(gatewayURL, job).
		Gatherer(r.registry).
		Grouping("run_id", runID)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	r.logger.Info("Pushed metrics", "gateway", gatewayURL, "job", job)
	return nil
}
