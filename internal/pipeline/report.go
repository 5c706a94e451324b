package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/model-forge/model-forge/pkg/api"
)

const bytesPerMB = 1024 * 1024

// ReportPrinter writes the human-readable stage reports
type ReportPrinter struct {
	w io.Writer
}

func NewReportPrinter(w io.Writer) *ReportPrinter {
	return &ReportPrinter{w: w}
}

func (p *ReportPrinter) RunStarted(_ context.Context, pc *api.PipelineContext, plan *api.Plan) error {
	stages := make([]string, 0)
	for _, stage := range PlannedStages(plan) {
		stages = append(stages, string(stage))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", pc.RunID, strings.Join(stages, " -> "))
	// the input of an optimize run is inspected before the first stage
	if plan.FromModel() && pc.Current != nil {
		b.WriteString("\n[input model]\n")
		writeModelInfo(&b, pc.Current)
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *ReportPrinter) Transition(_ context.Context, pc *api.PipelineContext, event *api.StageEvent, duration time.Duration) error {
	var b strings.Builder
	switch event.Outcome {
	case api.OutcomeStarted:
		fmt.Fprintf(&b, "\n[%s]\n", event.Stage)
	case api.OutcomeFailed:
		fmt.Fprintf(&b, "  failed: %s\n", event.Message)
	case api.OutcomeCompleted, api.OutcomeDegraded:
		writeStageDetails(&b, pc, event.Stage)
		if event.Outcome == api.OutcomeDegraded {
			fmt.Fprintf(&b, "  warning: %s\n", event.Message)
		}
		fmt.Fprintf(&b, "  %s in %s\n", event.Outcome, duration.Round(time.Millisecond))
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *ReportPrinter) RunFinished(_ context.Context, _ *api.PipelineContext, report *api.PipelineReport) error {
	_, err := io.WriteString(p.w, FormatReport(report))
	return err
}

func writeStageDetails(b *strings.Builder, pc *api.PipelineContext, stage api.Stage) {
	switch stage {
	case api.StageAcquiringDataset:
		if ds := pc.Dataset; ds != nil {
			fmt.Fprintf(b, "  dataset: %s (%d classes)\n", ds.Location, ds.ClassCount)
		}
	case api.StageTraining:
		if pc.Current != nil {
			fmt.Fprintf(b, "  weights: %s\n", pc.Current.Path)
		}
	case api.StageEvaluating:
		if m := pc.Metrics; m != nil {
			fmt.Fprintf(b, "  mAP50: %.3f\n  mAP50-95: %.3f\n  precision: %.3f\n  recall: %.3f\n", m.MAP50, m.MAP50_95, m.Precision, m.Recall)
		}
	case api.StageExporting:
		if pc.Current != nil {
			writeModelInfo(b, pc.Current)
		}
	case api.StageOptimizing, api.StageQuantizing:
		if report := lastSizeReport(pc, stage); report != nil {
			writeSizeReport(b, report)
		}
		if pc.Current != nil {
			fmt.Fprintf(b, "  output: %s\n", pc.Current.Path)
		}
	case api.StageBenchmarking:
		if l := pc.Latency; l != nil {
			writeLatency(b, l)
		}
	case api.StagePublishing:
		fmt.Fprintf(b, "  published: %s\n", pc.PublishedPath)
	}
}

func writeModelInfo(b *strings.Builder, artifact *api.Artifact) {
	fmt.Fprintf(b, "  model: %s\n", artifact.Path)
	fmt.Fprintf(b, "  size: %.2f MB\n", megabytes(artifact.SizeBytes))
	fmt.Fprintf(b, "  ir version: %d\n", artifact.IRVersion)
	fmt.Fprintf(b, "  producer: %s\n", artifact.ProducerName)
	if artifact.Description != "" {
		fmt.Fprintf(b, "  description: %s\n", artifact.Description)
	}
	b.WriteString("  inputs:\n")
	for _, t := range artifact.Inputs {
		fmt.Fprintf(b, "    - %s: %v\n", t.Name, t.Shape)
	}
	b.WriteString("  outputs:\n")
	for _, t := range artifact.Outputs {
		fmt.Fprintf(b, "    - %s: %v\n", t.Name, t.Shape)
	}
	fmt.Fprintf(b, "  nodes: %d\n", artifact.NodeCount)
}

func writeSizeReport(b *strings.Builder, report *api.SizeReport) {
	fmt.Fprintf(b, "  original size: %.2f MB\n", megabytes(report.OriginalBytes))
	fmt.Fprintf(b, "  result size: %.2f MB\n", megabytes(report.ResultBytes))
	fmt.Fprintf(b, "  size reduction: %.1f%%\n", report.ReductionPercent)
	if report.FallbackUsed {
		b.WriteString("  the input was copied unchanged\n")
	}
}

func writeLatency(b *strings.Builder, l *api.LatencyReport) {
	fmt.Fprintf(b, "  mean inference time: %.2f ms\n", l.MeanMs)
	fmt.Fprintf(b, "  standard deviation: %.2f ms\n", l.StdDevMs)
	fmt.Fprintf(b, "  fps: %.1f\n", l.FPS)
	fmt.Fprintf(b, "  samples: %d\n", l.SampleCount)
}

// FormatReport renders the final report of a run.
func FormatReport(report *api.PipelineReport) string {
	var b strings.Builder
	b.WriteString("\n")
	if report.Status == api.StatusFailed && report.Failure != nil {
		fmt.Fprintf(&b, "Pipeline failed in %s (%s), last completed stage: %s\n", report.Failure.Stage, report.Failure.Kind, report.Failure.LastCompleted)
		if report.Failure.Message != nil {
			fmt.Fprintf(&b, "  %s\n", report.Failure.Message.Message)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "Pipeline completed in %.1fs\n", report.DurationSeconds)
	if report.FinalArtifact != nil {
		fmt.Fprintf(&b, "  final model: %s (%.2f MB)\n", report.FinalArtifact.Path, megabytes(report.FinalArtifact.SizeBytes))
	}
	for _, size := range report.SizeReports {
		fmt.Fprintf(&b, "  %s: %.1f%% reduction", size.Stage, size.ReductionPercent)
		if size.FallbackUsed {
			b.WriteString(" (copied unchanged)")
		}
		b.WriteString("\n")
	}
	if report.Latency != nil {
		fmt.Fprintf(&b, "  latency: %.2f ms, %.1f fps\n", report.Latency.MeanMs, report.Latency.FPS)
	}
	if report.PublishedPath != "" {
		fmt.Fprintf(&b, "  published: %s\n", report.PublishedPath)
	}
	return b.String()
}

func megabytes(n int64) float64 {
	return float64(n) / bytesPerMB
}
