package metrics_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/metrics"
	"github.com/model-forge/model-forge/pkg/api"
)

func TestRecorder(t *testing.T) {
	t.Run("size reports set the reduction and count fallbacks", func(t *testing.T) {
		r := metrics.NewRecorder(logging.DiscardLogger())
		r.SizeReport(api.NewSizeReport(api.StageOptimizing, 50_000_000, 40_000_000))
		r.SizeReport(api.FallbackSizeReport(api.StageQuantizing, 40_000_000, "unsupported operator"))

		expected := `
# HELP model_forge_size_reduction_percent Size reduction of the last optimization or quantization.
# TYPE model_forge_size_reduction_percent gauge
model_forge_size_reduction_percent{stage="optimizing"} 20
model_forge_size_reduction_percent{stage="quantizing"} 0
`
		if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "model_forge_size_reduction_percent"); err != nil {
			t.Fatalf("Unexpected metrics: %v", err)
		}
		if n := testutil.CollectAndCount(r.Registry(), "model_forge_fallback_copies_total"); n != 1 {
			t.Fatalf("Expected one fallback series, got %d", n)
		}
	})

	t.Run("transitions, durations and runs are counted", func(t *testing.T) {
		r := metrics.NewRecorder(logging.DiscardLogger())
		r.StageTransition(api.StageTraining, api.OutcomeStarted)
		r.StageTransition(api.StageTraining, api.OutcomeCompleted)
		r.StageDuration(api.StageTraining, 3*time.Second)
		r.RunFinished(api.StatusSuccess)
		r.Latency(&api.LatencyReport{MeanMs: 10, StdDevMs: 1, FPS: 100, SampleCount: 10})
		r.Quality(&api.PerformanceMetrics{MAP50: 0.5})

		if n := testutil.CollectAndCount(r.Registry(), "model_forge_stage_transitions_total"); n != 2 {
			t.Fatalf("Expected 2 transition series, got %d", n)
		}
		if n := testutil.CollectAndCount(r.Registry(), "model_forge_inference_latency"); n != 3 {
			t.Fatalf("Expected 3 latency series, got %d", n)
		}
		if n := testutil.CollectAndCount(r.Registry(), "model_forge_model_quality"); n != 4 {
			t.Fatalf("Expected 4 quality series, got %d", n)
		}
	})

	t.Run("nil reports are ignored", func(t *testing.T) {
		r := metrics.NewRecorder(logging.DiscardLogger())
		r.Latency(nil)
		r.Quality(nil)
		if n := testutil.CollectAndCount(r.Registry(), "model_forge_inference_latency"); n != 0 {
			t.Fatalf("Expected no latency series, got %d", n)
		}
	})
}

func TestPush(t *testing.T) {
	t.Run("the registry is pushed grouped by run id", func(t *testing.T) {
		var gotPath, gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			gotPath = req.URL.Path
			body, _ := io.ReadAll(req.Body)
			gotBody = string(body)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		r := metrics.NewRecorder(logging.DiscardLogger())
		r.RunFinished(api.StatusFailed)
		if err := r.Push(context.Background(), srv.URL, "", "run-1"); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if gotPath != "/metrics/job/model_forge/run_id/run-1" {
			t.Fatalf("Unexpected push path %s", gotPath)
		}
		if gotBody == "" {
			t.Fatalf("Expected a body")
		}
	})

	t.Run("no gateway means no push", func(t *testing.T) {
		r := metrics.NewRecorder(logging.DiscardLogger())
		if err := r.Push(context.Background(), "", "", "run-1"); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	})
}
