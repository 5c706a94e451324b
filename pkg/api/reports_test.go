package api_test

import (
	"testing"

	"github.com/model-forge/model-forge/pkg/api"
)

func TestSizeReport(t *testing.T) {
	t.Run("50 MB to 40 MB is a 20% reduction", func(t *testing.T) {
		report := api.NewSizeReport(api.StageOptimizing, 50_000_000, 40_000_000)
		if report.ReductionPercent != 20.0 {
			t.Fatalf("Expected 20.0, got %v", report.ReductionPercent)
		}
	})

	t.Run("an unchanged size is a 0% reduction", func(t *testing.T) {
		report := api.NewSizeReport(api.StageQuantizing, 1234, 1234)
		if report.ReductionPercent != 0 {
			t.Fatalf("Expected 0, got %v", report.ReductionPercent)
		}
	})

	t.Run("an empty original does not divide by zero", func(t *testing.T) {
		report := api.NewSizeReport(api.StageOptimizing, 0, 10)
		if report.ReductionPercent != 0 {
			t.Fatalf("Expected 0, got %v", report.ReductionPercent)
		}
	})

	t.Run("a fallback report keeps the size", func(t *testing.T) {
		report := api.FallbackSizeReport(api.StageQuantizing, 100, "unsupported operator")
		if !report.FallbackUsed || report.OriginalBytes != 100 || report.ResultBytes != 100 || report.ReductionPercent != 0 {
			t.Fatalf("Unexpected report %+v", report)
		}
	})
}

func TestDeriveOutputPaths(t *testing.T) {
	t.Run("the default output name", func(t *testing.T) {
		optimized, quantized := api.DeriveOutputPaths("optimized_model.onnx")
		if optimized != "optimized_model_optimized.onnx" || quantized != "optimized_model_quantized.onnx" {
			t.Fatalf("Unexpected paths %s %s", optimized, quantized)
		}
	})
}
