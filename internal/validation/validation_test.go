package validation_test

import (
	"context"
	"testing"

	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/validation"
	"github.com/model-forge/model-forge/pkg/api"
)

func TestValidator(t *testing.T) {
	validate, err := validation.NewValidator()
	if err != nil {
		t.Fatalf("Failed to create the validator: %v", err)
	}
	logger := logging.FallbackLogger()

	t.Run("the default training configuration is valid", func(t *testing.T) {
		config := api.DefaultTrainingConfig()
		if err := validation.Struct(context.Background(), logger, validate, &config); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	})

	t.Run("an unknown device is rejected", func(t *testing.T) {
		config := api.DefaultTrainingConfig()
		config.Device = api.DeviceKind("tpu")
		if err := validation.Struct(context.Background(), logger, validate, &config); err == nil {
			t.Fatalf("Expected a validation error for device tpu")
		}
	})

	t.Run("zero epochs are rejected", func(t *testing.T) {
		config := api.DefaultTrainingConfig()
		config.Epochs = 0
		if err := validation.Struct(context.Background(), logger, validate, &config); err == nil {
			t.Fatalf("Expected a validation error for zero epochs")
		}
	})

	t.Run("metrics outside of [0,1] are rejected", func(t *testing.T) {
		metrics := &api.PerformanceMetrics{MAP50: 1.2, MAP50_95: 0.5, Precision: 0.5, Recall: 0.5}
		if err := validation.Struct(context.Background(), logger, validate, metrics); err == nil {
			t.Fatalf("Expected a validation error for mAP50 1.2")
		}
	})
}
