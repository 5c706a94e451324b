package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/validation"
	"github.com/model-forge/model-forge/pkg/api"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return dir
}

func TestLoadConfig(t *testing.T) {
	logger := logging.FallbackLogger()
	buildDate := time.Now().Format(time.RFC3339)

	t.Run("loading the bundled config", func(t *testing.T) {
		conf, err := config.LoadConfig(logger, "0.0.1", "local", buildDate, "../../config")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if conf.Pipeline.Version != "0.0.1" {
			t.Fatalf("Expected version 0.0.1, got %s", conf.Pipeline.Version)
		}
		if conf.Training == nil {
			t.Fatalf("Training config is nil")
		}
		if conf.Training.Epochs != 100 || conf.Training.ImageSize != 640 || conf.Training.BatchSize != 16 {
			t.Fatalf("Unexpected training parameters %+v", conf.Training.TrainingConfig)
		}
		if conf.Training.Device != api.DeviceGPU {
			t.Fatalf("Expected device gpu, got %s", conf.Training.Device)
		}
		if conf.Pipeline.PublishDir != "public/models" {
			t.Fatalf("Expected publish dir public/models, got %s", conf.Pipeline.PublishDir)
		}
		if conf.MLFlow == nil || conf.MLFlow.Tags["project"] != "car-brands" || conf.MLFlow.Retries != 2 {
			t.Fatalf("Expected the bundled MLflow defaults, got %+v", conf.MLFlow)
		}
		validate, err := validation.NewValidator()
		if err != nil {
			t.Fatalf("Failed to create validator: %v", err)
		}
		if err := conf.Validate(context.Background(), logger, validate); err != nil {
			t.Fatalf("Expected the bundled config to be valid: %v", err)
		}
	})

	t.Run("a missing config file is an error", func(t *testing.T) {
		if _, err := config.LoadConfig(logger, "0.0.1", "local", buildDate, t.TempDir()); err == nil {
			t.Fatalf("Expected an error for a missing config file")
		}
	})

	t.Run("setting environment variables", func(t *testing.T) {
		t.Setenv("MLFLOW_TRACKING_URI", "http://localhost:9999")
		conf, err := config.LoadConfig(logger, "0.0.1", "local", buildDate, "../../config")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if !conf.IsMLFlowConfigured() {
			t.Fatalf("Expected MLflow to be configured")
		}
		if conf.MLFlow.TrackingURI != "http://localhost:9999" {
			t.Fatalf("MLflow tracking URI is not http://localhost:9999, got %s", conf.MLFlow.TrackingURI)
		}
	})

	t.Run("CONFIG_PATH overrides base config values", func(t *testing.T) {
		baseDir := writeConfig(t, `
pipeline:
  publish_dir: out/models
training:
  runtime: local
  epochs: 100
database:
  driver: sqlite
  url: "file::memory:?mode=memory&cache=shared"
`)
		operatorDir := writeConfig(t, `
training:
  epochs: 3
database:
  driver: pgx
  url: "postgres://localhost:5432/model_forge"
`)
		t.Setenv("CONFIG_PATH", filepath.Join(operatorDir, "config.yaml"))

		conf, err := config.LoadConfig(logger, "0.0.1", "local", buildDate, baseDir)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		db := *conf.Database
		if driver, ok := db["driver"]; !ok || driver.(string) != "pgx" {
			t.Fatalf("Expected database driver pgx from CONFIG_PATH, got %v", db["driver"])
		}
		if conf.Training.Epochs != 3 {
			t.Fatalf("Expected 3 epochs from CONFIG_PATH, got %d", conf.Training.Epochs)
		}
		if conf.Training.Runtime != "local" {
			t.Fatalf("Expected the runtime to be preserved from the base config, got %s", conf.Training.Runtime)
		}
		if conf.Pipeline.PublishDir != "out/models" {
			t.Fatalf("Expected publish dir out/models from base config, got %s", conf.Pipeline.PublishDir)
		}
	})

	t.Run("CONFIG_PATH replaces bundled secret mappings", func(t *testing.T) {
		secretsDir := t.TempDir()
		baseDir := writeConfig(t, `
pipeline:
  publish_dir: out/models
secrets:
  dir: `+secretsDir+`
  mappings:
    db_password: database.password
`)
		operatorDir := writeConfig(t, `
database:
  driver: pgx
secrets:
  dir: `+secretsDir+`
  mappings:
    db-url:optional: database.url
`)
		t.Setenv("CONFIG_PATH", filepath.Join(operatorDir, "config.yaml"))

		// db_password does not exist, it must not be looked up
		conf, err := config.LoadConfig(logger, "0.0.1", "local", buildDate, baseDir)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if conf == nil {
			t.Fatalf("Config is nil")
		}
	})

	t.Run("loading config from secrets directory", func(t *testing.T) {
		secretsDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(secretsDir, "db_password"), []byte("mysecret\n"), 0600); err != nil {
			t.Fatalf("Failed to create secret: %v", err)
		}
		baseDir := writeConfig(t, `
database:
  driver: sqlite
secrets:
  dir: `+secretsDir+`
  mappings:
    db_password: database.password
    missing_token:optional: mlflow.token_path
`)
		conf, err := config.LoadConfig(logger, "0.0.1", "local", buildDate, baseDir)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if !conf.IsDatabaseConfigured() {
			t.Fatalf("Database config is not set")
		}
		db := *conf.Database
		if password, ok := db["password"]; !ok || password.(string) != "mysecret" {
			t.Fatalf("Database password is not mysecret, got %v", db["password"])
		}
	})

	t.Run("a required secret that is missing fails the load", func(t *testing.T) {
		baseDir := writeConfig(t, `
secrets:
  dir: `+t.TempDir()+`
  mappings:
    db_password: database.password
`)
		if _, err := config.LoadConfig(logger, "0.0.1", "local", buildDate, baseDir); err == nil {
			t.Fatalf("Expected an error for the missing secret")
		}
	})

	t.Run("the dataset reference comes from the dataset section", func(t *testing.T) {
		baseDir := writeConfig(t, `
dataset:
  provider: local
  workspace: ws
  project: cars
  version: 7
  format: yolov8
`)
		conf, err := config.LoadConfig(logger, "0.0.1", "local", buildDate, baseDir)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		ref := conf.DatasetRef()
		if ref.String() != "ws/cars/7" || ref.Format != "yolov8" {
			t.Fatalf("Unexpected dataset reference %+v", ref)
		}
	})
}
