package publish_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/pipelineerrors"
	"github.com/model-forge/model-forge/internal/publish"
	"github.com/model-forge/model-forge/pkg/api"
)

func writeArtifact(t *testing.T, name string, content []byte) *api.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write the artifact: %v", err)
	}
	return &api.Artifact{Path: path, SizeBytes: int64(len(content)), GraphFormat: api.GraphFormatPortable}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	publisher := publish.NewPublisher(logging.FallbackLogger())

	t.Run("the artifact is copied as best with its extension", func(t *testing.T) {
		artifact := writeArtifact(t, "model_quantized.onnx", []byte("graph"))
		dest := filepath.Join(t.TempDir(), "public", "models")
		path, err := publisher.Publish(ctx, artifact, dest)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if path != filepath.Join(dest, "best.onnx") {
			t.Fatalf("Unexpected path %s", path)
		}
		content, err := os.ReadFile(path)
		if err != nil || !bytes.Equal(content, []byte("graph")) {
			t.Fatalf("Unexpected content %q (%v)", content, err)
		}
		info, _ := os.Stat(path)
		if info.Mode().Perm() != 0o644 {
			t.Fatalf("Expected a world readable file, got %v", info.Mode().Perm())
		}
	})

	t.Run("an artifact without extension is published as onnx", func(t *testing.T) {
		artifact := writeArtifact(t, "model", []byte("graph"))
		path, err := publisher.Publish(ctx, artifact, t.TempDir())
		if err != nil || filepath.Base(path) != "best.onnx" {
			t.Fatalf("Unexpected result %s (%v)", path, err)
		}
	})

	t.Run("a previous publication is replaced", func(t *testing.T) {
		dest := t.TempDir()
		if err := os.WriteFile(filepath.Join(dest, "best.onnx"), []byte("old"), 0o644); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		path, err := publisher.Publish(ctx, writeArtifact(t, "m.onnx", []byte("new")), dest)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		content, _ := os.ReadFile(path)
		if string(content) != "new" {
			t.Fatalf("Expected the new model, got %q", content)
		}
		entries, _ := os.ReadDir(dest)
		if len(entries) != 1 {
			t.Fatalf("Expected no temporary files, got %d entries", len(entries))
		}
	})

	t.Run("an unwritable destination is a fatal publish failure", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(blocker, nil, 0o644); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		_, err := publisher.Publish(ctx, writeArtifact(t, "m.onnx", []byte("g")), filepath.Join(blocker, "models"))
		var pe *pipelineerrors.PipelineError
		if !errors.As(err, &pe) || pe.Kind() != api.ErrorKindPublishFailure || !pe.Fatal() {
			t.Fatalf("Expected a fatal PublishFailure, got %v", err)
		}
	})
}
