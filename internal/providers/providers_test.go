package providers_test

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/model-forge/model-forge/internal/config"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/providers"
	"github.com/model-forge/model-forge/internal/providers/roboflow"
	"github.com/model-forge/model-forge/pkg/api"
)

func TestNewDatasetProvider(t *testing.T) {
	logger := logging.FallbackLogger()

	t.Run("roboflow is the default provider", func(t *testing.T) {
		provider, err := providers.NewDatasetProvider(logger, &config.Config{Dataset: &config.DatasetConfig{}})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if provider.Name() != "roboflow" {
			t.Fatalf("Expected roboflow, got %s", provider.Name())
		}
	})

	t.Run("the local provider needs a directory", func(t *testing.T) {
		_, err := providers.NewDatasetProvider(logger, &config.Config{Dataset: &config.DatasetConfig{Provider: "local"}})
		if err == nil {
			t.Fatalf("Expected an error")
		}
	})

	t.Run("an unknown provider is rejected", func(t *testing.T) {
		_, err := providers.NewDatasetProvider(logger, &config.Config{Dataset: &config.DatasetConfig{Provider: "kaggle"}})
		if err == nil {
			t.Fatalf("Expected an error")
		}
	})
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	logger := logging.FallbackLogger()
	ref := api.DatasetRef{Workspace: "cars", Project: "brands", Version: 1}

	t.Run("the staged directory is returned", func(t *testing.T) {
		dir := t.TempDir()
		provider, err := providers.NewDatasetProvider(logger, &config.Config{Dataset: &config.DatasetConfig{Provider: "local", LocalDir: dir}})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		location, err := provider.Fetch(ctx, ref, "ignored")
		if err != nil || location != dir {
			t.Fatalf("Expected %s, got %s (%v)", dir, location, err)
		}
	})

	t.Run("a missing directory is an error", func(t *testing.T) {
		provider, _ := providers.NewDatasetProvider(logger, &config.Config{Dataset: &config.DatasetConfig{Provider: "local", LocalDir: filepath.Join(t.TempDir(), "missing")}})
		if _, err := provider.Fetch(ctx, ref, ""); err == nil {
			t.Fatalf("Expected an error")
		}
	})
}

func zipBundle(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("data.yaml")
	if err != nil {
		t.Fatalf("Failed to create zip entry: %v", err)
	}
	_, _ = f.Write([]byte("names: [audi]\n"))
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func TestRoboflowProvider(t *testing.T) {
	ctx := context.Background()
	logger := logging.FallbackLogger()
	ref := api.DatasetRef{Workspace: "cars", Project: "brands", Version: 3}

	newServer := func(t *testing.T, calls *int) *httptest.Server {
		data := zipBundle(t)
		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*calls++
			if r.URL.Path == "/bundle.zip" {
				_, _ = w.Write(data)
				return
			}
			fmt.Fprintf(w, `{"export":{"link":"%s/bundle.zip"}}`, srv.URL)
		}))
		return srv
	}

	t.Run("a version is downloaded into <project>-<version>", func(t *testing.T) {
		calls := 0
		srv := newServer(t, &calls)
		defer srv.Close()

		provider, err := roboflow.NewProvider(logger, &config.RoboflowConfig{BaseURL: srv.URL, APIKey: "key"})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		dest := t.TempDir()
		location, err := provider.Fetch(ctx, ref, dest)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if location != filepath.Join(dest, "brands-3") {
			t.Fatalf("Unexpected location %s", location)
		}
		if _, err := os.Stat(filepath.Join(location, "data.yaml")); err != nil {
			t.Fatalf("Expected the manifest: %v", err)
		}
		if calls != 2 {
			t.Fatalf("Expected 2 requests, got %d", calls)
		}

		// a second fetch reuses the extracted copy
		if _, err := provider.Fetch(ctx, ref, dest); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if calls != 2 {
			t.Fatalf("Expected no further requests, got %d", calls)
		}
	})

	t.Run("an unreachable provider is an error", func(t *testing.T) {
		provider, _ := roboflow.NewProvider(logger, &config.RoboflowConfig{BaseURL: "http://127.0.0.1:1"})
		if _, err := provider.Fetch(ctx, ref, t.TempDir()); err == nil {
			t.Fatalf("Expected an error")
		}
	})
}
