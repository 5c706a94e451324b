package roboflowclient_test

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/model-forge/model-forge/pkg/roboflowclient"
)

func bundle(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("Failed to create zip entry: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("Failed to write zip entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func TestGetExport(t *testing.T) {
	t.Run("the export link is read from the version document", func(t *testing.T) {
		var gotPath, gotKey string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotKey = r.URL.Query().Get("api_key")
			fmt.Fprint(w, `{"version":{"id":"cars/brands/3"},"export":{"format":"yolov8","link":"https://storage.example/bundle.zip"}}`)
		}))
		defer srv.Close()

		client := roboflowclient.NewClient(srv.URL + "/").WithAPIKey("secret")
		export, err := client.GetExport("cars", "brands", 3, "yolov8")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if export.Link != "https://storage.example/bundle.zip" || export.VersionID != "cars/brands/3" {
			t.Fatalf("Unexpected export %+v", export)
		}
		if gotPath != "/cars/brands/3/yolov8" || gotKey != "secret" {
			t.Fatalf("Unexpected request %s key=%s", gotPath, gotKey)
		}
	})

	t.Run("a version without a link is not ready", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"progress":0.4}`)
		}))
		defer srv.Close()

		_, err := roboflowclient.NewClient(srv.URL).GetExport("cars", "brands", 3, "yolov8")
		var notReady *roboflowclient.ExportNotReadyError
		if !errors.As(err, &notReady) {
			t.Fatalf("Expected an export not ready error, got %v", err)
		}
	})

	t.Run("an unknown version is a not found error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"message":"Version not found","type":"NotFoundException"}}`)
		}))
		defer srv.Close()

		_, err := roboflowclient.NewClient(srv.URL).GetExport("cars", "brands", 99, "yolov8")
		if !roboflowclient.IsNotFoundError(err) {
			t.Fatalf("Expected a not found error, got %v", err)
		}
		if err.Error() != "roboflow API error (status 404): Version not found" {
			t.Fatalf("Unexpected message %q", err.Error())
		}
	})

	t.Run("a rejected key is reported as unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := roboflowclient.NewClient(srv.URL).WithAPIKey("bad").GetExport("cars", "brands", 1, "yolov8")
		if !roboflowclient.IsUnauthorizedError(err) {
			t.Fatalf("Expected an unauthorized error, got %v", err)
		}
	})
}

func TestDownloadTo(t *testing.T) {
	t.Run("the bundle is extracted into the destination", func(t *testing.T) {
		data := bundle(t, map[string]string{
			"data.yaml":          "names: [audi, bmw]\n",
			"train/images/a.jpg": "jpg",
			"valid/labels/a.txt": "0 0.5 0.5 0.1 0.1",
		})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(data)
		}))
		defer srv.Close()

		dest := t.TempDir()
		client := roboflowclient.NewClient(srv.URL)
		if err := client.DownloadTo(&roboflowclient.Export{Link: srv.URL + "/bundle.zip"}, dest); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		content, err := os.ReadFile(filepath.Join(dest, "data.yaml"))
		if err != nil || string(content) != "names: [audi, bmw]\n" {
			t.Fatalf("Unexpected manifest %q (%v)", content, err)
		}
		if _, err := os.Stat(filepath.Join(dest, "valid", "labels", "a.txt")); err != nil {
			t.Fatalf("Expected the label file: %v", err)
		}
	})

	t.Run("a failed download is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		err := roboflowclient.NewClient(srv.URL).DownloadTo(&roboflowclient.Export{Link: srv.URL}, t.TempDir())
		if err == nil {
			t.Fatalf("Expected an error")
		}
	})
}

func TestExtract(t *testing.T) {
	t.Run("entries escaping the destination are rejected", func(t *testing.T) {
		data := bundle(t, map[string]string{"../../evil.sh": "rm -rf /"})
		dest := t.TempDir()
		if err := roboflowclient.Extract(bytes.NewReader(data), int64(len(data)), dest); err == nil {
			t.Fatalf("Expected an error")
		}
		if _, err := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(dest)), "evil.sh")); err == nil {
			t.Fatalf("The entry must not be written")
		}
	})

	t.Run("data that is not a zip is rejected", func(t *testing.T) {
		data := []byte("<html>not a bundle</html>")
		if err := roboflowclient.Extract(bytes.NewReader(data), int64(len(data)), t.TempDir()); err == nil {
			t.Fatalf("Expected an error")
		}
	})
}
