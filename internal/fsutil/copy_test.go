package fsutil_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/model-forge/model-forge/internal/fsutil"
)

func writeFile(t *testing.T, path string, data []byte, perm os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, data, perm); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("Failed to chmod %s: %v", path, err)
	}
}

func TestCopyFile(t *testing.T) {
	t.Run("the copy is byte identical and uses the given mode", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "model.onnx")
		writeFile(t, src, []byte("graph bytes"), 0o600)
		dst := filepath.Join(dir, "public", "models", "best.onnx")

		if err := fsutil.CopyFile(src, dst, 0o644); err != nil {
			t.Fatalf("Failed to copy: %v", err)
		}
		data, err := os.ReadFile(dst)
		if err != nil {
			t.Fatalf("Failed to read the copy: %v", err)
		}
		if !bytes.Equal(data, []byte("graph bytes")) {
			t.Fatalf("Unexpected content %q", data)
		}
		info, err := os.Stat(dst)
		if err != nil {
			t.Fatalf("Failed to stat the copy: %v", err)
		}
		if info.Mode().Perm() != 0o644 {
			t.Fatalf("Expected mode 0644, got %v", info.Mode().Perm())
		}
	})

	t.Run("an existing file is replaced and no temporary file is left", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "new.onnx")
		dst := filepath.Join(dir, "best.onnx")
		writeFile(t, src, []byte("new"), 0o644)
		writeFile(t, dst, []byte("an older and longer model"), 0o644)

		if err := fsutil.CopyFile(src, dst, 0o644); err != nil {
			t.Fatalf("Failed to copy: %v", err)
		}
		if data, _ := os.ReadFile(dst); string(data) != "new" {
			t.Fatalf("Expected the file to be replaced, got %q", data)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("Failed to list %s: %v", dir, err)
		}
		if len(entries) != 2 {
			t.Fatalf("Expected only the source and the copy, got %d entries", len(entries))
		}
	})

	t.Run("a missing source leaves the destination alone", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "best.onnx")
		writeFile(t, dst, []byte("published"), 0o644)

		if err := fsutil.CopyFile(filepath.Join(dir, "missing.onnx"), dst, 0o644); !os.IsNotExist(err) {
			t.Fatalf("Expected a not exist error, got %v", err)
		}
		if data, _ := os.ReadFile(dst); string(data) != "published" {
			t.Fatalf("Expected the destination to be unchanged, got %q", data)
		}
	})
}

func TestCloneFile(t *testing.T) {
	t.Run("the mode and modification time of the source are kept", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "model_optimized.onnx")
		writeFile(t, src, []byte("graph"), 0o640)
		mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		if err := os.Chtimes(src, mtime, mtime); err != nil {
			t.Fatalf("Failed to set the modification time: %v", err)
		}
		dst := filepath.Join(dir, "model_quantized.onnx")

		if err := fsutil.CloneFile(src, dst); err != nil {
			t.Fatalf("Failed to clone: %v", err)
		}
		info, err := os.Stat(dst)
		if err != nil {
			t.Fatalf("Failed to stat the clone: %v", err)
		}
		if info.Mode().Perm() != 0o640 {
			t.Fatalf("Expected mode 0640, got %v", info.Mode().Perm())
		}
		if !info.ModTime().Equal(mtime) {
			t.Fatalf("Expected mtime %v, got %v", mtime, info.ModTime())
		}
	})
}
