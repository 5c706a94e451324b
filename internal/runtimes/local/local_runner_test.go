package local_test

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/runtimes/local"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}
}

func TestLocalRunner(t *testing.T) {
	runner, err := local.NewLocalRunner(logging.FallbackLogger())
	if err != nil {
		t.Fatalf("Failed to create the runner: %v", err)
	}

	t.Run("output and exit code are captured", func(t *testing.T) {
		requireShell(t)
		result, err := runner.Run(context.Background(), abstractions.CommandSpec{
			Name: "sh",
			Args: []string{"-c", "echo hello; echo oops >&2; exit 3"},
		})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if result.ExitCode != 3 {
			t.Fatalf("Expected exit code 3, got %d", result.ExitCode)
		}
		if strings.TrimSpace(string(result.Stdout)) != "hello" || strings.TrimSpace(string(result.Stderr)) != "oops" {
			t.Fatalf("Unexpected output %q %q", result.Stdout, result.Stderr)
		}
	})

	t.Run("the environment and work dir are passed", func(t *testing.T) {
		requireShell(t)
		dir := t.TempDir()
		result, err := runner.Run(context.Background(), abstractions.CommandSpec{
			Name:    "sh",
			Args:    []string{"-c", "echo $FORGE_VALUE; pwd"},
			Env:     map[string]string{"FORGE_VALUE": "42"},
			WorkDir: dir,
		})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(result.Stdout)), "\n")
		if len(lines) != 2 || lines[0] != "42" || !strings.HasSuffix(lines[1], filepath.Base(dir)) {
			t.Fatalf("Unexpected output %q", result.Stdout)
		}
	})

	t.Run("a missing executable is an error", func(t *testing.T) {
		if _, err := runner.Run(context.Background(), abstractions.CommandSpec{Name: "model-forge-does-not-exist"}); err == nil {
			t.Fatalf("Expected an error for a missing executable")
		}
	})
}
