package resources_test

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/internal/resources"
	"github.com/model-forge/model-forge/pkg/api"
)

type probeRunner struct {
	result *abstractions.CommandResult
	err    error
	calls  int
}

func (r *probeRunner) Name() string { return "probe" }

func (r *probeRunner) WithLogger(logger *slog.Logger) abstractions.CommandRunner { return r }

func (r *probeRunner) Run(ctx context.Context, spec abstractions.CommandSpec) (*abstractions.CommandResult, error) {
	r.calls++
	return r.result, r.err
}

func TestAcquire(t *testing.T) {
	ctx := context.Background()
	logger := logging.FallbackLogger()

	t.Run("a GPU is handed out when the probe finds one", func(t *testing.T) {
		runner := &probeRunner{result: &abstractions.CommandResult{Stdout: []byte("NVIDIA A10G\n")}}
		manager := resources.NewManager(logger, runner)
		claim, release, err := manager.Acquire(ctx, api.DeviceGPU, 4)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		defer release()
		if claim.Device != api.DeviceGPU || claim.DeviceName != "NVIDIA A10G" {
			t.Fatalf("Unexpected claim %+v", claim)
		}
	})

	t.Run("a GPU request falls back to the CPU", func(t *testing.T) {
		runner := &probeRunner{err: errors.New("executable file not found")}
		manager := resources.NewManager(logger, runner)
		claim, release, err := manager.Acquire(ctx, api.DeviceGPU, 4)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		release()
		if claim.Device != api.DeviceCPU {
			t.Fatalf("Expected the CPU, got %s", claim.Device)
		}
	})

	t.Run("the probe runs once", func(t *testing.T) {
		runner := &probeRunner{result: &abstractions.CommandResult{ExitCode: 9}}
		manager := resources.NewManager(logger, runner)
		for range 3 {
			_, release, err := manager.Acquire(ctx, api.DeviceGPU, 1)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			release()
		}
		if runner.calls != 1 {
			t.Fatalf("Expected one probe, got %d", runner.calls)
		}
	})

	t.Run("the worker count is capped at the CPU count", func(t *testing.T) {
		manager := resources.NewManager(logger, nil)
		claim, release, err := manager.Acquire(ctx, api.DeviceCPU, 100000)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		release()
		if claim.WorkerCount != runtime.NumCPU() {
			t.Fatalf("Expected %d workers, got %d", runtime.NumCPU(), claim.WorkerCount)
		}
	})

	t.Run("the device is claimed exclusively", func(t *testing.T) {
		manager := resources.NewManager(logger, nil)
		_, release, err := manager.Acquire(ctx, api.DeviceCPU, 1)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if _, _, err := manager.Acquire(waitCtx, api.DeviceCPU, 1); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Expected the second claim to wait, got %v", err)
		}
		release()
		release()
		_, release2, err := manager.Acquire(ctx, api.DeviceCPU, 1)
		if err != nil {
			t.Fatalf("Expected the device to be free after release, got %v", err)
		}
		release2()
	})
}
