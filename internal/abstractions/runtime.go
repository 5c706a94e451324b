package abstractions

import (
	"context"
	"log/slog"

	"github.com/model-forge/model-forge/pkg/api"
)

// CommandResult is the captured output of a finished command
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandSpec is a command line run by a CommandRunner
type CommandSpec struct {
	Name    string
	Args    []string
	Env     map[string]string
	WorkDir string
	// UseGPU asks the runner to schedule the command on a GPU (k8s runner only)
	UseGPU bool
}

// CommandRunner runs external tool invocations. Concrete implementations hold the
// specific aspects of where the command runs (local process, Kubernetes job).
// No other places in the code should be pointing directly to K8s or os/exec.
type CommandRunner interface {
	Name() string
	WithLogger(logger *slog.Logger) CommandRunner
	Run(ctx context.Context, spec CommandSpec) (*CommandResult, error)
}

// DeviceManager hands out exclusive claims on the compute device. The returned
// release function must be called once the claim is no longer needed.
type DeviceManager interface {
	Acquire(ctx context.Context, requested api.DeviceKind, workers int) (*api.ExecutionResources, func(), error)
}
