package resources

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/logging"
	"github.com/model-forge/model-forge/pkg/api"
	"golang.org/x/sys/cpu"
)

// GPUProbe is the command used to discover an attached GPU
var GPUProbe = abstractions.CommandSpec{
	Name: "nvidia-smi",
	Args: []string{"--query-gpu=name", "--format=csv,noheader"},
}

// Manager owns the compute device of the process. Only one stage holds the
// device at a time, training and benchmarking claim it for their whole duration.
type Manager struct {
	logger   *slog.Logger
	runner   abstractions.CommandRunner
	slot     chan struct{}
	maxCPU   int
	probe    sync.Once
	gpuName  string
	hasGPU   bool
	features []string
}

func NewManager(logger *slog.Logger, runner abstractions.CommandRunner) *Manager {
	if logger == nil {
		logger = logging.DiscardLogger()
	}
	return &Manager{
		logger:   logger,
		runner:   runner,
		slot:     make(chan struct{}, 1),
		maxCPU:   runtime.NumCPU(),
		features: CPUFeatures(),
	}
}

// Acquire blocks until the device is free. A GPU request on a host without a GPU
// is downgraded to the CPU with a warning. The worker count is capped at the
// number of CPUs, zero or less means all of them.
func (m *Manager) Acquire(ctx context.Context, requested api.DeviceKind, workers int) (*api.ExecutionResources, func(), error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	var once sync.Once
	release := func() {
		once.Do(func() { <-m.slot })
	}

	m.probe.Do(func() { m.probeGPU(ctx) })

	resources := &api.ExecutionResources{
		Device:      api.DeviceCPU,
		WorkerCount: m.workers(workers),
		CPUFeatures: m.features,
	}
	if requested == api.DeviceGPU {
		if m.hasGPU {
			resources.Device = api.DeviceGPU
			resources.DeviceName = m.gpuName
		} else {
			m.logger.Warn("A GPU was requested but none is available, using the CPU")
		}
	}
	m.logger.Debug("Device acquired", "device", resources.Device, "device_name", resources.DeviceName, "workers", resources.WorkerCount)
	return resources, release, nil
}

func (m *Manager) workers(requested int) int {
	if requested <= 0 || requested > m.maxCPU {
		return m.maxCPU
	}
	return requested
}

func (m *Manager) probeGPU(ctx context.Context) {
	if m.runner == nil {
		return
	}
	result, err := m.runner.Run(ctx, GPUProbe)
	if err != nil {
		m.logger.Info("No GPU found", "error", err.Error())
		return
	}
	if result.ExitCode != 0 {
		m.logger.Info("No GPU found", "exit_code", result.ExitCode, "stderr", string(result.Stderr))
		return
	}
	scanner := bufio.NewScanner(bytes.NewReader(result.Stdout))
	for scanner.Scan() {
		if name := string(bytes.TrimSpace(scanner.Bytes())); name != "" {
			m.gpuName = name
			m.hasGPU = true
			m.logger.Info("GPU found", "device_name", name)
			return
		}
	}
}

// CPUFeatures lists the vector extensions of the host CPU that inference
// runtimes make use of.
func CPUFeatures() []string {
	var features []string
	add := func(present bool, name string) {
		if present {
			features = append(features, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasSSE42, "sse4.2")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
		add(cpu.X86.HasAVX512VNNI, "avx512vnni")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasFPHP, "fphp")
		add(cpu.ARM64.HasASIMDDP, "asimddp")
		add(cpu.ARM64.HasSVE, "sve")
	}
	return features
}
