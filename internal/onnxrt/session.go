package onnxrt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/pkg/api"
	ort "github.com/yalue/onnxruntime_go"
)

// Session is one graph loaded into onnxruntime. It is not safe for concurrent use.
type Session struct {
	logger  *slog.Logger
	session *ort.DynamicAdvancedSession
	inputs  []api.TensorInfo
	outputs []string

	// the input tensor of the previous call, reused while the caller passes the same tensor
	last   *abstractions.Tensor
	tensor *ort.Tensor[float32]
}

func newSession(logger *slog.Logger, path string, resources *api.ExecutionResources) (*Session, error) {
	inputInfo, outputInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("error reading the graph inputs and outputs: %w", err)
	}
	options, err := sessionOptions(logger, resources)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(path, names(inputInfo), names(outputInfo), options)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	inputs := make([]api.TensorInfo, 0, len(inputInfo))
	for _, info := range inputInfo {
		shape := make([]int64, len(info.Dimensions))
		for i, dim := range info.Dimensions {
			// onnxruntime reports dynamic dimensions as -1
			if dim > 0 {
				shape[i] = dim
			}
		}
		inputs = append(inputs, api.TensorInfo{Name: info.Name, Shape: shape})
	}
	return &Session{logger: logger, session: session, inputs: inputs, outputs: names(outputInfo)}, nil
}

func sessionOptions(logger *slog.Logger, resources *api.ExecutionResources) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	if resources == nil {
		return options, nil
	}
	if resources.WorkerCount > 0 {
		if err := options.SetIntraOpNumThreads(resources.WorkerCount); err != nil {
			options.Destroy()
			return nil, err
		}
		if err := options.SetInterOpNumThreads(resources.WorkerCount); err != nil {
			options.Destroy()
			return nil, err
		}
	}
	if resources.Device == api.DeviceGPU {
		if err := appendCUDA(options); err != nil {
			logger.Warn("The CUDA execution provider is not available, running on the CPU", "error", err.Error())
		}
	}
	return options, nil
}

func appendCUDA(options *ort.SessionOptions) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()
	if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
		return err
	}
	return options.AppendExecutionProviderCUDA(cudaOptions)
}

func (s *Session) Inputs() []api.TensorInfo {
	return s.inputs
}

// Run executes the graph once. Outputs are allocated by onnxruntime and discarded.
func (s *Session) Run(ctx context.Context, input *abstractions.Tensor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.inputs) != 1 {
		return fmt.Errorf("expected a graph with one input, got %d", len(s.inputs))
	}
	if input != s.last {
		if err := s.setInput(input); err != nil {
			return err
		}
	}
	outputs := make([]ort.Value, len(s.outputs))
	if err := s.session.Run([]ort.Value{s.tensor}, outputs); err != nil {
		return err
	}
	for _, output := range outputs {
		if output != nil {
			if err := output.Destroy(); err != nil {
				s.logger.Warn("Failed to release an output tensor", "error", err.Error())
			}
		}
	}
	return nil
}

func (s *Session) setInput(input *abstractions.Tensor) error {
	tensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return fmt.Errorf("error creating input tensor: %w", err)
	}
	s.releaseInput()
	s.tensor = tensor
	s.last = input
	return nil
}

func (s *Session) releaseInput() {
	if s.tensor != nil {
		_ = s.tensor.Destroy()
		s.tensor = nil
		s.last = nil
	}
}

func (s *Session) Close() error {
	s.releaseInput()
	return s.session.Destroy()
}
