package graph

import (
	"fmt"
	"math"
)

// MinQuantizeOpset is the first default opset that defines DequantizeLinear.
const MinQuantizeOpset = 10

type QuantizeOptions struct {
	// MinElements is the smallest initializer that is quantized, biases and
	// scalars stay in float32.
	MinElements int64
}

// Quantize converts float32 operator weights to uint8 with a per tensor scale and zero
// point. Each converted initializer is replaced by its quantized data and a
// DequantizeLinear node producing the original name, so consumers are unchanged.
func Quantize(model *Model, opts QuantizeOptions) (*Model, Stats, error) {
	if model == nil || model.Graph == nil {
		return nil, Stats{}, fmt.Errorf("model has no graph")
	}
	if opset := model.DefaultOpset(); opset < MinQuantizeOpset {
		return nil, Stats{}, fmt.Errorf("quantization needs opset %d or later, the model uses opset %d", MinQuantizeOpset, opset)
	}
	g := model.Graph
	stats := Stats{NodesBefore: len(g.Nodes)}

	inputs := map[string]bool{}
	for _, input := range g.Inputs {
		inputs[input.Name] = true
	}
	names := map[string]bool{}
	for _, tensor := range g.Initializers {
		names[tensor.Name] = true
	}
	for _, node := range g.Nodes {
		for _, output := range node.Outputs {
			names[output] = true
		}
	}

	weights := weightInitializers(g)

	var dequantizers []*Node
	initializers := make([]*Tensor, 0, len(g.Initializers))
	for _, tensor := range g.Initializers {
		if !weights[tensor.Name] || !quantizable(tensor, opts, inputs) {
			initializers = append(initializers, tensor)
			continue
		}
		values, err := tensor.Floats()
		if err != nil {
			return nil, Stats{}, err
		}
		if int64(len(values)) != tensor.ElementCount() {
			return nil, Stats{}, fmt.Errorf("tensor %s has %d values for %d elements", tensor.Name, len(values), tensor.ElementCount())
		}
		quantizedName := uniqueName(names, tensor.Name+"_quantized")
		scaleName := uniqueName(names, tensor.Name+"_scale")
		zeroPointName := uniqueName(names, tensor.Name+"_zero_point")

		data, scale, zeroPoint, err := quantizeValues(values)
		if err != nil {
			return nil, Stats{}, fmt.Errorf("tensor %s: %w", tensor.Name, err)
		}
		initializers = append(initializers,
			&Tensor{Name: quantizedName, Dims: tensor.Dims, DataType: DataTypeUint8, RawData: data},
			&Tensor{Name: scaleName, DataType: DataTypeFloat, FloatData: []float32{scale}},
			&Tensor{Name: zeroPointName, DataType: DataTypeUint8, RawData: []byte{zeroPoint}},
		)
		dequantizers = append(dequantizers, &Node{
			Name:    uniqueName(names, tensor.Name+"_DequantizeLinear"),
			OpType:  "DequantizeLinear",
			Inputs:  []string{quantizedName, scaleName, zeroPointName},
			Outputs: []string{tensor.Name},
		})
		stats.TensorsQuantized++
	}
	g.Initializers = initializers
	g.Nodes = append(dequantizers, g.Nodes...)
	stats.NodesAfter = len(g.Nodes)
	return model, stats, nil
}

// weightOps read their weight as the second input.
var weightOps = map[string]bool{
	"Conv":          true,
	"ConvTranspose": true,
	"MatMul":        true,
	"Gemm":          true,
}

// weightInitializers returns the names whose every consumer reads them as the
// weight of a weightOps node. Strides, anchors and biases are left out.
func weightInitializers(g *Graph) map[string]bool {
	weights := map[string]bool{}
	others := map[string]bool{}
	for _, node := range g.Nodes {
		standard := node.Domain == "" || node.Domain == "ai.onnx"
		for i, input := range node.Inputs {
			if input == "" {
				continue
			}
			if i == 1 && standard && weightOps[node.OpType] {
				weights[input] = true
			} else {
				others[input] = true
			}
		}
	}
	for _, output := range g.Outputs {
		others[output.Name] = true
	}
	for name := range others {
		delete(weights, name)
	}
	return weights
}

func quantizable(tensor *Tensor, opts QuantizeOptions, inputs map[string]bool) bool {
	if tensor.DataType != DataTypeFloat || tensor.External() || inputs[tensor.Name] {
		return false
	}
	return tensor.ElementCount() >= max(opts.MinElements, 1) && len(tensor.Dims) > 0
}

func uniqueName(names map[string]bool, name string) string {
	candidate := name
	for i := 1; names[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
	names[candidate] = true
	return candidate
}

// quantizeValues maps values to uint8 with an asymmetric range that always
// contains zero, so that zero is exactly representable.
func quantizeValues(values []float32) ([]byte, float32, byte, error) {
	rmin, rmax := float32(0), float32(0)
	for _, v := range values {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, 0, 0, fmt.Errorf("non finite value %v", v)
		}
		rmin = min(rmin, v)
		rmax = max(rmax, v)
	}
	scale := (rmax - rmin) / 255
	if scale == 0 {
		scale = 1
	}
	zeroPoint := clampUint8(math.Round(float64(-rmin / scale)))
	data := make([]byte, len(values))
	for i, v := range values {
		data[i] = clampUint8(math.Round(float64(v/scale)) + float64(zeroPoint))
	}
	return data, scale, zeroPoint, nil
}

func clampUint8(v float64) byte {
	return byte(min(max(v, 0), 255))
}
