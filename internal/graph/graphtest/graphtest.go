// Package graphtest builds small portable graphs for tests.
package graphtest

import (
	"path/filepath"
	"testing"

	"github.com/model-forge/model-forge/internal/graph"
)

// NewDetector returns a detector shaped graph: images [1,3,?,?] -> output0 [1,84,?]
// with a foldable constant, an Identity, a Dropout and a dead branch.
func NewDetector(opset int64) *graph.Model {
	weights := make([]float32, 3*3*16)
	for i := range weights {
		weights[i] = float32(i%17-8) / 16
	}
	return &graph.Model{
		IRVersion:    8,
		ProducerName: "pytorch",
		DocString:    "car brand detector",
		Opsets:       []graph.OpsetImport{{Version: opset}},
		Graph: &graph.Graph{
			Name: "main",
			Nodes: []*graph.Node{
				{
					Name:    "scale",
					OpType:  "Constant",
					Outputs: []string{"scale_out"},
					Attributes: []*graph.Attribute{{
						Name:   "value",
						Tensor: &graph.Tensor{Dims: []int64{1}, DataType: graph.DataTypeFloat, FloatData: []float32{0.5}},
					}},
				},
				{Name: "conv", OpType: "Conv", Inputs: []string{"images", "conv.weight"}, Outputs: []string{"conv_out"}},
				{Name: "identity", OpType: "Identity", Inputs: []string{"conv_out"}, Outputs: []string{"identity_out"}},
				{Name: "dropout", OpType: "Dropout", Inputs: []string{"identity_out"}, Outputs: []string{"dropout_out"}},
				{Name: "mul", OpType: "Mul", Inputs: []string{"dropout_out", "scale_out"}, Outputs: []string{"output0"}},
				{Name: "unused", OpType: "Relu", Inputs: []string{"images"}, Outputs: []string{"unused_out"}},
			},
			Initializers: []*graph.Tensor{
				{Name: "conv.weight", Dims: []int64{16, 3, 3}, DataType: graph.DataTypeFloat, FloatData: weights},
				{Name: "stale", Dims: []int64{4}, DataType: graph.DataTypeFloat, FloatData: []float32{1, 2, 3, 4}},
			},
			Inputs:  []*graph.ValueInfo{graph.NewValueInfo("images", []int64{1, 3, 0, 0})},
			Outputs: []*graph.ValueInfo{graph.NewValueInfo("output0", []int64{1, 84, 0})},
		},
	}
}

// WriteDetector saves NewDetector(opset) as name in a temporary directory and returns its path.
func WriteDetector(t *testing.T, name string, opset int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := graph.Save(NewDetector(opset), path, 0o644); err != nil {
		t.Fatalf("Failed to write the test model: %v", err)
	}
	return path
}
