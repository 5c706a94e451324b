package api

import (
	"path/filepath"
	"slices"
	"strings"
)

// GraphFormat is the serialization of an Artifact
type GraphFormat string

const (
	GraphFormatNative   GraphFormat = "native"
	GraphFormatPortable GraphFormat = "portable-graph"
)

// DefaultPortableExtension is used when an artifact path carries no extension
const DefaultPortableExtension = ".onnx"

// TensorInfo is a named graph input or output. A zero dimension is dynamic.
type TensorInfo struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape"`
}

func (t TensorInfo) Equal(other TensorInfo) bool {
	return t.Name == other.Name && slices.Equal(t.Shape, other.Shape)
}

// Artifact is a model file plus the metadata read from it. Artifacts are never
// edited in place: every transforming stage returns a new one.
type Artifact struct {
	Path         string       `json:"path"`
	SizeBytes    int64        `json:"size_bytes"`
	GraphFormat  GraphFormat  `json:"graph_format"`
	IRVersion    int64        `json:"ir_version,omitempty"`
	OpsetVersion int64        `json:"opset_version,omitempty"`
	ProducerName string       `json:"producer_name,omitempty"`
	Description  string       `json:"description,omitempty"`
	Inputs       []TensorInfo `json:"inputs,omitempty"`
	Outputs      []TensorInfo `json:"outputs,omitempty"`
	NodeCount    int          `json:"node_count"`
}

// Extension returns the file extension of the artifact, falling back to the
// portable graph extension.
func (a *Artifact) Extension() string {
	ext := filepath.Ext(a.Path)
	if ext == "" {
		return DefaultPortableExtension
	}
	return ext
}

// SameSignature reports whether both artifacts declare the same ordered inputs and outputs.
func (a *Artifact) SameSignature(other *Artifact) bool {
	if other == nil {
		return false
	}
	return slices.EqualFunc(a.Inputs, other.Inputs, TensorInfo.Equal) &&
		slices.EqualFunc(a.Outputs, other.Outputs, TensorInfo.Equal)
}

// DeriveOutputPaths builds the optimized and quantized paths from a base output name,
// e.g. "optimized_model.onnx" gives "optimized_model_optimized.onnx" and
// "optimized_model_quantized.onnx".
func DeriveOutputPaths(output string) (optimized string, quantized string) {
	ext := filepath.Ext(output)
	if ext == "" {
		ext = DefaultPortableExtension
	}
	base := strings.TrimSuffix(output, filepath.Ext(output))
	return base + "_optimized" + ext, base + "_quantized" + ext
}
