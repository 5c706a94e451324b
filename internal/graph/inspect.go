package graph

import (
	"fmt"
	"os"

	"github.com/model-forge/model-forge/pkg/api"
)

// Inspect reads the metadata of the portable graph at path.
func Inspect(path string) (*api.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	model, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Describe(model, path, info.Size()), nil
}

// Describe builds the artifact of a decoded model stored at path.
func Describe(model *Model, path string, sizeBytes int64) *api.Artifact {
	artifact := &api.Artifact{
		Path:         path,
		SizeBytes:    sizeBytes,
		GraphFormat:  api.GraphFormatPortable,
		IRVersion:    model.IRVersion,
		OpsetVersion: model.DefaultOpset(),
		ProducerName: model.ProducerName,
		Description:  model.DocString,
		NodeCount:    len(model.Graph.Nodes),
	}
	artifact.Inputs = tensorInfos(model.Graph.realInputs())
	artifact.Outputs = tensorInfos(model.Graph.Outputs)
	return artifact
}

func tensorInfos(infos []*ValueInfo) []api.TensorInfo {
	out := make([]api.TensorInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, api.TensorInfo{Name: info.Name, Shape: info.Shape})
	}
	return out
}

// realInputs skips the inputs that are backed by an initializer, older exporters
// list every weight as a graph input.
func (g *Graph) realInputs() []*ValueInfo {
	initializers := map[string]bool{}
	for _, tensor := range g.Initializers {
		initializers[tensor.Name] = true
	}
	var inputs []*ValueInfo
	for _, input := range g.Inputs {
		if !initializers[input.Name] {
			inputs = append(inputs, input)
		}
	}
	return inputs
}
