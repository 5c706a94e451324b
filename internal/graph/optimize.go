package graph

import "fmt"

// Stats describes what a rewrite changed.
type Stats struct {
	NodesBefore        int `json:"nodes_before"`
	NodesAfter         int `json:"nodes_after"`
	ConstantsFolded    int `json:"constants_folded"`
	NoOpsRemoved       int `json:"no_ops_removed"`
	DeadNodesRemoved   int `json:"dead_nodes_removed"`
	InitializersPruned int `json:"initializers_pruned"`
	TensorsQuantized   int `json:"tensors_quantized"`
}

// Changed reports whether the rewrite modified the graph.
func (s Stats) Changed() bool {
	return s.ConstantsFolded+s.NoOpsRemoved+s.DeadNodesRemoved+s.InitializersPruned+s.TensorsQuantized > 0
}

// Optimize applies the inference-time graph simplifications in place:
//   - Constant nodes become initializers
//   - Identity and Dropout nodes are bypassed, their consumers read the node input
//   - nodes that do not contribute to a graph output are removed
//   - initializers that nothing reads are removed
//
// Graph inputs and outputs are never renamed or removed. Graphs with control flow
// subgraphs only get constant folding since the subgraphs may read outer values.
func Optimize(model *Model) (*Model, Stats, error) {
	if model == nil || model.Graph == nil {
		return nil, Stats{}, fmt.Errorf("model has no graph")
	}
	g := model.Graph
	stats := Stats{NodesBefore: len(g.Nodes)}

	stats.ConstantsFolded = g.foldConstants()
	if !g.hasSubgraphs() {
		stats.NoOpsRemoved = g.removeNoOps()
		stats.DeadNodesRemoved = g.removeDeadNodes()
		stats.InitializersPruned = g.pruneInitializers()
		g.pruneValueInfo()
	}
	stats.NodesAfter = len(g.Nodes)
	return model, stats, nil
}

func (g *Graph) graphOutputs() map[string]bool {
	outputs := map[string]bool{}
	for _, output := range g.Outputs {
		outputs[output.Name] = true
	}
	return outputs
}

func (g *Graph) hasSubgraphs() bool {
	for _, node := range g.Nodes {
		for _, attribute := range node.Attributes {
			if attribute.HasSubgraphs {
				return true
			}
		}
	}
	return false
}

func isDefaultDomain(domain string) bool {
	return domain == "" || domain == "ai.onnx"
}

func (g *Graph) foldConstants() int {
	outputs := g.graphOutputs()
	folded := 0
	nodes := g.Nodes[:0]
	for _, node := range g.Nodes {
		if tensor := constantValue(node); tensor != nil && !outputs[node.Outputs[0]] {
			tensor.Name = node.Outputs[0]
			g.Initializers = append(g.Initializers, tensor)
			folded++
			continue
		}
		nodes = append(nodes, node)
	}
	g.Nodes = nodes
	return folded
}

// constantValue returns the tensor of a Constant node that uses the value attribute.
func constantValue(node *Node) *Tensor {
	if node.OpType != "Constant" || !isDefaultDomain(node.Domain) || len(node.Outputs) != 1 || len(node.Attributes) != 1 {
		return nil
	}
	attribute := node.Attributes[0]
	if attribute.Name != "value" || attribute.Tensor == nil || attribute.Tensor.External() {
		return nil
	}
	return attribute.Tensor
}

func (g *Graph) consumers() map[string]int {
	consumers := map[string]int{}
	for _, node := range g.Nodes {
		for _, input := range node.Inputs {
			consumers[input]++
		}
	}
	return consumers
}

func (g *Graph) removeNoOps() int {
	outputs := g.graphOutputs()
	consumers := g.consumers()
	renames := map[string]string{}
	removed := 0
	nodes := g.Nodes[:0]
	for _, node := range g.Nodes {
		for i, input := range node.Inputs {
			if renamed, ok := renames[input]; ok {
				node.Inputs[i] = renamed
			}
		}
		if isNoOp(node, consumers) && !outputs[node.Outputs[0]] {
			renames[node.Outputs[0]] = node.Inputs[0]
			removed++
			continue
		}
		nodes = append(nodes, node)
	}
	g.Nodes = nodes
	return removed
}

// isNoOp reports whether the node forwards its first input unchanged at inference.
func isNoOp(node *Node, consumers map[string]int) bool {
	if !isDefaultDomain(node.Domain) || len(node.Inputs) == 0 || node.Inputs[0] == "" || len(node.Outputs) == 0 {
		return false
	}
	switch node.OpType {
	case "Identity":
		return len(node.Outputs) == 1
	case "Dropout":
		// the mask output must be unused and training_mode, when given, must be absent
		if len(node.Inputs) > 2 && node.Inputs[2] != "" {
			return false
		}
		return len(node.Outputs) == 1 || node.Outputs[1] == "" || consumers[node.Outputs[1]] == 0
	}
	return false
}

func (g *Graph) removeDeadNodes() int {
	live := g.graphOutputs()
	keep := make([]bool, len(g.Nodes))
	for i := len(g.Nodes) - 1; i >= 0; i-- {
		node := g.Nodes[i]
		for _, output := range node.Outputs {
			if live[output] {
				keep[i] = true
				break
			}
		}
		if keep[i] {
			for _, input := range node.Inputs {
				live[input] = true
			}
		}
	}
	removed := 0
	nodes := g.Nodes[:0]
	for i, node := range g.Nodes {
		if !keep[i] {
			removed++
			continue
		}
		nodes = append(nodes, node)
	}
	g.Nodes = nodes
	return removed
}

func (g *Graph) pruneInitializers() int {
	used := g.consumers()
	for _, output := range g.Outputs {
		used[output.Name]++
	}
	for _, input := range g.Inputs {
		used[input.Name]++
	}
	pruned := 0
	initializers := g.Initializers[:0]
	for _, tensor := range g.Initializers {
		if used[tensor.Name] == 0 {
			pruned++
			continue
		}
		initializers = append(initializers, tensor)
	}
	g.Initializers = initializers
	return pruned
}

// pruneValueInfo drops intermediate shape annotations of values that no longer exist.
func (g *Graph) pruneValueInfo() {
	produced := map[string]bool{}
	for _, node := range g.Nodes {
		for _, output := range node.Outputs {
			produced[output] = true
		}
	}
	infos := g.ValueInfo[:0]
	for _, info := range g.ValueInfo {
		if produced[info.Name] {
			infos = append(infos, info)
		}
	}
	g.ValueInfo = infos
}
