// Package graph reads and rewrites portable (ONNX) model graphs. Only the parts of
// the protobuf messages needed for inspection and rewriting are decoded, every
// other field is carried through unchanged.
package graph

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Tensor element types
const (
	DataTypeFloat = 1
	DataTypeUint8 = 2
	DataTypeInt32 = 6
	DataTypeInt64 = 7
)

// ModelProto fields
const (
	modelIRVersion    protowire.Number = 1
	modelProducerName protowire.Number = 2
	modelDocString    protowire.Number = 6
	modelGraph        protowire.Number = 7
	modelOpsetImport  protowire.Number = 8
)

// GraphProto fields
const (
	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12
	graphValueInfo   protowire.Number = 13
)

// NodeProto fields
const (
	nodeInput     protowire.Number = 1
	nodeOutput    protowire.Number = 2
	nodeName      protowire.Number = 3
	nodeOpType    protowire.Number = 4
	nodeAttribute protowire.Number = 5
	nodeDomain    protowire.Number = 7
)

// AttributeProto fields
const (
	attributeName   protowire.Number = 1
	attributeTensor protowire.Number = 5
	attributeGraph  protowire.Number = 6
	attributeGraphs protowire.Number = 11
)

// TensorProto fields
const (
	tensorDims      protowire.Number = 1
	tensorDataType  protowire.Number = 2
	tensorFloatData protowire.Number = 4
	tensorInt32Data protowire.Number = 5
	tensorInt64Data protowire.Number = 7
	tensorName      protowire.Number = 8
	tensorRawData   protowire.Number = 9
)

// ValueInfoProto, TypeProto and TensorShapeProto fields
const (
	valueInfoName     protowire.Number = 1
	valueInfoType     protowire.Number = 2
	typeTensorType    protowire.Number = 1
	tensorTypeShape   protowire.Number = 2
	shapeDim          protowire.Number = 1
	dimValue          protowire.Number = 1
	opsetImportDomain protowire.Number = 1
	opsetImportVer    protowire.Number = 2
)

type Model struct {
	IRVersion    int64
	ProducerName string
	DocString    string
	Opsets       []OpsetImport
	Graph        *Graph
	other        []rawField
}

type OpsetImport struct {
	Domain  string
	Version int64
}

type Graph struct {
	Name         string
	Nodes        []*Node
	Initializers []*Tensor
	Inputs       []*ValueInfo
	Outputs      []*ValueInfo
	ValueInfo    []*ValueInfo
	other        []rawField
}

type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []*Attribute
	other      []rawField
}

// Attribute keeps its encoded form; only the name, the tensor value and the
// presence of subgraphs are decoded.
type Attribute struct {
	Name         string
	Tensor       *Tensor
	HasSubgraphs bool
	raw          []byte
}

type Tensor struct {
	Name      string
	Dims      []int64
	DataType  int32
	FloatData []float32
	Int32Data []int32
	Int64Data []int64
	RawData   []byte
	other     []rawField
}

type ValueInfo struct {
	Name  string
	Shape []int64
	// the encoded TypeProto
	typ   []byte
	other []rawField
}

// Load reads and decodes a model file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Save encodes the model and writes it to path.
func Save(model *Model, path string, perm os.FileMode) error {
	return os.WriteFile(path, Encode(model), perm)
}

// Decode parses an encoded ModelProto.
func Decode(data []byte) (*Model, error) {
	model := &Model{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
		switch num {
		case modelIRVersion:
			v, err := consumeVarint(num, typ, value)
			model.IRVersion = int64(v)
			return err
		case modelProducerName:
			v, err := consumeString(num, typ, value)
			model.ProducerName = v
			return err
		case modelDocString:
			v, err := consumeString(num, typ, value)
			model.DocString = v
			return err
		case modelGraph:
			b, err := consumeBytes(num, typ, value)
			if err != nil {
				return err
			}
			model.Graph, err = decodeGraph(b)
			return err
		case modelOpsetImport:
			b, err := consumeBytes(num, typ, value)
			if err != nil {
				return err
			}
			opset, err := decodeOpsetImport(b)
			if err != nil {
				return err
			}
			model.Opsets = append(model.Opsets, opset)
		default:
			model.other = append(model.other, raw)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	if model.Graph == nil {
		return nil, fmt.Errorf("invalid model: no graph")
	}
	return model, nil
}

func decodeOpsetImport(data []byte) (OpsetImport, error) {
	opset := OpsetImport{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
		switch num {
		case opsetImportDomain:
			v, err := consumeString(num, typ, value)
			opset.Domain = v
			return err
		case opsetImportVer:
			v, err := consumeVarint(num, typ, value)
			opset.Version = int64(v)
			return err
		}
		return nil
	})
	return opset, err
}

func decodeGraph(data []byte) (*Graph, error) {
	graph := &Graph{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
		switch num {
		case graphNode:
			b, err := consumeBytes(num, typ, value)
			if err != nil {
				return err
			}
			node, err := decodeNode(b)
			if err != nil {
				return err
			}
			graph.Nodes = append(graph.Nodes, node)
		case graphName:
			v, err := consumeString(num, typ, value)
			graph.Name = v
			return err
		case graphInitializer:
			b, err := consumeBytes(num, typ, value)
			if err != nil {
				return err
			}
			tensor, err := decodeTensor(b)
			if err != nil {
				return err
			}
			graph.Initializers = append(graph.Initializers, tensor)
		case graphInput, graphOutput, graphValueInfo:
			b, err := consumeBytes(num, typ, value)
			if err != nil {
				return err
			}
			info, err := decodeValueInfo(b)
			if err != nil {
				return err
			}
			switch num {
			case graphInput:
				graph.Inputs = append(graph.Inputs, info)
			case graphOutput:
				graph.Outputs = append(graph.Outputs, info)
			default:
				graph.ValueInfo = append(graph.ValueInfo, info)
			}
		default:
			graph.other = append(graph.other, raw)
		}
		return nil
	})
	return graph, err
}

func decodeNode(data []byte) (*Node, error) {
	node := &Node{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
		switch num {
		case nodeInput:
			v, err := consumeString(num, typ, value)
			node.Inputs = append(node.Inputs, v)
			return err
		case nodeOutput:
			v, err := consumeString(num, typ, value)
			node.Outputs = append(node.Outputs, v)
			return err
		case nodeName:
			v, err := consumeString(num, typ, value)
			node.Name = v
			return err
		case nodeOpType:
			v, err := consumeString(num, typ, value)
			node.OpType = v
			return err
		case nodeDomain:
			v, err := consumeString(num, typ, value)
			node.Domain = v
			return err
		case nodeAttribute:
			b, err := consumeBytes(num, typ, value)
			if err != nil {
				return err
			}
			attribute, err := decodeAttribute(b)
			if err != nil {
				return err
			}
			node.Attributes = append(node.Attributes, attribute)
		default:
			node.other = append(node.other, raw)
		}
		return nil
	})
	return node, err
}

func decodeAttribute(data []byte) (*Attribute, error) {
	attribute := &Attribute{raw: data}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
		switch num {
		case attributeName:
			v, err := consumeString(num, typ, value)
			attribute.Name = v
			return err
		case attributeTensor:
			b, err := consumeBytes(num, typ, value)
			if err != nil {
				return err
			}
			attribute.Tensor, err = decodeTensor(b)
			return err
		case attributeGraph, attributeGraphs:
			attribute.HasSubgraphs = true
		}
		return nil
	})
	return attribute, err
}

func decodeTensor(data []byte) (*Tensor, error) {
	tensor := &Tensor{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
		switch num {
		case tensorDims:
			vs, err := consumeVarints(num, typ, value, nil)
			for _, v := range vs {
				tensor.Dims = append(tensor.Dims, int64(v))
			}
			return err
		case tensorDataType:
			v, err := consumeVarint(num, typ, value)
			tensor.DataType = int32(v)
			return err
		case tensorFloatData:
			vs, err := consumeFloats(num, typ, value, tensor.FloatData)
			tensor.FloatData = vs
			return err
		case tensorInt32Data:
			vs, err := consumeVarints(num, typ, value, nil)
			for _, v := range vs {
				tensor.Int32Data = append(tensor.Int32Data, int32(v))
			}
			return err
		case tensorInt64Data:
			vs, err := consumeVarints(num, typ, value, nil)
			for _, v := range vs {
				tensor.Int64Data = append(tensor.Int64Data, int64(v))
			}
			return err
		case tensorName:
			v, err := consumeString(num, typ, value)
			tensor.Name = v
			return err
		case tensorRawData:
			v, err := consumeBytes(num, typ, value)
			tensor.RawData = v
			return err
		default:
			tensor.other = append(tensor.other, raw)
		}
		return nil
	})
	return tensor, err
}

func decodeValueInfo(data []byte) (*ValueInfo, error) {
	info := &ValueInfo{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
		switch num {
		case valueInfoName:
			v, err := consumeString(num, typ, value)
			info.Name = v
			return err
		case valueInfoType:
			b, err := consumeBytes(num, typ, value)
			if err != nil {
				return err
			}
			info.typ = b
			info.Shape, err = decodeShape(b)
			return err
		default:
			info.other = append(info.other, raw)
		}
		return nil
	})
	return info, err
}

// decodeShape returns the tensor shape of a TypeProto, symbolic or missing
// dimensions are reported as 0.
func decodeShape(typeProto []byte) ([]int64, error) {
	var shape []int64
	err := walkFields(typeProto, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
		if num != typeTensorType {
			return nil
		}
		tensorType, err := consumeBytes(num, typ, value)
		if err != nil {
			return err
		}
		return walkFields(tensorType, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
			if num != tensorTypeShape {
				return nil
			}
			shapeProto, err := consumeBytes(num, typ, value)
			if err != nil {
				return err
			}
			shape = []int64{}
			return walkFields(shapeProto, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
				if num != shapeDim {
					return nil
				}
				dim, err := consumeBytes(num, typ, value)
				if err != nil {
					return err
				}
				var size int64
				err = walkFields(dim, func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error {
					if num == dimValue && typ == protowire.VarintType {
						v, err := consumeVarint(num, typ, value)
						size = int64(v)
						return err
					}
					return nil
				})
				shape = append(shape, size)
				return err
			})
		})
	})
	return shape, err
}

// Encode serializes the model. Decoded fields are written first, in field number
// order, followed by the fields that were carried through.
func Encode(model *Model) []byte {
	var b []byte
	if model.IRVersion != 0 {
		b = appendVarint(b, modelIRVersion, uint64(model.IRVersion))
	}
	if model.ProducerName != "" {
		b = appendString(b, modelProducerName, model.ProducerName)
	}
	if model.DocString != "" {
		b = appendString(b, modelDocString, model.DocString)
	}
	if model.Graph != nil {
		b = appendBytes(b, modelGraph, encodeGraph(model.Graph))
	}
	for _, opset := range model.Opsets {
		var o []byte
		if opset.Domain != "" {
			o = appendString(o, opsetImportDomain, opset.Domain)
		}
		o = appendVarint(o, opsetImportVer, uint64(opset.Version))
		b = appendBytes(b, modelOpsetImport, o)
	}
	return appendRaw(b, model.other)
}

func encodeGraph(graph *Graph) []byte {
	var b []byte
	for _, node := range graph.Nodes {
		b = appendBytes(b, graphNode, encodeNode(node))
	}
	if graph.Name != "" {
		b = appendString(b, graphName, graph.Name)
	}
	for _, tensor := range graph.Initializers {
		b = appendBytes(b, graphInitializer, encodeTensor(tensor))
	}
	for _, info := range graph.Inputs {
		b = appendBytes(b, graphInput, encodeValueInfo(info))
	}
	for _, info := range graph.Outputs {
		b = appendBytes(b, graphOutput, encodeValueInfo(info))
	}
	for _, info := range graph.ValueInfo {
		b = appendBytes(b, graphValueInfo, encodeValueInfo(info))
	}
	return appendRaw(b, graph.other)
}

func encodeNode(node *Node) []byte {
	var b []byte
	for _, input := range node.Inputs {
		b = appendString(b, nodeInput, input)
	}
	for _, output := range node.Outputs {
		b = appendString(b, nodeOutput, output)
	}
	if node.Name != "" {
		b = appendString(b, nodeName, node.Name)
	}
	b = appendString(b, nodeOpType, node.OpType)
	for _, attribute := range node.Attributes {
		b = appendBytes(b, nodeAttribute, attribute.encode())
	}
	if node.Domain != "" {
		b = appendString(b, nodeDomain, node.Domain)
	}
	return appendRaw(b, node.other)
}

func (a *Attribute) encode() []byte {
	if a.raw != nil {
		return a.raw
	}
	var b []byte
	b = appendString(b, attributeName, a.Name)
	if a.Tensor != nil {
		b = appendBytes(b, attributeTensor, encodeTensor(a.Tensor))
	}
	return b
}

func encodeTensor(tensor *Tensor) []byte {
	var b []byte
	b = appendPackedVarints(b, tensorDims, int64sToVarints(tensor.Dims))
	b = appendVarint(b, tensorDataType, uint64(tensor.DataType))
	b = appendPackedFloats(b, tensorFloatData, tensor.FloatData)
	b = appendPackedVarints(b, tensorInt32Data, int32sToVarints(tensor.Int32Data))
	b = appendPackedVarints(b, tensorInt64Data, int64sToVarints(tensor.Int64Data))
	if tensor.Name != "" {
		b = appendString(b, tensorName, tensor.Name)
	}
	if len(tensor.RawData) > 0 {
		b = appendBytes(b, tensorRawData, tensor.RawData)
	}
	return appendRaw(b, tensor.other)
}

func encodeValueInfo(info *ValueInfo) []byte {
	var b []byte
	b = appendString(b, valueInfoName, info.Name)
	if info.typ != nil {
		b = appendBytes(b, valueInfoType, info.typ)
	}
	return appendRaw(b, info.other)
}

// NewValueInfo describes a float32 tensor. A zero dimension is written as a
// symbolic dimension.
func NewValueInfo(name string, shape []int64) *ValueInfo {
	var dims []byte
	for i, size := range shape {
		var dim []byte
		if size > 0 {
			dim = appendVarint(dim, dimValue, uint64(size))
		} else {
			dim = appendString(dim, 2, fmt.Sprintf("%s_dim%d", name, i))
		}
		dims = appendBytes(dims, shapeDim, dim)
	}
	var tensorType []byte
	tensorType = appendVarint(tensorType, 1, DataTypeFloat)
	tensorType = appendBytes(tensorType, tensorTypeShape, dims)
	var typeProto []byte
	typeProto = appendBytes(typeProto, typeTensorType, tensorType)
	return &ValueInfo{Name: name, Shape: shape, typ: typeProto}
}

// ElementCount is the number of elements described by the dimensions.
func (t *Tensor) ElementCount() int64 {
	count := int64(1)
	for _, d := range t.Dims {
		count *= d
	}
	return count
}

// External reports whether the tensor data is stored outside of the model file.
func (t *Tensor) External() bool {
	for _, f := range t.other {
		num, typ, n := protowire.ConsumeTag(f)
		if n < 0 {
			continue
		}
		switch num {
		case 13:
			return true
		case 14:
			if v, err := consumeVarint(num, typ, f[n:]); err == nil && v == 1 {
				return true
			}
		}
	}
	return false
}

// Floats returns the values of a float32 tensor from either of its encodings.
func (t *Tensor) Floats() ([]float32, error) {
	if t.DataType != DataTypeFloat {
		return nil, fmt.Errorf("tensor %s has data type %d", t.Name, t.DataType)
	}
	if len(t.RawData) == 0 {
		return t.FloatData, nil
	}
	if len(t.RawData)%4 != 0 {
		return nil, fmt.Errorf("tensor %s has %d raw bytes", t.Name, len(t.RawData))
	}
	values := make([]float32, len(t.RawData)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[i*4:]))
	}
	return values, nil
}

// DefaultOpset is the version of the default operator set, 0 when it is not imported.
func (m *Model) DefaultOpset() int64 {
	for _, opset := range m.Opsets {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}
