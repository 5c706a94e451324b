package graph

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// rawField is an encoded field (tag and value) kept as read so that fields this
// package does not interpret are written back unchanged.
type rawField []byte

type fieldVisitor func(num protowire.Number, typ protowire.Type, value []byte, raw rawField) error

func walkFields(b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		if err := visit(num, typ, b[n:n+m], rawField(b[:n+m])); err != nil {
			return err
		}
		b = b[n+m:]
	}
	return nil
}

func expectType(num protowire.Number, typ protowire.Type, want protowire.Type) error {
	if typ != want {
		return fmt.Errorf("field %d has wire type %d, expected %d", num, typ, want)
	}
	return nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, value []byte) ([]byte, error) {
	if err := expectType(num, typ, protowire.BytesType); err != nil {
		return nil, err
	}
	v, n := protowire.ConsumeBytes(value)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

func consumeString(num protowire.Number, typ protowire.Type, value []byte) (string, error) {
	v, err := consumeBytes(num, typ, value)
	return string(v), err
}

func consumeVarint(num protowire.Number, typ protowire.Type, value []byte) (uint64, error) {
	if err := expectType(num, typ, protowire.VarintType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeVarint(value)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

// consumeVarints reads a repeated varint field in either packed or unpacked form.
func consumeVarints(num protowire.Number, typ protowire.Type, value []byte, out []uint64) ([]uint64, error) {
	if typ == protowire.VarintType {
		v, err := consumeVarint(num, typ, value)
		return append(out, v), err
	}
	packed, err := consumeBytes(num, typ, value)
	if err != nil {
		return out, err
	}
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return out, protowire.ParseError(n)
		}
		out = append(out, v)
		packed = packed[n:]
	}
	return out, nil
}

// consumeFloats reads a repeated float field in either packed or unpacked form.
func consumeFloats(num protowire.Number, typ protowire.Type, value []byte, out []float32) ([]float32, error) {
	if typ == protowire.Fixed32Type {
		v, n := protowire.ConsumeFixed32(value)
		if n < 0 {
			return out, protowire.ParseError(n)
		}
		return append(out, math.Float32frombits(v)), nil
	}
	packed, err := consumeBytes(num, typ, value)
	if err != nil {
		return out, err
	}
	if len(packed)%4 != 0 {
		return out, fmt.Errorf("field %d: packed floats of %d bytes", num, len(packed))
	}
	for i := 0; i < len(packed); i += 4 {
		out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(packed[i:])))
	}
	return out, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedVarints(b []byte, num protowire.Number, vs []uint64) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, v)
	}
	return appendBytes(b, num, packed)
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float32) []byte {
	if len(vs) == 0 {
		return b
	}
	packed := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		packed = binary.LittleEndian.AppendUint32(packed, math.Float32bits(v))
	}
	return appendBytes(b, num, packed)
}

func appendRaw(b []byte, fields []rawField) []byte {
	for _, f := range fields {
		b = append(b, f...)
	}
	return b
}

func int64sToVarints(vs []int64) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = uint64(v)
	}
	return out
}

func int32sToVarints(vs []int32) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = uint64(int64(v))
	}
	return out
}
