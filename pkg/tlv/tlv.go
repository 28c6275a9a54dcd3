// Package tlv implements the OMA LWM2M TLV binary format: a recursive,
// length-and-ID-packed tag encoding with per-resource type projection.
//
// Grounded on the teacher's Lwm2mTLV (lwm2m_tlv.go Marshal/Unmarshal) and
// the Python reference's TlvEncoder/TlvDecoder (encdec.py, decoder/decoder.go).
// OMA-TS-LightweightM2M-V1_0_2-20180209-A 6.4.3 TLV参照
package tlv

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"lwm2mclient/pkg/model"
)

// Kind is the TLV type-of-identifier tag (bits 7..6 of the type byte).
type Kind byte

const (
	KindObjectInstance  Kind = 0b00
	KindResourceInstance Kind = 0b01
	KindMultipleResource Kind = 0b10
	KindResourceValue    Kind = 0b11
)

// Field is a single decoded/to-be-encoded TLV field.
type Field struct {
	Kind  Kind
	ID    uint16
	Value []byte
}

// Marshal serialises a single TLV field, selecting ID-length and
// length-of-length per §4.2.
func (f Field) Marshal() []byte {
	ret := make([]byte, 1)
	ret[0] = byte(f.Kind) << 6

	if f.ID <= 0xFF {
		ret = append(ret, byte(f.ID))
	} else {
		ret[0] |= 1 << 5
		ret = append(ret, byte(f.ID>>8), byte(f.ID&0xFF))
	}

	n := uint32(len(f.Value))
	switch {
	case n < 8:
		ret[0] |= byte(n)
	case n < 256:
		ret[0] |= 1 << 3
		ret = append(ret, byte(n))
	case n < 65536:
		ret[0] |= 2 << 3
		ret = append(ret, byte(n>>8), byte(n&0xFF))
	default:
		ret[0] |= 3 << 3
		ret = append(ret, byte((n>>16)&0xFF), byte((n>>8)&0xFF), byte(n&0xFF))
	}

	ret = append(ret, f.Value...)
	return ret
}

// DecodeError is a structured decode failure, surfaced by the payload
// router as a BadRequest response with this message as the payload (§7).
type DecodeError struct {
	Msg string
}

func (e *DecodeError) Error() string { return e.Msg }

// decodeOne parses one TLV field from the start of raw, returning the
// field and the number of bytes consumed.
func decodeOne(raw []byte) (Field, int, error) {
	if len(raw) < 1 {
		return Field{}, 0, &DecodeError{"empty or truncated TLV header"}
	}
	typeByte := raw[0]
	kind := Kind((typeByte >> 6) & 0x03)
	idLen := (typeByte >> 5) & 0x01
	lenType := (typeByte >> 3) & 0x03

	pos := 1
	var id uint16
	if idLen == 0 {
		if len(raw) < pos+1 {
			return Field{}, 0, &DecodeError{"ID bytes missing"}
		}
		id = uint16(raw[pos])
		pos++
	} else {
		if len(raw) < pos+2 {
			return Field{}, 0, &DecodeError{"ID bytes missing"}
		}
		id = binary.BigEndian.Uint16(raw[pos : pos+2])
		pos += 2
	}

	var length uint32
	switch lenType {
	case 0:
		length = uint32(typeByte & 0x07)
	case 1:
		if len(raw) < pos+1 {
			return Field{}, 0, &DecodeError{"declared length exceeds remaining bytes"}
		}
		length = uint32(raw[pos])
		pos++
	case 2:
		if len(raw) < pos+2 {
			return Field{}, 0, &DecodeError{"declared length exceeds remaining bytes"}
		}
		length = uint32(binary.BigEndian.Uint16(raw[pos : pos+2]))
		pos += 2
	case 3:
		if len(raw) < pos+3 {
			return Field{}, 0, &DecodeError{"declared length exceeds remaining bytes"}
		}
		length = uint32(raw[pos])<<16 | uint32(raw[pos+1])<<8 | uint32(raw[pos+2])
		pos += 3
	}

	if len(raw) < pos+int(length) {
		return Field{}, 0, &DecodeError{"declared length exceeds remaining bytes"}
	}
	value := append([]byte(nil), raw[pos:pos+int(length)]...)
	pos += int(length)

	return Field{Kind: kind, ID: id, Value: value}, pos, nil
}

// decodeAll drives the decode loop to completion, yielding every field in
// the buffer. (§9 flags that one source variant builds this generator but
// never drives it to completion, producing an empty tree; this function is
// the fix: it always runs the loop to exhaustion.)
func decodeAll(raw []byte) ([]Field, error) {
	var fields []Field
	pos := 0
	for pos < len(raw) {
		f, n, err := decodeOne(raw[pos:])
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		pos += n
	}
	return fields, nil
}

// valueToBytes projects a typed Value to its TLV byte encoding per the
// §4.2 value-projection table.
func valueToBytes(rt model.ResourceType, v model.Value) ([]byte, error) {
	switch rt {
	case model.TypeInteger, model.TypeTime:
		return intToBytes(v.Int), nil
	case model.TypeString:
		return []byte(v.Str), nil
	case model.TypeFloat:
		f := v.Float64
		if f >= -math.MaxFloat32 && f <= math.MaxFloat32 && float64(float32(f)) == f {
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, math.Float32bits(float32(f)))
			return buf, nil
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(f))
		return buf, nil
	case model.TypeBoolean:
		if v.Bool {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil
	case model.TypeOpaque:
		return v.Opaque, nil
	default:
		return nil, fmt.Errorf("unknown resource type in definition: %v", rt)
	}
}

// intToBytes encodes a signed integer with the minimal two's-complement
// width: 1/2/4/8 bytes, chosen by bit_length like the teacher's
// convertStringToTLVValue.
func intToBytes(n int64) []byte {
	switch {
	case n >= -(1<<7) && n < (1<<7):
		return []byte{byte(n)}
	case n >= -(1<<15) && n < (1<<15):
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(n))
		return buf
	case n >= -(1<<31) && n < (1<<31):
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(n))
		return buf
	default:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return buf
	}
}

// bytesToValue projects TLV value bytes back into a typed Value, per the
// §4.2 decoding table. Resource type must come from the definition for the
// incoming (obj,inst,res) — callers that can't resolve it return a
// DecodeError themselves.
func bytesToValue(rt model.ResourceType, buf []byte) (model.Value, error) {
	switch rt {
	case model.TypeInteger, model.TypeTime:
		return model.Value{Int: bytesToInt(buf)}, nil
	case model.TypeString:
		return model.Value{Str: string(buf)}, nil
	case model.TypeFloat:
		switch len(buf) {
		case 4:
			return model.Value{Float64: float64(math.Float32frombits(binary.BigEndian.Uint32(buf)))}, nil
		case 8:
			return model.Value{Float64: math.Float64frombits(binary.BigEndian.Uint64(buf))}, nil
		default:
			return model.Value{}, &DecodeError{fmt.Sprintf("invalid float length: %d", len(buf))}
		}
	case model.TypeBoolean:
		return model.Value{Bool: len(buf) > 0 && buf[0] != 0}, nil
	case model.TypeOpaque:
		return model.Value{Opaque: append([]byte(nil), buf...)}, nil
	default:
		return model.Value{}, fmt.Errorf("unknown resource type in definition: %v", rt)
	}
}

func bytesToInt(buf []byte) int64 {
	if len(buf) == 0 {
		return 0
	}
	// sign-extend to 64 bits from the minimal big-endian two's-complement width.
	var v int64
	if buf[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range buf {
		v = v<<8 | int64(b)&0xFF
	}
	return v
}

// EncodeResourceField builds the TLV field for a single resource, choosing
// MultipleResource/ResourceInstance wrapping when the definition says the
// resource is multi-valued.
func EncodeResourceField(m *model.Model, obj, inst, res uint16) (Field, error) {
	rv, err := m.Resource(obj, inst, res)
	if err != nil {
		return Field{}, err
	}
	rd, ok := m.ResourceDefinition(obj, res)
	if !ok {
		return Field{}, &DecodeError{fmt.Sprintf("invalid resource path: /%d/%d/%d", obj, inst, res)}
	}

	if rd.Multiple {
		ids := make([]uint16, 0, len(rv.Multi))
		for id := range rv.Multi {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		var buf []byte
		for _, id := range ids {
			vb, err := valueToBytes(rd.Type, rv.Multi[id])
			if err != nil {
				return Field{}, err
			}
			buf = append(buf, Field{Kind: KindResourceInstance, ID: id, Value: vb}.Marshal()...)
		}
		return Field{Kind: KindMultipleResource, ID: res, Value: buf}, nil
	}

	vb, err := valueToBytes(rd.Type, *rv.Single)
	if err != nil {
		return Field{}, err
	}
	return Field{Kind: KindResourceValue, ID: res, Value: vb}, nil
}

// EncodeInstance concatenates the TLV-marshalled readable resources under
// obj/inst, as returned by a Read on an instance path (§4.5).
func EncodeInstance(m *model.Model, obj, inst uint16) ([]byte, error) {
	var buf []byte
	for _, res := range m.Resources(obj, inst) {
		if !m.IsResourceReadable(obj, inst, res) {
			continue
		}
		f, err := EncodeResourceField(m, obj, inst, res)
		if err != nil {
			return nil, err
		}
		buf = append(buf, f.Marshal()...)
	}
	return buf, nil
}

// EncodeObject wraps each instance's resources in an ObjectInstance-kind
// TLV field, as returned by a Read on an object path (§4.5).
func EncodeObject(m *model.Model, obj uint16) ([]byte, error) {
	var buf []byte
	for _, inst := range m.Instances(obj) {
		instBytes, err := EncodeInstance(m, obj, inst)
		if err != nil {
			return nil, err
		}
		buf = append(buf, Field{Kind: KindObjectInstance, ID: inst, Value: instBytes}.Marshal()...)
	}
	return buf, nil
}

func decodeResourceField(m *model.Model, obj, inst, res uint16, f Field) (model.PartialValue, error) {
	rd, ok := m.ResourceDefinition(obj, res)
	if !ok {
		return model.PartialValue{}, &DecodeError{fmt.Sprintf("invalid resource path: /%d/%d/%d", obj, inst, res)}
	}

	switch f.Kind {
	case KindResourceValue, KindResourceInstance:
		v, err := bytesToValue(rd.Type, f.Value)
		if err != nil {
			return model.PartialValue{}, err
		}
		return model.PartialValue{Single: &v}, nil
	case KindMultipleResource:
		children, err := decodeAll(f.Value)
		if err != nil {
			return model.PartialValue{}, err
		}
		multi := make(map[uint16]model.Value, len(children))
		for _, c := range children {
			if c.Kind != KindResourceInstance {
				return model.PartialValue{}, &DecodeError{"expected resource instance inside multiple resource"}
			}
			v, err := bytesToValue(rd.Type, c.Value)
			if err != nil {
				return model.PartialValue{}, err
			}
			multi[c.ID] = v
		}
		return model.PartialValue{Multi: multi}, nil
	default:
		return model.PartialValue{}, &DecodeError{"unexpected TLV kind for resource"}
	}
}

func setLeaf(tree model.PartialTree, obj, inst, res uint16, pv model.PartialValue) {
	if tree[obj] == nil {
		tree[obj] = map[uint16]map[uint16]model.PartialValue{}
	}
	if tree[obj][inst] == nil {
		tree[obj][inst] = map[uint16]model.PartialValue{}
	}
	tree[obj][inst][res] = pv
}

// DecodeTree parses a TLV write payload addressed at path (an object,
// instance, or resource path) into a model.PartialTree ready for Model.Apply.
// It drives decodeAll to exhaustion at every nesting level, so a payload
// carrying several sibling fields is never silently truncated to its first
// element.
func DecodeTree(m *model.Model, path []uint16, payload []byte) (model.PartialTree, error) {
	fields, err := decodeAll(payload)
	if err != nil {
		return nil, err
	}
	tree := model.PartialTree{}

	switch len(path) {
	case 3:
		obj, inst, res := path[0], path[1], path[2]
		if len(fields) != 1 {
			return nil, &DecodeError{fmt.Sprintf("expected a single resource TLV for /%d/%d/%d", obj, inst, res)}
		}
		f := fields[0]
		id := res
		if f.Kind == KindResourceValue || f.Kind == KindMultipleResource {
			id = f.ID
		}
		pv, err := decodeResourceField(m, obj, inst, id, f)
		if err != nil {
			return nil, err
		}
		setLeaf(tree, obj, inst, id, pv)

	case 2:
		obj, inst := path[0], path[1]
		for _, f := range fields {
			pv, err := decodeResourceField(m, obj, inst, f.ID, f)
			if err != nil {
				return nil, err
			}
			setLeaf(tree, obj, inst, f.ID, pv)
		}

	case 1:
		obj := path[0]
		if len(fields) == 0 || fields[0].Kind != KindObjectInstance {
			// No OBJECT_INSTANCE wrapper: default the instance to 0 (§4.2).
			const inst = 0
			for _, f := range fields {
				pv, err := decodeResourceField(m, obj, inst, f.ID, f)
				if err != nil {
					return nil, err
				}
				setLeaf(tree, obj, inst, f.ID, pv)
			}
			break
		}
		for _, instField := range fields {
			if instField.Kind != KindObjectInstance {
				return nil, &DecodeError{"expected an object instance TLV at object level"}
			}
			inst := instField.ID
			children, err := decodeAll(instField.Value)
			if err != nil {
				return nil, err
			}
			for _, f := range children {
				pv, err := decodeResourceField(m, obj, inst, f.ID, f)
				if err != nil {
					return nil, err
				}
				setLeaf(tree, obj, inst, f.ID, pv)
			}
		}

	default:
		return nil, &DecodeError{fmt.Sprintf("invalid path length %d for TLV decode", len(path))}
	}

	return tree, nil
}
