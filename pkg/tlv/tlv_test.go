package tlv

import (
	"bytes"
	"fmt"
	"testing"

	"lwm2mclient/pkg/model"
)

func deviceModel(t *testing.T) *model.Model {
	t.Helper()
	defs := map[uint16]model.ObjectDefinition{
		3: {
			ID: 3, Name: "Device", Multiple: false, Mandatory: true,
			Resources: map[uint16]model.ResourceDefinition{
				0:  {ID: 0, Name: "Manufacturer", Operations: model.OpRead, Type: model.TypeString},
				1:  {ID: 1, Name: "ModelNumber", Operations: model.OpRead, Type: model.TypeString},
				6:  {ID: 6, Name: "AvailablePowerSources", Operations: model.OpRead, Multiple: true, Type: model.TypeInteger},
				7:  {ID: 7, Name: "PowerSourceVoltage", Operations: model.OpRead | model.OpWrite, Multiple: true, Type: model.TypeInteger},
				9:  {ID: 9, Name: "BatteryLevel", Operations: model.OpRead, Type: model.TypeInteger},
				13: {ID: 13, Name: "CurrentTime", Operations: model.OpRead | model.OpWrite, Type: model.TypeTime},
				14: {ID: 14, Name: "UTCOffset", Operations: model.OpRead | model.OpWrite, Type: model.TypeString},
			},
		},
	}
	m, err := model.New(defs, map[uint16]map[uint16]model.Instance{
		3: {
			0: {
				0:  {Single: &model.Value{Str: "Open Source Community"}},
				1:  {Single: &model.Value{Str: "LWM2M Client v0.1"}},
				6:  {Multi: map[uint16]model.Value{0: {Int: 1}, 1: {Int: 5}}},
				7:  {Multi: map[uint16]model.Value{0: {Int: 3800}, 1: {Int: 5000}}},
				9:  {Single: &model.Value{Int: 100}},
				13: {Single: &model.Value{Int: 1367491215}},
				14: {Single: &model.Value{Str: "+02:00"}},
			},
		},
	})
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return m
}

func TestEncodeDecodeObjectRoundTrip(t *testing.T) {
	m := deviceModel(t)
	raw, err := EncodeObject(m, 3)
	if err != nil {
		t.Fatalf("EncodeObject: %v", err)
	}

	tree, err := DecodeTree(m, []uint16{3}, raw)
	if err != nil {
		t.Fatalf("DecodeTree: %v", err)
	}

	m2, err := model.New(map[uint16]model.ObjectDefinition{3: firstDef(m)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Populate m2 with SetResource rather than Apply: Apply drops writes to
	// read-only resources such as 3/0/0 and 3/0/6, which this test reads back.
	for obj, insts := range tree {
		for inst, resources := range insts {
			for res, pv := range resources {
				m2.SetResource(obj, inst, res, model.ResourceValue{Single: pv.Single, Multi: pv.Multi})
			}
		}
	}

	v, err := m2.Resource(3, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Single.Str != "Open Source Community" {
		t.Errorf("resource 0 round-trip = %q", v.Single.Str)
	}

	v, err = m2.Resource(3, 0, 6)
	if err != nil {
		t.Fatal(err)
	}
	if v.Multi[0].Int != 1 || v.Multi[1].Int != 5 {
		t.Errorf("multi resource 6 round-trip = %+v", v.Multi)
	}
}

// TestEncodeDecodeDeviceObjectFourteenResources covers §8 invariant 1's
// concrete instance: encoding the Device Object populated with its full
// 14-resource set and decoding the result back must yield exactly those
// 14 resources, not a truncated or merged subset.
func TestEncodeDecodeDeviceObjectFourteenResources(t *testing.T) {
	resourceIDs := []uint16{0, 1, 2, 3, 6, 7, 8, 9, 10, 11, 13, 14, 16, 17}
	if len(resourceIDs) != 14 {
		t.Fatalf("test fixture has %d resource IDs, want 14", len(resourceIDs))
	}

	defs := map[uint16]model.ResourceDefinition{}
	inst := model.Instance{}
	for i, id := range resourceIDs {
		defs[id] = model.ResourceDefinition{ID: id, Operations: model.OpRead, Type: model.TypeString}
		inst[id] = model.ResourceValue{Single: &model.Value{Str: fmt.Sprintf("value-%d", i)}}
	}
	objDef := model.ObjectDefinition{ID: 3, Name: "Device", Resources: defs}

	m, err := model.New(map[uint16]model.ObjectDefinition{3: objDef}, map[uint16]map[uint16]model.Instance{
		3: {0: inst},
	})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := EncodeObject(m, 3)
	if err != nil {
		t.Fatalf("EncodeObject: %v", err)
	}

	tree, err := DecodeTree(m, []uint16{3}, raw)
	if err != nil {
		t.Fatalf("DecodeTree: %v", err)
	}
	if len(tree[3][0]) != 14 {
		t.Fatalf("decoded %d resources, want exactly 14: %+v", len(tree[3][0]), tree[3][0])
	}
	for _, id := range resourceIDs {
		if _, ok := tree[3][0][id]; !ok {
			t.Errorf("missing resource %d in decoded tree", id)
		}
	}
}

func firstDef(m *model.Model) model.ObjectDefinition {
	d, _ := m.Definition(3)
	return d
}

func TestEncodeResourceFieldSingle(t *testing.T) {
	m := deviceModel(t)
	f, err := EncodeResourceField(m, 3, 0, 9)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindResourceValue || f.ID != 9 {
		t.Fatalf("unexpected field %+v", f)
	}
	raw := f.Marshal()
	// type byte: kind=11(0x03)<<6, id<256 so idLen bit clear, length=1 (100 fits one byte) -> 0b11000001 = 0xC1
	if raw[0] != 0xC1 {
		t.Errorf("type byte = %#x, want 0xc1", raw[0])
	}
}

// TestBooleanEncodingIsTruthiness exercises both true and false explicitly:
// the original handlers this client is adapted from have one path that
// encodes booleans by truthiness and another that string-compares against
// "TRUE"; this client standardizes on truthiness for both directions.
func TestBooleanEncodingIsTruthiness(t *testing.T) {
	tb, err := valueToBytes(model.TypeBoolean, model.Value{Bool: true})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(tb, []byte{0x01}) {
		t.Errorf("true encoded as %v", tb)
	}
	fb, err := valueToBytes(model.TypeBoolean, model.Value{Bool: false})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(fb, []byte{0x00}) {
		t.Errorf("false encoded as %v", fb)
	}

	v, err := bytesToValue(model.TypeBoolean, []byte{0x01})
	if err != nil || v.Bool != true {
		t.Errorf("decode true: %v %v", v, err)
	}
	v, err = bytesToValue(model.TypeBoolean, []byte{0x00})
	if err != nil || v.Bool != false {
		t.Errorf("decode false: %v %v", v, err)
	}
}

// TestLongValueLengthPacking covers the length-of-length selection for a
// value >= 65536 bytes, where a naive `_len & 0xFF0000 >> 16` must not
// reappear here (in Python >> binds tighter than &, so that expression is
// `_len & 0xFF`, the low byte instead of the high one): the MSB must be
// `(_len >> 16) & 0xFF`.
func TestLongValueLengthPacking(t *testing.T) {
	big := make([]byte, 70000)
	for i := range big {
		big[i] = byte(i)
	}
	f := Field{Kind: KindResourceValue, ID: 5, Value: big}
	raw := f.Marshal()

	lenType := (raw[0] >> 3) & 0x03
	if lenType != 3 {
		t.Fatalf("length type = %d, want 3 (24-bit)", lenType)
	}
	// header: type byte, 1 ID byte, 3 length bytes
	msb := raw[2]
	mid := raw[3]
	lsb := raw[4]
	gotLen := uint32(msb)<<16 | uint32(mid)<<8 | uint32(lsb)
	if gotLen != uint32(len(big)) {
		t.Errorf("decoded 24-bit length = %d, want %d (msb byte was %#x)", gotLen, len(big), msb)
	}
	if msb != byte((len(big)>>16)&0xFF) {
		t.Errorf("msb byte = %#x, want %#x", msb, byte((len(big)>>16)&0xFF))
	}

	fields, err := decodeAll(raw)
	if err != nil {
		t.Fatalf("decodeAll: %v", err)
	}
	if len(fields) != 1 || len(fields[0].Value) != len(big) {
		t.Fatalf("round-trip length mismatch: %d", len(fields[0].Value))
	}
}

// TestDecodeAllDrivesToCompletion ensures every sibling field in a buffer is
// yielded, not just the first: a generator built but never driven to
// completion would otherwise produce an empty or truncated tree.
func TestDecodeAllDrivesToCompletion(t *testing.T) {
	var raw []byte
	for id := uint16(0); id < 5; id++ {
		raw = append(raw, Field{Kind: KindResourceValue, ID: id, Value: []byte{byte(id)}}.Marshal()...)
	}
	fields, err := decodeAll(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 5 {
		t.Fatalf("decodeAll yielded %d fields, want 5", len(fields))
	}
	for i, f := range fields {
		if f.ID != uint16(i) {
			t.Errorf("field %d has ID %d", i, f.ID)
		}
	}
}

func TestDecodeTreeInvalidResourcePath(t *testing.T) {
	m := deviceModel(t)
	raw := Field{Kind: KindResourceValue, ID: 173, Value: []byte{1}}.Marshal()
	_, err := DecodeTree(m, []uint16{3, 0, 173}, raw)
	if err == nil {
		t.Fatal("expected error for undefined resource 173")
	}
	want := "invalid resource path: /3/0/173"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

// TestDecodeTreeObjectPathDefaultsInstanceZero covers §4.2's rule that a
// path-length-1 write carrying no OBJECT_INSTANCE wrapper addresses
// instance 0 directly, rather than erroring.
func TestDecodeTreeObjectPathDefaultsInstanceZero(t *testing.T) {
	m := deviceModel(t)
	raw := Field{Kind: KindResourceValue, ID: 9, Value: []byte{42}}.Marshal()
	tree, err := DecodeTree(m, []uint16{3}, raw)
	if err != nil {
		t.Fatalf("DecodeTree: %v", err)
	}
	pv, ok := tree[3][0][9]
	if !ok {
		t.Fatalf("expected leaf at 3/0/9, got tree %+v", tree)
	}
	if pv.Single == nil || pv.Single.Int != 42 {
		t.Errorf("leaf value = %+v, want Int=42", pv.Single)
	}
}

func TestDecodeTreeTruncatedBuffer(t *testing.T) {
	m := deviceModel(t)
	_, err := DecodeTree(m, []uint16{3, 0, 9}, []byte{0xC1})
	if err == nil {
		t.Fatal("expected error for truncated TLV buffer")
	}
}
