package payload

import (
	"testing"

	"lwm2mclient/pkg/coap"
	"lwm2mclient/pkg/model"
)

func deviceModel(t *testing.T) *model.Model {
	t.Helper()
	defs := map[uint16]model.ObjectDefinition{
		3: {
			ID: 3, Name: "Device",
			Resources: map[uint16]model.ResourceDefinition{
				0: {ID: 0, Name: "Manufacturer", Operations: model.OpRead, Type: model.TypeString},
				6: {ID: 6, Name: "AvailablePowerSources", Operations: model.OpRead, Multiple: true, Type: model.TypeInteger},
				9: {ID: 9, Name: "BatteryLevel", Operations: model.OpRead | model.OpWrite, Type: model.TypeInteger},
			},
		},
	}
	m, err := model.New(defs, map[uint16]map[uint16]model.Instance{
		3: {0: {
			0: {Single: &model.Value{Str: "ACME"}},
			6: {Multi: map[uint16]model.Value{0: {Int: 1}}},
			9: {Single: &model.Value{Int: 87}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestEncodeSingleResourceUsesText(t *testing.T) {
	m := deviceModel(t)
	body, cf, err := Encode(m, []uint16{3, 0, 9})
	if err != nil {
		t.Fatal(err)
	}
	if cf != coap.ContentFormatLwm2mText || string(body) != "87" {
		t.Errorf("Encode = %q, %d", body, cf)
	}
}

func TestEncodeMultiResourceUsesTLV(t *testing.T) {
	m := deviceModel(t)
	_, cf, err := Encode(m, []uint16{3, 0, 6})
	if err != nil {
		t.Fatal(err)
	}
	if cf != coap.ContentFormatLwm2mTLV {
		t.Errorf("multi-instance resource should encode as TLV, got cf=%d", cf)
	}
}

func TestEncodeInstanceUsesTLV(t *testing.T) {
	m := deviceModel(t)
	_, cf, err := Encode(m, []uint16{3, 0})
	if err != nil {
		t.Fatal(err)
	}
	if cf != coap.ContentFormatLwm2mTLV {
		t.Errorf("instance path should encode as TLV, got cf=%d", cf)
	}
}

func TestDecodeRejectsUnknownContentFormat(t *testing.T) {
	m := deviceModel(t)
	_, err := Decode(m, []uint16{3, 0, 9}, 9999, []byte("x"))
	if err == nil {
		t.Fatal("expected error for unknown content format")
	}
}

func TestDecodeRoutesTextFormat(t *testing.T) {
	m := deviceModel(t)
	tree, err := Decode(m, []uint16{3, 0, 9}, coap.ContentFormatLwm2mText, []byte("50"))
	if err != nil {
		t.Fatal(err)
	}
	if tree[3][0][9].Single.Int != 50 {
		t.Errorf("decoded = %+v", tree[3][0][9])
	}
}
