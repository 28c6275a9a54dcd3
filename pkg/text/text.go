// Package text implements the LWM2M plain-text single-value format (§4.3):
// the wire payload is the resource's value rendered as a bare string, with
// no framing. It only applies to single, non-multi-instance resources
// addressed by a full obj/inst/res path.
//
// Grounded on the teacher's convertTLVValueToString/convertStringToTLVValue
// (lwm2m_tlv.go) adapted to a flat string encoding, and the Python
// reference's TextEncoder/TextDecoder (encdec.py).
package text

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"lwm2mclient/pkg/model"
)

// FormatError reports a plain-text payload that can't apply to the
// addressed resource: wrong path shape, an undefined or multi-instance
// resource, or a value that doesn't parse as the resource's type.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return e.Msg }

// Encode renders the resource at obj/inst/res as its plain-text value.
// Only a full 3-element path naming a single-instance resource is valid.
func Encode(m *model.Model, obj, inst, res uint16) ([]byte, error) {
	rd, ok := m.ResourceDefinition(obj, res)
	if !ok {
		return nil, &FormatError{fmt.Sprintf("invalid resource path: /%d/%d/%d", obj, inst, res)}
	}
	if rd.Multiple {
		return nil, &FormatError{fmt.Sprintf("text format does not apply to multi-instance resource /%d/%d/%d", obj, inst, res)}
	}
	rv, err := m.Resource(obj, inst, res)
	if err != nil {
		return nil, err
	}
	if rv.Single == nil {
		return nil, &FormatError{fmt.Sprintf("resource /%d/%d/%d has no single value", obj, inst, res)}
	}
	return []byte(valueToString(rd.Type, *rv.Single)), nil
}

// Decode parses a plain-text payload into a single PartialValue for the
// resource at path, a full obj/inst/res path. Non-3-length paths and
// multi-instance resources are rejected with a FormatError, mirroring the
// ContentFormatException the original raises for the same cases.
func Decode(m *model.Model, path []uint16, payload []byte) (model.PartialTree, error) {
	if len(path) != 3 {
		return nil, &FormatError{fmt.Sprintf("text format requires a 3-element resource path, got %d", len(path))}
	}
	obj, inst, res := path[0], path[1], path[2]
	rd, ok := m.ResourceDefinition(obj, res)
	if !ok {
		return nil, &FormatError{fmt.Sprintf("invalid resource path: /%d/%d/%d", obj, inst, res)}
	}
	if rd.Multiple {
		return nil, &FormatError{fmt.Sprintf("text format does not apply to multi-instance resource /%d/%d/%d", obj, inst, res)}
	}

	v, err := stringToValue(rd.Type, string(payload))
	if err != nil {
		return nil, err
	}
	return model.PartialTree{
		obj: {inst: {res: model.PartialValue{Single: &v}}},
	}, nil
}

func valueToString(rt model.ResourceType, v model.Value) string {
	switch rt {
	case model.TypeInteger, model.TypeTime:
		return strconv.FormatInt(v.Int, 10)
	case model.TypeString:
		return v.Str
	case model.TypeFloat:
		return strconv.FormatFloat(v.Float64, 'f', -1, 64)
	case model.TypeBoolean:
		// Standardized on truthiness both ways, never a "TRUE" string compare.
		if v.Bool {
			return "1"
		}
		return "0"
	case model.TypeOpaque:
		return hex.EncodeToString(v.Opaque)
	default:
		return ""
	}
}

func stringToValue(rt model.ResourceType, s string) (model.Value, error) {
	switch rt {
	case model.TypeInteger, model.TypeTime:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return model.Value{}, &FormatError{fmt.Sprintf("invalid integer value %q", s)}
		}
		return model.Value{Int: n}, nil
	case model.TypeString:
		return model.Value{Str: s}, nil
	case model.TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return model.Value{}, &FormatError{fmt.Sprintf("invalid float value %q", s)}
		}
		return model.Value{Float64: f}, nil
	case model.TypeBoolean:
		// Truthiness: any value other than empty/"0" reads as true. This is
		// the resolution for the original's inconsistent boolean handling
		// (some callers tested truthiness, others did `.upper() == "TRUE"`).
		trimmed := strings.TrimSpace(s)
		return model.Value{Bool: trimmed != "" && trimmed != "0"}, nil
	case model.TypeOpaque:
		b, err := hex.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return model.Value{}, &FormatError{fmt.Sprintf("invalid hex opaque value %q", s)}
		}
		return model.Value{Opaque: b}, nil
	default:
		return model.Value{}, fmt.Errorf("unknown resource type in definition: %v", rt)
	}
}
