// Package payload routes a request's addressed path and Content-Format to
// the TLV or text codec, and is the only place that decides which format a
// response is rendered in (§4.4).
package payload

import (
	"fmt"

	"lwm2mclient/pkg/coap"
	"lwm2mclient/pkg/model"
	"lwm2mclient/pkg/text"
	"lwm2mclient/pkg/tlv"
)

// Encode renders a Read/Notify response body for path, choosing TLV for an
// object or instance path and for a multi-instance resource, and text for a
// single-instance resource path — mirroring the content-negotiation table
// the original selects between Content-Format 1542 and 1541 on.
func Encode(m *model.Model, path []uint16) (body []byte, contentFormat uint32, err error) {
	switch len(path) {
	case 1:
		body, err = tlv.EncodeObject(m, path[0])
		return body, coap.ContentFormatLwm2mTLV, err
	case 2:
		body, err = tlv.EncodeInstance(m, path[0], path[1])
		return body, coap.ContentFormatLwm2mTLV, err
	case 3:
		obj, inst, res := path[0], path[1], path[2]
		if m.IsResourceMultiInstance(obj, inst, res) {
			f, ferr := tlv.EncodeResourceField(m, obj, inst, res)
			if ferr != nil {
				return nil, 0, ferr
			}
			return f.Marshal(), coap.ContentFormatLwm2mTLV, nil
		}
		body, err = text.Encode(m, obj, inst, res)
		return body, coap.ContentFormatLwm2mText, err
	default:
		return nil, 0, fmt.Errorf("invalid path length %d for encode", len(path))
	}
}

// Decode parses a Write/Create request body into a PartialTree, dispatching
// on the request's declared Content-Format. An unrecognised format is
// rejected rather than guessed at.
func Decode(m *model.Model, path []uint16, contentFormat uint32, body []byte) (model.PartialTree, error) {
	switch contentFormat {
	case coap.ContentFormatLwm2mTLV:
		return tlv.DecodeTree(m, path, body)
	case coap.ContentFormatLwm2mText:
		return text.Decode(m, path, body)
	default:
		return nil, fmt.Errorf("unsupported content format %d", contentFormat)
	}
}
