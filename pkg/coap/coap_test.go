package coap

import (
	"bytes"
	"testing"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	msg := &Message{
		Type:      TypeConfirmable,
		Code:      CodeGet,
		MessageID: 0x1234,
		Token:     []byte{1, 2, 3, 4, 5, 6, 7, 8},
		Options: []Option{
			{Number: OptionURIPath, Value: []byte("3")},
			{Number: OptionURIPath, Value: []byte("0")},
			ContentFormatOption(ContentFormatLwm2mTLV),
		},
		Payload: []byte("hello"),
	}
	raw := msg.Marshal()
	parsed := Parse(raw)
	if parsed == nil {
		t.Fatal("Parse returned nil")
	}
	if parsed.Type != msg.Type || parsed.Code != msg.Code || parsed.MessageID != msg.MessageID {
		t.Errorf("header mismatch: %+v", parsed)
	}
	if !bytes.Equal(parsed.Token, msg.Token) {
		t.Errorf("token mismatch: %v vs %v", parsed.Token, msg.Token)
	}
	if !bytes.Equal(parsed.Payload, msg.Payload) {
		t.Errorf("payload mismatch: %q vs %q", parsed.Payload, msg.Payload)
	}
	if got := parsed.URIPath(); len(got) != 2 || got[0] != "3" || got[1] != "0" {
		t.Errorf("URIPath() = %v", got)
	}
	cf, ok := parsed.ContentFormat()
	if !ok || cf != ContentFormatLwm2mTLV {
		t.Errorf("ContentFormat() = %v, %v", cf, ok)
	}
}

func TestObserveOption(t *testing.T) {
	msg := &Message{Options: []Option{{Number: OptionObserve, Value: []byte{}}}}
	v, ok := msg.Observe()
	if !ok || v != ObserveRegister {
		t.Errorf("empty-value Observe option should read as register(0), got %v %v", v, ok)
	}
}

func TestNoOptionsNoPayload(t *testing.T) {
	msg := &Message{Type: TypeAcknowledgement, Code: CodeChanged, MessageID: 7, Token: []byte{9}}
	raw := msg.Marshal()
	parsed := Parse(raw)
	if parsed == nil {
		t.Fatal("Parse returned nil")
	}
	if len(parsed.Payload) != 0 {
		t.Errorf("expected no payload, got %q", parsed.Payload)
	}
}
