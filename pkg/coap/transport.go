package coap

import "context"

// Responder is how the dispatcher and observation manager deliver
// responses and notifications. The actual network transport (UDP framing,
// retransmission, DTLS) lives outside this module (spec.md §1 Non-goals);
// it only needs to satisfy this interface.
type Responder interface {
	// Respond sends an Acknowledgement carrying code/options/payload in
	// reply to the request identified by messageID/token.
	Respond(messageID uint16, token []byte, code Code, options []Option, payload []byte)
	// Notify sends a Non-confirmable message sharing token, used for
	// Observe notifications (§4.6).
	Notify(token []byte, code Code, options []Option, payload []byte) uint16
}

// RequestSender is how the registration state machine issues outbound
// requests and awaits their response.
type RequestSender interface {
	Request(ctx context.Context, code Code, options []Option, payload []byte) (*Message, error)
}
