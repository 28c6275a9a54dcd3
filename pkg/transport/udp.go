// Package transport is the UDP adapter that gives the dispatcher,
// observation manager, and registration state machine a real network:
// it implements coap.Responder and coap.RequestSender.
//
// Grounded on the teacher's Coap struct (Initialize/ReadCoapMessage/
// SendRequest/SendResponse/SendRelatedMessage in coap.go), adapted from its
// net.Conn + DTLS pairing to a plain net.UDPConn: DTLS itself is an
// explicit external collaborator this module does not implement (§1
// Non-goals).
package transport

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"

	"lwm2mclient/pkg/coap"
	"lwm2mclient/pkg/logger"
)

// UDP is a single client-to-server CoAP-over-UDP connection. Its read loop
// is the only goroutine besides the timers the registration/observe loops
// use (§5 Concurrency & Resource model): everything it reads is either
// matched against a pending Request call or handed to Incoming for the
// model-owning goroutine to dispatch.
type UDP struct {
	conn          *net.UDPConn
	mu            sync.Mutex
	nextMessageID uint16
	pending       map[uint16]chan *coap.Message

	// Incoming carries server-originated requests (GET/PUT/POST against
	// this client) for the owning goroutine to hand to a Dispatcher.
	Incoming chan *coap.Message
}

// Dial opens a UDP socket to serverAddr and starts the read loop.
func Dial(serverAddr string) (*UDP, error) {
	return DialFrom("", serverAddr)
}

// DialFrom opens a UDP socket to serverAddr, binding the local socket to
// bindAddr first (the CLI's --address flag) when bindAddr is non-empty, and
// starts the read loop.
func DialFrom(bindAddr, serverAddr string) (*UDP, error) {
	raddr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", serverAddr, err)
	}

	var laddr *net.UDPAddr
	if bindAddr != "" {
		laddr, err = net.ResolveUDPAddr("udp", bindAddr)
		if err != nil {
			return nil, fmt.Errorf("resolving bind address %s: %w", bindAddr, err)
		}
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", serverAddr, err)
	}

	var seed [2]byte
	rand.Read(seed[:])

	u := &UDP{
		conn:          conn,
		nextMessageID: uint16(seed[0])<<8 | uint16(seed[1]),
		pending:       make(map[uint16]chan *coap.Message),
		Incoming:      make(chan *coap.Message, 16),
	}
	go u.readLoop()
	return u, nil
}

// Close ends the connection; the read loop exits on its next failed Read.
func (u *UDP) Close() error { return u.conn.Close() }

func (u *UDP) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, err := u.conn.Read(buf)
		if err != nil {
			close(u.Incoming)
			return
		}
		raw := append([]byte(nil), buf[:n]...)
		msg := coap.Parse(raw)
		if msg == nil {
			logger.Warn().Msg("dropping malformed CoAP datagram")
			continue
		}

		if msg.Type == coap.TypeAcknowledgement || msg.Type == coap.TypeReset {
			u.mu.Lock()
			ch, ok := u.pending[msg.MessageID]
			if ok {
				delete(u.pending, msg.MessageID)
			}
			u.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}
		u.Incoming <- msg
	}
}

func (u *UDP) nextID() uint16 {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := u.nextMessageID
	u.nextMessageID++
	return id
}

// Request sends a Confirmable request and blocks for its Acknowledgement
// or ctx's cancellation, whichever comes first.
func (u *UDP) Request(ctx context.Context, code coap.Code, options []coap.Option, payload []byte) (*coap.Message, error) {
	token := make([]byte, coap.DefaultTokenLength)
	rand.Read(token)
	id := u.nextID()

	msg := &coap.Message{
		Type: coap.TypeConfirmable, Code: code, MessageID: id,
		Token: token, Options: options, Payload: payload,
	}

	ch := make(chan *coap.Message, 1)
	u.mu.Lock()
	u.pending[id] = ch
	u.mu.Unlock()

	if _, err := u.conn.Write(msg.Marshal()); err != nil {
		u.mu.Lock()
		delete(u.pending, id)
		u.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		u.mu.Lock()
		delete(u.pending, id)
		u.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Respond implements coap.Responder by sending an Acknowledgement.
func (u *UDP) Respond(messageID uint16, token []byte, code coap.Code, options []coap.Option, payload []byte) {
	msg := &coap.Message{
		Type: coap.TypeAcknowledgement, Code: code, MessageID: messageID,
		Token: token, Options: options, Payload: payload,
	}
	if _, err := u.conn.Write(msg.Marshal()); err != nil {
		logger.Error().Err(err).Msg("sending response")
	}
}

// Notify implements coap.Responder by sending a Non-confirmable message
// sharing the subscription's token, per RFC7641 §2.3.
func (u *UDP) Notify(token []byte, code coap.Code, options []coap.Option, payload []byte) uint16 {
	id := u.nextID()
	msg := &coap.Message{
		Type: coap.TypeNonConfirmable, Code: code, MessageID: id,
		Token: token, Options: options, Payload: payload,
	}
	if _, err := u.conn.Write(msg.Marshal()); err != nil {
		logger.Error().Err(err).Msg("sending notify")
	}
	return id
}
