package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"lwm2mclient/pkg/coap"
)

func TestRequestReceivesAcknowledgement(t *testing.T) {
	laddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	server, err := net.ListenUDP("udp", laddr)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client, err := Dial(server.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	go func() {
		buf := make([]byte, 1500)
		n, raddr, err := server.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req := coap.Parse(buf[:n])
		resp := &coap.Message{
			Type: coap.TypeAcknowledgement, Code: coap.CodeCreated,
			MessageID: req.MessageID, Token: req.Token,
			Options: []coap.Option{
				{Number: coap.OptionLocationPath, Value: []byte("rd")},
				{Number: coap.OptionLocationPath, Value: []byte("abc123")},
			},
		}
		server.WriteToUDP(resp.Marshal(), raddr)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Request(ctx, coap.CodePost, []coap.Option{{Number: coap.OptionURIPath, Value: []byte("rd")}}, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Code != coap.CodeCreated {
		t.Errorf("response code = %v, want Created", resp.Code)
	}
}

func TestRequestTimesOutWithoutResponse(t *testing.T) {
	laddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	server, err := net.ListenUDP("udp", laddr)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client, err := Dial(server.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = client.Request(ctx, coap.CodeGet, nil, nil)
	if err == nil {
		t.Fatal("expected a timeout error when no response arrives")
	}
}

func TestNotifyAndRespondSendDatagrams(t *testing.T) {
	laddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	server, err := net.ListenUDP("udp", laddr)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client, err := Dial(server.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.Respond(1, []byte{1}, coap.CodeContent, nil, []byte("x"))
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, _, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	msg := coap.Parse(buf[:n])
	if msg.Type != coap.TypeAcknowledgement || msg.Code != coap.CodeContent {
		t.Errorf("got %+v", msg)
	}

	client.Notify([]byte{2}, coap.CodeContent, nil, []byte("y"))
	n, _, err = server.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	msg = coap.Parse(buf[:n])
	if msg.Type != coap.TypeNonConfirmable {
		t.Errorf("got %+v", msg)
	}
}
