package echo

import (
	"strings"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/danmuck/hbdp/internal/hbdp"
	"github.com/danmuck/hbdp/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

type exchange struct {
	payload []byte
	done    chan struct{}
	bodies  chan []byte
}

func newExchange(payload string) *exchange {
	return &exchange{payload: []byte(payload), done: make(chan struct{}), bodies: make(chan []byte, 1)}
}

func (e *exchange) Payload() []byte       { return e.payload }
func (e *exchange) RemoteAddr() string    { return "198.51.100.7" }
func (e *exchange) Done() <-chan struct{} { return e.done }

func (e *exchange) Complete(body []byte) error {
	select {
	case e.bodies <- append([]byte(nil), body...):
		return nil
	default:
		return hbdp.ErrExchangeCompleted
	}
}

func (e *exchange) body(t *testing.T) string {
	t.Helper()
	select {
	case b := <-e.bodies:
		return string(b)
	case <-time.After(2 * time.Second):
		t.Fatalf("exchange never completed")
		return ""
	}
}

func newConn(t *testing.T, inbound int) *hbdp.Connection {
	t.Helper()
	r := hbdp.NewRegistry(hbdp.QueueConfig{InboundCapacity: inbound}, nil, zerolog.Nop())
	conn, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return conn
}

func TestAttachEchoesWithinSubmit(t *testing.T) {
	testlog.Start(t)
	conn := newConn(t, 2048)
	Attach(conn)

	payload := strings.Repeat("0123456789", 150)
	ex := newExchange(payload)
	if _, err := conn.Submit(ex, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := ex.body(t); got != payload {
		t.Fatalf("echo returned %d bytes, want %d", len(got), len(payload))
	}
}

func TestServeCopiesUntilEnd(t *testing.T) {
	testlog.Start(t)
	conn := newConn(t, 64)

	served := make(chan error, 1)
	go func() { served <- Serve(conn) }()

	ex := newExchange("hello")
	if _, err := conn.Submit(ex, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := ex.body(t); got != "hello" {
		t.Fatalf("unexpected echo %q", got)
	}

	conn.Terminate()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after terminate")
	}
	if _, err := conn.Outbound().Write([]byte("late")); err == nil {
		t.Fatalf("outbound must be closed once serve returns")
	}
}

func TestHandlerAttachesToNewSessions(t *testing.T) {
	testlog.Start(t)
	conn := newConn(t, 64)
	Handler().HandleConnection(conn)

	ex := newExchange("abc")
	if _, err := conn.Submit(ex, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := ex.body(t); got != "abc" {
		t.Fatalf("unexpected echo %q", got)
	}
	if n, err := conn.Inbound().TryRead(make([]byte, 1)); n != 0 || !iox.IsWouldBlock(err) {
		t.Fatalf("inbound should be drained and open, n=%d err=%v", n, err)
	}
}
