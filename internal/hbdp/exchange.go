package hbdp

import (
	"context"
	"net/http"
	"sync"
)

// Exchange is one HTTP request awaiting its response, as seen by a Connection.
type Exchange interface {
	Payload() []byte
	RemoteAddr() string
	// Done is closed once the peer no longer waits for the response.
	Done() <-chan struct{}
	// Complete answers with success and body.
	Complete(body []byte) error
}

// held owns the parked exchange of a Connection. take moves it out, so a
// parked exchange can only be answered by whoever took it.
type held struct {
	ex Exchange
}

func (h *held) park(ex Exchange) {
	h.ex = ex
}

func (h *held) take() Exchange {
	ex := h.ex
	h.ex = nil
	return ex
}

func (h *held) present() bool {
	return h.ex != nil
}

func (h *held) gone() bool {
	if h.ex == nil {
		return false
	}
	select {
	case <-h.ex.Done():
		return true
	default:
		return false
	}
}

const (
	contentTypeText   = "text/plain; charset=utf-8"
	contentTypeBinary = "application/octet-stream"
)

// httpExchange hands the response from whichever goroutine completes it to
// the handler goroutine, which is the only one writing to the wire.
type httpExchange struct {
	payload []byte
	remote  string
	ctx     context.Context

	mu          sync.Mutex
	ready       chan struct{}
	completed   bool
	abandoned   bool
	status      int
	contentType string
	body        []byte
}

func newHTTPExchange(ctx context.Context, remote string, payload []byte) *httpExchange {
	return &httpExchange{
		payload: payload,
		remote:  remote,
		ctx:     ctx,
		ready:   make(chan struct{}),
	}
}

func (e *httpExchange) Payload() []byte       { return e.payload }
func (e *httpExchange) RemoteAddr() string    { return e.remote }
func (e *httpExchange) Done() <-chan struct{} { return e.ctx.Done() }

func (e *httpExchange) Complete(body []byte) error {
	return e.respond(http.StatusOK, contentTypeBinary, body)
}

func (e *httpExchange) fail(perr *ProtocolError) error {
	return e.respond(perr.Status, contentTypeText, []byte(perr.Message))
}

func (e *httpExchange) respond(status int, contentType string, body []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completed {
		return ErrExchangeCompleted
	}
	if e.abandoned {
		return ErrExchangeAbandoned
	}
	e.completed = true
	e.status = status
	e.contentType = contentType
	e.body = body
	close(e.ready)
	return nil
}

// await blocks until the exchange is completed or the peer goes away. It
// reports false when nothing should be written.
func (e *httpExchange) await() bool {
	select {
	case <-e.ready:
		return true
	case <-e.ctx.Done():
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completed {
		return true
	}
	e.abandoned = true
	return false
}

func (e *httpExchange) response() (int, string, []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.contentType, e.body
}
