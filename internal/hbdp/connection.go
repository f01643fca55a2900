package hbdp

import (
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/hbdp/internal/bytequeue"
	"github.com/danmuck/hbdp/internal/observability"
	"github.com/rs/zerolog"
)

// DataHandler reacts to newly submitted inbound bytes on the submitting
// goroutine. It must not block; use in.TryRead.
type DataHandler func(in *bytequeue.Bounded)

// Connection is the server side of one session.
type Connection struct {
	id       string
	inbound  *bytequeue.Bounded
	outbound *bytequeue.Growable
	logger   zerolog.Logger

	// submitMu serializes Submit for this session.
	submitMu sync.Mutex

	mu            sync.Mutex
	expected      uint64
	held          held
	handling      bool
	closing       bool
	inboundClosed bool
	terminated    bool
	onData        DataHandler
}

var _ io.ReadWriteCloser = (*Connection)(nil)

func newConnection(id string, cfg QueueConfig, logger zerolog.Logger) *Connection {
	c := &Connection{
		id:       id,
		inbound:  bytequeue.NewBounded(cfg.InboundCapacity),
		outbound: bytequeue.NewGrowable(cfg.OutboundInitialCapacity),
		logger:   logger.With().Str("session", id).Str("proto", ProtocolTag).Logger(),
	}
	c.inbound.SetHandler(inboundHooks{c})
	c.outbound.SetHandler(outboundHooks{c})
	return c
}

func (c *Connection) ID() string {
	return c.id
}

// Inbound is the client-to-application stream.
func (c *Connection) Inbound() *bytequeue.Bounded {
	return c.inbound
}

// Outbound is the application-to-client stream.
func (c *Connection) Outbound() *bytequeue.Growable {
	return c.outbound
}

func (c *Connection) SetDataHandler(fn DataHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = fn
}

func (c *Connection) Read(p []byte) (int, error) {
	return c.inbound.Read(p)
}

func (c *Connection) Write(p []byte) (int, error) {
	return c.outbound.Write(p)
}

// Close closes the outbound stream. The session ends once the client has
// collected what was written before it.
func (c *Connection) Close() error {
	return c.outbound.Close()
}

// ExpectedSerial is the serial the next submission must carry.
func (c *Connection) ExpectedSerial() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expected
}

// Submit accepts the exchange carrying serial. A previously held exchange is
// completed empty, the request body is queued inbound, the data handler runs,
// and the exchange is answered now if output is buffered or parked otherwise.
// Rejections leave the connection untouched. A terminated connection
// rejects every submission with ErrSessionEnded. keepAlive false means the
// session is over and must be removed.
func (c *Connection) Submit(ex Exchange, serial uint64) (keepAlive bool, err error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	payload := ex.Payload()

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return false, ErrSessionEnded
	}
	if serial != c.expected {
		expected := c.expected
		c.mu.Unlock()
		observability.RecordSubmission(observability.SubmitSequence)
		return false, &SequenceError{Expected: expected, Got: serial}
	}
	discard := c.inboundClosed
	if free := c.inbound.Free(); !discard && len(payload) > free {
		c.mu.Unlock()
		observability.RecordSubmission(observability.SubmitTooLarge)
		return false, fmt.Errorf("%w: %d bytes, %d free", ErrPayloadTooLarge, len(payload), free)
	}
	c.expected++
	if prev := c.held.take(); prev != nil {
		observability.ExchangeReleased()
		observability.ExchangeSuperseded()
		if err := prev.Complete(nil); err != nil {
			c.logger.Debug().Err(err).Str("peer", prev.RemoteAddr()).Msg("superseded exchange not delivered")
		}
	}
	c.held.park(ex)
	observability.ExchangeHeld()
	c.handling = true
	onData := c.onData
	c.mu.Unlock()
	observability.RecordSubmission(observability.SubmitAccepted)

	if !discard && len(payload) > 0 {
		n, err := c.inbound.Append(payload)
		if err != nil {
			c.logger.Warn().Err(err).Str("peer", ex.RemoteAddr()).Msg("inbound payload discarded")
		} else {
			observability.RecordBytes(observability.DirectionInbound, n)
			c.logger.Debug().Str("peer", ex.RemoteAddr()).Msgf("Read %d bytes", n)
		}
	}

	if onData != nil {
		c.drive(onData)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.handling = false
	c.flushLocked()
	return !c.closing, nil
}

// drive calls fn until inbound is empty or a call consumes nothing.
func (c *Connection) drive(fn DataHandler) {
	available := c.inbound.Available()
	for available > 0 {
		fn(c.inbound)
		still := c.inbound.Available()
		if still == available {
			return
		}
		available = still
	}
}

// Terminate ends the session from the client side: inbound readers get
// io.EOF after buffered bytes and a held exchange is released empty.
func (c *Connection) Terminate() {
	c.inbound.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
	if ex := c.held.take(); ex != nil {
		observability.ExchangeReleased()
		_ = ex.Complete(nil)
	}
}

// flushLocked answers the held exchange when there is output to send or the
// outbound stream has closed. c.mu must be held.
func (c *Connection) flushLocked() {
	if !c.held.present() {
		return
	}
	if c.held.gone() {
		ex := c.held.take()
		observability.ExchangeReleased()
		c.logger.Debug().Str("peer", ex.RemoteAddr()).Msg("held exchange dropped, peer gone")
		return
	}
	if c.outbound.Available() == 0 && !c.closing {
		return
	}

	ex := c.held.take()
	observability.ExchangeReleased()
	body, err := c.outbound.Drain()
	if err != nil {
		body = nil
	}
	if err := ex.Complete(body); err != nil {
		if len(body) > 0 {
			c.closing = true
			c.logger.Warn().Err(err).Str("peer", ex.RemoteAddr()).Msgf("Lost %d bytes, abandoning session", len(body))
		}
		return
	}
	observability.RecordBytes(observability.DirectionOutbound, len(body))
	c.logger.Debug().Str("peer", ex.RemoteAddr()).Msgf("Wrote %d bytes", len(body))
}

type outboundHooks struct{ c *Connection }

func (h outboundHooks) OnData(*bytequeue.Growable) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handling {
		return
	}
	c.flushLocked()
}

func (h outboundHooks) OnClose(*bytequeue.Growable) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true
	if c.handling {
		return
	}
	c.flushLocked()
}

type inboundHooks struct{ c *Connection }

// OnExhausted has nothing to pull: bytes only arrive with the next request.
func (h inboundHooks) OnExhausted(*bytequeue.Bounded) {
	h.c.logger.Trace().Msg("inbound exhausted")
}

func (h inboundHooks) OnClose(*bytequeue.Bounded) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inboundClosed = true
}
