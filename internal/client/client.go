// Package client dials HBDP sessions and exposes them as byte streams.
//
// A Conn keeps one long-poll request outstanding so the server always has a
// request to answer with, and issues the next serial as soon as there is data
// to send. Response bodies are delivered to Read in serial order.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/hbdp/internal/hbdp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed       = errors.New("hbdp client: connection closed")
	ErrInvalidURL   = errors.New("hbdp client: invalid session url")
	ErrOpenRejected = errors.New("hbdp client: session open rejected")
)

// Config tunes a client connection.
type Config struct {
	// HTTPClient must not set a Timeout; polls are held open by the server.
	HTTPClient         *http.Client
	MaxConnectAttempts int
	// MaxResubmits bounds retries of one serial that reached the server
	// ahead of its predecessor or found inbound full.
	MaxResubmits int
	// MaxPayload caps a single request body. Keep it at or below the
	// server's inbound capacity.
	MaxPayload   int
	Backoff      BackoffConfig
	CloseTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		HTTPClient:         &http.Client{},
		MaxConnectAttempts: 5,
		MaxResubmits:       32,
		MaxPayload:         1024,
		Backoff:            DefaultBackoff(),
		CloseTimeout:       5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HTTPClient == nil {
		c.HTTPClient = def.HTTPClient
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.MaxResubmits <= 0 {
		c.MaxResubmits = def.MaxResubmits
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = def.MaxPayload
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	return c
}

// Conn is the client side of one session.
type Conn struct {
	id         string
	sessionURL string
	cfg        Config
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pr *io.PipeReader
	pw *io.PipeWriter

	calls        chan *call
	senderDone   chan struct{}
	receiverDone chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []byte
	inflight int
	unacked  int
	closing  bool
	stopped  bool

	rngMu sync.Mutex
	rng   *rand.Rand

	finishOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

var _ io.ReadWriteCloser = (*Conn)(nil)

// call is one POST carrying serial. written is closed once the request has
// left the client, done receives the single outcome.
type call struct {
	serial      uint64
	body        []byte
	written     chan struct{}
	writtenOnce sync.Once
	done        chan outcome
}

type outcome struct {
	data []byte
	eof  bool
	err  error
}

func newCall(serial uint64, body []byte) *call {
	return &call{
		serial:  serial,
		body:    body,
		written: make(chan struct{}),
		done:    make(chan outcome, 1),
	}
}

func (cl *call) markWritten() {
	cl.writtenOnce.Do(func() { close(cl.written) })
}

// Dial opens a session at rawURL, retrying with backoff.
func Dial(ctx context.Context, rawURL string, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	base, err := url.Parse(rawURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var id string
	for attempt := 1; ; attempt++ {
		id, err = open(ctx, cfg.HTTPClient, base.String())
		if err == nil {
			break
		}
		if attempt >= cfg.MaxConnectAttempts || ctx.Err() != nil {
			return nil, fmt.Errorf("hbdp client: open %s after %d attempts: %w", rawURL, attempt, err)
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Str("url", rawURL).Msg("session open failed, retrying")
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}

	connCtx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	c := &Conn{
		id:           id,
		sessionURL:   strings.TrimRight(base.String(), "/") + "/" + url.PathEscape(id),
		cfg:          cfg,
		logger:       log.With().Str("session", id).Str("proto", hbdp.ProtocolTag).Logger(),
		ctx:          connCtx,
		cancel:       cancel,
		pr:           pr,
		pw:           pw,
		calls:        make(chan *call, 4),
		senderDone:   make(chan struct{}),
		receiverDone: make(chan struct{}),
		rng:          rng,
	}
	c.cond = sync.NewCond(&c.mu)
	c.logger.Debug().Str("url", c.sessionURL).Msg("session opened")

	go c.sendLoop()
	go c.receiveLoop()
	return c, nil
}

func open(ctx context.Context, hc *http.Client, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrOpenRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	id := strings.TrimSpace(string(body))
	if id == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrOpenRejected)
	}
	return id, nil
}

func (c *Conn) ID() string {
	return c.id
}

// Read returns server output in the order the server wrote it, then io.EOF
// once the server has ended the session.
func (c *Conn) Read(p []byte) (int, error) {
	return c.pr.Read(p)
}

// Write queues p for the next request and never blocks on the network.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.closing {
		return 0, ErrClosed
	}
	c.pending = append(c.pending, p...)
	c.cond.Broadcast()
	return len(p), nil
}

// Close flushes queued writes, ends the session with DELETE and releases
// readers with io.EOF.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		alreadyEnded := c.stopped
		c.closing = true
		c.cond.Broadcast()
		c.mu.Unlock()

		flush := time.NewTimer(c.cfg.CloseTimeout)
		select {
		case <-c.senderDone:
		case <-flush.C:
			c.logger.Warn().Msg("flush timed out, output not read")
		}
		flush.Stop()
		if !alreadyEnded {
			c.closeErr = c.terminate()
		}
		c.finish(nil)
		<-c.receiverDone
	})
	return c.closeErr
}

func (c *Conn) terminate() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.sessionURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("hbdp client: delete session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		c.logger.Debug().Int("status", resp.StatusCode).Msg("session deleted")
		return nil
	default:
		return fmt.Errorf("hbdp client: delete session: status %d", resp.StatusCode)
	}
}

// finish stops both loops and ends the read side with err, io.EOF when nil.
func (c *Conn) finish(err error) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.cond.Broadcast()
		c.mu.Unlock()
		c.cancel()
		if err != nil {
			c.logger.Warn().Err(err).Msg("session failed")
			_ = c.pw.CloseWithError(err)
			return
		}
		_ = c.pw.Close()
	})
}

// readyLocked reports whether the sender should act: send queued data while
// at most one other request is out, or re-arm the poll once none is.
func (c *Conn) readyLocked() bool {
	if c.stopped || c.closing {
		return true
	}
	if len(c.pending) > 0 {
		return c.inflight < 2
	}
	return c.inflight == 0
}

func (c *Conn) sendLoop() {
	defer close(c.senderDone)
	defer close(c.calls)

	var serial uint64
	fenced := false
	for {
		c.mu.Lock()
		for !c.readyLocked() {
			c.cond.Wait()
		}
		if c.stopped {
			c.mu.Unlock()
			return
		}
		if c.closing && len(c.pending) == 0 {
			// An empty fence serial supersedes the last data request, so
			// every byte has been accepted once unacked drops to zero.
			if c.unacked == 0 || fenced {
				for c.unacked > 0 && !c.stopped {
					c.cond.Wait()
				}
				c.mu.Unlock()
				return
			}
			fenced = true
		}
		n := len(c.pending)
		if n > c.cfg.MaxPayload {
			n = c.cfg.MaxPayload
		}
		body := make([]byte, n)
		copy(body, c.pending)
		c.pending = c.pending[:copy(c.pending, c.pending[n:])]
		c.inflight++
		if n > 0 {
			c.unacked++
		}
		c.mu.Unlock()

		cl := newCall(serial, body)
		serial++
		select {
		case c.calls <- cl:
		case <-c.ctx.Done():
			c.settle(cl)
			return
		}
		go c.post(cl)

		// Serial N+1 leaves only after N is on the wire.
		select {
		case <-cl.written:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) settle(cl *call) {
	c.mu.Lock()
	c.inflight--
	if len(cl.body) > 0 {
		c.unacked--
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

// post sends cl until the server accepts it or the session is over.
func (c *Conn) post(cl *call) {
	defer c.settle(cl)
	defer cl.markWritten()

	for attempt := 1; ; attempt++ {
		status, data, err := c.submit(cl)
		switch {
		case err != nil:
			cl.done <- outcome{err: err}
			return
		case status == http.StatusOK:
			cl.done <- outcome{data: data}
			return
		case c.retryable(status, data, cl.serial) && attempt < c.cfg.MaxResubmits:
			delay := c.backoffDelay(attempt)
			c.logger.Debug().Uint64("serial", cl.serial).Int("status", status).Dur("delay", delay).Msg("resubmitting")
			if err := sleepContext(c.ctx, delay); err != nil {
				cl.done <- outcome{err: err}
				return
			}
		case status == http.StatusNotFound:
			c.logger.Debug().Uint64("serial", cl.serial).Str("reason", strings.TrimSpace(string(data))).Msg("session ended by server")
			cl.done <- outcome{eof: true}
			return
		default:
			cl.done <- outcome{err: fmt.Errorf("hbdp client: serial %d: status %d: %s", cl.serial, status, strings.TrimSpace(string(data)))}
			return
		}
	}
}

// retryable reports a rejection that a later attempt of the same serial can
// clear: an earlier serial not yet processed, or inbound momentarily full.
func (c *Conn) retryable(status int, body []byte, serial uint64) bool {
	switch status {
	case http.StatusRequestEntityTooLarge:
		return true
	case http.StatusNotFound:
		seq, ok := hbdp.ParseSequenceError(string(body))
		return ok && seq.Got == serial && seq.Expected < serial
	default:
		return false
	}
}

func (c *Conn) submit(cl *call) (int, []byte, error) {
	target := c.sessionURL + "/" + strconv.FormatUint(cl.serial, 10)
	trace := &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) { cl.markWritten() },
	}
	ctx := httptrace.WithClientTrace(c.ctx, trace)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(cl.body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

func (c *Conn) backoffDelay(attempt int) time.Duration {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
}

// receiveLoop hands bodies to the pipe strictly in serial order.
func (c *Conn) receiveLoop() {
	defer close(c.receiverDone)

	ended := false
	for cl := range c.calls {
		out := <-cl.done
		if ended {
			continue
		}
		switch {
		case out.err != nil:
			if c.ctx.Err() != nil {
				// Cancelled by Close or an earlier end.
				ended = true
				continue
			}
			c.finish(out.err)
			ended = true
		case out.eof:
			c.finish(nil)
			ended = true
		case len(out.data) > 0:
			if _, err := c.pw.Write(out.data); err != nil {
				ended = true
			}
		}
	}
	c.finish(nil)
}
