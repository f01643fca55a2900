package bytequeue

import (
	"io"
	"sync"
)

// GrowableHandler observes producer-side events of a Growable queue.
type GrowableHandler interface {
	// OnData runs after every successful write, on the writer's goroutine.
	OnData(q *Growable)
	// OnClose runs exactly once, from Close.
	OnClose(q *Growable)
}

// Growable is an append-only byte buffer that doubles on overflow and is
// drained to empty in one step.
type Growable struct {
	mu      sync.Mutex
	buf     []byte
	n       int
	closed  bool
	handler GrowableHandler
}

var (
	_ io.Writer     = (*Growable)(nil)
	_ io.ByteWriter = (*Growable)(nil)
	_ io.WriterTo   = (*Growable)(nil)
	_ io.Closer     = (*Growable)(nil)
)

// NewGrowable allocates a queue with initial bytes of room. It doubles on overflow.
func NewGrowable(initial int) *Growable {
	if initial <= 0 {
		initial = 1
	}
	return &Growable{buf: make([]byte, initial)}
}

// SetHandler installs the data/close hooks. nil removes them.
func (q *Growable) SetHandler(h GrowableHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// Available is the number of buffered bytes.
func (q *Growable) Available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Closed reports whether the producer closed the queue.
func (q *Growable) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Write appends p, growing as needed, then fires OnData outside the lock.
func (q *Growable) Write(p []byte) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosed
	}
	q.ensureLocked(len(p))
	copy(q.buf[q.n:], p)
	q.n += len(p)
	h := q.handler
	q.mu.Unlock()

	if h != nil {
		h.OnData(q)
	}
	return len(p), nil
}

// WriteByte appends a single byte.
func (q *Growable) WriteByte(b byte) error {
	_, err := q.Write([]byte{b})
	return err
}

// Drain returns a copy of everything buffered and resets the queue to empty.
// It returns io.EOF once the queue is closed and empty.
func (q *Growable) Drain() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 && q.closed {
		return nil, io.EOF
	}
	out := make([]byte, q.n)
	copy(out, q.buf[:q.n])
	q.n = 0
	return out, nil
}

// WriteTo drains into w. The sink write happens outside the queue lock.
func (q *Growable) WriteTo(w io.Writer) (int64, error) {
	data, err := q.Drain()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Close is producer-side only.
func (q *Growable) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.closed = true
	h := q.handler
	q.mu.Unlock()

	if h != nil {
		h.OnClose(q)
	}
	return nil
}

func (q *Growable) ensureLocked(extra int) {
	need := q.n + extra
	if need <= len(q.buf) {
		return
	}
	size := 2 * len(q.buf)
	for size < need {
		size *= 2
	}
	grown := make([]byte, size)
	copy(grown, q.buf[:q.n])
	q.buf = grown
}
