package bytequeue

import (
	"fmt"
	"io"
	"sync"

	"code.hybscloud.com/iox"
)

// BoundedHandler observes consumer-side events of a Bounded queue.
type BoundedHandler interface {
	// OnExhausted runs once each time a reader finds the queue empty, before it blocks.
	OnExhausted(q *Bounded)
	// OnClose runs exactly once, from Close.
	OnClose(q *Bounded)
}

// Bounded is a fixed-capacity ring of bytes with blocking reads.
type Bounded struct {
	mu       sync.Mutex
	readable *sync.Cond
	buf      []byte
	pos      int
	n        int
	ended    bool
	closed   bool
	handler  BoundedHandler
}

var (
	_ io.Reader     = (*Bounded)(nil)
	_ io.ByteReader = (*Bounded)(nil)
	_ io.Closer     = (*Bounded)(nil)
)

// NewBounded allocates a queue holding exactly capacity bytes.
func NewBounded(capacity int) *Bounded {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Bounded{buf: make([]byte, capacity)}
	q.readable = sync.NewCond(&q.mu)
	return q
}

// SetHandler installs the exhausted/close hooks. nil removes them.
func (q *Bounded) SetHandler(h BoundedHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// Cap is the fixed capacity.
func (q *Bounded) Cap() int {
	return len(q.buf)
}

// Available returns the number of buffered bytes.
func (q *Bounded) Available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Free returns how many bytes a single Append may store right now.
func (q *Bounded) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) - q.n
}

// Append stores all of p or nothing. Producer side only; never blocks.
func (q *Bounded) Append(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	if free := len(q.buf) - q.n; len(p) > free {
		return 0, fmt.Errorf("%w: %d bytes, %d free", ErrCapacity, len(p), free)
	}
	if len(p) == 0 {
		return 0, nil
	}
	tail := (q.pos + q.n) % len(q.buf)
	copied := copy(q.buf[tail:], p)
	if copied < len(p) {
		copy(q.buf, p[copied:])
	}
	q.n += len(p)
	q.readable.Signal()
	return len(p), nil
}

// End marks graceful end of stream. Readers drain what is buffered, then get io.EOF.
func (q *Bounded) End() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ended = true
	q.readable.Broadcast()
}

// Read blocks until bytes are buffered, the stream ends, or the queue is closed.
func (q *Bounded) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := q.awaitLocked(); err != nil {
		return 0, err
	}
	return q.takeLocked(p), nil
}

// ReadByte reads one byte with the same blocking rules as Read.
func (q *Bounded) ReadByte() (byte, error) {
	var one [1]byte
	if _, err := q.Read(one[:]); err != nil {
		return 0, err
	}
	return one[0], nil
}

// TryRead is Read without blocking: it returns iox.ErrWouldBlock when the
// queue is empty and the stream has not ended.
func (q *Bounded) TryRead(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	if q.n == 0 {
		if q.ended {
			return 0, io.EOF
		}
		return 0, iox.ErrWouldBlock
	}
	return q.takeLocked(p), nil
}

// Close rejects further use of the queue and wakes a blocked reader.
func (q *Bounded) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.closed = true
	q.readable.Broadcast()
	h := q.handler
	q.mu.Unlock()

	if h != nil {
		h.OnClose(q)
	}
	return nil
}

// awaitLocked returns with q.n > 0 or a terminal error. q.mu is held on entry
// and exit but released around the handler call.
func (q *Bounded) awaitLocked() error {
	if q.n > 0 {
		return nil
	}
	if q.ended {
		return io.EOF
	}
	if h := q.handler; h != nil {
		q.mu.Unlock()
		h.OnExhausted(q)
		q.mu.Lock()
	}
	for q.n == 0 && !q.ended && !q.closed {
		q.readable.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	if q.n == 0 {
		return io.EOF
	}
	return nil
}

func (q *Bounded) takeLocked(p []byte) int {
	give := min(len(p), q.n)
	first := copy(p[:give], q.buf[q.pos:])
	if first < give {
		copy(p[first:give], q.buf)
	}
	q.pos = (q.pos + give) % len(q.buf)
	q.n -= give
	return give
}
