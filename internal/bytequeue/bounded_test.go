package bytequeue

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/danmuck/hbdp/internal/testutil/testlog"
)

type boundedRecorder struct {
	mu        sync.Mutex
	exhausted int
	closed    int
	onEmpty   func(q *Bounded)
}

func (r *boundedRecorder) OnExhausted(q *Bounded) {
	r.mu.Lock()
	r.exhausted++
	fn := r.onEmpty
	r.mu.Unlock()
	if fn != nil {
		fn(q)
	}
}

func (r *boundedRecorder) OnClose(*Bounded) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func (r *boundedRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exhausted, r.closed
}

func TestBoundedAppendReadWrapsAround(t *testing.T) {
	testlog.Start(t)
	q := NewBounded(8)
	if _, err := q.Append([]byte("abcdef")); err != nil {
		t.Fatalf("append: %v", err)
	}
	buf := make([]byte, 4)
	if n, err := q.Read(buf); err != nil || string(buf[:n]) != "abcd" {
		t.Fatalf("first read n=%d err=%v got=%q", n, err, buf[:n])
	}
	// 2 buffered at pos 4; 6 free, spanning the wrap point.
	if q.Free() != 6 {
		t.Fatalf("unexpected free=%d", q.Free())
	}
	if _, err := q.Append([]byte("ghijkl")); err != nil {
		t.Fatalf("wrapped append: %v", err)
	}
	out := make([]byte, 16)
	n, err := q.Read(out)
	if err != nil || string(out[:n]) != "efghijkl" {
		t.Fatalf("wrapped read n=%d err=%v got=%q", n, err, out[:n])
	}
	if q.Available() != 0 {
		t.Fatalf("expected empty queue, available=%d", q.Available())
	}
}

func TestBoundedAppendBeyondFreeCapacityIsRejected(t *testing.T) {
	testlog.Start(t)
	q := NewBounded(4)
	if _, err := q.Append([]byte("abc")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := q.Append([]byte("de")); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if q.Available() != 3 {
		t.Fatalf("rejected append must not change contents, available=%d", q.Available())
	}
	b, err := q.ReadByte()
	if err != nil || b != 'a' {
		t.Fatalf("read byte=%q err=%v", b, err)
	}
	if _, err := q.Append([]byte("de")); err != nil {
		t.Fatalf("append after read: %v", err)
	}
}

func TestBoundedReadBlocksUntilAppend(t *testing.T) {
	testlog.Start(t)
	q := NewBounded(16)
	rec := &boundedRecorder{}
	q.SetHandler(rec)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 8)
		n, err := q.Read(buf)
		if err != nil {
			got <- "err:" + err.Error()
			return
		}
		got <- string(buf[:n])
	}()

	select {
	case v := <-got:
		t.Fatalf("read returned before append: %q", v)
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := q.Append([]byte("hi")); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case v := <-got:
		if v != "hi" {
			t.Fatalf("unexpected read: %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reader not woken by append")
	}
	if exhausted, _ := rec.counts(); exhausted != 1 {
		t.Fatalf("expected one exhausted notification, got %d", exhausted)
	}
}

func TestBoundedExhaustedHandlerMayRefill(t *testing.T) {
	testlog.Start(t)
	q := NewBounded(16)
	rec := &boundedRecorder{onEmpty: func(q *Bounded) {
		_, _ = q.Append([]byte("pulled"))
	}}
	q.SetHandler(rec)

	buf := make([]byte, 16)
	n, err := q.Read(buf)
	if err != nil || string(buf[:n]) != "pulled" {
		t.Fatalf("read n=%d err=%v got=%q", n, err, buf[:n])
	}
}

func TestBoundedEndDrainsThenEOF(t *testing.T) {
	testlog.Start(t)
	q := NewBounded(8)
	_, _ = q.Append([]byte("ok"))
	q.End()

	data, err := io.ReadAll(q)
	if err != nil || string(data) != "ok" {
		t.Fatalf("read all data=%q err=%v", data, err)
	}
	if _, err := q.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestBoundedEndWakesBlockedReader(t *testing.T) {
	testlog.Start(t)
	q := NewBounded(8)
	done := make(chan error, 1)
	go func() {
		_, err := q.Read(make([]byte, 4))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	q.End()
	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected EOF, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reader not woken by End")
	}
}

func TestBoundedCloseWakesReaderAndNotifiesOnce(t *testing.T) {
	testlog.Start(t)
	q := NewBounded(8)
	rec := &boundedRecorder{}
	q.SetHandler(rec)

	done := make(chan error, 1)
	go func() {
		_, err := q.Read(make([]byte, 4))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reader not woken by Close")
	}
	if err := q.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close should fail, got %v", err)
	}
	if _, closed := rec.counts(); closed != 1 {
		t.Fatalf("expected one close notification, got %d", closed)
	}
	if _, err := q.Append([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close should fail, got %v", err)
	}
}

func TestBoundedTryReadNeverBlocks(t *testing.T) {
	testlog.Start(t)
	q := NewBounded(8)
	if _, err := q.TryRead(make([]byte, 4)); !iox.IsWouldBlock(err) {
		t.Fatalf("expected would-block, got %v", err)
	}
	_, _ = q.Append([]byte("abc"))
	buf := make([]byte, 2)
	n, err := q.TryRead(buf)
	if err != nil || string(buf[:n]) != "ab" {
		t.Fatalf("try read n=%d err=%v got=%q", n, err, buf[:n])
	}
	q.End()
	n, err = q.TryRead(buf)
	if err != nil || string(buf[:n]) != "c" {
		t.Fatalf("try read tail n=%d err=%v", n, err)
	}
	if _, err := q.TryRead(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after end, got %v", err)
	}
}
