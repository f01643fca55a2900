package bytequeue

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/danmuck/hbdp/internal/testutil/testlog"
)

type growableRecorder struct {
	mu     sync.Mutex
	writes int
	closes int
}

func (r *growableRecorder) OnData(*Growable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
}

func (r *growableRecorder) OnClose(*Growable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
}

func TestGrowableGrowsAndDrainsInOrder(t *testing.T) {
	testlog.Start(t)
	q := NewGrowable(2)
	rec := &growableRecorder{}
	q.SetHandler(rec)

	var want bytes.Buffer
	for i := 0; i < 100; i++ {
		chunk := []byte{byte(i), byte(i + 1), byte(i + 2)}
		if _, err := q.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		want.Write(chunk)
	}
	if err := q.WriteByte('z'); err != nil {
		t.Fatalf("write byte: %v", err)
	}
	want.WriteByte('z')

	if q.Available() != want.Len() {
		t.Fatalf("available=%d want=%d", q.Available(), want.Len())
	}
	got, err := q.Drain()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("drained bytes differ")
	}
	if q.Available() != 0 {
		t.Fatalf("drain must reset, available=%d", q.Available())
	}
	if rec.writes != 101 {
		t.Fatalf("expected 101 data notifications, got %d", rec.writes)
	}
	testlog.Logf("bytequeue/growable: drained %d bytes", len(got))
}

func TestGrowableWriteToAndClose(t *testing.T) {
	testlog.Start(t)
	q := NewGrowable(4)
	rec := &growableRecorder{}
	q.SetHandler(rec)
	_, _ = q.Write([]byte("HI"))

	var sink bytes.Buffer
	n, err := q.WriteTo(&sink)
	if err != nil || n != 2 || sink.String() != "HI" {
		t.Fatalf("write to n=%d err=%v sink=%q", n, err, sink.String())
	}

	// Empty and open drains to nothing, not EOF.
	if data, err := q.Drain(); err != nil || len(data) != 0 {
		t.Fatalf("empty drain data=%q err=%v", data, err)
	}

	_, _ = q.Write([]byte("bye"))
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close should fail, got %v", err)
	}
	if _, err := q.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after close should fail, got %v", err)
	}
	if data, err := q.Drain(); err != nil || string(data) != "bye" {
		t.Fatalf("closed drain with data=%q err=%v", data, err)
	}
	if _, err := q.Drain(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF once closed and empty, got %v", err)
	}
	if rec.closes != 1 {
		t.Fatalf("expected one close notification, got %d", rec.closes)
	}
}

func TestGrowableHandlerMayDrainFromOnData(t *testing.T) {
	testlog.Start(t)
	q := NewGrowable(4)
	var got bytes.Buffer
	q.SetHandler(drainOnData{sink: &got})
	_, _ = q.Write([]byte("abc"))
	_, _ = q.Write([]byte("def"))
	if got.String() != "abcdef" || q.Available() != 0 {
		t.Fatalf("handler drain got=%q available=%d", got.String(), q.Available())
	}
}

type drainOnData struct{ sink *bytes.Buffer }

func (d drainOnData) OnData(q *Growable) { _, _ = q.WriteTo(d.sink) }
func (d drainOnData) OnClose(*Growable) {}
