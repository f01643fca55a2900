package hbdp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danmuck/hbdp/internal/bytequeue"
)

var (
	ErrPayloadTooLarge   = errors.New("hbdp: request body exceeds free inbound capacity")
	ErrExchangeAbandoned = errors.New("hbdp: exchange abandoned by peer")
	ErrExchangeCompleted = errors.New("hbdp: exchange already completed")
	ErrSessionEnded      = errors.New("hbdp: session already terminated")
)

// SequenceError reports a submission whose serial is not the one expected.
// The connection is left untouched; the client resubmits with Expected.
type SequenceError struct {
	Expected uint64
	Got      uint64
}

const sequenceErrorFormat = "wrong serial number: expected %d, got %d"

func (e *SequenceError) Error() string {
	return fmt.Sprintf(sequenceErrorFormat, e.Expected, e.Got)
}

// ParseSequenceError recovers a SequenceError from a rejection body.
func ParseSequenceError(msg string) (*SequenceError, bool) {
	var seq SequenceError
	if _, err := fmt.Sscanf(strings.TrimSpace(msg), sequenceErrorFormat, &seq.Expected, &seq.Got); err != nil {
		return nil, false
	}
	return &seq, true
}

// ProtocolError is a client-visible rejection carrying an HTTP status.
type ProtocolError struct {
	Status  int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func notFound(format string, args ...any) *ProtocolError {
	return &ProtocolError{Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func methodNotAllowed(format string, args ...any) *ProtocolError {
	return &ProtocolError{Status: http.StatusMethodNotAllowed, Message: fmt.Sprintf(format, args...)}
}

// asProtocolError maps typed failures to the status the client sees.
func asProtocolError(err error) *ProtocolError {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr
	}
	var seq *SequenceError
	switch {
	case errors.As(err, &seq):
		return &ProtocolError{Status: http.StatusNotFound, Message: seq.Error()}
	case errors.Is(err, ErrSessionEnded):
		return notFound("No session with the provided identifier.")
	case errors.Is(err, ErrPayloadTooLarge):
		return &ProtocolError{Status: http.StatusRequestEntityTooLarge, Message: err.Error()}
	case errors.Is(err, bytequeue.ErrClosed):
		return &ProtocolError{Status: http.StatusGone, Message: err.Error()}
	default:
		return &ProtocolError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}
