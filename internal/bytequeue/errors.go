package bytequeue

import "errors"

var (
	ErrClosed   = errors.New("bytequeue: stream is closed")
	ErrCapacity = errors.New("bytequeue: append exceeds free capacity")
)
