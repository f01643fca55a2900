// Package echo serves sessions that send every received byte straight back.
package echo

import (
	"errors"
	"io"

	"code.hybscloud.com/iox"
	"github.com/danmuck/hbdp/internal/bytequeue"
	"github.com/danmuck/hbdp/internal/hbdp"
	"github.com/rs/zerolog/log"
)

const chunkSize = 512

// Handler wires the echo behavior into each new session.
func Handler() hbdp.Handler {
	return hbdp.HandlerFunc(Attach)
}

// Attach echoes conn from its data handler, without a goroutine per session.
func Attach(conn *hbdp.Connection) {
	out := conn.Outbound()
	conn.SetDataHandler(func(in *bytequeue.Bounded) {
		buf := make([]byte, chunkSize)
		for {
			n, err := in.TryRead(buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					log.Debug().Err(werr).Str("session", conn.ID()).Msg("echo write rejected")
					return
				}
			}
			switch {
			case err == nil:
				continue
			case iox.IsWouldBlock(err):
				return
			case errors.Is(err, io.EOF):
				_ = in.Close()
				_ = out.Close()
				return
			default:
				return
			}
		}
	})
}

// Serve is the blocking variant: it copies conn to itself on the calling
// goroutine until the client terminates the session.
func Serve(conn *hbdp.Connection) error {
	_, err := io.Copy(conn.Outbound(), conn.Inbound())
	if err != nil {
		return err
	}
	return conn.Close()
}
