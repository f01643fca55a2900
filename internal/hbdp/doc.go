// Package hbdp serves bidirectional byte-stream sessions over plain HTTP
// request/response exchanges.
//
// Ownership boundary:
// - session open (GET base), data submission (POST base/id/serial), and
//   client teardown (DELETE base/id)
// - serial ordering and long-poll holding of the newest exchange
// - the registry of live sessions and identifier generation
// - one structured log record per request
//
// Applications see a Connection: a blocking inbound reader fed by request
// bodies and a growable outbound writer drained into responses. A Handler is
// told about each new Connection; a DataHandler may react to inbound bytes on
// the submitting goroutine instead of running a goroutine per session.
package hbdp
