// Package transport defines the connection/stream shape the session layer
// needs from the underlying QUIC-like transport (spec §6): reliable,
// ordered bidirectional and unidirectional streams, per-stream priority,
// stream reset with an application error code, graceful FIN, and
// peer-observable close. TLS/QUIC/WebTransport machinery itself is out of
// scope (spec §1); this package only describes the seam.
package transport

import (
	"context"
	"net"
	"time"
)

// ApplicationErrorCode is the 32-bit code carried on a stream reset or
// connection close (spec §6).
type ApplicationErrorCode uint32

// StreamErrorCode is the code passed to CancelRead/CancelWrite.
type StreamErrorCode = ApplicationErrorCode

// Stream is a bidirectional stream: the control stream (spec §4.3).
type Stream interface {
	SendStream
	ReceiveStream
}

// SendStream is the write half of a stream, or a unidirectional stream
// opened to carry one group (spec §4.3.3).
type SendStream interface {
	Write(b []byte) (int, error)
	Close() error
	CancelWrite(StreamErrorCode)
	Context() context.Context
	SetWriteDeadline(time.Time) error
	// SetPriority sets the transport-level send priority the scheduler
	// computed for this stream's rank (spec §4.4).
	SetPriority(rank int)
}

// ReceiveStream is the read half of a stream, or an accepted unidirectional
// data stream.
type ReceiveStream interface {
	Read(b []byte) (int, error)
	CancelRead(StreamErrorCode)
	SetReadDeadline(time.Time) error
}

// Connection is one session's transport (spec §6): WebTransport or raw
// QUIC. The session layer depends only on this interface.
type Connection interface {
	AcceptStream(ctx context.Context) (Stream, error)
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)
	OpenStream() (Stream, error)
	OpenStreamSync(ctx context.Context) (Stream, error)
	OpenUniStream() (SendStream, error)
	OpenUniStreamSync(ctx context.Context) (SendStream, error)

	CloseWithError(code ApplicationErrorCode, reason string) error
	Context() context.Context
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}
