// Package quicconn adapts github.com/quic-go/quic-go's *quic.Conn to the
// transport.Connection interface, for the raw-QUIC realization of a
// session (spec §6: ALPN "moq-00" / "moq-htx-00").
package quicconn

import (
	"context"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/okdaichi/moqlite/transport"
)

// Wrap adapts a dialed or accepted quic-go connection.
func Wrap(c *quicgo.Conn) transport.Connection {
	return &conn{c: c}
}

type conn struct {
	c *quicgo.Conn
}

func (w *conn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	s, err := w.c.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &stream{s: s}, nil
}

func (w *conn) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	s, err := w.c.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &recvStream{s: s}, nil
}

func (w *conn) OpenStream() (transport.Stream, error) {
	s, err := w.c.OpenStream()
	if err != nil {
		return nil, err
	}
	return &stream{s: s}, nil
}

func (w *conn) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	s, err := w.c.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &stream{s: s}, nil
}

func (w *conn) OpenUniStream() (transport.SendStream, error) {
	s, err := w.c.OpenUniStream()
	if err != nil {
		return nil, err
	}
	return &sendStream{s: s}, nil
}

func (w *conn) OpenUniStreamSync(ctx context.Context) (transport.SendStream, error) {
	s, err := w.c.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &sendStream{s: s}, nil
}

func (w *conn) CloseWithError(code transport.ApplicationErrorCode, reason string) error {
	return w.c.CloseWithError(quicgo.ApplicationErrorCode(code), reason)
}

func (w *conn) Context() context.Context { return w.c.Context() }
func (w *conn) LocalAddr() net.Addr      { return w.c.LocalAddr() }
func (w *conn) RemoteAddr() net.Addr     { return w.c.RemoteAddr() }

type stream struct {
	s *quicgo.Stream
}

func (s *stream) Read(b []byte) (int, error)  { return s.s.Read(b) }
func (s *stream) Write(b []byte) (int, error) { return s.s.Write(b) }
func (s *stream) Close() error                { return s.s.Close() }
func (s *stream) Context() context.Context    { return s.s.Context() }
func (s *stream) CancelRead(c transport.StreamErrorCode) {
	s.s.CancelRead(quicgo.StreamErrorCode(c))
}
func (s *stream) CancelWrite(c transport.StreamErrorCode) {
	s.s.CancelWrite(quicgo.StreamErrorCode(c))
}
func (s *stream) SetReadDeadline(t time.Time) error  { return s.s.SetReadDeadline(t) }
func (s *stream) SetWriteDeadline(t time.Time) error { return s.s.SetWriteDeadline(t) }
func (s *stream) SetPriority(rank int)               { s.s.SetPriority(quicgo.StreamPriority(rank)) }

type sendStream struct {
	s *quicgo.SendStream
}

func (s *sendStream) Write(b []byte) (int, error) { return s.s.Write(b) }
func (s *sendStream) Close() error                { return s.s.Close() }
func (s *sendStream) Context() context.Context    { return s.s.Context() }
func (s *sendStream) CancelWrite(c transport.StreamErrorCode) {
	s.s.CancelWrite(quicgo.StreamErrorCode(c))
}
func (s *sendStream) SetWriteDeadline(t time.Time) error { return s.s.SetWriteDeadline(t) }
func (s *sendStream) SetPriority(rank int)               { s.s.SetPriority(quicgo.StreamPriority(rank)) }

type recvStream struct {
	s *quicgo.ReceiveStream
}

func (s *recvStream) Read(b []byte) (int, error) { return s.s.Read(b) }
func (s *recvStream) CancelRead(c transport.StreamErrorCode) {
	s.s.CancelRead(quicgo.StreamErrorCode(c))
}
func (s *recvStream) SetReadDeadline(t time.Time) error { return s.s.SetReadDeadline(t) }
