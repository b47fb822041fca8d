// Package wtconn adapts github.com/quic-go/webtransport-go sessions to the
// transport.Connection interface, for the WebTransport realization of a
// session (spec §6). It configures the H3 server explicitly rather than
// leaving it nil, which webtransport-go requires since H3 became a
// pointer field.
package wtconn

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	webtransport "github.com/quic-go/webtransport-go"

	"github.com/okdaichi/moqlite/transport"
)

// ServerConfig controls the listening H3 server a Server wraps. Addr/TLS
// are only needed when the server will itself ListenAndServe; a Server
// that only Upgrades requests behind someone else's listener can leave
// them zero.
type ServerConfig struct {
	Addr        string
	TLSConfig   *tls.Config
	QUICConfig  *quicgo.Config
	Handler     http.Handler
	CheckOrigin func(*http.Request) bool
}

// NewServer builds a webtransport.Server with its H3 field fully
// configured and ready to Upgrade() incoming HTTP/3 CONNECT requests.
func NewServer(cfg ServerConfig) *Server {
	handler := cfg.Handler
	if handler == nil {
		handler = http.DefaultServeMux
	}
	h3Server := &http3.Server{
		Addr:       cfg.Addr,
		TLSConfig:  cfg.TLSConfig,
		QUICConfig: cfg.QUICConfig,
		Handler:    handler,
	}
	webtransport.ConfigureHTTP3Server(h3Server)

	return &Server{
		h3: h3Server,
		server: &webtransport.Server{
			H3:          h3Server,
			CheckOrigin: cfg.CheckOrigin,
		},
	}
}

// Server upgrades incoming HTTP requests to WebTransport sessions.
type Server struct {
	h3     *http3.Server
	server *webtransport.Server
}

// ListenAndServe starts the HTTP/3 listener built from ServerConfig. It
// blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	return s.h3.ListenAndServeTLS("", "") // certs come from h3.TLSConfig
}

// Upgrade promotes an HTTP CONNECT request to a WebTransport session.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) (transport.Connection, error) {
	sess, err := s.server.Upgrade(w, r)
	if err != nil {
		return nil, err
	}
	return &conn{sess: sess}, nil
}

// ServeQUICConn serves a raw quic-go connection through the same H3
// server, for deployments that terminate QUIC themselves.
func (s *Server) ServeQUICConn(c *quicgo.Conn) error {
	return s.server.ServeQUICConn(c)
}

func (s *Server) Close() error { return s.server.Close() }

func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = s.server.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Dial opens a client WebTransport session to url.
func Dial(ctx context.Context, d *webtransport.Dialer, url string) (transport.Connection, error) {
	if d == nil {
		d = &webtransport.Dialer{}
	}
	_, sess, err := d.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &conn{sess: sess}, nil
}

type conn struct {
	sess *webtransport.Session
}

func (c *conn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.sess.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &stream{s: s}, nil
}

func (c *conn) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	s, err := c.sess.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &recvStream{s: s}, nil
}

func (c *conn) OpenStream() (transport.Stream, error) {
	s, err := c.sess.OpenStream()
	if err != nil {
		return nil, err
	}
	return &stream{s: s}, nil
}

func (c *conn) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	s, err := c.sess.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &stream{s: s}, nil
}

func (c *conn) OpenUniStream() (transport.SendStream, error) {
	s, err := c.sess.OpenUniStream()
	if err != nil {
		return nil, err
	}
	return &sendStream{s: s}, nil
}

func (c *conn) OpenUniStreamSync(ctx context.Context) (transport.SendStream, error) {
	s, err := c.sess.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &sendStream{s: s}, nil
}

func (c *conn) CloseWithError(code transport.ApplicationErrorCode, reason string) error {
	return c.sess.CloseWithError(webtransport.SessionErrorCode(code), reason)
}

func (c *conn) Context() context.Context { return c.sess.Context() }
func (c *conn) LocalAddr() net.Addr      { return c.sess.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr     { return c.sess.RemoteAddr() }

type stream struct {
	s *webtransport.Stream
}

func (s *stream) Read(b []byte) (int, error)  { return s.s.Read(b) }
func (s *stream) Write(b []byte) (int, error) { return s.s.Write(b) }
func (s *stream) Close() error                { return s.s.Close() }
func (s *stream) Context() context.Context    { return s.s.Context() }
func (s *stream) CancelRead(c transport.StreamErrorCode) {
	s.s.CancelRead(webtransport.StreamErrorCode(c))
}
func (s *stream) CancelWrite(c transport.StreamErrorCode) {
	s.s.CancelWrite(webtransport.StreamErrorCode(c))
}
func (s *stream) SetReadDeadline(t time.Time) error  { return s.s.SetReadDeadline(t) }
func (s *stream) SetWriteDeadline(t time.Time) error { return s.s.SetWriteDeadline(t) }

// SetPriority is a no-op: webtransport-go doesn't expose per-stream send
// priority, so the session falls back to write ordering alone when
// running over WebTransport (documented trade-off, see DESIGN.md).
func (s *stream) SetPriority(int) {}

type sendStream struct {
	s *webtransport.SendStream
}

func (s *sendStream) Write(b []byte) (int, error) { return s.s.Write(b) }
func (s *sendStream) Close() error                { return s.s.Close() }
func (s *sendStream) Context() context.Context    { return s.s.Context() }
func (s *sendStream) CancelWrite(c transport.StreamErrorCode) {
	s.s.CancelWrite(webtransport.StreamErrorCode(c))
}
func (s *sendStream) SetWriteDeadline(t time.Time) error { return s.s.SetWriteDeadline(t) }
func (s *sendStream) SetPriority(int)                    {}

type recvStream struct {
	s *webtransport.ReceiveStream
}

func (s *recvStream) Read(b []byte) (int, error) { return s.s.Read(b) }
func (s *recvStream) CancelRead(c transport.StreamErrorCode) {
	s.s.CancelRead(webtransport.StreamErrorCode(c))
}
func (s *recvStream) SetReadDeadline(t time.Time) error { return s.s.SetReadDeadline(t) }
