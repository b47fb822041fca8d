// Package session implements the handshake, control-message loop, and
// stream lifecycle of one MoQ connection (spec §4.3), independent of
// whether it rides WebTransport or raw QUIC (spec §6).
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/okdaichi/moqlite/internal/moqerr"
	"github.com/okdaichi/moqlite/pkg/varint"
	"github.com/okdaichi/moqlite/transport"
	"github.com/okdaichi/moqlite/wire"
)

// SupportedVersions lists the versions this implementation offers during
// setup, preferred first (spec §4.3.1).
var SupportedVersions = []wire.Version{wire.VersionLite2, wire.VersionLite1, wire.VersionIETF14}

// Session is one peer connection: a control stream plus any number of
// per-group data streams (spec §4.3, GLOSSARY "Session").
type Session struct {
	conn    transport.Connection
	control transport.Stream
	Version wire.Version
	Dialect wire.Dialect

	// ID uniquely identifies this session for log/trace correlation; it has
	// no wire meaning and is never exchanged with the peer.
	ID uuid.UUID

	writeMu sync.Mutex

	logger *slog.Logger
}

// Dial performs the client side of setup over an already-established
// transport connection: open the control stream, offer versions, read the
// server's choice (spec §4.3.1).
func Dial(ctx context.Context, conn transport.Connection, offer []wire.Version, params []byte) (*Session, error) {
	if len(offer) == 0 {
		offer = SupportedVersions
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: open control stream: %w", err)
	}

	env, err := wire.ClientSetup{Versions: offer, Parameters: params}.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := env.WriteTo(stream); err != nil {
		return nil, fmt.Errorf("session: write client setup: %w", err)
	}

	reply, err := wire.ReadEnvelope(stream)
	if err != nil {
		return nil, fmt.Errorf("session: read server setup: %w", err)
	}
	if reply.ID != wire.IDServerSetup {
		return nil, moqerr.New(moqerr.Protocol, "expected ServerSetup")
	}
	ss, err := wire.DecodeServerSetup(reply.Body)
	if err != nil {
		return nil, err
	}
	if !contains(offer, ss.Version) {
		conn.CloseWithError(transport.ApplicationErrorCode(moqerr.Version), "no compatible version")
		return nil, moqerr.New(moqerr.Version, "server chose a version we didn't offer")
	}

	id := uuid.New()
	return &Session{
		conn:    conn,
		control: stream,
		Version: ss.Version,
		Dialect: wire.DialectOf(ss.Version),
		ID:      id,
		logger:  slog.Default().With("session", id.String()),
	}, nil
}

// Accept performs the server side of setup: accept the control stream,
// read the client's offer, and pick the highest mutually supported
// version (spec §4.3.1). If there is no overlap, Accept returns a Version
// error and closes the connection with the Version error code; the
// client's Dial then fails reading the server's reply.
func Accept(ctx context.Context, conn transport.Connection, supported []wire.Version, params []byte) (*Session, error) {
	if len(supported) == 0 {
		supported = SupportedVersions
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: accept control stream: %w", err)
	}

	env, err := wire.ReadEnvelope(stream)
	if err != nil {
		return nil, fmt.Errorf("session: read client setup: %w", err)
	}
	if env.ID != wire.IDClientSetup {
		conn.CloseWithError(transport.ApplicationErrorCode(moqerr.Protocol), "expected ClientSetup")
		return nil, moqerr.New(moqerr.Protocol, "expected ClientSetup")
	}
	cs, err := wire.DecodeClientSetup(env.Body)
	if err != nil {
		return nil, err
	}

	chosen, ok := pickVersion(cs.Versions, supported)
	if !ok {
		conn.CloseWithError(transport.ApplicationErrorCode(moqerr.Version), "no compatible version")
		return nil, moqerr.New(moqerr.Version, "no overlap between offered and supported versions")
	}

	reply, err := wire.ServerSetup{Version: chosen, Parameters: params}.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := reply.WriteTo(stream); err != nil {
		return nil, fmt.Errorf("session: write server setup: %w", err)
	}

	id := uuid.New()
	return &Session{
		conn:    conn,
		control: stream,
		Version: chosen,
		Dialect: wire.DialectOf(chosen),
		ID:      id,
		logger:  slog.Default().With("session", id.String()),
	}, nil
}

// pickVersion returns the highest-priority entry in offered that also
// appears in supported, in offered's own preference order (spec §4.3.1:
// "picks the highest version it also supports" — "highest" here means
// highest in the client's stated preference, since that is the only
// ordering the wire format conveys).
func pickVersion(offered, supported []wire.Version) (wire.Version, bool) {
	for _, v := range offered {
		if contains(supported, v) {
			return v, true
		}
	}
	return 0, false
}

func contains(vs []wire.Version, v wire.Version) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

// Conn returns the underlying transport connection, e.g. for opening data
// streams from a role implementation.
func (s *Session) Conn() transport.Connection { return s.conn }

// Logger returns a logger pre-tagged with this session's ID, for
// call sites that want consistent log correlation across a session's
// control and data loops.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Context is cancelled when the transport connection closes.
func (s *Session) Context() context.Context { return s.conn.Context() }

// Send writes one control message. Control messages are processed and
// sent in FIFO order (spec §4.3.4), so all writers share writeMu.
func (s *Session) Send(env wire.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := env.WriteTo(s.control)
	return err
}

// ReadEnvelope reads the next control message. Only one goroutine (the
// control loop) should call this.
func (s *Session) ReadEnvelope() (wire.Envelope, error) {
	return wire.ReadEnvelope(s.control)
}

// Close sends a SessionClose control message (best-effort) and closes the
// transport connection with the given code (spec §4.3.2, §7).
func (s *Session) Close(code moqerr.Code, reason string) error {
	env, err := wire.SessionClose{Code: uint64(code), Reason: reason}.Encode()
	if err == nil {
		_ = s.Send(env)
	}
	return s.conn.CloseWithError(transport.ApplicationErrorCode(code), reason)
}

// OpenGroupStream opens a new unidirectional stream and writes its header
// for the lite dialect (spec §4.3.3).
func (s *Session) OpenGroupStream(subscriptionID, sequence uint64) (transport.SendStream, error) {
	us, err := s.conn.OpenUniStreamSync(s.conn.Context())
	if err != nil {
		return nil, err
	}
	hdr := wire.GroupHeader{SubscriptionID: subscriptionID, Sequence: sequence}
	buf, err := hdr.Append(nil)
	if err != nil {
		us.CancelWrite(transport.StreamErrorCode(moqerr.Internal))
		return nil, err
	}
	if _, err := us.Write(buf); err != nil {
		return nil, err
	}
	return us, nil
}

// WriteFrame writes one { size, payload } frame onto an open group stream
// (spec §4.3.3).
func WriteFrame(w io.Writer, payload []byte) error {
	buf, err := varint.Append(nil, uint64(len(payload)))
	if err != nil {
		return err
	}
	buf = append(buf, payload...)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one { size, payload } frame from a group stream.
func ReadFrame(r io.Reader) ([]byte, error) {
	return varint.ReadBytes(r)
}
