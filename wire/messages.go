// Package wire implements the control-stream message codec for both wire
// dialects the core supports (spec §4.3.2, §4.7): the lite dialect native
// to this spec, and an IETF-compatible dialect selected at setup.
package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/okdaichi/moqlite/pkg/varint"
)

// MessageID identifies a control message's wire type (spec §4.3.2).
type MessageID uint64

const (
	IDClientSetup    MessageID = 0x40
	IDServerSetup    MessageID = 0x41
	IDAnnouncePlease MessageID = 0x1
	IDAnnounceInit   MessageID = 0x2
	IDAnnounce       MessageID = 0x3
	IDSubscribe      MessageID = 0x10
	IDSubscribeOk    MessageID = 0x11
	IDSubscribeError MessageID = 0x12
	IDUnsubscribe    MessageID = 0x13
	IDGroupDrop      MessageID = 0x14
	IDGoAway         MessageID = 0x20
	IDSessionClose   MessageID = 0x21
)

// Version identifies the negotiated protocol dialect and layout (spec
// §4.3.1). The chosen version dictates every subsequent codec choice.
type Version uint64

const (
	VersionLite1  Version = 0xff0bad01
	VersionLite2  Version = 0xff0bad02
	VersionIETF14 Version = 0xff000014
)

// Dialect is the tagged variant spec §9 calls for: codec behavior
// dispatches on this tag rather than on Version directly, so adding a
// lite minor version never touches dialect-selection logic.
type Dialect int

const (
	DialectLite Dialect = iota
	DialectIETF
)

// DialectOf maps a negotiated Version to its Dialect.
func DialectOf(v Version) Dialect {
	switch v {
	case VersionIETF14:
		return DialectIETF
	default:
		return DialectLite
	}
}

// Envelope is the outer framing every control message shares:
// { id: varint, length: varint, body }.
type Envelope struct {
	ID   MessageID
	Body []byte
}

// WriteTo writes the envelope to w.
func (e Envelope) WriteTo(w io.Writer) (int64, error) {
	buf, err := varint.Append(nil, uint64(e.ID))
	if err != nil {
		return 0, err
	}
	buf, err = varint.Append(buf, uint64(len(e.Body)))
	if err != nil {
		return 0, err
	}
	buf = append(buf, e.Body...)
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadEnvelope reads one { id, length, body } frame from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	id, err := varint.ReadFrom(r)
	if err != nil {
		return Envelope{}, err
	}
	n, err := varint.ReadFrom(r)
	if err != nil {
		return Envelope{}, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: MessageID(id), Body: body}, nil
}

// ClientSetup is the first message a client writes on the control stream
// (spec §4.3.1).
type ClientSetup struct {
	Versions   []Version
	Parameters []byte // opaque
}

func (m ClientSetup) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, uint64(len(m.Versions)))
	if err != nil {
		return Envelope{}, err
	}
	for _, v := range m.Versions {
		if buf, err = varint.Append(buf, uint64(v)); err != nil {
			return Envelope{}, err
		}
	}
	if buf, err = varint.AppendBytes(buf, m.Parameters); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IDClientSetup, Body: buf}, nil
}

func DecodeClientSetup(body []byte) (ClientSetup, error) {
	r := bytes.NewReader(body)
	n, err := varint.ReadFrom(r)
	if err != nil {
		return ClientSetup{}, err
	}
	versions := make([]Version, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := varint.ReadFrom(r)
		if err != nil {
			return ClientSetup{}, err
		}
		versions = append(versions, Version(v))
	}
	params, err := varint.ReadBytes(r)
	if err != nil {
		return ClientSetup{}, err
	}
	return ClientSetup{Versions: versions, Parameters: params}, nil
}

// ServerSetup is the server's reply, naming the chosen version (spec §4.3.1).
type ServerSetup struct {
	Version    Version
	Parameters []byte
}

func (m ServerSetup) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, uint64(m.Version))
	if err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.AppendBytes(buf, m.Parameters); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IDServerSetup, Body: buf}, nil
}

func DecodeServerSetup(body []byte) (ServerSetup, error) {
	r := bytes.NewReader(body)
	v, err := varint.ReadFrom(r)
	if err != nil {
		return ServerSetup{}, err
	}
	params, err := varint.ReadBytes(r)
	if err != nil {
		return ServerSetup{}, err
	}
	return ServerSetup{Version: Version(v), Parameters: params}, nil
}

// AnnouncePlease asks the peer to describe broadcasts under prefix.
type AnnouncePlease struct {
	Prefix string
}

func (m AnnouncePlease) Encode() (Envelope, error) {
	buf, err := varint.AppendString(nil, m.Prefix)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IDAnnouncePlease, Body: buf}, nil
}

func DecodeAnnouncePlease(body []byte) (AnnouncePlease, error) {
	s, err := varint.ReadString(bytes.NewReader(body))
	if err != nil {
		return AnnouncePlease{}, err
	}
	return AnnouncePlease{Prefix: s}, nil
}

// AnnounceInit carries the snapshot of currently-active suffixes.
type AnnounceInit struct {
	Suffixes []string
}

func (m AnnounceInit) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, uint64(len(m.Suffixes)))
	if err != nil {
		return Envelope{}, err
	}
	for _, s := range m.Suffixes {
		if buf, err = varint.AppendString(buf, s); err != nil {
			return Envelope{}, err
		}
	}
	return Envelope{ID: IDAnnounceInit, Body: buf}, nil
}

func DecodeAnnounceInit(body []byte) (AnnounceInit, error) {
	r := bytes.NewReader(body)
	n, err := varint.ReadFrom(r)
	if err != nil {
		return AnnounceInit{}, err
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := varint.ReadString(r)
		if err != nil {
			return AnnounceInit{}, err
		}
		out = append(out, s)
	}
	return AnnounceInit{Suffixes: out}, nil
}

// Announce is a single Active/Ended delta for one suffix.
type Announce struct {
	Active bool
	Suffix string
}

func (m Announce) Encode() (Envelope, error) {
	buf := varint.AppendBool(nil, m.Active)
	buf, err := varint.AppendString(buf, m.Suffix)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IDAnnounce, Body: buf}, nil
}

func DecodeAnnounce(body []byte) (Announce, error) {
	r := bytes.NewReader(body)
	active, err := varint.ReadBool(r)
	if err != nil {
		return Announce{}, err
	}
	suffix, err := varint.ReadString(r)
	if err != nil {
		return Announce{}, err
	}
	return Announce{Active: active, Suffix: suffix}, nil
}

// Subscribe requests a track (spec §4.3.2).
type Subscribe struct {
	ID        uint64
	Broadcast string
	Track     string
	Priority  int8
}

func (m Subscribe) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.ID)
	if err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.AppendString(buf, m.Broadcast); err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.AppendString(buf, m.Track); err != nil {
		return Envelope{}, err
	}
	buf = varint.AppendPriority(buf, m.Priority)
	return Envelope{ID: IDSubscribe, Body: buf}, nil
}

func DecodeSubscribe(body []byte) (Subscribe, error) {
	r := bytes.NewReader(body)
	id, err := varint.ReadFrom(r)
	if err != nil {
		return Subscribe{}, err
	}
	bcast, err := varint.ReadString(r)
	if err != nil {
		return Subscribe{}, err
	}
	track, err := varint.ReadString(r)
	if err != nil {
		return Subscribe{}, err
	}
	pri, err := varint.ReadPriority(r)
	if err != nil {
		return Subscribe{}, err
	}
	return Subscribe{ID: id, Broadcast: bcast, Track: track, Priority: pri}, nil
}

// SubscribeOk accepts a Subscribe, possibly downgrading its priority.
type SubscribeOk struct {
	Priority int8
}

func (m SubscribeOk) Encode() (Envelope, error) {
	buf := varint.AppendPriority(nil, m.Priority)
	return Envelope{ID: IDSubscribeOk, Body: buf}, nil
}

func DecodeSubscribeOk(body []byte) (SubscribeOk, error) {
	pri, err := varint.ReadPriority(bytes.NewReader(body))
	if err != nil {
		return SubscribeOk{}, err
	}
	return SubscribeOk{Priority: pri}, nil
}

// SubscribeError rejects a Subscribe.
type SubscribeError struct {
	ID     uint64
	Code   uint64
	Reason string
}

func (m SubscribeError) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.ID)
	if err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.Append(buf, m.Code); err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.AppendString(buf, m.Reason); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IDSubscribeError, Body: buf}, nil
}

func DecodeSubscribeError(body []byte) (SubscribeError, error) {
	r := bytes.NewReader(body)
	id, err := varint.ReadFrom(r)
	if err != nil {
		return SubscribeError{}, err
	}
	code, err := varint.ReadFrom(r)
	if err != nil {
		return SubscribeError{}, err
	}
	reason, err := varint.ReadString(r)
	if err != nil {
		return SubscribeError{}, err
	}
	return SubscribeError{ID: id, Code: code, Reason: reason}, nil
}

// Unsubscribe cancels a Subscribe.
type Unsubscribe struct {
	ID uint64
}

func (m Unsubscribe) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.ID)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IDUnsubscribe, Body: buf}, nil
}

func DecodeUnsubscribe(body []byte) (Unsubscribe, error) {
	id, err := varint.ReadFrom(bytes.NewReader(body))
	if err != nil {
		return Unsubscribe{}, err
	}
	return Unsubscribe{ID: id}, nil
}

// GroupDrop reports that a group was reset or could not be delivered.
type GroupDrop struct {
	ID       uint64
	Sequence uint64
	Code     uint64
}

func (m GroupDrop) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.ID)
	if err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.Append(buf, m.Sequence); err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.Append(buf, m.Code); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IDGroupDrop, Body: buf}, nil
}

func DecodeGroupDrop(body []byte) (GroupDrop, error) {
	r := bytes.NewReader(body)
	id, err := varint.ReadFrom(r)
	if err != nil {
		return GroupDrop{}, err
	}
	seq, err := varint.ReadFrom(r)
	if err != nil {
		return GroupDrop{}, err
	}
	code, err := varint.ReadFrom(r)
	if err != nil {
		return GroupDrop{}, err
	}
	return GroupDrop{ID: id, Sequence: seq, Code: code}, nil
}

// SessionClose is an orderly shutdown notice carried on the control stream
// before the transport-level close (spec §4.3.2 "SessionGoAway / Close").
type SessionClose struct {
	Code   uint64
	Reason string
}

func (m SessionClose) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.Code)
	if err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.AppendString(buf, m.Reason); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IDSessionClose, Body: buf}, nil
}

func DecodeSessionClose(body []byte) (SessionClose, error) {
	r := bytes.NewReader(body)
	code, err := varint.ReadFrom(r)
	if err != nil {
		return SessionClose{}, err
	}
	reason, err := varint.ReadString(r)
	if err != nil {
		return SessionClose{}, err
	}
	return SessionClose{Code: code, Reason: reason}, nil
}

// GroupHeader precedes the frames on a per-group unidirectional stream
// (spec §4.3.3).
type GroupHeader struct {
	SubscriptionID uint64
	Sequence       uint64
}

func (h GroupHeader) Append(buf []byte) ([]byte, error) {
	buf, err := varint.Append(buf, h.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return varint.Append(buf, h.Sequence)
}

func ReadGroupHeader(r io.Reader) (GroupHeader, error) {
	id, err := varint.ReadFrom(r)
	if err != nil {
		return GroupHeader{}, err
	}
	seq, err := varint.ReadFrom(r)
	if err != nil {
		return GroupHeader{}, err
	}
	return GroupHeader{SubscriptionID: id, Sequence: seq}, nil
}

// unknownMessageErr formats a decode error for an unrecognized id.
func unknownMessageErr(id MessageID) error {
	return fmt.Errorf("wire: unknown control message id %#x", uint64(id))
}
