package wire

import (
	"bytes"
	"io"

	"github.com/okdaichi/moqlite/pkg/varint"
)

// IETF control message ids (spec §4.7): request-id based, namespace
// tuples instead of slash paths, and PublishNamespace instead of Announce.
// The semantic model is identical to the lite dialect; only framing
// differs, so these types carry the same fields as their lite
// counterparts. Only the codec lives here: the session layer does not use
// these types, and after setup it reads and writes lite-dialect control
// messages whichever dialect was negotiated.
const (
	IETFSubscribeNamespace MessageID = 0x80
	IETFPublishNamespace   MessageID = 0x81
	IETFUnpublishNamespace MessageID = 0x82
	IETFSubscribe          MessageID = 0x83
	IETFSubscribeOk        MessageID = 0x84
	IETFSubscribeError     MessageID = 0x85
	IETFUnsubscribe        MessageID = 0x86
)

// Namespace is a tuple of opaque segments, the IETF analogue of Path.
type Namespace []string

func (ns Namespace) Append(buf []byte) ([]byte, error) {
	buf, err := varint.Append(buf, uint64(len(ns)))
	if err != nil {
		return nil, err
	}
	for _, s := range ns {
		if buf, err = varint.AppendString(buf, s); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func ReadNamespace(r io.Reader) (Namespace, error) {
	n, err := varint.ReadFrom(r)
	if err != nil {
		return nil, err
	}
	ns := make(Namespace, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := varint.ReadString(r)
		if err != nil {
			return nil, err
		}
		ns = append(ns, s)
	}
	return ns, nil
}

// IETFSubscribeNamespaceMsg is the IETF equivalent of AnnouncePlease.
type IETFSubscribeNamespaceMsg struct {
	RequestID uint64
	Prefix    Namespace
}

func (m IETFSubscribeNamespaceMsg) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.RequestID)
	if err != nil {
		return Envelope{}, err
	}
	if buf, err = m.Prefix.Append(buf); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IETFSubscribeNamespace, Body: buf}, nil
}

func DecodeIETFSubscribeNamespace(body []byte) (IETFSubscribeNamespaceMsg, error) {
	r := bytes.NewReader(body)
	id, err := varint.ReadFrom(r)
	if err != nil {
		return IETFSubscribeNamespaceMsg{}, err
	}
	ns, err := ReadNamespace(r)
	if err != nil {
		return IETFSubscribeNamespaceMsg{}, err
	}
	return IETFSubscribeNamespaceMsg{RequestID: id, Prefix: ns}, nil
}

// IETFPublishNamespaceMsg is the IETF equivalent of Announce{Active}.
type IETFPublishNamespaceMsg struct {
	RequestID uint64
	Namespace Namespace
}

func (m IETFPublishNamespaceMsg) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.RequestID)
	if err != nil {
		return Envelope{}, err
	}
	if buf, err = m.Namespace.Append(buf); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IETFPublishNamespace, Body: buf}, nil
}

func DecodeIETFPublishNamespace(body []byte) (IETFPublishNamespaceMsg, error) {
	r := bytes.NewReader(body)
	id, err := varint.ReadFrom(r)
	if err != nil {
		return IETFPublishNamespaceMsg{}, err
	}
	ns, err := ReadNamespace(r)
	if err != nil {
		return IETFPublishNamespaceMsg{}, err
	}
	return IETFPublishNamespaceMsg{RequestID: id, Namespace: ns}, nil
}

// IETFUnpublishNamespaceMsg is the IETF equivalent of Announce{Ended}.
type IETFUnpublishNamespaceMsg struct {
	Namespace Namespace
}

func (m IETFUnpublishNamespaceMsg) Encode() (Envelope, error) {
	buf, err := m.Namespace.Append(nil)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IETFUnpublishNamespace, Body: buf}, nil
}

func DecodeIETFUnpublishNamespace(body []byte) (IETFUnpublishNamespaceMsg, error) {
	ns, err := ReadNamespace(bytes.NewReader(body))
	if err != nil {
		return IETFUnpublishNamespaceMsg{}, err
	}
	return IETFUnpublishNamespaceMsg{Namespace: ns}, nil
}

// IETFSubscribeMsg mirrors Subscribe but keys on a RequestID rather than a
// session-local subscription id, and names the track by namespace+name.
type IETFSubscribeMsg struct {
	RequestID uint64
	Namespace Namespace
	Track     string
	Priority  int8
}

func (m IETFSubscribeMsg) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.RequestID)
	if err != nil {
		return Envelope{}, err
	}
	if buf, err = m.Namespace.Append(buf); err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.AppendString(buf, m.Track); err != nil {
		return Envelope{}, err
	}
	buf = varint.AppendPriority(buf, m.Priority)
	return Envelope{ID: IETFSubscribe, Body: buf}, nil
}

func DecodeIETFSubscribe(body []byte) (IETFSubscribeMsg, error) {
	r := bytes.NewReader(body)
	id, err := varint.ReadFrom(r)
	if err != nil {
		return IETFSubscribeMsg{}, err
	}
	ns, err := ReadNamespace(r)
	if err != nil {
		return IETFSubscribeMsg{}, err
	}
	track, err := varint.ReadString(r)
	if err != nil {
		return IETFSubscribeMsg{}, err
	}
	pri, err := varint.ReadPriority(r)
	if err != nil {
		return IETFSubscribeMsg{}, err
	}
	return IETFSubscribeMsg{RequestID: id, Namespace: ns, Track: track, Priority: pri}, nil
}

// IETFSubscribeOkMsg/IETFSubscribeErrorMsg/IETFUnsubscribeMsg mirror the
// lite dialect's equivalents, keyed by RequestID instead of subscription
// id (spec §4.7: "explicit SubscribeOk/Error").
type IETFSubscribeOkMsg struct {
	RequestID uint64
	Priority  int8
	// TrackAlias lets later data streams reference the track compactly
	// instead of repeating the namespace+name pair (spec §4.7:
	// "a different data-stream preamble including a track_alias").
	TrackAlias uint64
}

func (m IETFSubscribeOkMsg) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.RequestID)
	if err != nil {
		return Envelope{}, err
	}
	buf = varint.AppendPriority(buf, m.Priority)
	if buf, err = varint.Append(buf, m.TrackAlias); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IETFSubscribeOk, Body: buf}, nil
}

func DecodeIETFSubscribeOk(body []byte) (IETFSubscribeOkMsg, error) {
	r := bytes.NewReader(body)
	id, err := varint.ReadFrom(r)
	if err != nil {
		return IETFSubscribeOkMsg{}, err
	}
	pri, err := varint.ReadPriority(r)
	if err != nil {
		return IETFSubscribeOkMsg{}, err
	}
	alias, err := varint.ReadFrom(r)
	if err != nil {
		return IETFSubscribeOkMsg{}, err
	}
	return IETFSubscribeOkMsg{RequestID: id, Priority: pri, TrackAlias: alias}, nil
}

type IETFSubscribeErrorMsg struct {
	RequestID uint64
	Code      uint64
	Reason    string
}

func (m IETFSubscribeErrorMsg) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.RequestID)
	if err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.Append(buf, m.Code); err != nil {
		return Envelope{}, err
	}
	if buf, err = varint.AppendString(buf, m.Reason); err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IETFSubscribeError, Body: buf}, nil
}

func DecodeIETFSubscribeError(body []byte) (IETFSubscribeErrorMsg, error) {
	r := bytes.NewReader(body)
	id, err := varint.ReadFrom(r)
	if err != nil {
		return IETFSubscribeErrorMsg{}, err
	}
	code, err := varint.ReadFrom(r)
	if err != nil {
		return IETFSubscribeErrorMsg{}, err
	}
	reason, err := varint.ReadString(r)
	if err != nil {
		return IETFSubscribeErrorMsg{}, err
	}
	return IETFSubscribeErrorMsg{RequestID: id, Code: code, Reason: reason}, nil
}

type IETFUnsubscribeMsg struct {
	RequestID uint64
}

func (m IETFUnsubscribeMsg) Encode() (Envelope, error) {
	buf, err := varint.Append(nil, m.RequestID)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: IETFUnsubscribe, Body: buf}, nil
}

func DecodeIETFUnsubscribe(body []byte) (IETFUnsubscribeMsg, error) {
	id, err := varint.ReadFrom(bytes.NewReader(body))
	if err != nil {
		return IETFUnsubscribeMsg{}, err
	}
	return IETFUnsubscribeMsg{RequestID: id}, nil
}

// IETFGroupHeader is the data-stream preamble for the IETF dialect: a
// track_alias in place of the lite dialect's subscription id (spec §4.7).
type IETFGroupHeader struct {
	TrackAlias uint64
	Sequence   uint64
}

func (h IETFGroupHeader) Append(buf []byte) ([]byte, error) {
	buf, err := varint.Append(buf, h.TrackAlias)
	if err != nil {
		return nil, err
	}
	return varint.Append(buf, h.Sequence)
}

func ReadIETFGroupHeader(r io.Reader) (IETFGroupHeader, error) {
	alias, err := varint.ReadFrom(r)
	if err != nil {
		return IETFGroupHeader{}, err
	}
	seq, err := varint.ReadFrom(r)
	if err != nil {
		return IETFGroupHeader{}, err
	}
	return IETFGroupHeader{TrackAlias: alias, Sequence: seq}, nil
}
