package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/okdaichi/moqlite/internal/moqerr"
	"github.com/okdaichi/moqlite/model"
	"github.com/okdaichi/moqlite/transport"
	"github.com/okdaichi/moqlite/wire"
)

// recordingRecvStream wraps a net.Conn half as a transport.ReceiveStream
// that remembers whether and with what code CancelRead was invoked, so
// tests can assert a reset happened instead of only observing its absence.
type recordingRecvStream struct {
	net.Conn
	canceled bool
	code     transport.StreamErrorCode
}

func (s *recordingRecvStream) CancelRead(code transport.StreamErrorCode) {
	s.canceled = true
	s.code = code
}

func newTestEndpoint() *Endpoint {
	return &Endpoint{
		outbound:  make(map[uint64]*outboundSub),
		inbound:   make(map[uint64]*inboundSub),
		announces: make(map[string]*announceServe),
	}
}

func writeGroupStream(t *testing.T, w net.Conn, subID, seq uint64, payloads [][]byte, finish func(net.Conn)) {
	t.Helper()
	hdr := wire.GroupHeader{SubscriptionID: subID, Sequence: seq}
	buf, err := hdr.Append(nil)
	if err != nil {
		t.Fatalf("GroupHeader.Append: %v", err)
	}
	if _, err := w.Write(buf); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for _, p := range payloads {
		if err := WriteFrame(w, p); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	finish(w)
}

// TestReadGroupStreamCleanFinClosesGroupNormally covers a group stream that
// ends with a clean FIN: the group must close normally, not abort, and the
// incoming stream must not be reset.
func TestReadGroupStreamCleanFinClosesGroupNormally(t *testing.T) {
	e := newTestEndpoint()
	tp, tc := model.NewTrack("video", 0, model.TrackConfig{})
	e.inbound[7] = &inboundSub{id: 7, track: tp}

	r, w := net.Pipe()
	rs := &recordingRecvStream{Conn: r}

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeGroupStream(t, w, 7, 1, [][]byte{[]byte("a"), []byte("b")}, func(c net.Conn) { c.Close() })
	}()

	e.readGroupStream(rs)
	<-done

	gc, err := tc.NextGroup(context.Background())
	if err != nil {
		t.Fatalf("NextGroup: %v", err)
	}
	if err := gc.Closed(); err != nil {
		t.Errorf("group Closed() after a clean FIN = %v, want nil", err)
	}
	if rs.canceled {
		t.Error("CancelRead should not be called for a clean FIN")
	}
}

// TestReadGroupStreamUnknownSubscriptionResetsWithCancel covers an incoming
// group stream naming a subscription id the endpoint never issued: the
// stream must be reset with Cancel rather than silently dropped.
func TestReadGroupStreamUnknownSubscriptionResetsWithCancel(t *testing.T) {
	e := newTestEndpoint()

	r, w := net.Pipe()
	rs := &recordingRecvStream{Conn: r}

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeGroupStream(t, w, 99, 0, nil, func(c net.Conn) { c.Close() })
	}()

	e.readGroupStream(rs)
	<-done

	if !rs.canceled {
		t.Fatal("expected CancelRead for an unknown subscription id")
	}
	if rs.code != transport.StreamErrorCode(moqerr.Cancel) {
		t.Errorf("CancelRead code = %v, want %v", rs.code, moqerr.Cancel)
	}
}

// TestReadGroupStreamStaleSequenceResetsWithStale covers a group sequence
// that is no longer newer than the track's current newest retained group:
// CreateGroup returns nil and the stream must be reset with Stale.
func TestReadGroupStreamStaleSequenceResetsWithStale(t *testing.T) {
	e := newTestEndpoint()
	tp, _ := model.NewTrack("video", 0, model.TrackConfig{})
	tp.AppendGroup() // sequence 0
	tp.AppendGroup() // sequence 1, now newest
	e.inbound[3] = &inboundSub{id: 3, track: tp}

	r, w := net.Pipe()
	rs := &recordingRecvStream{Conn: r}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Sequence 0 is no longer newer than the track's newest (1), so
		// CreateGroup returns nil.
		writeGroupStream(t, w, 3, 0, nil, func(c net.Conn) { c.Close() })
	}()

	e.readGroupStream(rs)
	<-done

	if !rs.canceled {
		t.Fatal("expected CancelRead for a stale group sequence")
	}
	if rs.code != transport.StreamErrorCode(moqerr.Stale) {
		t.Errorf("CancelRead code = %v, want %v", rs.code, moqerr.Stale)
	}
}

// TestHandleSubscribeDuplicateIDClosesSessionAsProtocolViolation covers two
// Subscribe control messages arriving with the same id from one peer: the
// second must be treated as a protocol violation, not silently accepted.
func TestHandleSubscribeDuplicateIDClosesSessionAsProtocolViolation(t *testing.T) {
	client, server := dialAndAccept(t)
	defer client.conn.CloseWithError(0, "test done")

	ep := NewEndpoint(server, nil, nil)
	ep.outbound[5] = &outboundSub{id: 5}

	closedCh := make(chan struct{})
	go func() {
		_, _ = client.ReadEnvelope() // SessionClose, best-effort
		close(closedCh)
	}()

	ep.handleSubscribe(context.Background(), wire.Subscribe{ID: 5, Broadcast: "b", Track: "t"})

	ep.mu.Lock()
	_, stillOutbound := ep.outbound[5]
	ep.mu.Unlock()
	if stillOutbound {
		t.Error("duplicate subscribe should not replace the existing outbound subscription")
	}

	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the session to send SessionClose after a duplicate subscribe id")
	}
}
