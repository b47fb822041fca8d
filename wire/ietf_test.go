package wire

import (
	"bytes"
	"testing"
)

func TestNamespaceRoundTrip(t *testing.T) {
	ns := Namespace{"room", "alice"}
	buf, err := ns.Append(nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := ReadNamespace(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("ReadNamespace: %v", err)
	}
	if len(got) != 2 || got[0] != "room" || got[1] != "alice" {
		t.Errorf("got %v, want %v", got, ns)
	}
}

func TestIETFSubscribeNamespaceRoundTrip(t *testing.T) {
	m := IETFSubscribeNamespaceMsg{RequestID: 1, Prefix: Namespace{"room"}}
	got := encodeDecode(t, m.Encode, DecodeIETFSubscribeNamespace)
	if got.RequestID != 1 || len(got.Prefix) != 1 || got.Prefix[0] != "room" {
		t.Errorf("got %+v", got)
	}
}

func TestIETFPublishNamespaceRoundTrip(t *testing.T) {
	m := IETFPublishNamespaceMsg{RequestID: 2, Namespace: Namespace{"room", "alice"}}
	got := encodeDecode(t, m.Encode, DecodeIETFPublishNamespace)
	if got.RequestID != 2 || len(got.Namespace) != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestIETFUnpublishNamespaceRoundTrip(t *testing.T) {
	m := IETFUnpublishNamespaceMsg{Namespace: Namespace{"room", "alice"}}
	got := encodeDecode(t, m.Encode, DecodeIETFUnpublishNamespace)
	if len(got.Namespace) != 2 || got.Namespace[1] != "alice" {
		t.Errorf("got %+v", got)
	}
}

func TestIETFSubscribeRoundTrip(t *testing.T) {
	m := IETFSubscribeMsg{RequestID: 7, Namespace: Namespace{"room"}, Track: "video", Priority: -3}
	got := encodeDecode(t, m.Encode, DecodeIETFSubscribe)
	if got.RequestID != 7 || got.Track != "video" || got.Priority != -3 || len(got.Namespace) != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestIETFSubscribeOkRoundTrip(t *testing.T) {
	m := IETFSubscribeOkMsg{RequestID: 4, Priority: 9, TrackAlias: 55}
	got := encodeDecode(t, m.Encode, DecodeIETFSubscribeOk)
	if got != m {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestIETFSubscribeErrorRoundTrip(t *testing.T) {
	m := IETFSubscribeErrorMsg{RequestID: 1, Code: 2, Reason: "nope"}
	got := encodeDecode(t, m.Encode, DecodeIETFSubscribeError)
	if got != m {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestIETFUnsubscribeRoundTrip(t *testing.T) {
	m := IETFUnsubscribeMsg{RequestID: 8}
	got := encodeDecode(t, m.Encode, DecodeIETFUnsubscribe)
	if got.RequestID != 8 {
		t.Errorf("RequestID = %d, want 8", got.RequestID)
	}
}

func TestIETFGroupHeaderRoundTrip(t *testing.T) {
	h := IETFGroupHeader{TrackAlias: 3, Sequence: 9}
	buf, err := h.Append(nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := ReadIETFGroupHeader(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("ReadIETFGroupHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestIETFMessageIDsDistinctFromLite(t *testing.T) {
	liteIDs := map[MessageID]bool{
		IDClientSetup: true, IDServerSetup: true, IDAnnouncePlease: true,
		IDAnnounceInit: true, IDAnnounce: true, IDSubscribe: true,
		IDSubscribeOk: true, IDSubscribeError: true, IDUnsubscribe: true,
		IDGroupDrop: true, IDGoAway: true, IDSessionClose: true,
	}
	ietfIDs := []MessageID{
		IETFSubscribeNamespace, IETFPublishNamespace, IETFUnpublishNamespace,
		IETFSubscribe, IETFSubscribeOk, IETFSubscribeError, IETFUnsubscribe,
	}
	for _, id := range ietfIDs {
		if liteIDs[id] {
			t.Errorf("IETF message id %#x collides with a lite dialect id", id)
		}
	}
}
