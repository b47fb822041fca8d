package wire

import (
	"bytes"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := Envelope{ID: IDSubscribe, Body: []byte("payload")}

	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if got.ID != e.ID || !bytes.Equal(got.Body, e.Body) {
		t.Errorf("got %+v, want %+v", got, e)
	}
}

func TestDialectOf(t *testing.T) {
	if DialectOf(VersionIETF14) != DialectIETF {
		t.Error("VersionIETF14 should map to DialectIETF")
	}
	if DialectOf(VersionLite2) != DialectLite {
		t.Error("VersionLite2 should map to DialectLite")
	}
	if DialectOf(VersionLite1) != DialectLite {
		t.Error("VersionLite1 should map to DialectLite")
	}
}

func encodeDecode[T any](t *testing.T, enc func() (Envelope, error), dec func([]byte) (T, error)) T {
	t.Helper()
	env, err := enc()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := dec(env.Body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return out
}

func TestClientSetupRoundTrip(t *testing.T) {
	m := ClientSetup{Versions: []Version{VersionLite2, VersionLite1}, Parameters: []byte("p")}
	got := encodeDecode(t, m.Encode, DecodeClientSetup)
	if len(got.Versions) != 2 || got.Versions[0] != VersionLite2 || got.Versions[1] != VersionLite1 {
		t.Errorf("Versions = %v, want [%v %v]", got.Versions, VersionLite2, VersionLite1)
	}
	if string(got.Parameters) != "p" {
		t.Errorf("Parameters = %q, want %q", got.Parameters, "p")
	}
}

func TestServerSetupRoundTrip(t *testing.T) {
	m := ServerSetup{Version: VersionLite2, Parameters: []byte("q")}
	got := encodeDecode(t, m.Encode, DecodeServerSetup)
	if got.Version != VersionLite2 || string(got.Parameters) != "q" {
		t.Errorf("got %+v", got)
	}
}

func TestAnnouncePleaseRoundTrip(t *testing.T) {
	m := AnnouncePlease{Prefix: "room/"}
	got := encodeDecode(t, m.Encode, DecodeAnnouncePlease)
	if got.Prefix != "room/" {
		t.Errorf("Prefix = %q, want %q", got.Prefix, "room/")
	}
}

func TestAnnounceInitRoundTrip(t *testing.T) {
	m := AnnounceInit{Suffixes: []string{"alice", "bob"}}
	got := encodeDecode(t, m.Encode, DecodeAnnounceInit)
	if len(got.Suffixes) != 2 || got.Suffixes[0] != "alice" || got.Suffixes[1] != "bob" {
		t.Errorf("Suffixes = %v", got.Suffixes)
	}
}

func TestAnnounceRoundTrip(t *testing.T) {
	active := Announce{Active: true, Suffix: "alice"}
	got := encodeDecode(t, active.Encode, DecodeAnnounce)
	if !got.Active || got.Suffix != "alice" {
		t.Errorf("got %+v, want Active suffix alice", got)
	}

	ended := Announce{Active: false, Suffix: "alice"}
	got2 := encodeDecode(t, ended.Encode, DecodeAnnounce)
	if got2.Active {
		t.Error("expected Active=false to round-trip")
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	m := Subscribe{ID: 7, Broadcast: "room/alice", Track: "video", Priority: -5}
	got := encodeDecode(t, m.Encode, DecodeSubscribe)
	if got != m {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestSubscribeOkRoundTrip(t *testing.T) {
	m := SubscribeOk{Priority: 42}
	got := encodeDecode(t, m.Encode, DecodeSubscribeOk)
	if got.Priority != 42 {
		t.Errorf("Priority = %d, want 42", got.Priority)
	}
}

func TestSubscribeErrorRoundTrip(t *testing.T) {
	m := SubscribeError{ID: 3, Code: 404, Reason: "not found"}
	got := encodeDecode(t, m.Encode, DecodeSubscribeError)
	if got != m {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	m := Unsubscribe{ID: 99}
	got := encodeDecode(t, m.Encode, DecodeUnsubscribe)
	if got.ID != 99 {
		t.Errorf("ID = %d, want 99", got.ID)
	}
}

func TestGroupDropRoundTrip(t *testing.T) {
	m := GroupDrop{ID: 1, Sequence: 2, Code: 3}
	got := encodeDecode(t, m.Encode, DecodeGroupDrop)
	if got != m {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestSessionCloseRoundTrip(t *testing.T) {
	m := SessionClose{Code: 1, Reason: "bye"}
	got := encodeDecode(t, m.Encode, DecodeSessionClose)
	if got != m {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestGroupHeaderRoundTrip(t *testing.T) {
	h := GroupHeader{SubscriptionID: 5, Sequence: 12}
	buf, err := h.Append(nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := ReadGroupHeader(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("ReadGroupHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestEncodedEnvelopeCarriesDeclaredMessageID(t *testing.T) {
	cases := []struct {
		name string
		enc  func() (Envelope, error)
		want MessageID
	}{
		{"ClientSetup", ClientSetup{}.Encode, IDClientSetup},
		{"ServerSetup", ServerSetup{}.Encode, IDServerSetup},
		{"AnnouncePlease", AnnouncePlease{}.Encode, IDAnnouncePlease},
		{"Subscribe", Subscribe{}.Encode, IDSubscribe},
		{"Unsubscribe", Unsubscribe{}.Encode, IDUnsubscribe},
		{"SessionClose", SessionClose{}.Encode, IDSessionClose},
	}
	for _, c := range cases {
		env, err := c.enc()
		if err != nil {
			t.Fatalf("%s Encode: %v", c.name, err)
		}
		if env.ID != c.want {
			t.Errorf("%s: ID = %#x, want %#x", c.name, env.ID, c.want)
		}
	}
}
