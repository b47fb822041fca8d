package origin

import (
	"context"
	"testing"
	"time"

	"github.com/okdaichi/moqlite/model"
	"github.com/okdaichi/moqlite/pkg/path"
)

func TestPublishAndConsumeBroadcast(t *testing.T) {
	o := New()
	_, c := model.NewBroadcast(model.TrackConfig{})

	if _, ok := o.ConsumeBroadcast(path.New("room/alice")); ok {
		t.Fatal("expected no broadcast before Publish")
	}

	o.PublishBroadcast(path.New("room/alice"), c)

	got, ok := o.ConsumeBroadcast(path.New("room/alice"))
	if !ok {
		t.Fatal("expected broadcast after Publish")
	}
	if got != c {
		t.Error("ConsumeBroadcast returned a different consumer than was published")
	}
}

func TestUnpublishRemovesBroadcast(t *testing.T) {
	o := New()
	_, c := model.NewBroadcast(model.TrackConfig{})
	o.PublishBroadcast(path.New("room/alice"), c)

	o.Unpublish(path.New("room/alice"))

	if _, ok := o.ConsumeBroadcast(path.New("room/alice")); ok {
		t.Error("expected no broadcast after Unpublish")
	}
}

func TestUnpublishOfMissingPathIsNoop(t *testing.T) {
	o := New()
	o.Unpublish(path.New("room/nobody")) // must not panic
}

func TestPublishReplacementEndsThenReannounces(t *testing.T) {
	o := New()
	stream := o.ConsumePrefix(path.Root)

	_, c1 := model.NewBroadcast(model.TrackConfig{})
	o.PublishBroadcast(path.New("room/alice"), c1)

	d, ok, err := stream.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next (init or first publish): ok=%v err=%v", ok, err)
	}
	if !d.Active || d.Suffix.String() != "room/alice" {
		t.Fatalf("got %+v, want Active suffix room/alice", d)
	}

	_, c2 := model.NewBroadcast(model.TrackConfig{})
	o.PublishBroadcast(path.New("room/alice"), c2)

	ended, ok, err := stream.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next (replacement end): ok=%v err=%v", ok, err)
	}
	if ended.Active {
		t.Error("expected the replaced broadcast to be announced ended before the new one")
	}

	reannounced, ok, err := stream.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next (replacement reannounce): ok=%v err=%v", ok, err)
	}
	if !reannounced.Active {
		t.Error("expected the replacement broadcast to be announced active")
	}
}

func TestConsumePrefixInitSnapshotsExistingBroadcasts(t *testing.T) {
	o := New()
	_, c := model.NewBroadcast(model.TrackConfig{})
	o.PublishBroadcast(path.New("room/alice"), c)

	stream := o.ConsumePrefix(path.New("room"))
	d, ok, err := stream.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if d.Suffix.String() != "alice" {
		t.Errorf("Suffix = %q, want %q (relative to the watched prefix)", d.Suffix.String(), "alice")
	}
}

func TestConsumePrefixIgnoresNonMatchingPaths(t *testing.T) {
	o := New()
	stream := o.ConsumePrefix(path.New("room"))

	_, c := model.NewBroadcast(model.TrackConfig{})
	o.PublishBroadcast(path.New("other/bob"), c)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, ok, err := stream.Next(ctx); ok || err == nil {
		t.Error("expected no delta for a path outside the watched prefix")
	}
}

func TestCloseStopsFurtherDeltas(t *testing.T) {
	o := New()
	stream := o.ConsumePrefix(path.Root)
	stream.Close()

	_, ok, err := stream.Next(context.Background())
	if ok || err != nil {
		t.Errorf("ok=%v err=%v, want ok=false err=nil after Close", ok, err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	o := New()
	stream := o.ConsumePrefix(path.Root)
	stream.Close()
	stream.Close() // must not panic
}
