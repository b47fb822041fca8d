package model

import (
	"context"
	"testing"
	"time"
)

func TestInsertTrackThenTrackReturnsIndependentConsumer(t *testing.T) {
	bp, bc := NewBroadcast(TrackConfig{})
	tp := bp.InsertTrack("video", 5)
	tp.AppendGroup()

	c1 := bc.Track("video")
	c2 := bc.Track("video")
	if c1 == nil || c2 == nil {
		t.Fatal("expected both Track calls to find the inserted track")
	}
	if c1 == c2 {
		t.Error("Track should hand out a distinct forked consumer each call")
	}
}

func TestTrackOfUnknownNameReturnsNil(t *testing.T) {
	_, bc := NewBroadcast(TrackConfig{})
	if bc.Track("nope") != nil {
		t.Error("expected nil for a track that was never inserted")
	}
}

func TestSubscribeTrackBeforeInsertUnblocksOnInsert(t *testing.T) {
	bp, bc := NewBroadcast(TrackConfig{})

	resultCh := make(chan *TrackConsumer, 1)
	errCh := make(chan error, 1)
	go func() {
		tc, err := bc.SubscribeTrack(context.Background(), "audio")
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- tc
	}()

	// RequestedTrack should observe the pending name.
	name, err := bp.RequestedTrack(context.Background())
	if err != nil {
		t.Fatalf("RequestedTrack: %v", err)
	}
	if name != "audio" {
		t.Fatalf("RequestedTrack name = %q, want %q", name, "audio")
	}

	bp.InsertTrack("audio", 0)

	select {
	case tc := <-resultCh:
		if tc == nil {
			t.Error("expected a non-nil track consumer")
		}
	case err := <-errCh:
		t.Fatalf("SubscribeTrack: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("SubscribeTrack never unblocked after InsertTrack")
	}
}

func TestSubscribeTrackReturnsExistingTrackImmediately(t *testing.T) {
	bp, bc := NewBroadcast(TrackConfig{})
	bp.InsertTrack("audio", 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tc, err := bc.SubscribeTrack(ctx, "audio")
	if err != nil {
		t.Fatalf("SubscribeTrack: %v", err)
	}
	if tc == nil {
		t.Error("expected a non-nil track consumer for an already-inserted track")
	}
}

func TestBroadcastCloseClosesOpenTracks(t *testing.T) {
	bp, bc := NewBroadcast(TrackConfig{})
	bp.InsertTrack("video", 0)
	tc := bc.Track("video")

	bp.Close()

	if _, err := tc.NextGroup(context.Background()); err != nil {
		t.Errorf("NextGroup after broadcast Close = %v, want nil (normal end)", err)
	}
}

func TestSubscribeTrackAfterCloseFailsFast(t *testing.T) {
	bp, bc := NewBroadcast(TrackConfig{})
	bp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := bc.SubscribeTrack(ctx, "never-existed"); err == nil {
		t.Error("expected SubscribeTrack on an ended broadcast with no such track to fail")
	}
}

func TestConcurrentSubscribeTrackRequestsNameOnce(t *testing.T) {
	bp, bc := NewBroadcast(TrackConfig{})

	results := make(chan *TrackConsumer, 3)
	for i := 0; i < 3; i++ {
		go func() {
			tc, err := bc.SubscribeTrack(context.Background(), "shared")
			if err != nil {
				t.Error(err)
				return
			}
			results <- tc
		}()
	}

	// Give every goroutine a chance to register as a waiter before the
	// producer observes the request.
	time.Sleep(10 * time.Millisecond)

	name, err := bp.RequestedTrack(context.Background())
	if err != nil {
		t.Fatalf("RequestedTrack: %v", err)
	}
	if name != "shared" {
		t.Fatalf("RequestedTrack name = %q, want %q", name, "shared")
	}

	select {
	case extra, ok := <-bp.b.requested:
		if ok {
			t.Fatalf("expected exactly one requested entry for a name with concurrent subscribers, got a second: %q", extra)
		}
	default:
	}

	bp.InsertTrack("shared", 0)
	for i := 0; i < 3; i++ {
		select {
		case tc := <-results:
			if tc == nil {
				t.Error("expected a non-nil track consumer")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("a concurrent SubscribeTrack never unblocked after InsertTrack")
		}
	}
}

func TestReleaseTrackWakesWaitDrained(t *testing.T) {
	bp, bc := NewBroadcast(TrackConfig{})
	bp.InsertTrack("video", 0)

	tc1, err := bc.SubscribeTrack(context.Background(), "video")
	if err != nil {
		t.Fatalf("SubscribeTrack: %v", err)
	}
	tc2 := bc.Track("video")
	if tc1 == nil || tc2 == nil {
		t.Fatal("expected both references to resolve")
	}

	drained := make(chan error, 1)
	go func() { drained <- bp.WaitDrained(context.Background(), "video") }()

	select {
	case <-drained:
		t.Fatal("WaitDrained returned before any reference was released")
	case <-time.After(50 * time.Millisecond):
	}

	bc.ReleaseTrack("video")

	select {
	case <-drained:
		t.Fatal("WaitDrained returned after only one of two references was released")
	case <-time.After(50 * time.Millisecond):
	}

	bc.ReleaseTrack("video")

	select {
	case err := <-drained:
		if err != nil {
			t.Errorf("WaitDrained: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitDrained never woke after the last reference was released")
	}
}

func TestWaitDrainedWithNoReferencesReturnsImmediately(t *testing.T) {
	bp, _ := NewBroadcast(TrackConfig{})
	bp.InsertTrack("video", 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bp.WaitDrained(ctx, "video"); err != nil {
		t.Errorf("WaitDrained with no outstanding references: %v", err)
	}
}

func TestForgetTrackStartsFreshRequestCycle(t *testing.T) {
	bp, bc := NewBroadcast(TrackConfig{})
	bp.InsertTrack("video", 0)
	bp.ForgetTrack("video")

	resultCh := make(chan *TrackConsumer, 1)
	go func() {
		tc, err := bc.SubscribeTrack(context.Background(), "video")
		if err != nil {
			t.Error(err)
			return
		}
		resultCh <- tc
	}()

	name, err := bp.RequestedTrack(context.Background())
	if err != nil {
		t.Fatalf("RequestedTrack: %v", err)
	}
	if name != "video" {
		t.Fatalf("RequestedTrack name = %q, want %q", name, "video")
	}
	bp.InsertTrack("video", 0)

	select {
	case tc := <-resultCh:
		if tc == nil {
			t.Error("expected a non-nil track consumer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SubscribeTrack never unblocked after re-insertion")
	}
}
