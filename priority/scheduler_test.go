package priority

import (
	"testing"
	"time"
)

func TestRegisterSingleItemRanksZero(t *testing.T) {
	s := New()
	h, w := s.Register(Key{TrackPriority: 10, GroupSequence: 0})

	if rank, ok := s.Rank(h); !ok || rank != 0 {
		t.Fatalf("Rank = (%d, %v), want (0, true)", rank, ok)
	}
	if w.Rank() != 0 {
		t.Errorf("watch.Rank() = %d, want 0", w.Rank())
	}
}

func TestHigherTrackPriorityRanksAhead(t *testing.T) {
	s := New()
	low, _ := s.Register(Key{TrackPriority: 1})
	high, _ := s.Register(Key{TrackPriority: 200})

	lowRank, _ := s.Rank(low)
	highRank, _ := s.Rank(high)
	if highRank >= lowRank {
		t.Errorf("higher TrackPriority rank = %d, want less than lower priority's rank %d", highRank, lowRank)
	}
}

func TestNewerGroupSequenceBreaksTieWithinTrack(t *testing.T) {
	s := New()
	older, _ := s.Register(Key{TrackPriority: 5, GroupSequence: 1})
	newer, _ := s.Register(Key{TrackPriority: 5, GroupSequence: 2})

	olderRank, _ := s.Rank(older)
	newerRank, _ := s.Rank(newer)
	if newerRank >= olderRank {
		t.Errorf("newer group rank = %d, want less than older group's rank %d", newerRank, olderRank)
	}
}

func TestInsertionOrderBreaksFinalTie(t *testing.T) {
	s := New()
	first, _ := s.Register(Key{TrackPriority: 5, GroupSequence: 1})
	second, _ := s.Register(Key{TrackPriority: 5, GroupSequence: 1})

	firstRank, _ := s.Rank(first)
	secondRank, _ := s.Rank(second)
	if firstRank >= secondRank {
		t.Errorf("first-registered rank = %d, want less than second-registered rank %d", firstRank, secondRank)
	}
}

func TestRankBeyondTopNClampsTo255(t *testing.T) {
	s := New()
	var handles []Handle
	for i := 0; i < TopN+5; i++ {
		h, _ := s.Register(Key{TrackPriority: uint8(i % 256), GroupSequence: uint64(i)})
		handles = append(handles, h)
	}

	clamped := 0
	for _, h := range handles {
		if rank, _ := s.Rank(h); rank == TopN {
			clamped++
		}
	}
	if clamped != 5 {
		t.Errorf("clamped count = %d, want 5 (TopN+5 items registered)", clamped)
	}
}

func TestUpdateRebalancesRank(t *testing.T) {
	s := New()
	h, w := s.Register(Key{TrackPriority: 1})
	_, _ = s.Register(Key{TrackPriority: 100})

	before, _ := s.Rank(h)
	if before != 1 {
		t.Fatalf("Rank before Update = %d, want 1", before)
	}

	waitCh := w.Wait()
	s.Update(h, Key{TrackPriority: 200})

	select {
	case <-waitCh:
	case <-time.After(time.Second):
		t.Fatal("watch never fired after Update changed this item's rank")
	}

	after, _ := s.Rank(h)
	if after != 0 {
		t.Errorf("Rank after Update = %d, want 0", after)
	}
}

func TestRemovePromotesOverflowItem(t *testing.T) {
	s := New()
	var top []Handle
	for i := 0; i < TopN; i++ {
		h, _ := s.Register(Key{TrackPriority: 200, GroupSequence: uint64(i)})
		top = append(top, h)
	}
	overflow, w := s.Register(Key{TrackPriority: 1})

	if rank, _ := s.Rank(overflow); rank != TopN {
		t.Fatalf("overflow item rank = %d, want %d before any Remove", rank, TopN)
	}

	waitCh := w.Wait()
	// Removing the least urgent top-set item should promote the overflow item.
	s.Remove(top[0])

	select {
	case <-waitCh:
	case <-time.After(time.Second):
		t.Fatal("overflow watch never fired after promotion")
	}

	if rank, _ := s.Rank(overflow); rank >= TopN {
		t.Errorf("overflow item rank after promotion = %d, want < %d", rank, TopN)
	}
}

func TestRemoveUnknownHandleIsNoop(t *testing.T) {
	s := New()
	s.Remove(Handle(9999)) // must not panic
}

func TestRankOfUnknownHandleReturnsFalse(t *testing.T) {
	s := New()
	if _, ok := s.Rank(Handle(9999)); ok {
		t.Error("expected Rank of an unregistered handle to report ok=false")
	}
}

func TestWaitChannelReplacedAfterFire(t *testing.T) {
	s := New()
	h, w := s.Register(Key{TrackPriority: 1})
	_, _ = s.Register(Key{TrackPriority: 2})

	first := w.Wait()
	s.Update(h, Key{TrackPriority: 3})

	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("first wait channel never fired")
	}

	// A freshly obtained Wait() channel must not already be closed.
	second := w.Wait()
	select {
	case <-second:
		t.Error("second wait channel fired without a further change")
	default:
	}
}
