// Package priority implements the session-wide ordering of outgoing group
// streams (spec §4.4), grounded on moq-lite's lite/priority.rs: a bounded
// top-N sorted set backed by a slice, plus an overflow max-heap for
// everything beyond it.
package priority

import (
	"container/heap"
	"sort"
	"sync"
)

// TopN bounds how many items get a non-clamped rank; anything beyond it
// reports rank 255 (spec §4.4).
const TopN = 255

// Key orders items: higher TrackPriority wins, newer GroupSequence breaks
// ties within a track, and Seq (assigned at Register, and again at
// Update) is the final
// tiebreak so equal keys still have a total order (spec §9 open question).
type Key struct {
	TrackPriority uint8
	GroupSequence uint64
	seq           uint64 // insertion order, set by the scheduler
}

// less reports whether a ranks ahead of b (a is more urgent).
func (a Key) less(b Key) bool {
	if a.TrackPriority != b.TrackPriority {
		return a.TrackPriority > b.TrackPriority
	}
	if a.GroupSequence != b.GroupSequence {
		return a.GroupSequence > b.GroupSequence
	}
	return a.seq < b.seq
}

// Handle identifies one registered item across Update/Remove calls.
type Handle uint64

type item struct {
	handle Handle
	key    Key
	watch  *rankWatch
	// heapIndex is maintained by container/heap for the overflow heap;
	// -1 when the item lives in the top set instead.
	heapIndex int
}

// rankWatch is the per-item change notifier: consumers re-read Rank() and
// block on Wait() for the next change, per spec §9's
// "latest value + version counter + condvar" pattern.
type rankWatch struct {
	mu      sync.Mutex
	rank    int
	updated chan struct{}
}

func newRankWatch() *rankWatch {
	return &rankWatch{rank: TopN, updated: make(chan struct{})}
}

func (w *rankWatch) set(rank int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rank == rank {
		return
	}
	w.rank = rank
	close(w.updated)
	w.updated = make(chan struct{})
}

// Rank returns the item's current rank without blocking.
func (w *rankWatch) Rank() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rank
}

// Wait returns a channel closed the next time this item's rank changes.
func (w *rankWatch) Wait() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updated
}

// Scheduler assigns a rank in [0,255] to every registered item, 0 being
// the most urgent (spec §4.4). A single mutex covers both the top set and
// the overflow heap (spec §5).
type Scheduler struct {
	mu       sync.Mutex
	nextSeq  uint64
	nextID   uint64
	items    map[Handle]*item
	top      []*item // sorted most-urgent first, len <= TopN
	overflow overflowHeap
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		items: make(map[Handle]*item),
	}
}

// Register adds a new outgoing stream with the given key and returns a
// handle plus a watch for its rank.
func (s *Scheduler) Register(key Key) (Handle, *rankWatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	h := Handle(s.nextID)
	s.nextSeq++
	key.seq = s.nextSeq

	it := &item{handle: h, key: key, watch: newRankWatch(), heapIndex: -1}
	s.items[h] = it

	s.insertLocked(it)
	s.rerankLocked()
	return h, it.watch
}

// Update changes a registered item's key (e.g. a new group superseding the
// old one on the same track) and rebalances ranks.
func (s *Scheduler) Update(h Handle, key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[h]
	if !ok {
		return
	}
	s.removeLocked(it)
	s.nextSeq++
	key.seq = s.nextSeq
	it.key = key
	s.insertLocked(it)
	s.rerankLocked()
}

// Remove unregisters an item. Per spec §4.4, at most one overflow item is
// promoted into the freed top-set slot, and its watcher fires.
func (s *Scheduler) Remove(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[h]
	if !ok {
		return
	}
	delete(s.items, h)
	s.removeLocked(it)
	s.rerankLocked()
}

// insertLocked places it into either the top set or the overflow heap. It
// does not assign ranks; call rerankLocked afterward.
func (s *Scheduler) insertLocked(it *item) {
	// Simplest correct placement: always append to top, then let
	// rerankLocked re-sort and demote the tail past TopN into overflow.
	// Every Register, Update and Remove therefore re-sorts all registered
	// items, top set and overflow alike, so each costs O(N log N) in the
	// number of registered items; there is no O(log N) path.
	it.heapIndex = -1
	s.top = append(s.top, it)
}

// removeLocked excises it from wherever it currently lives.
func (s *Scheduler) removeLocked(it *item) {
	if it.heapIndex >= 0 {
		heap.Remove(&s.overflow, it.heapIndex)
		return
	}
	for i, o := range s.top {
		if o == it {
			s.top = append(s.top[:i], s.top[i+1:]...)
			return
		}
	}
}

// rerankLocked restores the invariant that s.top holds (up to) the TopN
// most urgent items in sorted order, the rest sit in the overflow heap,
// and every item's watcher reflects its current rank.
func (s *Scheduler) rerankLocked() {
	// Pull everything into one slice, re-sort, re-split. Rare relative to
	// the hot path of reading an already-assigned rank (spec §5).
	all := make([]*item, 0, len(s.top)+len(s.overflow))
	all = append(all, s.top...)
	all = append(all, s.overflow...)

	sort.Slice(all, func(i, j int) bool { return all[i].key.less(all[j].key) })

	newTop := all
	var newOverflow []*item
	if len(all) > TopN {
		newTop = all[:TopN]
		newOverflow = append([]*item(nil), all[TopN:]...)
	}

	for i, it := range newTop {
		it.heapIndex = -1
		it.watch.set(i)
	}
	for i, it := range newOverflow {
		it.heapIndex = i
		it.watch.set(TopN)
	}

	s.top = newTop
	s.overflow = overflowHeap(newOverflow)
	heap.Init(&s.overflow)
}

// Rank returns an item's current rank (0 = most urgent, 255 = clamped
// background) without blocking.
func (s *Scheduler) Rank(h Handle) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[h]
	if !ok {
		return 0, false
	}
	return it.watch.Rank(), true
}

// overflowHeap is a max-heap over Key.less so the most urgent overflow
// item (the one closest to promotion) is always at index 0.
type overflowHeap []*item

func (h overflowHeap) Len() int { return len(h) }
func (h overflowHeap) Less(i, j int) bool { return h[i].key.less(h[j].key) }
func (h overflowHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *overflowHeap) Push(x any) {
	it := x.(*item)
	it.heapIndex = len(*h)
	*h = append(*h, it)
}
func (h *overflowHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.heapIndex = -1
	*h = old[:n-1]
	return it
}
