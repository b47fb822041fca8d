package model

import (
	"context"
	"sync"
)

// trackSlot holds a lazily-created track plus, before it exists, the
// pending consumer requests waiting on it. refs counts live downstream
// consumers so a mirroring producer knows when it can drop the track and
// request it again fresh (spec §5 relay dedup lifecycle).
type trackSlot struct {
	producer *TrackProducer
	consumer *TrackConsumer
	waiters  []chan *TrackConsumer
	refs     int
	drain    chan struct{}
}

// Broadcast is a mapping from track name to Track (spec §3). One
// Broadcast is owned by one producer; any number of consumers may observe
// it. Tracks are created lazily by either side.
type Broadcast struct {
	cfg TrackConfig

	mu      sync.Mutex
	tracks  map[string]*trackSlot
	ended   bool
	// requested carries names a consumer asked for that have no track yet,
	// for the producer side to observe via RequestedTrack.
	requested chan string
}

// NewBroadcast creates an empty broadcast and its producer/consumer pair.
func NewBroadcast(cfg TrackConfig) (*BroadcastProducer, *BroadcastConsumer) {
	b := &Broadcast{
		cfg:       cfg,
		tracks:    make(map[string]*trackSlot),
		requested: make(chan string, 64),
	}
	return &BroadcastProducer{b: b}, &BroadcastConsumer{b: b}
}

// BroadcastProducer is the single writer of a broadcast's track set.
type BroadcastProducer struct {
	b *Broadcast
}

// InsertTrack registers a track ahead of any subscription, satisfying any
// consumers already waiting on that name.
func (p *BroadcastProducer) InsertTrack(name string, priority uint8) *TrackProducer {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()

	var waiters []chan *TrackConsumer
	if existing, ok := p.b.tracks[name]; ok {
		waiters = existing.waiters
	}

	tp, tc := NewTrack(name, priority, p.b.cfg)
	// Every queued waiter is about to receive tc and count itself as a
	// reference (see SubscribeTrack), so seed refs with that count up
	// front rather than racing each waiter's own increment.
	p.b.tracks[name] = &trackSlot{producer: tp, consumer: tc, refs: len(waiters)}

	for _, w := range waiters {
		w <- tc
	}

	return tp
}

// WaitDrained blocks until every downstream reference to name obtained via
// Track or SubscribeTrack has been released, or ctx is cancelled. A name
// with no slot, or no outstanding references, returns immediately: a
// mirroring producer uses this to decide when it is safe to unsubscribe
// upstream (spec §5 item 5).
func (p *BroadcastProducer) WaitDrained(ctx context.Context, name string) error {
	p.b.mu.Lock()
	slot, ok := p.b.tracks[name]
	if !ok || slot.refs <= 0 {
		p.b.mu.Unlock()
		return nil
	}
	if slot.drain == nil {
		slot.drain = make(chan struct{})
	}
	ch := slot.drain
	p.b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForgetTrack removes name's slot so a future SubscribeTrack call starts a
// fresh request cycle instead of reusing a track already wound down by
// WaitDrained (spec §5 item 5).
func (p *BroadcastProducer) ForgetTrack(name string) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	delete(p.b.tracks, name)
}

// RequestedTrack blocks until a consumer calls SubscribeTrack for a name
// with no existing track, returning that name so the producer can decide
// whether to InsertTrack it.
func (p *BroadcastProducer) RequestedTrack(ctx context.Context) (string, error) {
	select {
	case name := <-p.b.requested:
		return name, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close ends the broadcast: every track without an explicit Close is
// implicitly closed, so no consumer blocks forever (spec §3 invariant:
// "Every producer drop transitions its children to a terminal state").
func (p *BroadcastProducer) Close() {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.b.ended {
		return
	}
	p.b.ended = true
	for name, slot := range p.b.tracks {
		if slot.producer == nil {
			// A slot only pending SubscribeTrack callers have created: hand
			// its waiters an already closed track so they return.
			tp, tc := NewTrack(name, 0, p.b.cfg)
			tp.Close()
			slot.producer, slot.consumer, slot.refs = tp, tc, len(slot.waiters)
			for _, w := range slot.waiters {
				w <- tc
			}
			slot.waiters = nil
			continue
		}
		slot.producer.Close()
	}
}

// BroadcastConsumer observes a broadcast's tracks. Shared by reference;
// multiple consumers may read the same broadcast.
type BroadcastConsumer struct {
	b *Broadcast
}

// Track returns a fresh, independently-positioned consumer for an
// existing track by name, or nil. Every caller gets its own read cursor
// (spec §3), so the same track can be fanned out to many subscribers. The
// returned consumer counts as a reference until ReleaseTrack(name) is
// called (spec §5 relay dedup lifecycle).
func (c *BroadcastConsumer) Track(name string) *TrackConsumer {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if slot, ok := c.b.tracks[name]; ok && slot.consumer != nil {
		slot.refs++
		return slot.consumer.Fork()
	}
	return nil
}

// SubscribeTrack returns the track consumer for name, creating a pending
// request the producer observes via RequestedTrack if no track exists yet
// (spec §3). It blocks until the track appears or ctx is cancelled. Only
// the first caller waiting on a not-yet-created name pushes onto the
// requested channel; concurrent callers for the same name join the same
// pending slot instead of each triggering their own upstream request
// (spec §5 item 5: exactly one upstream Subscribe per name). The returned
// consumer counts as a reference until ReleaseTrack(name) is called.
func (c *BroadcastConsumer) SubscribeTrack(ctx context.Context, name string) (*TrackConsumer, error) {
	c.b.mu.Lock()
	if slot, ok := c.b.tracks[name]; ok && slot.consumer != nil {
		slot.refs++
		c.b.mu.Unlock()
		return slot.consumer.Fork(), nil
	}
	if c.b.ended {
		c.b.mu.Unlock()
		return nil, context.Canceled
	}

	ch := make(chan *TrackConsumer, 1)
	slot, ok := c.b.tracks[name]
	first := !ok
	if !ok {
		slot = &trackSlot{}
		c.b.tracks[name] = slot
	}
	slot.waiters = append(slot.waiters, ch)
	c.b.mu.Unlock()

	if first {
		select {
		case c.b.requested <- name:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// InsertTrack seeds the new slot's refs with the waiter count it is
	// about to satisfy, so this reference is already counted once tc
	// arrives; no separate increment here.
	select {
	case tc := <-ch:
		return tc.Fork(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReleaseTrack drops one reference obtained via Track or SubscribeTrack.
// Once the last reference for name is released, anyone blocked in
// WaitDrained(name) wakes (spec §5 item 5).
func (c *BroadcastConsumer) ReleaseTrack(name string) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	slot, ok := c.b.tracks[name]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs <= 0 && slot.drain != nil {
		close(slot.drain)
		slot.drain = nil
	}
}
