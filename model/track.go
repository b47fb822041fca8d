package model

import (
	"context"
	"sync"
	"time"

	"github.com/okdaichi/moqlite/internal/moqerr"
	"github.com/okdaichi/moqlite/pkg/moqtime"
)

// DefaultGroupBuffer is the default number of recent groups a track cache
// retains (spec §9 open question: "a reasonable default is 8 groups").
const DefaultGroupBuffer = 8

// TrackConfig controls the two open questions spec §9 leaves to the
// implementation.
type TrackConfig struct {
	// GroupBuffer bounds how many of the most recent groups stay available
	// to a newly joining subscriber. Zero uses DefaultGroupBuffer.
	GroupBuffer int

	// LatencyBudget is how long NextGroup will wait for an in-order group
	// before skipping ahead to the latest one. Zero means always prefer
	// the latest (jump-ahead, spec §4.1 default).
	LatencyBudget time.Duration

	// FrameBuffer bounds how many frames of a still-open group are kept
	// for readers that join mid-group. Zero uses DefaultFrameBuffer.
	FrameBuffer int
}

// Track is an ordered stream of groups plus its name and priority
// (spec §3). One Track has one producer and any number of consumers.
type Track struct {
	Name     string
	Priority uint8

	cfg TrackConfig

	mu      sync.Mutex
	groups  []*Group // retained groups, oldest first
	evicted GroupSequence
	newest  GroupSequence
	hasAny  bool
	ended   bool
	err     error
	updated chan struct{}
}

// NewTrack creates a Track with the given name, priority, and buffer
// configuration, returning its producer/consumer pair.
func NewTrack(name string, priority uint8, cfg TrackConfig) (*TrackProducer, *TrackConsumer) {
	t := &Track{
		Name:    name,
		Priority: priority,
		cfg:      cfg,
		updated:  make(chan struct{}),
	}
	return &TrackProducer{t: t}, &TrackConsumer{t: t, next: 0, joined: false}
}

func (t *Track) groupBuffer() int {
	if t.cfg.GroupBuffer > 0 {
		return t.cfg.GroupBuffer
	}
	return DefaultGroupBuffer
}

func (t *Track) wake() {
	close(t.updated)
	t.updated = make(chan struct{})
}

// insertLocked appends a freshly created group, evicting the oldest if the
// buffer is full. Caller holds t.mu.
func (t *Track) insertLocked(seq GroupSequence) *Group {
	g := newGroup(seq, t.cfg.FrameBuffer)
	t.groups = append(t.groups, g)
	if len(t.groups) > t.groupBuffer() {
		t.groups = t.groups[1:]
		t.evicted++
	}
	t.hasAny = true
	t.newest = seq
	t.wake()
	return g
}

// TrackProducer appends groups to a track.
type TrackProducer struct {
	t *Track
}

// AppendGroup creates the next group with sequence = max(existing)+1.
func (p *TrackProducer) AppendGroup() *GroupProducer {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()

	seq := GroupSequence(0)
	if p.t.hasAny {
		seq = p.t.newest + 1
	}
	g := p.t.insertLocked(seq)
	return &GroupProducer{g: g}
}

// CreateGroup creates a group with an explicit, possibly out-of-order
// sequence. It returns nil if seq is not newer than the current newest
// retained group (spec §4.1: "returns nothing if sequence is older than
// the current newest retained").
func (p *TrackProducer) CreateGroup(seq GroupSequence) *GroupProducer {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()

	if p.t.hasAny && seq <= p.t.newest {
		return nil
	}
	g := p.t.insertLocked(seq)
	return &GroupProducer{g: g}
}

// WriteChunks starts a new group iff keyframe is true, otherwise appends a
// frame to the current group; fails if no group exists yet (spec §4.1).
func (p *TrackProducer) WriteChunks(keyframe bool, ts moqtime.Timestamp, chunks []byte) error {
	p.t.mu.Lock()
	var g *Group
	if keyframe {
		seq := GroupSequence(0)
		if p.t.hasAny {
			seq = p.t.newest + 1
		}
		g = p.t.insertLocked(seq)
	} else if len(p.t.groups) > 0 {
		g = p.t.groups[len(p.t.groups)-1]
	}
	p.t.mu.Unlock()

	if g == nil {
		return moqerr.New(moqerr.Protocol, "write_chunks: no group exists yet")
	}
	gp := &GroupProducer{g: g}
	return gp.WriteChunk(ts, keyframe, chunks)
}

// Abort terminates the track; all consumers observe err.
func (p *TrackProducer) Abort(err error) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	if p.t.ended {
		return
	}
	if err == nil {
		err = moqerr.New(moqerr.Cancel, "track aborted")
	}
	p.t.err = err
	p.t.ended = true
	p.t.wake()
}

// Close ends the track normally; consumers observe "no more groups".
func (p *TrackProducer) Close() error {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	if p.t.ended {
		return nil
	}
	p.t.ended = true
	p.t.wake()
	return nil
}

// TrackConsumer yields groups from a track in order, preferring the
// latest to minimize latency (spec §4.1).
type TrackConsumer struct {
	t      *Track
	next   GroupSequence
	joined bool
}

// NextGroup yields the next group whose sequence is greater than the last
// one returned. With no groups yet returned, it jumps straight to the
// latest available (open or most recently closed). With a configured
// LatencyBudget it instead waits up to that duration for the in-order
// successor before jumping ahead, so delivery favors completeness over
// latency when the caller asked for that trade (spec §4.1, §9).
func (c *TrackConsumer) NextGroup(ctx context.Context) (*GroupConsumer, error) {
	// deadline bounds the total wait for a missing in-order successor;
	// once it fires, the consumer jumps to the latest group.
	var deadline <-chan time.Time
	expired := false
	c.t.mu.Lock()
	for {
		if !c.joined {
			if c.t.hasAny {
				c.joined = true
				// Jump straight to the newest retained group on first join,
				// per spec §3's "latest open or most recent closed group".
				latest := c.t.groups[len(c.t.groups)-1]
				c.next = latest.Sequence + 1
				c.t.mu.Unlock()
				return newGroupConsumer(latest), nil
			}
		} else if idx := c.indexOfLocked(c.next); idx >= 0 {
			g := c.t.groups[idx]
			c.next = g.Sequence + 1
			c.t.mu.Unlock()
			return newGroupConsumer(g), nil
		} else if len(c.t.groups) > 0 && c.t.groups[len(c.t.groups)-1].Sequence >= c.next {
			// The in-order successor was evicted or is on the way; apply
			// the latency budget before jumping to latest.
			if c.t.cfg.LatencyBudget > 0 && !expired {
				if deadline == nil {
					deadline = time.After(c.t.cfg.LatencyBudget)
				}
				waitCh := c.t.updated
				c.t.mu.Unlock()
				select {
				case <-waitCh:
				case <-deadline:
					expired = true
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				c.t.mu.Lock()
				continue
			}
			latest := c.t.groups[len(c.t.groups)-1]
			c.next = latest.Sequence + 1
			c.t.mu.Unlock()
			return newGroupConsumer(latest), nil
		}

		if c.t.ended {
			err := c.t.err
			c.t.mu.Unlock()
			return nil, err
		}

		waitCh := c.t.updated
		c.t.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.t.mu.Lock()
	}
}

// indexOfLocked returns the slice index of the retained group with the
// given sequence, or -1. Caller holds t.mu.
func (c *TrackConsumer) indexOfLocked(seq GroupSequence) int {
	for i, g := range c.t.groups {
		if g.Sequence == seq {
			return i
		}
	}
	return -1
}

// Fork returns a new consumer over the same underlying track with its own
// read cursor, starting from the same jump-to-latest behavior a brand new
// subscriber gets. Used when more than one reader must follow one track
// independently, e.g. a relay fanning one upstream track out to many
// downstream subscribers (spec §3: "any number of consumers").
func (c *TrackConsumer) Fork() *TrackConsumer {
	return &TrackConsumer{t: c.t}
}

// Closed blocks until the track ends normally (nil) or with an error.
func (c *TrackConsumer) Closed(ctx context.Context) error {
	c.t.mu.Lock()
	for {
		if c.t.ended {
			err := c.t.err
			c.t.mu.Unlock()
			return err
		}
		waitCh := c.t.updated
		c.t.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.t.mu.Lock()
	}
}
