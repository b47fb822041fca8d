package model

import (
	"context"
	"sync"

	"github.com/okdaichi/moqlite/internal/moqerr"
	"github.com/okdaichi/moqlite/pkg/moqtime"
)

// GroupSequence is the monotonically increasing 64-bit sequence number of
// a group within a track (spec §3).
type GroupSequence uint64

type groupState int

const (
	groupOpen groupState = iota
	groupClosed
	groupAborted
)

// DefaultFrameBuffer is the default bound on how many frames of a still-open
// group are retained for readers that join mid-group (spec §4.1: "A
// GroupProducer owns a frame ring buffer of bounded count").
const DefaultFrameBuffer = 32

// Group is an ordered, finite sequence of frames sharing one monotonic
// sequence number (spec §3). It is shared by reference between one
// producer and any number of consumers.
type Group struct {
	Sequence GroupSequence

	mu          sync.Mutex
	state       groupState
	err         error
	frames      []*Frame
	dropped     int // number of frames evicted from the front of frames
	frameBuffer int
	updated     chan struct{}
}

func newGroup(seq GroupSequence, frameBuffer int) *Group {
	if frameBuffer <= 0 {
		frameBuffer = DefaultFrameBuffer
	}
	return &Group{
		Sequence:    seq,
		frameBuffer: frameBuffer,
		updated:     make(chan struct{}),
	}
}

func (g *Group) wake() {
	close(g.updated)
	g.updated = make(chan struct{})
}

// GroupProducer appends frames to a single group.
type GroupProducer struct {
	g *Group
}

// CreateFrame starts a new frame of the declared size (bytes); use -1 if
// unknown. Returns nil if the group is already closed or aborted.
func (p *GroupProducer) CreateFrame(ts moqtime.Timestamp, keyframe bool, size int64) *FrameProducer {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()

	if p.g.state != groupOpen {
		return nil
	}

	f := newFrame(ts, keyframe, size)
	p.g.frames = append(p.g.frames, f)
	if len(p.g.frames) > p.g.frameBuffer {
		p.g.frames = p.g.frames[1:]
		p.g.dropped++
	}
	p.g.wake()

	return &FrameProducer{f: f}
}

// WriteChunk is a convenience that creates a single-chunk frame of exactly
// len(b) bytes and closes it immediately.
func (p *GroupProducer) WriteChunk(ts moqtime.Timestamp, keyframe bool, b []byte) error {
	fp := p.CreateFrame(ts, keyframe, int64(len(b)))
	if fp == nil {
		return moqerr.New(moqerr.Protocol, "group is not open")
	}
	if err := fp.WriteChunk(b); err != nil {
		return err
	}
	return fp.Close()
}

// Close ends the group normally (FIN).
func (p *GroupProducer) Close() error {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	if p.g.state != groupOpen {
		return nil
	}
	p.g.state = groupClosed
	p.g.wake()
	return nil
}

// Abort ends the group with err (RESET).
func (p *GroupProducer) Abort(err error) {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	if p.g.state != groupOpen {
		return
	}
	if err == nil {
		err = moqerr.New(moqerr.Cancel, "group aborted")
	}
	p.g.err = err
	p.g.state = groupAborted
	p.g.wake()
}

// GroupConsumer reads frames from a group in order. A consumer may join
// mid-group: ReadFrame replays every frame still retained in the buffer,
// then streams new ones; if the group is already complete, all retained
// frames are replayed (spec §3).
type GroupConsumer struct {
	g   *Group
	idx int // next absolute frame index to hand out
}

func newGroupConsumer(g *Group) *GroupConsumer {
	g.mu.Lock()
	start := g.dropped
	g.mu.Unlock()
	return &GroupConsumer{g: g, idx: start}
}

// Sequence returns the group's sequence number.
func (c *GroupConsumer) Sequence() GroupSequence { return c.g.Sequence }

// ReadFrame returns the next frame's full payload in order, or (nil, nil)
// once the group has ended normally. It returns an error if the group was
// aborted, if a frame itself failed, or if ctx is cancelled while waiting.
func (c *GroupConsumer) ReadFrame(ctx context.Context) ([]byte, error) {
	c.g.mu.Lock()
	for {
		if c.idx < c.g.dropped {
			// The producer evicted frames past this reader's cursor while it
			// was away; jump to the oldest still-retained frame instead of
			// indexing negative (spec: existing readers keep going, they
			// just lose the frames that fell out of the buffer).
			c.idx = c.g.dropped
		}
		if c.idx < len(c.g.frames)+c.g.dropped {
			f := c.g.frames[c.idx-c.g.dropped]
			c.idx++
			c.g.mu.Unlock()
			return f.ReadAll(ctx)
		}
		if c.g.state == groupAborted {
			err := c.g.err
			c.g.mu.Unlock()
			return nil, err
		}
		if c.g.state == groupClosed {
			c.g.mu.Unlock()
			return nil, nil
		}
		waitCh := c.g.updated
		c.g.mu.Unlock()

		select {
		case <-waitCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.g.mu.Lock()
	}
}

// Closed reports the terminal state of the group without blocking: nil if
// still open, nil again if closed normally, or the abort error.
func (c *GroupConsumer) Closed() error {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.g.state == groupAborted {
		return c.g.err
	}
	return nil
}
