package model

import (
	"context"
	"sync"

	"github.com/okdaichi/moqlite/internal/moqerr"
	"github.com/okdaichi/moqlite/pkg/moqtime"
)

// Frame is a single timestamped payload within a group (spec §3). Payload
// is stored as a chain of chunks so relaying code can forward chunks as
// they arrive without copying or waiting for the whole frame.
type Frame struct {
	Timestamp moqtime.Timestamp
	Keyframe  bool

	mu       sync.Mutex
	size     int64 // declared size, -1 until known
	written  int64
	chunks   [][]byte
	closed   bool
	err      error
	updated  chan struct{} // closed and replaced on every chunk/close
}

// newFrame creates a frame with size bytes of declared payload, shared by
// its producer and readers. size of -1 means "unknown ahead of time" (only used
// internally by write_chunks-style helpers that know the whole payload at
// once).
func newFrame(ts moqtime.Timestamp, keyframe bool, size int64) *Frame {
	return &Frame{
		Timestamp: ts,
		Keyframe:  keyframe,
		size:      size,
		updated:   make(chan struct{}),
	}
}

// FrameProducer appends chunks to a single frame whose total size was
// declared up front.
type FrameProducer struct {
	f *Frame
}

// WriteChunk appends bytes to the frame. Writes must sum to exactly the
// declared size (spec §4.1 invariant); a write that would exceed it fails.
func (p *FrameProducer) WriteChunk(b []byte) error {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()

	if p.f.closed {
		return moqerr.New(moqerr.Protocol, "frame already closed")
	}
	if p.f.size >= 0 && p.f.written+int64(len(b)) > p.f.size {
		return moqerr.New(moqerr.Protocol, "frame write exceeds declared size")
	}

	chunk := append([]byte(nil), b...) // payload bytes are never mutated after handoff (spec §3)
	p.f.chunks = append(p.f.chunks, chunk)
	p.f.written += int64(len(chunk))

	p.f.wake()
	return nil
}

// Close completes the frame. If the declared size hasn't been fully
// written, Close returns a protocol error, which readers of the frame also
// observe (spec §4.6 item 3: a partial payload on FIN is an error).
func (p *FrameProducer) Close() error {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()

	if p.f.closed {
		return nil
	}
	if p.f.size >= 0 && p.f.written != p.f.size {
		p.f.err = moqerr.New(moqerr.Protocol, "frame closed with incomplete payload")
	}
	p.f.closed = true
	p.f.wake()
	return p.f.err
}

// Abort terminates the frame with err; consumers observe it immediately.
func (p *FrameProducer) Abort(err error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if p.f.closed {
		return
	}
	if err == nil {
		err = moqerr.New(moqerr.Cancel, "frame aborted")
	}
	p.f.err = err
	p.f.closed = true
	p.f.wake()
}

// wake must be called with f.mu held; it signals any goroutine blocked in
// ReadAll or waiting on the channel from wait.
func (f *Frame) wake() {
	close(f.updated)
	f.updated = make(chan struct{})
}

// ReadAll blocks until the frame is closed (successfully or not) and
// returns its full payload. It streams internally: each new chunk wakes
// waiters so a partial read isn't required, but this helper waits for
// completion for callers that just want the bytes.
func (f *Frame) ReadAll(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	for {
		if f.closed {
			err := f.err
			var out []byte
			for _, c := range f.chunks {
				out = append(out, c...)
			}
			f.mu.Unlock()
			return out, err
		}
		waitCh := f.updated
		f.mu.Unlock()

		select {
		case <-waitCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		f.mu.Lock()
	}
}

// chunksFrom returns the chunks written so far starting at index idx, and
// whether the frame is closed. Used by streaming readers (e.g. the session's group writer) that
// want to forward chunks as they arrive rather than waiting for Close.
func (f *Frame) chunksFrom(idx int) (chunks [][]byte, closed bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx < len(f.chunks) {
		chunks = f.chunks[idx:]
	}
	return chunks, f.closed, f.err
}

// wait returns a channel that is closed the next time the frame changes
// (new chunk, close, or abort).
func (f *Frame) wait() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updated
}

// Size returns the declared size, or -1 if unknown.
func (f *Frame) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}
