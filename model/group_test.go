package model

import (
	"context"
	"testing"
	"time"
)

func newTestGroup(frameBuffer int) (*GroupProducer, *GroupConsumer) {
	g := newGroup(0, frameBuffer)
	return &GroupProducer{g: g}, newGroupConsumer(g)
}

func TestGroupWriteChunkThenReadFrame(t *testing.T) {
	p, c := newTestGroup(0)

	if err := p.WriteChunk(0, true, []byte("hello")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := c.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadFrame = %q, want %q", got, "hello")
	}

	end, err := c.ReadFrame(context.Background())
	if err != nil || end != nil {
		t.Errorf("ReadFrame after last frame = (%v, %v), want (nil, nil)", end, err)
	}
}

func TestGroupReadFrameOrdersMultipleFrames(t *testing.T) {
	p, c := newTestGroup(0)

	if err := p.WriteChunk(0, false, []byte("a")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := p.WriteChunk(0, false, []byte("b")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	p.Close()

	first, err := c.ReadFrame(context.Background())
	if err != nil || string(first) != "a" {
		t.Fatalf("first ReadFrame = (%q, %v), want (\"a\", nil)", first, err)
	}
	second, err := c.ReadFrame(context.Background())
	if err != nil || string(second) != "b" {
		t.Fatalf("second ReadFrame = (%q, %v), want (\"b\", nil)", second, err)
	}
}

func TestCreateFrameReturnsNilOnceClosed(t *testing.T) {
	p, _ := newTestGroup(0)
	p.Close()

	if fp := p.CreateFrame(0, false, -1); fp != nil {
		t.Error("expected CreateFrame to return nil on a closed group")
	}
}

func TestCreateFrameReturnsNilOnceAborted(t *testing.T) {
	p, _ := newTestGroup(0)
	p.Abort(nil)

	if fp := p.CreateFrame(0, false, -1); fp != nil {
		t.Error("expected CreateFrame to return nil on an aborted group")
	}
}

func TestGroupReadFrameBlocksThenWakesOnWrite(t *testing.T) {
	p, c := newTestGroup(0)

	resultCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		b, err := c.ReadFrame(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- b
	}()

	select {
	case <-resultCh:
		t.Fatal("ReadFrame returned before any frame was written")
	case <-errCh:
		t.Fatal("ReadFrame errored before any frame was written")
	case <-time.After(20 * time.Millisecond):
	}

	if err := p.WriteChunk(0, true, []byte("late")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	select {
	case b := <-resultCh:
		if string(b) != "late" {
			t.Errorf("ReadFrame = %q, want %q", b, "late")
		}
	case err := <-errCh:
		t.Fatalf("ReadFrame: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame never woke up after WriteChunk")
	}
}

func TestGroupAbortPropagatesToBlockedReadFrame(t *testing.T) {
	p, c := newTestGroup(0)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ReadFrame(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Abort(nil)

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected ReadFrame to return an error after Abort")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame never returned after Abort")
	}
}

func TestGroupClosedReportsAbortError(t *testing.T) {
	p, _ := newTestGroup(0)
	g := p.g

	if err := (&GroupConsumer{g: g}).Closed(); err != nil {
		t.Errorf("Closed on open group = %v, want nil", err)
	}

	p.Abort(nil)
	if err := (&GroupConsumer{g: g}).Closed(); err == nil {
		t.Error("expected Closed to report the abort error")
	}
}

func TestGroupClosedNormallyReportsNoError(t *testing.T) {
	p, c := newTestGroup(0)
	p.Close()

	if err := c.Closed(); err != nil {
		t.Errorf("Closed after normal Close = %v, want nil", err)
	}
}

func TestNewGroupConsumerSkipsEvictedFrames(t *testing.T) {
	p, _ := newTestGroup(2)

	for i := 0; i < 5; i++ {
		if err := p.WriteChunk(0, false, []byte{byte('0' + i)}); err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
	}
	p.Close()

	// A consumer joining now should only see the frames still retained in
	// the buffer (the last 2), not the 3 already evicted from the front.
	c := newGroupConsumer(p.g)

	first, err := c.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(first) != "3" {
		t.Errorf("first retained frame = %q, want %q (frames 0-2 should have been evicted)", first, "3")
	}

	second, err := c.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(second) != "4" {
		t.Errorf("second retained frame = %q, want %q", second, "4")
	}

	end, err := c.ReadFrame(context.Background())
	if err != nil || end != nil {
		t.Errorf("ReadFrame after last retained frame = (%v, %v), want (nil, nil)", end, err)
	}
}

func TestGroupReadFrameClampsCursorBehindEvictedFrames(t *testing.T) {
	p, c := newTestGroup(2)

	// c joins while the buffer is empty, so its cursor starts at 0. Writes
	// then evict past it without c ever reading, simulating a reader that
	// fell behind a flow-control-stalled writer.
	for i := 0; i < 5; i++ {
		if err := p.WriteChunk(0, false, []byte{byte('0' + i)}); err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
	}
	p.Close()

	got, err := c.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame on a cursor behind the retained window: %v", err)
	}
	if string(got) != "3" {
		t.Errorf("ReadFrame = %q, want %q (oldest still-retained frame)", got, "3")
	}
}

func TestFrameWriteChunkRejectsOversizeWrite(t *testing.T) {
	p, _ := newTestGroup(0)
	fp := p.CreateFrame(0, false, 2)
	if fp == nil {
		t.Fatal("expected CreateFrame to succeed on an open group")
	}
	if err := fp.WriteChunk([]byte("too long")); err == nil {
		t.Error("expected WriteChunk exceeding the declared size to fail")
	}
}
