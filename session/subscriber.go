package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/okdaichi/moqlite/internal/moqerr"
	"github.com/okdaichi/moqlite/model"
	"github.com/okdaichi/moqlite/observability"
	"github.com/okdaichi/moqlite/pkg/path"
	"github.com/okdaichi/moqlite/transport"
	"github.com/okdaichi/moqlite/wire"
)

// inboundSub is a Subscribe we sent the peer, whose groups land on
// incoming unidirectional streams keyed by its id (spec §4.6).
type inboundSub struct {
	id    uint64
	track *model.TrackProducer
	ok    chan wire.SubscribeOk
	fail  chan wire.SubscribeError
}

// announceWatch is one AnnouncePlease we issued: the broadcast producers
// it has created in Remote, keyed by suffix, so Announce{Ended} can close
// them.
type announceWatch struct {
	prefix    path.Path
	producers map[string]*model.BroadcastProducer
}

// AnnounceInterest asks the peer to describe broadcasts under prefix and
// mirrors what it reports into Remote (spec §4.6). It returns the error from
// sending the request; the interest stays registered for the life of the
// Endpoint, and there is no call that withdraws it.
func (e *Endpoint) AnnounceInterest(prefix path.Path) error {
	e.mu.Lock()
	if e.announceWatches == nil {
		e.announceWatches = make(map[string]*announceWatch)
	}
	e.announceWatches[prefix.String()] = &announceWatch{prefix: prefix, producers: make(map[string]*model.BroadcastProducer)}
	e.mu.Unlock()

	env, err := wire.AnnouncePlease{Prefix: prefix.String()}.Encode()
	if err != nil {
		return err
	}
	return e.sess.Send(env)
}

func (e *Endpoint) handleAnnounceInit(m wire.AnnounceInit) {
	for _, suffix := range m.Suffixes {
		e.applyAnnounce(wire.Announce{Active: true, Suffix: suffix})
	}
}

func (e *Endpoint) handleAnnounce(m wire.Announce) {
	e.applyAnnounce(m)
}

// applyAnnounce creates or tears down a mirrored broadcast in Remote for
// one suffix, matching the prefix of whichever AnnounceInterest produced
// it. Since the wire carries only a flat suffix list with no accompanying
// prefix tag, every outstanding watch is checked; this is fine in
// practice because a session only issues a handful of AnnouncePlease
// calls (spec §4.2 assumes one watcher set per session, not per prefix
// fan-out at wire scale).
func (e *Endpoint) applyAnnounce(m wire.Announce) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.announceWatches {
		full := w.prefix.Join(path.New(m.Suffix))
		if m.Active {
			if _, ok := w.producers[m.Suffix]; ok {
				continue
			}
			bp, bc := model.NewBroadcast(e.MirrorConfig)
			w.producers[m.Suffix] = bp
			e.Remote.PublishBroadcast(full, bc)
			go e.serveRequestedTracks(full, bp)
		} else {
			if bp, ok := w.producers[m.Suffix]; ok {
				bp.Close()
				delete(w.producers, m.Suffix)
				e.Remote.Unpublish(full)
			}
		}
	}
}

// serveRequestedTracks answers local consumers' SubscribeTrack calls on a
// mirrored broadcast by issuing a wire Subscribe to the peer (spec §4.6).
// BroadcastConsumer.SubscribeTrack already collapses concurrent requests
// for the same name into one RequestedTrack event, so each iteration here
// starts exactly one upstream subscription.
func (e *Endpoint) serveRequestedTracks(full path.Path, bp *model.BroadcastProducer) {
	ctx := e.sess.Context()
	for {
		name, err := bp.RequestedTrack(ctx)
		if err != nil {
			return
		}
		tp := bp.InsertTrack(name, 0)
		go e.subscribeTrack(ctx, bp, full, name, tp)
	}
}

func (e *Endpoint) subscribeTrack(ctx context.Context, bp *model.BroadcastProducer, full path.Path, name string, tp *model.TrackProducer) {
	rec := observability.NewRecorder(name)
	rec.CacheMiss() // mirroring a track always requires an upstream subscribe
	observability.IncTracks()
	defer observability.DecTracks()

	id := e.subID()
	sub := &inboundSub{
		id:    id,
		track: tp,
		ok:    make(chan wire.SubscribeOk, 1),
		fail:  make(chan wire.SubscribeError, 1),
	}
	e.mu.Lock()
	e.inbound[id] = sub
	e.pending = append(e.pending, sub)
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inbound, id)
		e.mu.Unlock()
	}()

	env, err := wire.Subscribe{ID: id, Broadcast: full.String(), Track: name, Priority: 0}.Encode()
	if err != nil {
		tp.Abort(err)
		return
	}
	if err := e.sess.Send(env); err != nil {
		tp.Abort(err)
		return
	}

	select {
	case <-sub.ok:
	case se := <-sub.fail:
		tp.Abort(moqerr.New(moqerr.Code(se.Code), se.Reason))
		return
	case <-ctx.Done():
		return
	}

	// Hold the upstream subscription only as long as a downstream consumer
	// actually wants this track, not for the whole session (spec §5 item
	// 5). Once the last one releases, close it and forget the slot so a
	// future subscriber starts a fresh request cycle.
	if err := bp.WaitDrained(ctx, name); err != nil {
		return
	}
	tp.Close()
	bp.ForgetTrack(name)
	_ = e.unsubscribe(id)
}

func (e *Endpoint) unsubscribe(id uint64) error {
	env, err := wire.Unsubscribe{ID: id}.Encode()
	if err != nil {
		return err
	}
	return e.sess.Send(env)
}

func (e *Endpoint) handleSubscribeOk(m wire.SubscribeOk) {
	// SubscribeOk carries no id in the lite dialect body beyond priority;
	// FIFO ordering (spec §4.3.4) guarantees it answers the oldest
	// outstanding inbound Subscribe, so pending subscriptions are matched
	// off a FIFO queue rather than by id.
	e.mu.Lock()
	var sub *inboundSub
	if len(e.pending) > 0 {
		sub = e.pending[0]
		e.pending = e.pending[1:]
	}
	e.mu.Unlock()
	if sub != nil {
		sub.ok <- m
	}
}

func (e *Endpoint) handleSubscribeError(m wire.SubscribeError) {
	e.mu.Lock()
	sub, ok := e.inbound[m.ID]
	if ok {
		for i, p := range e.pending {
			if p == sub {
				e.pending = append(e.pending[:i], e.pending[i+1:]...)
				break
			}
		}
	}
	e.mu.Unlock()
	if ok {
		sub.fail <- m
	}
}

func (e *Endpoint) handleGroupDrop(m wire.GroupDrop) {
	e.mu.Lock()
	sub, ok := e.inbound[m.ID]
	e.mu.Unlock()
	if !ok {
		return
	}
	gp := sub.track.CreateGroup(model.GroupSequence(m.Sequence))
	if gp != nil {
		gp.Abort(moqerr.New(moqerr.Code(m.Code), "peer reported group drop"))
	}
}

// ServeGroupStreams accepts incoming unidirectional streams and routes
// each to the inbound subscription its header names (spec §4.3.3, §4.6).
// It blocks; callers run it in its own goroutine alongside ServeControl.
func (e *Endpoint) ServeGroupStreams(ctx context.Context) error {
	for {
		us, err := e.sess.Conn().AcceptUniStream(ctx)
		if err != nil {
			return fmt.Errorf("session: accept group stream: %w", err)
		}
		go e.readGroupStream(us)
	}
}

func (e *Endpoint) readGroupStream(us transport.ReceiveStream) {
	var r io.Reader = us
	hdr, err := wire.ReadGroupHeader(r)
	if err != nil {
		return
	}

	e.mu.Lock()
	sub, ok := e.inbound[hdr.SubscriptionID]
	e.mu.Unlock()
	if !ok {
		us.CancelRead(transport.StreamErrorCode(moqerr.Cancel))
		return
	}

	gp := sub.track.CreateGroup(model.GroupSequence(hdr.Sequence))
	if gp == nil {
		us.CancelRead(transport.StreamErrorCode(moqerr.Stale))
		return
	}

	for {
		payload, err := ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				gp.Close()
			} else {
				gp.Abort(err)
			}
			return
		}
		fp := gp.CreateFrame(0, false, int64(len(payload)))
		if fp == nil {
			return
		}
		if err := fp.WriteChunk(payload); err != nil {
			gp.Abort(err)
			return
		}
		if err := fp.Close(); err != nil {
			gp.Abort(err)
			return
		}
	}
}
