package session

import (
	"context"
	"fmt"
	"time"

	"github.com/okdaichi/moqlite/internal/moqerr"
	"github.com/okdaichi/moqlite/model"
	"github.com/okdaichi/moqlite/observability"
	"github.com/okdaichi/moqlite/origin"
	"github.com/okdaichi/moqlite/pkg/path"
	"github.com/okdaichi/moqlite/priority"
	"github.com/okdaichi/moqlite/transport"
	"github.com/okdaichi/moqlite/wire"
)

// announceServe tracks one AnnouncePlease we are answering: the goroutine
// forwarding origin.AnnounceStream deltas as Announce messages.
type announceServe struct {
	cancel context.CancelFunc
}

// outboundSub is a Subscribe the peer sent us, which we serve from Local
// (spec §4.5).
type outboundSub struct {
	id     uint64
	bc     *model.BroadcastConsumer
	name   string
	track  *model.TrackConsumer
	rec    *observability.Recorder
	cancel context.CancelFunc
}

// handleAnnouncePlease begins serving live Announce deltas for prefix from
// Local (spec §4.2, §4.5). The currently active suffixes are sent first,
// each as its own Active Announce message; no AnnounceInit message is sent.
func (e *Endpoint) handleAnnouncePlease(ctx context.Context, m wire.AnnouncePlease) {
	e.mu.Lock()
	if prev, ok := e.announces[m.Prefix]; ok {
		prev.cancel()
	}
	child, cancel := context.WithCancel(ctx)
	e.announces[m.Prefix] = &announceServe{cancel: cancel}
	e.mu.Unlock()

	stream := e.Local.ConsumePrefix(path.New(m.Prefix))
	go e.serveAnnounceStream(child, stream)
}

func (e *Endpoint) serveAnnounceStream(ctx context.Context, stream *origin.AnnounceStream) {
	defer stream.Close()
	for {
		d, ok, err := stream.Next(ctx)
		if err != nil || !ok {
			return
		}
		env, err := wire.Announce{Active: d.Active, Suffix: d.Suffix.String()}.Encode()
		if err != nil {
			continue
		}
		if err := e.sess.Send(env); err != nil {
			return
		}
	}
}

// handleSubscribe serves a peer Subscribe against Local (spec §4.5): look
// up the broadcast, wait for the named track, reply SubscribeOk or
// SubscribeError, then stream its groups.
func (e *Endpoint) handleSubscribe(ctx context.Context, m wire.Subscribe) {
	e.mu.Lock()
	if _, dup := e.outbound[m.ID]; dup {
		e.mu.Unlock()
		_ = e.sess.Close(moqerr.Protocol, fmt.Sprintf("duplicate subscribe id %d", m.ID))
		return
	}
	e.mu.Unlock()

	bc, ok := e.Local.ConsumeBroadcast(path.New(m.Broadcast))
	if !ok {
		e.sendSubscribeError(m.ID, moqerr.NotFound, "broadcast not found")
		return
	}

	track, err := bc.SubscribeTrack(ctx, m.Track)
	if err != nil {
		e.sendSubscribeError(m.ID, moqerr.NotFound, "track not found")
		return
	}

	env, err := wire.SubscribeOk{Priority: m.Priority}.Encode()
	if err != nil {
		return
	}
	if err := e.sess.Send(env); err != nil {
		return
	}

	rec := observability.NewRecorder(m.Track)
	rec.IncSubscribers()

	child, cancel := context.WithCancel(ctx)
	sub := &outboundSub{id: m.ID, bc: bc, name: m.Track, track: track, rec: rec, cancel: cancel}
	e.mu.Lock()
	e.outbound[m.ID] = sub
	e.mu.Unlock()

	go e.serveTrack(child, sub, trackPriorityFromWire(m.Priority))
}

func (e *Endpoint) sendSubscribeError(id uint64, code moqerr.Code, reason string) {
	env, err := wire.SubscribeError{ID: id, Code: uint64(code), Reason: reason}.Encode()
	if err != nil {
		return
	}
	_ = e.sess.Send(env)
}

// trackPriorityFromWire maps the wire's signed subscriber priority (spec
// §6: -128 most urgent .. 127 least) onto the model's unsigned track
// priority space (spec §3: 255 most urgent .. 0 least) for scheduling.
func trackPriorityFromWire(p int8) uint8 {
	return uint8(127 - int(p))
}

// serveTrack streams every group of track onto its own unidirectional
// stream, registering each with the scheduler so SetPriority reflects its
// rank (spec §4.4, §4.5).
func (e *Endpoint) serveTrack(ctx context.Context, sub *outboundSub, trackPriority uint8) {
	defer func() {
		e.mu.Lock()
		delete(e.outbound, sub.id)
		e.mu.Unlock()
		sub.rec.DecSubscribers()
		sub.bc.ReleaseTrack(sub.name)
	}()

	for {
		g, err := sub.track.NextGroup(ctx)
		if err != nil {
			return
		}
		go e.serveGroup(ctx, sub, g, trackPriority)
	}
}

func (e *Endpoint) serveGroup(ctx context.Context, sub *outboundSub, g *model.GroupConsumer, trackPriority uint8) {
	handle, watch := e.sched.Register(priority.Key{TrackPriority: trackPriority, GroupSequence: uint64(g.Sequence())})
	defer e.sched.Remove(handle)

	us, err := e.sess.OpenGroupStream(sub.id, uint64(g.Sequence()))
	if err != nil {
		return
	}
	defer us.Close()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		for {
			select {
			case <-watch.Wait():
				us.SetPriority(watch.Rank())
			case <-watchDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	us.SetPriority(watch.Rank())

	sub.rec.GroupReceived()
	start := time.Now()
	var sent, kept int
	defer func() { sub.rec.Broadcast(time.Since(start), sent, kept) }()

	for {
		payload, err := g.ReadFrame(ctx)
		if err != nil {
			code := moqerr.CodeOf(err)
			us.CancelWrite(transport.StreamErrorCode(code))
			e.sendGroupDrop(sub.id, uint64(g.Sequence()), code)
			return
		}
		if payload == nil {
			return // group ended normally
		}
		sent++
		if err := WriteFrame(us, payload); err != nil {
			return
		}
		kept++
	}
}

func (e *Endpoint) sendGroupDrop(id, seq uint64, code moqerr.Code) {
	env, err := wire.GroupDrop{ID: id, Sequence: seq, Code: uint64(code)}.Encode()
	if err != nil {
		return
	}
	_ = e.sess.Send(env)
}

func (e *Endpoint) handleUnsubscribe(m wire.Unsubscribe) {
	e.mu.Lock()
	sub, ok := e.outbound[m.ID]
	e.mu.Unlock()
	if !ok {
		return
	}
	sub.cancel()
}
