// Package origin implements the process-wide path → broadcast map and its
// live-announce mechanism (spec §3 "Origin", §4.2).
package origin

import (
	"context"
	"sync"

	"github.com/okdaichi/moqlite/model"
	"github.com/okdaichi/moqlite/pkg/path"
)

// Delta is one entry of an announce stream: a suffix (relative to the
// prefix being watched) becoming active or ended.
type Delta struct {
	Active bool
	Suffix path.Path
}

type entry struct {
	consumer *model.BroadcastConsumer
}

// Origin is the process-wide map of announced broadcasts (spec §4.2). The
// zero value is not usable; use New.
type Origin struct {
	mu        sync.RWMutex
	broadcasts map[string]*entry
	watchers  map[int]*watcher
	nextID    int
}

// New creates an empty Origin.
func New() *Origin {
	return &Origin{
		broadcasts: make(map[string]*entry),
		watchers:   make(map[int]*watcher),
	}
}

// PublishBroadcast inserts a broadcast at path p. If a previous broadcast
// exists at p, it is replaced: the old one is announced Ended before the
// new one is announced Active (spec §4.2, §8 replacement law).
func (o *Origin) PublishBroadcast(p path.Path, consumer *model.BroadcastConsumer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := p.String()
	if _, ok := o.broadcasts[key]; ok {
		delete(o.broadcasts, key)
		o.notifyLocked(p, false)
	}

	o.broadcasts[key] = &entry{consumer: consumer}
	o.notifyLocked(p, true)
}

// Unpublish marks the broadcast at p ended, if present.
func (o *Origin) Unpublish(p path.Path) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := p.String()
	if _, ok := o.broadcasts[key]; !ok {
		return
	}
	delete(o.broadcasts, key)
	o.notifyLocked(p, false)
}

// ConsumeBroadcast returns the consumer published at p, if any.
func (o *Origin) ConsumeBroadcast(p path.Path) (*model.BroadcastConsumer, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.broadcasts[p.String()]
	if !ok {
		return nil, false
	}
	return e.consumer, true
}

// notifyLocked publishes a delta to every watcher whose prefix covers p.
// Caller holds o.mu (write lock).
func (o *Origin) notifyLocked(p path.Path, active bool) {
	for _, w := range o.watchers {
		suffix, ok := p.StripPrefix(w.prefix)
		if !ok {
			continue
		}
		w.push(Delta{Active: active, Suffix: suffix})
	}
}

// AnnounceStream is the lazy, per-prefix sequence spec §4.2 describes: an
// Init snapshot followed by an ordered sequence of deltas.
type AnnounceStream struct {
	o *Origin
	w *watcher
}

// ConsumePrefix returns an AnnounceStream for the given prefix. Its first
// Next calls return the Init snapshot, one Active delta per currently
// active suffix; later calls return live deltas.
func (o *Origin) ConsumePrefix(prefix path.Path) *AnnounceStream {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++

	w := newWatcher(prefix)
	o.watchers[id] = w

	var init []Delta
	for key := range o.broadcasts {
		full := path.New(key)
		if suffix, ok := full.StripPrefix(prefix); ok {
			init = append(init, Delta{Active: true, Suffix: suffix})
		}
	}
	w.seedInit(init)

	w.onClose = func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.watchers, id)
	}

	return &AnnounceStream{o: o, w: w}
}

// Next blocks for the next Delta, Init snapshot entries first. It returns
// ok=false once the stream has been closed.
func (s *AnnounceStream) Next(ctx context.Context) (Delta, bool, error) {
	return s.w.next(ctx)
}

// Close releases the watch. Safe to call more than once.
func (s *AnnounceStream) Close() {
	s.w.close()
}

// watcher buffers deltas for one ConsumePrefix subscriber via an unbounded
// queue guarded by a mutex + condition channel, matching the rest of the
// core's watch-style notification pattern (spec §9).
type watcher struct {
	prefix path.Path

	mu      sync.Mutex
	init    []Delta
	sentInit bool
	queue   []Delta
	updated chan struct{}
	closed  bool
	onClose func()
}

func newWatcher(prefix path.Path) *watcher {
	return &watcher{prefix: prefix, updated: make(chan struct{})}
}

func (w *watcher) seedInit(init []Delta) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.init = init
}

func (w *watcher) push(d Delta) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.queue = append(w.queue, d)
	close(w.updated)
	w.updated = make(chan struct{})
}

func (w *watcher) next(ctx context.Context) (Delta, bool, error) {
	w.mu.Lock()
	for {
		if !w.sentInit {
			if len(w.init) > 0 {
				d := w.init[0]
				w.init = w.init[1:]
				w.mu.Unlock()
				return d, true, nil
			}
			w.sentInit = true
		}
		if len(w.queue) > 0 {
			d := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			return d, true, nil
		}
		if w.closed {
			w.mu.Unlock()
			return Delta{}, false, nil
		}
		waitCh := w.updated
		w.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return Delta{}, false, ctx.Err()
		}
		w.mu.Lock()
	}
}

func (w *watcher) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.updated)
	w.updated = make(chan struct{})
	onClose := w.onClose
	w.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}
