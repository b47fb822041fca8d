package origin

import (
	"context"

	"github.com/okdaichi/moqlite/model"
	"github.com/okdaichi/moqlite/pkg/path"
)

// Store is the subset of Origin's surface a session.Endpoint needs. Origin
// satisfies it directly; Filtered satisfies it by restricting every
// operation to a set of allowed path prefixes, so an endpoint can be
// handed a scoped view of a shared Origin instead of the real thing
// (spec §6 token claims, §7 Unauthorized).
type Store interface {
	PublishBroadcast(p path.Path, consumer *model.BroadcastConsumer)
	Unpublish(p path.Path)
	ConsumeBroadcast(p path.Path) (*model.BroadcastConsumer, bool)
	ConsumePrefix(prefix path.Path) *AnnounceStream
}

// Filtered wraps an Origin so every operation is scoped to a fixed set of
// allowed prefixes. It is how a relay enforces per-session claims without
// the session package needing to know anything about authorization
// (spec §4.8 admission, §6 claims, §7 Unauthorized).
type Filtered struct {
	inner    *Origin
	prefixes []path.Path
}

// NewFiltered returns a Store that only ever sees paths under one of
// prefixes. An empty prefix list denies everything, matching a claims
// object with no grants rather than one with unrestricted access.
func NewFiltered(inner *Origin, prefixes ...path.Path) *Filtered {
	return &Filtered{inner: inner, prefixes: prefixes}
}

func (f *Filtered) allowed(p path.Path) bool {
	for _, prefix := range f.prefixes {
		if p.StartsWith(prefix) {
			return true
		}
	}
	return false
}

// PublishBroadcast is a no-op for any path outside the allowed prefixes.
func (f *Filtered) PublishBroadcast(p path.Path, consumer *model.BroadcastConsumer) {
	if !f.allowed(p) {
		return
	}
	f.inner.PublishBroadcast(p, consumer)
}

// Unpublish is a no-op for any path outside the allowed prefixes.
func (f *Filtered) Unpublish(p path.Path) {
	if !f.allowed(p) {
		return
	}
	f.inner.Unpublish(p)
}

// ConsumeBroadcast reports not-found for any path outside the allowed
// prefixes, indistinguishable from the broadcast simply not existing
// (spec §7: an unauthorized lookup must not leak presence information).
func (f *Filtered) ConsumeBroadcast(p path.Path) (*model.BroadcastConsumer, bool) {
	if !f.allowed(p) {
		return nil, false
	}
	return f.inner.ConsumeBroadcast(p)
}

// ConsumePrefix returns an AnnounceStream scoped to prefix, further
// filtered so suffixes resolving outside the allowed prefixes never
// surface as Init entries or live deltas.
func (f *Filtered) ConsumePrefix(prefix path.Path) *AnnounceStream {
	inner := f.inner.ConsumePrefix(prefix)

	w := newWatcher(prefix)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			d, ok, err := inner.Next(ctx)
			if err != nil || !ok {
				w.close()
				return
			}
			if f.allowed(prefix.Join(d.Suffix)) {
				w.push(d)
			}
		}
	}()
	w.onClose = func() {
		cancel()
		inner.Close()
	}

	return &AnnounceStream{o: f.inner, w: w}
}
