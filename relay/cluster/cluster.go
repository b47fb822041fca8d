// Package cluster bridges a relay's shared Origin to peer relays, so that a
// broadcast published on any node of a cluster becomes consumable from any
// other node (spec §5's multi-hop cluster fan-in).
//
// Loop prevention follows a split-horizon rule, the same one distance-vector
// routing protocols use: a bridge never re-announces a broadcast back toward
// the peer it first learned that broadcast from. Each peer gets its own
// outbound view of the shared Origin with that peer's own contributions
// filtered out, so an announce can travel around a cluster ring without ever
// reflecting back to its source.
package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	webtransport "github.com/quic-go/webtransport-go"

	"github.com/okdaichi/moqlite/origin"
	"github.com/okdaichi/moqlite/pkg/path"
	"github.com/okdaichi/moqlite/session"
	"github.com/okdaichi/moqlite/transport/wtconn"
)

// Bridge maintains connections to a fixed set of peer relays and mirrors
// broadcasts between them and a shared local Origin.
type Bridge struct {
	// Shared is the relay's process-wide Origin (spec §4.2, §5).
	Shared *origin.Origin

	// Dialer opens outbound WebTransport connections to peers.
	Dialer *webtransport.Dialer

	log *slog.Logger

	mu         sync.Mutex
	peers      map[string]*peerConn
	provenance map[string]string // broadcast path -> address of the peer it was learned from
}

// NewBridge creates a Bridge over an existing shared Origin.
func NewBridge(shared *origin.Origin, dialer *webtransport.Dialer) *Bridge {
	return &Bridge{
		Shared:     shared,
		Dialer:     dialer,
		log:        slog.Default().With("component", "relay.cluster"),
		peers:      make(map[string]*peerConn),
		provenance: make(map[string]string),
	}
}

type peerConn struct {
	addr     string
	sess     *session.Session
	ep       *session.Endpoint
	inbound  *origin.Origin // peer's announces land here before being admitted into Shared
	outbound *origin.Origin // this peer's filtered view of Shared
	cancel   context.CancelFunc
}

// AddPeer starts (and, on disconnect, keeps retrying) a bridged connection
// to a peer relay's WebTransport endpoint. It returns immediately; the
// bridge runs in background goroutines until ctx is cancelled.
func (b *Bridge) AddPeer(ctx context.Context, addr string) {
	go b.maintain(ctx, addr)
}

func (b *Bridge) maintain(ctx context.Context, addr string) {
	bo := backoff.NewExponentialBackOff()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := b.connectOnce(ctx, addr); err != nil {
			b.log.Warn("cluster: peer connection failed", "addr", addr, "err", err)
		}
		if ctx.Err() != nil {
			return
		}
		d := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

func (b *Bridge) connectOnce(ctx context.Context, addr string) error {
	conn, err := wtconn.Dial(ctx, b.Dialer, addr)
	if err != nil {
		return err
	}
	sess, err := session.Dial(ctx, conn, session.SupportedVersions, nil)
	if err != nil {
		return err
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pc := &peerConn{
		addr:     addr,
		sess:     sess,
		inbound:  origin.New(),
		outbound: origin.New(),
		cancel:   cancel,
	}
	pc.ep = session.NewEndpoint(sess, pc.outbound, pc.inbound)

	b.mu.Lock()
	b.peers[addr] = pc
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.peers, addr)
		for p, src := range b.provenance {
			if src == addr {
				delete(b.provenance, p)
				b.Shared.Unpublish(path.New(p))
			}
		}
		b.mu.Unlock()
	}()

	if err := pc.ep.AnnounceInterest(path.Root); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pc.ep.ServeGroupStreams(pctx)
	}()
	go b.mirrorOut(pctx, pc)
	go b.mirrorIn(pctx, pc)

	err = pc.ep.ServeControl(pctx)
	cancel()
	<-done
	return err
}

// mirrorOut republishes everything in Shared into pc's outbound view,
// except broadcasts this peer was itself the source of (split horizon).
func (b *Bridge) mirrorOut(ctx context.Context, pc *peerConn) {
	as := b.Shared.ConsumePrefix(path.Root)
	defer as.Close()
	for {
		d, ok, err := as.Next(ctx)
		if err != nil || !ok {
			return
		}
		if b.learnedFrom(d.Suffix) == pc.addr {
			continue
		}
		if d.Active {
			consumer, ok := b.Shared.ConsumeBroadcast(d.Suffix)
			if ok {
				pc.outbound.PublishBroadcast(d.Suffix, consumer)
			}
		} else {
			pc.outbound.Unpublish(d.Suffix)
		}
	}
}

// mirrorIn admits broadcasts the peer announces into Shared, recording
// which peer each path was learned from so mirrorOut can apply split
// horizon for every peer.
func (b *Bridge) mirrorIn(ctx context.Context, pc *peerConn) {
	as := pc.inbound.ConsumePrefix(path.Root)
	defer as.Close()
	for {
		d, ok, err := as.Next(ctx)
		if err != nil || !ok {
			return
		}
		if d.Active {
			consumer, ok := pc.inbound.ConsumeBroadcast(d.Suffix)
			if !ok {
				continue
			}
			b.mu.Lock()
			if _, exists := b.provenance[d.Suffix.String()]; !exists {
				b.provenance[d.Suffix.String()] = pc.addr
				b.mu.Unlock()
				b.Shared.PublishBroadcast(d.Suffix, consumer)
			} else {
				b.mu.Unlock()
			}
		} else {
			b.mu.Lock()
			if b.provenance[d.Suffix.String()] == pc.addr {
				delete(b.provenance, d.Suffix.String())
				b.mu.Unlock()
				b.Shared.Unpublish(d.Suffix)
			} else {
				b.mu.Unlock()
			}
		}
	}
}

func (b *Bridge) learnedFrom(p path.Path) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.provenance[p.String()]
}

// Close tears down every peer connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pc := range b.peers {
		pc.cancel()
	}
}
