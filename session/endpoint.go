package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/okdaichi/moqlite/internal/moqerr"
	"github.com/okdaichi/moqlite/model"
	"github.com/okdaichi/moqlite/origin"
	"github.com/okdaichi/moqlite/priority"
	"github.com/okdaichi/moqlite/wire"
)

// Endpoint runs both roles spec §4.5/§4.6 describe over one Session: it
// serves broadcasts the local side publishes (Publisher role) and mirrors
// broadcasts the peer publishes into a local Origin (Subscriber role).
// Exactly one goroutine — ServeControl's caller — reads control messages;
// everything else is dispatched from there or from per-subscription
// streaming goroutines.
type Endpoint struct {
	sess *Session

	// Local is where the application inserts broadcasts this endpoint
	// should serve to its peer when asked (spec §4.5). A relay hands this
	// endpoint an origin.Filtered view scoped to the peer's subscribe
	// claims rather than the raw shared Origin (spec §6, §7).
	Local origin.Store
	// Remote is where broadcasts the peer announces are mirrored, for the
	// local application to consume (spec §4.6). A relay scopes this to the
	// peer's publish claims the same way.
	Remote origin.Store

	sched *priority.Scheduler

	// MirrorConfig controls the buffer sizes of broadcasts this endpoint
	// mirrors from the peer into Remote (spec §4.6, §9 open questions).
	MirrorConfig model.TrackConfig

	mu              sync.Mutex
	nextSubID       uint64
	outbound        map[uint64]*outboundSub // peer's Subscribe requests we are serving
	inbound         map[uint64]*inboundSub  // our Subscribe requests the peer is serving
	pending         []*inboundSub           // inbound subs awaiting SubscribeOk/Error, FIFO
	announces       map[string]*announceServe
	announceWatches map[string]*announceWatch

	log *slog.Logger
}

// NewEndpoint wires a Session to a local Store (what this side publishes)
// and a Remote Store (where the peer's announces land). Both are usually
// the same process-wide *origin.Origin; a relay narrows them per session
// with origin.Filtered to enforce claims (spec §6, §7).
func NewEndpoint(sess *Session, local, remote origin.Store) *Endpoint {
	return &Endpoint{
		sess:      sess,
		Local:     local,
		Remote:    remote,
		sched:     priority.New(),
		outbound:  make(map[uint64]*outboundSub),
		inbound:   make(map[uint64]*inboundSub),
		announces: make(map[string]*announceServe),
		log:       slog.Default().With("component", "session.endpoint"),
	}
}

// ServeControl runs the FIFO control-message loop until ctx is cancelled
// or the stream errs (spec §4.3.4). It blocks; callers run it in its own
// goroutine.
func (e *Endpoint) ServeControl(ctx context.Context) error {
	for {
		env, err := e.sess.ReadEnvelope()
		if err != nil {
			return fmt.Errorf("session: control loop: %w", err)
		}
		if err := e.dispatch(ctx, env); err != nil {
			e.log.Warn("control message handling failed", "id", env.ID, "err", err)
		}
	}
}

func (e *Endpoint) dispatch(ctx context.Context, env wire.Envelope) error {
	switch env.ID {
	case wire.IDAnnouncePlease:
		m, err := wire.DecodeAnnouncePlease(env.Body)
		if err != nil {
			return err
		}
		e.handleAnnouncePlease(ctx, m)
	case wire.IDAnnounceInit:
		m, err := wire.DecodeAnnounceInit(env.Body)
		if err != nil {
			return err
		}
		e.handleAnnounceInit(m)
	case wire.IDAnnounce:
		m, err := wire.DecodeAnnounce(env.Body)
		if err != nil {
			return err
		}
		e.handleAnnounce(m)
	case wire.IDSubscribe:
		m, err := wire.DecodeSubscribe(env.Body)
		if err != nil {
			return err
		}
		e.handleSubscribe(ctx, m)
	case wire.IDSubscribeOk:
		m, err := wire.DecodeSubscribeOk(env.Body)
		if err != nil {
			return err
		}
		e.handleSubscribeOk(m)
	case wire.IDSubscribeError:
		m, err := wire.DecodeSubscribeError(env.Body)
		if err != nil {
			return err
		}
		e.handleSubscribeError(m)
	case wire.IDUnsubscribe:
		m, err := wire.DecodeUnsubscribe(env.Body)
		if err != nil {
			return err
		}
		e.handleUnsubscribe(m)
	case wire.IDGroupDrop:
		m, err := wire.DecodeGroupDrop(env.Body)
		if err != nil {
			return err
		}
		e.handleGroupDrop(m)
	case wire.IDSessionClose:
		m, err := wire.DecodeSessionClose(env.Body)
		if err != nil {
			return err
		}
		return moqerr.New(moqerr.Code(m.Code), m.Reason)
	default:
		return fmt.Errorf("session: %w", moqerr.New(moqerr.Protocol, fmt.Sprintf("unexpected control message %#x", uint64(env.ID))))
	}
	return nil
}

// subID assigns a fresh locally-unique subscription id.
func (e *Endpoint) subID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSubID++
	return e.nextSubID
}
