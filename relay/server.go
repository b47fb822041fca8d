// Package relay implements the standalone relay process (spec §5): a
// process-wide Origin that both accepts publisher/subscriber sessions and
// optionally fans in from an upstream relay, sharing one cache between
// every connected peer.
package relay

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"

	quicgo "github.com/quic-go/quic-go"
	webtransport "github.com/quic-go/webtransport-go"

	"github.com/okdaichi/moqlite/origin"
	"github.com/okdaichi/moqlite/pkg/path"
	"github.com/okdaichi/moqlite/relay/cluster"
	"github.com/okdaichi/moqlite/relay/health"
	"github.com/okdaichi/moqlite/session"
	"github.com/okdaichi/moqlite/transport/wtconn"
)

// Server is a relay process: it accepts downstream sessions over
// WebTransport, optionally dials one upstream relay to mirror its
// broadcasts, and serves every downstream subscriber from one shared
// Origin (spec §4.2, §5).
type Server struct {
	Addr       string
	TLSConfig  *tls.Config
	QUICConfig *quicgo.Config
	Config     *Config

	CheckHTTPOrigin func(r *http.Request) bool

	// Authenticate extracts a downstream session's Claims from its HTTP
	// CONNECT request (spec §6). Verifying whatever token the request
	// carries is the caller's job; Authenticate only hands back the
	// claims a verified token already carried. Returning an error rejects
	// the request with 401 before any WebTransport upgrade happens
	// (spec §7 Unauthorized). A nil Authenticate admits every session
	// with an unrestricted Claims, for deployments with no per-session
	// scoping.
	Authenticate func(r *http.Request) (Claims, error)

	// Origin is the process-wide cache every session publishes into and
	// serves from. Created lazily if nil.
	Origin *origin.Origin

	// Health reports liveness/readiness; created lazily if nil.
	Health *health.StatusHandler

	// Cluster bridges this relay to peer relays for multi-hop fan-in
	// (spec §5). Nil unless ConnectPeer has been called at least once.
	Cluster *cluster.Bridge

	wt       *wtconn.Server
	initOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		if s.Config == nil {
			s.Config = &Config{}
		}
		if s.Origin == nil {
			s.Origin = origin.New()
		}
		if s.Health == nil {
			s.Health = health.NewStatusHandler()
		}
		if s.TLSConfig == nil {
			panic("relay: no TLS config")
		}

		s.wt = wtconn.NewServer(wtconn.ServerConfig{
			Addr:        s.Addr,
			TLSConfig:   s.TLSConfig,
			QUICConfig:  s.QUICConfig,
			CheckOrigin: s.CheckHTTPOrigin,
		})
	})
}

// ListenAndServe accepts downstream sessions forever, optionally dialing
// an upstream relay in the background at the same time, until Close or
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.init()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	defer cancel()

	http.HandleFunc("/moq", func(w http.ResponseWriter, r *http.Request) {
		claims := unrestrictedClaims
		if s.Authenticate != nil {
			var err error
			claims, err = s.Authenticate(r)
			if err != nil {
				slog.Warn("relay: authentication rejected", "err", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		conn, err := s.wt.Upgrade(w, r)
		if err != nil {
			slog.Error("relay: webtransport upgrade failed", "err", err)
			return
		}
		s.Health.IncrementConnections()
		defer s.Health.DecrementConnections()

		sess, err := session.Accept(ctx, conn, session.SupportedVersions, nil)
		if err != nil {
			slog.Warn("relay: session setup failed", "err", err)
			return
		}
		s.serveDownstream(ctx, sess, claims)
	})

	if s.Config.HealthCheckAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/health", s.Health)
		mux.HandleFunc("/health/live", s.Health.ServeLive)
		mux.HandleFunc("/health/ready", s.Health.ServeReady)
		healthSrv := &http.Server{Addr: s.Config.HealthCheckAddr, Handler: mux}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("relay: health listener failed", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = healthSrv.Close()
		}()
	} else {
		http.Handle("/health", s.Health)
		http.HandleFunc("/health/live", s.Health.ServeLive)
		http.HandleFunc("/health/ready", s.Health.ServeReady)
	}

	if s.Config.Upstream != "" {
		s.Health.SetUpstreamRequired(true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dialUpstream(ctx)
		}()
	}

	return s.wt.ListenAndServe()
}

// unrestrictedClaims is used when no Authenticate callback is configured:
// every session sees the whole shared Origin, matching this package's
// behavior before per-session scoping existed.
var unrestrictedClaims = Claims{Publish: []string{""}, Subscribe: []string{""}}

// serveDownstream runs one accepted session's control and data loops. Its
// Local and Remote are scoped to claims (spec §4.8 admission, §6): Local,
// which answers the peer's Subscribes, is restricted to claims.Subscribe;
// Remote, which receives the peer's Announces, is restricted to
// claims.Publish. With no Authenticate callback configured, claims is
// unrestrictedClaims and both are the raw shared Origin (spec §4.2's
// "process-wide map").
func (s *Server) serveDownstream(ctx context.Context, sess *session.Session, claims Claims) {
	ep := session.NewEndpoint(sess, s.scopedLocal(claims), s.scopedRemote(claims))
	ep.MirrorConfig = s.Config.trackConfig()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ep.ServeGroupStreams(ctx)
	}()
	if err := ep.ServeControl(ctx); err != nil {
		sess.Logger().Debug("relay: downstream session ended", "err", err)
	}
	<-done
}

// scopedLocal returns the Store a downstream Endpoint reads Subscribes
// against: the shared Origin directly when claims is unrestricted, or an
// origin.Filtered view of it otherwise (spec §6, §7).
func (s *Server) scopedLocal(claims Claims) origin.Store {
	if s.Authenticate == nil {
		return s.Origin
	}
	return origin.NewFiltered(s.Origin, claims.subscribePrefixes()...)
}

// scopedRemote returns the Store a downstream Endpoint mirrors the peer's
// Announces into, scoped the same way by claims.Publish.
func (s *Server) scopedRemote(claims Claims) origin.Store {
	if s.Authenticate == nil {
		return s.Origin
	}
	return origin.NewFiltered(s.Origin, claims.publishPrefixes()...)
}

// dialUpstream connects once to the configured upstream relay and mirrors
// every broadcast it announces into the shared Origin (spec §5 cluster
// fan-in, single-hop form). Loop prevention for multi-hop fan-in lives in
// relay/cluster.
func (s *Server) dialUpstream(ctx context.Context) {
	dialer := &webtransport.Dialer{
		TLSClientConfig: s.TLSConfig,
		QUICConfig:      s.QUICConfig,
	}
	conn, err := wtconn.Dial(ctx, dialer, s.Config.Upstream)
	if err != nil {
		slog.Error("relay: failed to reach upstream", "upstream", s.Config.Upstream, "err", err)
		return
	}

	sess, err := session.Dial(ctx, conn, session.SupportedVersions, nil)
	if err != nil {
		slog.Error("relay: upstream setup failed", "err", err)
		return
	}
	s.Health.SetUpstreamConnected(true)
	defer s.Health.SetUpstreamConnected(false)

	ep := session.NewEndpoint(sess, s.Origin, s.Origin)
	ep.MirrorConfig = s.Config.trackConfig()
	if err := ep.AnnounceInterest(path.Root); err != nil {
		slog.Error("relay: failed to request upstream announces", "err", err)
		return
	}

	go func() { _ = ep.ServeGroupStreams(ctx) }()
	if err := ep.ServeControl(ctx); err != nil {
		slog.Warn("relay: upstream session ended", "err", err)
	}
}

// ConnectPeer bridges this relay to another relay in the same cluster,
// mirroring broadcasts in both directions with split-horizon loop
// prevention (spec §5). Safe to call more than once for different peers.
func (s *Server) ConnectPeer(ctx context.Context, addr string) {
	s.init()
	if s.Cluster == nil {
		s.Cluster = cluster.NewBridge(s.Origin, &webtransport.Dialer{
			TLSClientConfig: s.TLSConfig,
			QUICConfig:      s.QUICConfig,
		})
	}
	s.Cluster.AddPeer(ctx, addr)
}

// Close tears down the listener and any upstream connection immediately.
func (s *Server) Close() error {
	s.init()
	if s.cancel != nil {
		s.cancel()
	}
	if s.Cluster != nil {
		s.Cluster.Close()
	}
	if s.wt != nil {
		return s.wt.Close()
	}
	return nil
}

// Shutdown closes the listener gracefully, waiting for ctx or completion.
func (s *Server) Shutdown(ctx context.Context) error {
	s.init()
	if s.cancel != nil {
		s.cancel()
	}
	if s.wt == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- s.wt.Shutdown(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
