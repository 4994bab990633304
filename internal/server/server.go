// Package server exposes the session registry over HTTP: the websocket
// upgrade participants join through, a small session API, health and
// metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"syncrelay/internal/config"
	"syncrelay/internal/constants"
	"syncrelay/internal/metrics"
	"syncrelay/internal/security"
	"syncrelay/internal/session"
)

type Server struct {
	cfg      config.ServerConfig
	log      *zap.Logger
	clock    clockwork.Clock
	registry session.Store
	metrics  *metrics.Relay

	connLimiter *security.ConnectionLimiter
	ips         *security.IPResolver
	audit       *security.AuditLogger
	upgrader    websocket.Upgrader
}

type Option func(*Server)

// WithClock drives session expiry, the sweep ticker and audit windows.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

func New(cfg config.ServerConfig, log *zap.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session options: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:         cfg,
		log:         log.Named("server"),
		clock:       clockwork.NewRealClock(),
		metrics:     metrics.New(),
		connLimiter: security.NewConnectionLimiter(cfg.MaxConnsPerIP),
		ips:         security.NewIPResolver(cfg.TrustedProxies),
	}
	for _, o := range opts {
		o(s)
	}

	s.registry = session.NewRegistry(cfg.Session, log,
		session.WithClock(s.clock),
		session.WithMetrics(s.metrics))
	s.audit = security.NewAuditLogger(log, s.clock)
	s.registry.OnExpire(func(id string) {
		s.audit.Log(security.AuditEvent{
			EventType: "session_expire",
			SessionID: id,
			Details:   "Session expired",
			Severity:  security.SeverityInfo,
		})
	})
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  constants.WSBufferSize,
		WriteBufferSize: constants.WSBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return security.ValidateOrigin(r, cfg.AllowedOrigins)
		},
	}
	return s, nil
}

// Registry returns the session table served by s.
func (s *Server) Registry() session.Store {
	return s.registry
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(s.log))
	r.Use(CorsMiddleware(s.cfg.AllowedOrigins))
	r.Use(security.SecurityHeaders)

	r.Get(constants.EndpointHealth, s.HandleHealth)
	r.Handle(constants.EndpointMetrics, s.metrics.Handler())
	r.Get(constants.EndpointWebSocket, s.HandleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(security.MaxBodySize(constants.MaxConfigBodySize))
		r.Post(constants.EndpointSessions, s.HandleCreateSession)
		r.Get(constants.EndpointSessions, s.HandleListSessions)
		r.Get(constants.EndpointSessions+"/{id}", s.HandleGetSession)
		r.Delete(constants.EndpointSessions+"/{id}", s.HandleDeleteSession)
	})
	return r
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and runs the registry sweep. When ctx is
// done it stops accepting, closes every session and returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
		IdleTimeout:       constants.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.registry.Run(ctx)
	})
	g.Go(func() error {
		s.log.Info("relay listening", zap.Stringer("addr", ln.Addr()), zap.String("version", constants.Version))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// websocket connections are hijacked, Shutdown does not wait for them
		s.registry.Close()
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
