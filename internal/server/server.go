package server

import (
	"context"
	"net/http"
	"time"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/metrics"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/pool"
)

// DefaultDrainTimeout bounds graceful shutdown before remaining
// connections are force-closed.
const DefaultDrainTimeout = 30 * time.Second

// Server composes the traffic listeners and the admin surface around
// a shared connection tracker.
type Server struct {
	cfg     *config.Config
	logger  observability.Logger
	metrics *metrics.Metrics

	tracker *ConnectionTracker
	quic    *QUICServer
	http    *HTTPServer
	admin   *AdminServer

	drainTimeout time.Duration
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDrainTimeout overrides the graceful shutdown deadline.
func WithDrainTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// New assembles the listeners. handler is the proxy pipeline; reload
// is invoked by POST /-/reload on the admin surface.
func New(cfg *config.Config, handler http.Handler, m *metrics.Metrics, pools *pool.Manager, reload func() error, opts ...ServerOption) (*Server, error) {
	if m == nil {
		m = metrics.Default()
	}

	s := &Server{
		cfg:          cfg,
		logger:       observability.NopLogger(),
		metrics:      m,
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tracker = NewConnectionTracker(cfg.Listeners.MaxConnections, s.logger, m)

	tlsConfig, selfSigned, err := buildTLSConfig(cfg.Listeners.TLS, cfg.Security)
	if err != nil {
		return nil, err
	}
	if selfSigned {
		s.logger.Warn("no TLS certificate configured, generated self-signed certificate (development only)")
	}

	s.quic = NewQUICServer(cfg.Listeners, handler, s.tracker, tlsConfig, s.logger)
	s.http = NewHTTPServer(cfg.Listeners, handler, s.tracker, tlsConfig.Clone(), s.logger)
	s.admin = NewAdminServer(cfg, m, s.tracker, pools,
		WithAdminLogger(s.logger),
		WithReloadFunc(reload),
	)

	return s, nil
}

// Start binds all listeners and flips readiness.
func (s *Server) Start() error {
	if err := s.admin.Start(); err != nil {
		return err
	}
	if err := s.http.Start(); err != nil {
		return err
	}
	if err := s.quic.Start(); err != nil {
		return err
	}

	s.admin.SetReady(true)
	s.logger.Info("proxy started",
		observability.String("quic_addr", s.cfg.Listeners.QUICAddr),
		observability.String("http_addr", s.cfg.Listeners.HTTPAddr),
		observability.String("admin_addr", s.cfg.Listeners.AdminAddr),
	)
	return nil
}

// Tracker exposes the connection tracker.
func (s *Server) Tracker() *ConnectionTracker {
	return s.tracker
}

// Admin exposes the admin surface.
func (s *Server) Admin() *AdminServer {
	return s.admin
}

// Stop drains in-flight requests, then force-closes whatever remains
// past the drain deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.admin.SetReady(false)

	drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()

	var firstErr error
	if err := s.quic.Stop(drainCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.http.Stop(drainCtx); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.tracker.Count() > 0 {
		s.logger.Warn("force closing remaining connections",
			observability.Int("count", s.tracker.Count()),
		)
		s.tracker.CloseAll()
	}

	if err := s.admin.Stop(drainCtx); err != nil && firstErr == nil {
		firstErr = err
	}

	s.logger.Info("proxy stopped")
	return firstErr
}
