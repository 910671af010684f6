package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/metrics"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/pool"
)

var ginModeOnce sync.Once

// AdminServer exposes the operational surface: health, readiness,
// metrics, debug views, and the reload trigger. It binds a separate
// address from the traffic listeners and bypasses the proxy pipeline.
type AdminServer struct {
	addr    string
	engine  *gin.Engine
	server  *http.Server
	logger  observability.Logger
	metrics *metrics.Metrics

	tracker *ConnectionTracker
	pools   *pool.Manager
	reload  func() error

	ready atomic.Bool

	mu  sync.RWMutex
	cfg *config.Config
}

// AdminOption configures the admin server.
type AdminOption func(*AdminServer)

// WithAdminLogger sets the logger.
func WithAdminLogger(logger observability.Logger) AdminOption {
	return func(s *AdminServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReloadFunc sets the handler invoked by POST /-/reload.
func WithReloadFunc(fn func() error) AdminOption {
	return func(s *AdminServer) {
		s.reload = fn
	}
}

// NewAdminServer creates the admin surface.
func NewAdminServer(cfg *config.Config, m *metrics.Metrics, tracker *ConnectionTracker, pools *pool.Manager, opts ...AdminOption) *AdminServer {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	if m == nil {
		m = metrics.Default()
	}

	s := &AdminServer{
		addr:    cfg.Listeners.AdminAddr,
		logger:  observability.NopLogger(),
		metrics: m,
		tracker: tracker,
		pools:   pools,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *AdminServer) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	debug := s.engine.Group("/debug")
	{
		debug.GET("/connections", s.handleConnections)
		debug.GET("/config", s.handleConfig)
		debug.GET("/pools", s.handlePools)
	}

	s.engine.POST("/-/reload", s.handleReload)
}

func (s *AdminServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *AdminServer) handleReady(c *gin.Context) {
	poolHealth := make(gin.H)
	for _, name := range s.pools.Names() {
		if pl, ok := s.pools.Get(name); ok {
			poolHealth[name] = gin.H{
				"healthy": pl.HealthyCount(),
				"total":   len(pl.Instances()),
			}
		}
	}

	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "pools": poolHealth})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "pools": poolHealth})
}

func (s *AdminServer) handleConnections(c *gin.Context) {
	conns := s.tracker.List()
	c.JSON(http.StatusOK, gin.H{
		"count":       s.tracker.Count(),
		"connections": conns,
	})
}

// handleConfig returns the running configuration with secrets blanked.
func (s *AdminServer) handleConfig(c *gin.Context) {
	s.mu.RLock()
	redacted := *s.cfg
	s.mu.RUnlock()

	if redacted.Auth.Secret != "" {
		redacted.Auth.Secret = "<redacted>"
	}
	if redacted.RateLimit.Store.Redis.Password != "" {
		redacted.RateLimit.Store.Redis.Password = "<redacted>"
	}

	c.JSON(http.StatusOK, redacted)
}

func (s *AdminServer) handlePools(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, name := range s.pools.Names() {
		pl, ok := s.pools.Get(name)
		if !ok {
			continue
		}
		instances := make([]gin.H, 0, len(pl.Instances()))
		for _, inst := range pl.Instances() {
			instances = append(instances, gin.H{
				"address":         inst.Address,
				"weight":          inst.Weight,
				"status":          inst.Status().String(),
				"in_flight":       inst.InFlight(),
				"last_checked_at": inst.LastChecked(),
			})
		}
		out = append(out, gin.H{
			"name":          pl.Name(),
			"healthy":       pl.HealthyCount(),
			"breaker_state": pl.BreakerState(),
			"instances":     instances,
		})
	}
	c.JSON(http.StatusOK, gin.H{"pools": out})
}

func (s *AdminServer) handleReload(c *gin.Context) {
	s.mu.RLock()
	reload := s.reload
	s.mu.RUnlock()

	if reload == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reload not configured"})
		return
	}
	if err := reload(); err != nil {
		s.logger.Error("config reload failed", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("config reloaded")
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

// SetReloadFunc installs the handler invoked by POST /-/reload. It
// exists for wiring that only becomes available after construction,
// such as the config watcher.
func (s *AdminServer) SetReloadFunc(fn func() error) {
	s.mu.Lock()
	s.reload = fn
	s.mu.Unlock()
}

// SetReady flips the readiness gate. The orchestrator calls this once
// the traffic listeners are bound, and again during shutdown.
func (s *AdminServer) SetReady(ready bool) {
	s.ready.Store(ready)
}

// UpdateConfig swaps the configuration shown by /debug/config.
func (s *AdminServer) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Start binds the admin listener. It returns once bound; serve errors
// are logged.
func (s *AdminServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()

	s.logger.Info("admin listener started",
		observability.String("addr", ln.Addr().String()),
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin listener failed", observability.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *AdminServer) Addr() string {
	return s.addr
}

// Handler exposes the underlying engine for tests.
func (s *AdminServer) Handler() http.Handler {
	return s.engine
}

// Stop drains the admin server.
func (s *AdminServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
