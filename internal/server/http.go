package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/metrics"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// HTTPServer is the TCP fallback listener for clients that cannot
// speak HTTP/3. It serves the same handler as the QUIC listener and
// shares its connection tracker.
type HTTPServer struct {
	addr    string
	server  *http.Server
	tracker *ConnectionTracker
	logger  observability.Logger

	idleTimeout time.Duration
	acceptRate  float64
	tlsConfig   *tls.Config
}

// NewHTTPServer creates the fallback server. tlsConfig may be nil for
// plaintext listening (development).
func NewHTTPServer(cfg config.ListenersConfig, handler http.Handler, tracker *ConnectionTracker, tlsConfig *tls.Config, logger observability.Logger) *HTTPServer {
	if logger == nil {
		logger = observability.NopLogger()
	}

	wrapped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := util.ContextWithTransport(r.Context(), metrics.TransportHTTP)
		handler.ServeHTTP(w, r.WithContext(ctx))
	})

	s := &HTTPServer{
		addr:        cfg.HTTPAddr,
		tracker:     tracker,
		logger:      logger,
		idleTimeout: cfg.IdleTimeout.Duration(),
		acceptRate:  cfg.AcceptRate,
		tlsConfig:   tlsConfig,
	}

	s.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           wrapped,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       s.idleTimeout,
	}

	return s
}

// Start binds the listener and serves until Stop. It returns once the
// listener is bound; serve errors are logged.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding http listener on %s: %w", s.addr, err)
	}

	s.addr = ln.Addr().String()
	tracked := newTrackedListener(ln, s.tracker, metrics.TransportHTTP, s.idleTimeout, s.acceptRate, s.logger)

	s.logger.Info("http listener started",
		observability.String("addr", ln.Addr().String()),
		observability.Bool("tls", s.tlsConfig != nil),
	)

	go func() {
		var err error
		if s.tlsConfig != nil {
			s.server.TLSConfig = s.tlsConfig
			err = s.server.Serve(tls.NewListener(tracked, s.tlsConfig))
		} else {
			err = s.server.Serve(tracked)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http listener failed", observability.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *HTTPServer) Addr() string {
	return s.addr
}

// Stop drains the server within the context deadline.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
