package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/metrics"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// QUICServer is the primary HTTP/3 listener. QUIC multiplexes
// requests over a single UDP association, so there is no TCP-style
// accept hook; the connection cap is enforced per request before the
// handler runs, and connection accounting brackets each request.
type QUICServer struct {
	addr    string
	server  *http3.Server
	tracker *ConnectionTracker
	logger  observability.Logger
}

// NewQUICServer creates the HTTP/3 listener. tlsConfig must carry a
// certificate; NextProtos is adjusted for h3 internally.
func NewQUICServer(cfg config.ListenersConfig, handler http.Handler, tracker *ConnectionTracker, tlsConfig *tls.Config, logger observability.Logger) *QUICServer {
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &QUICServer{
		addr:    cfg.QUICAddr,
		tracker: tracker,
		logger:  logger,
	}

	s.server = &http3.Server{
		Addr:      cfg.QUICAddr,
		TLSConfig: http3.ConfigureTLSConfig(tlsConfig),
		Handler:   s.admit(handler),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: cfg.IdleTimeout.Duration(),
		},
	}

	return s
}

// admit wraps the handler with connection accounting for the quic
// transport. Each request reserves a slot in the shared tracker so
// the connection cap spans both listeners.
func (s *QUICServer) admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, err := s.tracker.Reserve(r.RemoteAddr, metrics.TransportQUIC)
		if err != nil {
			s.logger.Warn("quic request rejected",
				observability.String("remote_addr", r.RemoteAddr),
				observability.Error(err),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":true,"code":"connection_limit","message":"connection limit reached"}`))
			return
		}
		defer s.tracker.Release(tc)

		ctx := util.ContextWithTransport(r.Context(), metrics.TransportQUIC)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start binds the UDP listener and serves until Stop. It returns once
// the listener is bound; serve errors are logged.
func (s *QUICServer) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolving quic address %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("binding quic listener on %s: %w", s.addr, err)
	}
	s.addr = conn.LocalAddr().String()

	s.logger.Info("quic listener started",
		observability.String("addr", conn.LocalAddr().String()),
	)

	go func() {
		if err := s.server.Serve(conn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("quic listener failed", observability.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *QUICServer) Addr() string {
	return s.addr
}

// SetQUICHeaders adds the Alt-Svc advertisement for this listener to
// an HTTP/1.1 response.
func (s *QUICServer) SetQUICHeaders(h http.Header) error {
	return s.server.SetQUICHeaders(h)
}

// Stop closes the listener gracefully.
func (s *QUICServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
