package server

import (
	"context"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/CK-Technology/ghostpanel/internal/observability"
)

// trackedListener enforces the accept rate and the connection cap at
// accept time. Connections over the cap are closed immediately, never
// queued.
type trackedListener struct {
	net.Listener
	tracker     *ConnectionTracker
	transport   string
	idleTimeout time.Duration
	throttle    *rate.Limiter
	logger      observability.Logger
}

// newTrackedListener wraps a listener. acceptRate <= 0 disables the
// throttle.
func newTrackedListener(ln net.Listener, tracker *ConnectionTracker, transport string, idleTimeout time.Duration, acceptRate float64, logger observability.Logger) *trackedListener {
	var throttle *rate.Limiter
	if acceptRate > 0 {
		throttle = rate.NewLimiter(rate.Limit(acceptRate), int(acceptRate)+1)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &trackedListener{
		Listener:    ln,
		tracker:     tracker,
		transport:   transport,
		idleTimeout: idleTimeout,
		throttle:    throttle,
		logger:      logger,
	}
}

// Accept implements net.Listener.
func (l *trackedListener) Accept() (net.Conn, error) {
	for {
		if l.throttle != nil {
			_ = l.throttle.Wait(context.Background())
		}

		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		tracked, err := l.tracker.Add(conn, l.transport)
		if err != nil {
			l.logger.Warn("connection rejected",
				observability.String("remote_addr", conn.RemoteAddr().String()),
				observability.Error(err),
			)
			_ = conn.Close()
			continue
		}

		wrapped := &trackedNetConn{
			Conn:        conn,
			tracked:     tracked,
			idleTimeout: l.idleTimeout,
		}
		wrapped.touch()
		return wrapped, nil
	}
}
