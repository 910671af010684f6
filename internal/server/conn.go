// Package server owns the client-facing listeners: the QUIC/HTTP3
// primary, the HTTP/1.1 fallback, and the admin surface. Connection
// admission (max connections, accept rate, idle timeout) happens here
// before requests reach the proxy engine.
package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/CK-Technology/ghostpanel/internal/metrics"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// ConnectionTracker tracks live client connections, enforces the
// connection cap, and feeds the byte counters.
type ConnectionTracker struct {
	maxConns int
	count    atomic.Int64
	conns    sync.Map // id -> *TrackedConn

	logger  observability.Logger
	metrics *metrics.Metrics
}

// TrackedConn is one live client connection with metadata.
type TrackedConn struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Transport  string    `json:"transport"`
	StartTime  time.Time `json:"start_time"`

	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	conn    net.Conn
	tracker *ConnectionTracker
	closed  atomic.Bool
}

// NewConnectionTracker creates a tracker with the given cap.
func NewConnectionTracker(maxConns int, logger observability.Logger, m *metrics.Metrics) *ConnectionTracker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &ConnectionTracker{
		maxConns: maxConns,
		logger:   logger,
		metrics:  m,
	}
}

// Add registers a connection. It returns a ConnectionError wrapping
// ErrConnLimit when the cap is reached; the caller must then close
// the connection without serving it.
func (t *ConnectionTracker) Add(conn net.Conn, transport string) (*TrackedConn, error) {
	return t.register(conn, conn.RemoteAddr().String(), transport)
}

// Reserve claims a slot that has no owning net.Conn, such as a
// request multiplexed over a QUIC association. The caller releases
// it with Release.
func (t *ConnectionTracker) Reserve(remoteAddr, transport string) (*TrackedConn, error) {
	return t.register(nil, remoteAddr, transport)
}

// Release returns a reserved slot. Idempotent.
func (t *ConnectionTracker) Release(tc *TrackedConn) {
	t.remove(tc)
}

func (t *ConnectionTracker) register(conn net.Conn, remoteAddr, transport string) (*TrackedConn, error) {
	// Claim before checking so concurrent arrivals cannot slip past
	// the cap between a load and an add.
	if n := t.count.Add(1); t.maxConns > 0 && n > int64(t.maxConns) {
		t.count.Add(-1)
		return nil, util.NewConnectionError(remoteAddr, transport,
			"connection limit reached", util.ErrConnLimit)
	}

	tracked := &TrackedConn{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		Transport:  transport,
		StartTime:  time.Now(),
		conn:       conn,
		tracker:    t,
	}

	t.conns.Store(tracked.ID, tracked)
	t.metrics.ConnectionOpened(transport)

	t.logger.Debug("connection opened",
		observability.String("conn_id", tracked.ID),
		observability.String("remote_addr", tracked.RemoteAddr),
		observability.String("transport", transport),
	)

	return tracked, nil
}

// remove unregisters a connection. Idempotent.
func (t *ConnectionTracker) remove(tc *TrackedConn) {
	if !tc.closed.CompareAndSwap(false, true) {
		return
	}
	t.conns.Delete(tc.ID)
	t.count.Add(-1)
	t.metrics.ConnectionClosed(tc.Transport)

	t.logger.Debug("connection closed",
		observability.String("conn_id", tc.ID),
		observability.String("remote_addr", tc.RemoteAddr),
	)
}

// Count returns the number of live connections.
func (t *ConnectionTracker) Count() int {
	return int(t.count.Load())
}

// AtCapacity reports whether a new connection would exceed the cap.
func (t *ConnectionTracker) AtCapacity() bool {
	return t.maxConns > 0 && int(t.count.Load()) >= t.maxConns
}

// List returns a snapshot of live connections for the debug surface.
func (t *ConnectionTracker) List() []ConnInfo {
	var out []ConnInfo
	t.conns.Range(func(_, v interface{}) bool {
		tc := v.(*TrackedConn)
		out = append(out, ConnInfo{
			ID:         tc.ID,
			RemoteAddr: tc.RemoteAddr,
			Transport:  tc.Transport,
			StartTime:  tc.StartTime,
			BytesIn:    tc.bytesIn.Load(),
			BytesOut:   tc.bytesOut.Load(),
			Age:        time.Since(tc.StartTime).Round(time.Millisecond).String(),
		})
		return true
	})
	return out
}

// ConnInfo is the JSON view of a tracked connection.
type ConnInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Transport  string    `json:"transport"`
	StartTime  time.Time `json:"start_time"`
	BytesIn    int64     `json:"bytes_in"`
	BytesOut   int64     `json:"bytes_out"`
	Age        string    `json:"age"`
}

// CloseAll force-closes every tracked connection. Used at shutdown
// after the drain deadline.
func (t *ConnectionTracker) CloseAll() {
	t.conns.Range(func(_, v interface{}) bool {
		tc := v.(*TrackedConn)
		if tc.conn != nil {
			_ = tc.conn.Close()
		}
		t.remove(tc)
		return true
	})
}

// trackedNetConn wraps a net.Conn to count bytes, refresh the idle
// deadline on activity, and unregister on close.
type trackedNetConn struct {
	net.Conn
	tracked     *TrackedConn
	idleTimeout time.Duration
}

func (c *trackedNetConn) Read(b []byte) (int, error) {
	c.touch()
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.tracked.bytesIn.Add(int64(n))
		c.tracked.tracker.metrics.RecordBytes(metrics.DirectionIn, int64(n))
	}
	return n, err
}

func (c *trackedNetConn) Write(b []byte) (int, error) {
	c.touch()
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.tracked.bytesOut.Add(int64(n))
		c.tracked.tracker.metrics.RecordBytes(metrics.DirectionOut, int64(n))
	}
	return n, err
}

// touch pushes the idle deadline forward.
func (c *trackedNetConn) touch() {
	if c.idleTimeout > 0 {
		_ = c.Conn.SetDeadline(time.Now().Add(c.idleTimeout))
	}
}

func (c *trackedNetConn) Close() error {
	err := c.Conn.Close()
	c.tracked.tracker.remove(c.tracked)
	return err
}
