// Package proxy implements the request engine: authentication, rate
// limiting, route resolution, and forwarding to backend pools with
// retry and failover.
package proxy

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/CK-Technology/ghostpanel/internal/auth"
	"github.com/CK-Technology/ghostpanel/internal/metrics"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/pool"
	"github.com/CK-Technology/ghostpanel/internal/ratelimit"
	"github.com/CK-Technology/ghostpanel/internal/router"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// Proxy is the http.Handler shared by the QUIC and HTTP/1.1
// listeners.
type Proxy struct {
	router  *router.Router
	pools   *pool.Manager
	gate    *auth.Gate
	limiter ratelimit.Limiter
	keyFn   ratelimit.KeyFunc
	caps    *CapabilityCache
	stats   *StatsHandler

	// altSvc is the Alt-Svc header value advertised to HTTP/1.1
	// clients not yet known to speak h3. Empty disables advertising.
	altSvc string

	logger  observability.Logger
	metrics *metrics.Metrics
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Proxy) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithAltSvc sets the Alt-Svc value advertised on fallback responses.
func WithAltSvc(value string) Option {
	return func(p *Proxy) {
		p.altSvc = value
	}
}

// WithKeyFunc overrides the rate limit key extractor.
func WithKeyFunc(fn ratelimit.KeyFunc) Option {
	return func(p *Proxy) {
		if fn != nil {
			p.keyFn = fn
		}
	}
}

// New builds the proxy engine.
func New(rt *router.Router, pools *pool.Manager, gate *auth.Gate, limiter ratelimit.Limiter, opts ...Option) *Proxy {
	p := &Proxy{
		router:  rt,
		pools:   pools,
		gate:    gate,
		limiter: limiter,
		keyFn:   ratelimit.IdentityKey,
		caps:    NewCapabilityCache(DefaultCapabilityTTL),
		logger:  observability.NopLogger(),
		metrics: metrics.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.stats = NewStatsHandler(p.metrics)

	return p
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := util.ContextWithRequestID(r.Context(), uuid.NewString())
	ctx = util.ContextWithStartTime(ctx, start)

	transport := util.TransportFromContext(ctx)
	if transport == "" {
		transport = metrics.TransportHTTP
		ctx = util.ContextWithTransport(ctx, transport)
	}
	r = r.WithContext(ctx)

	sw := util.NewStatusCapturingResponseWriter(w)

	poolLabel := "none"
	defer func() {
		p.metrics.RecordRequest(poolLabel, transport, sw.StatusCode, time.Since(start))
		if sw.BytesWritten > 0 {
			p.metrics.RecordBytes(metrics.DirectionOut, sw.BytesWritten)
		}
		if r.ContentLength > 0 {
			p.metrics.RecordBytes(metrics.DirectionIn, r.ContentLength)
		}
	}()

	// Route first: the Public flag decides whether the auth gate
	// applies, so matching precedes authentication.
	rule, err := p.router.Match(r.URL.Path)
	if err != nil {
		p.respondError(sw, r, util.NewRoutingError(r.URL.Path))
		return
	}
	ctx = util.ContextWithRoute(ctx, rule.Pattern)
	r = r.WithContext(ctx)

	if p.gate.Required() && !rule.Public {
		identity, err := p.gate.Authenticate(r)
		if err != nil {
			p.metrics.RecordAuthFailure(authFailureReason(err))
			p.respondError(sw, r, err)
			return
		}
		if identity != nil {
			ctx = util.ContextWithSubject(ctx, identity.Subject)
			r = r.WithContext(ctx)
		}
	}

	if !p.allowRequest(sw, r) {
		return
	}

	// Transport capability bookkeeping: h3 arrivals prove the client
	// speaks h3; fallback responses advertise it to everyone else.
	identityKey := p.keyFn(r)
	if transport == metrics.TransportQUIC {
		p.caps.MarkH3(identityKey)
	} else if p.altSvc != "" && !p.caps.KnownH3(identityKey) {
		sw.Header().Set("Alt-Svc", p.altSvc)
	}

	if rule.IsInternal() {
		poolLabel = router.InternalStatsPool
		p.stats.ServeHTTP(sw, r)
		return
	}

	poolLabel = rule.Pool
	ctx = util.ContextWithPool(ctx, rule.Pool)
	r = r.WithContext(ctx)

	if isWebSocketUpgrade(r) {
		// The upgrader needs the hijackable original writer. Status
		// is recorded manually since 101 bypasses the wrapper.
		p.serveWebSocket(w, sw, r, rule)
		return
	}

	p.serve(sw, r, rule)
}

// allowRequest runs the rate limiter. Limiter backend errors fail
// open: an unreachable redis must not take down the data path.
func (p *Proxy) allowRequest(w http.ResponseWriter, r *http.Request) bool {
	key := p.keyFn(r)

	res, err := p.limiter.Allow(r.Context(), key)
	if err != nil {
		p.logger.Warn("rate limiter unavailable, admitting request",
			observability.String("key", key),
			observability.Error(err),
		)
		p.metrics.RecordError("rate_limiter_unavailable")
		return true
	}

	if !res.Allowed {
		p.metrics.RecordRateLimitRejection()
		p.respondError(w, r, util.NewRateLimitError(key, res.Limit, res.RetryAfter))
		return false
	}

	return true
}

// serve resolves the pool and forwards, escalating to the fallback
// pool when the primary has no capacity.
func (p *Proxy) serve(w http.ResponseWriter, r *http.Request, rule *router.Rule) {
	primary, ok := p.pools.Get(rule.Pool)
	if !ok {
		p.respondError(w, r, util.NewUnavailableError(rule.Pool))
		return
	}

	err := p.forward(w, r, primary)
	if err == nil {
		return
	}

	if rule.FallbackPool != "" && isPoolUnavailable(err) {
		if fallback, ok := p.pools.Get(rule.FallbackPool); ok {
			p.logger.Info("escalating to fallback pool",
				observability.String("pool", rule.Pool),
				observability.String("fallback", rule.FallbackPool),
				observability.String("path", r.URL.Path),
			)
			ferr := p.forward(w, r, fallback)
			if ferr == nil {
				return
			}
			err = ferr
		}
	}

	p.respondError(w, r, err)
}

// authFailureReason maps gate errors to a bounded metric label.
func authFailureReason(err error) string {
	var authErr *util.AuthError
	if errors.As(err, &authErr) {
		switch authErr.Reason {
		case "missing credentials":
			return "missing"
		case "malformed credentials", "empty token":
			return "malformed"
		}
	}
	return "invalid"
}
