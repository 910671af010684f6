package pool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/metrics"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// Pool is a named set of backend instances behind one balancer, one
// health checker, and one circuit breaker.
type Pool struct {
	name      string
	scheme    string
	instances []*Instance
	balancer  Balancer
	checker   *Checker
	breaker   *gobreaker.CircuitBreaker
	client    *http.Client

	connectTimeout time.Duration
	requestTimeout time.Duration
	retryBudget    int

	logger  observability.Logger
	metrics *metrics.Metrics
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New builds a pool from configuration.
func New(cfg config.PoolConfig, opts ...Option) (*Pool, error) {
	if cfg.Name == "" {
		return nil, util.NewConfigError("pools.name", "pool name is required")
	}
	if len(cfg.Instances) == 0 {
		return nil, util.NewConfigError("pools.instances", fmt.Sprintf("pool %q has no instances", cfg.Name))
	}

	scheme := "http"
	if cfg.Protocol == "h3" {
		scheme = "https"
	}

	connectTimeout := time.Duration(cfg.ConnectTimeout)
	if connectTimeout <= 0 {
		connectTimeout = config.DefaultConnectTimeout
	}
	requestTimeout := time.Duration(cfg.RequestTimeout)
	if requestTimeout <= 0 {
		requestTimeout = config.DefaultRequestTimeout
	}
	retryBudget := cfg.RetryBudget
	if retryBudget <= 0 {
		retryBudget = config.DefaultRetryBudget
	}

	p := &Pool{
		name:           cfg.Name,
		scheme:         scheme,
		connectTimeout: connectTimeout,
		requestTimeout: requestTimeout,
		retryBudget:    retryBudget,
		logger:         observability.NopLogger(),
		metrics:        metrics.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.instances = make([]*Instance, 0, len(cfg.Instances))
	for _, ic := range cfg.Instances {
		if ic.Address == "" {
			return nil, util.NewConfigError("pools.instances.address",
				fmt.Sprintf("pool %q has an instance without an address", cfg.Name))
		}
		p.instances = append(p.instances, NewInstance(ic.Address, ic.Weight))
	}

	p.balancer = NewBalancer(cfg.Strategy, p.instances)
	p.breaker = newBreaker(cfg.Name, cfg.CircuitBreaker, p.logger)
	p.client = newClient(connectTimeout)
	p.checker = NewChecker(p, cfg.HealthCheck,
		WithCheckerLogger(p.logger),
		WithCheckerMetrics(p.metrics),
	)

	return p, nil
}

// newClient builds the forwarding client for the pool. Request
// deadlines come from the caller's context, not the client.
func newClient(connectTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 0,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Transport: transport,
		// Redirects from backends pass through to the client.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Scheme returns the URL scheme used to reach instances.
func (p *Pool) Scheme() string { return p.scheme }

// Client returns the shared forwarding client.
func (p *Pool) Client() *http.Client { return p.client }

// ConnectTimeout returns the dial timeout.
func (p *Pool) ConnectTimeout() time.Duration { return p.connectTimeout }

// RequestTimeout returns the end-to-end timeout per forward attempt.
func (p *Pool) RequestTimeout() time.Duration { return p.requestTimeout }

// RetryBudget returns the maximum forward attempts per request.
func (p *Pool) RetryBudget() int { return p.retryBudget }

// Instances returns all instances, healthy or not.
func (p *Pool) Instances() []*Instance {
	out := make([]*Instance, len(p.instances))
	copy(out, p.instances)
	return out
}

// HealthyCount returns the number of routable instances.
func (p *Pool) HealthyCount() int {
	return len(routableInstances(p.instances))
}

// Acquire selects an instance and reserves an in-flight slot on it.
// Callers must Release the instance when the request finishes. When
// the circuit is open a CircuitOpenError is returned; when no
// routable instance exists, an UnavailableError wrapping
// ErrPoolExhausted.
func (p *Pool) Acquire() (*Instance, error) {
	if state := p.breaker.State(); state == gobreaker.StateOpen {
		return nil, util.NewCircuitOpenError(p.name, state.String())
	}

	inst := p.balancer.Next()
	if inst == nil {
		return nil, util.NewUnavailableError(p.name)
	}

	inst.acquire()
	return inst, nil
}

// Release returns an acquired instance.
func (p *Pool) Release(inst *Instance) {
	if inst != nil {
		inst.release()
	}
}

// Execute runs one forward attempt through the circuit breaker so
// failures trip it and an open circuit short-circuits callers.
func (p *Pool) Execute(fn func() (interface{}, error)) (interface{}, error) {
	res, err := p.breaker.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, util.NewCircuitOpenError(p.name, p.breaker.State().String())
	}
	return res, err
}

// RecordSuccess feeds a successful forward into the instance's health
// accounting. Forward outcomes and probe results share the same
// consecutive-count thresholds.
func (p *Pool) RecordSuccess(inst *Instance) {
	p.checker.recordSuccess(inst)
}

// RecordFailure feeds a failed forward into the instance's health
// accounting, so a dead instance is demoted as traffic hits it
// instead of waiting for the next probe tick.
func (p *Pool) RecordFailure(inst *Instance, err error) {
	p.checker.recordFailure(inst, err)
}

// BreakerState returns the circuit breaker state name.
func (p *Pool) BreakerState() string {
	return p.breaker.State().String()
}

// Start launches the health check loop.
func (p *Pool) Start(ctx context.Context) {
	p.checker.Start(ctx)
}

// Stop halts the health check loop and closes idle connections.
func (p *Pool) Stop() {
	p.checker.Stop()
	p.client.CloseIdleConnections()
}
