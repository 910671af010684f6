package pool

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/metrics"
	"github.com/CK-Technology/ghostpanel/internal/observability"
)

// Checker probes pool instances on an interval and flips their status
// after consecutive successes or failures cross the configured
// thresholds.
type Checker struct {
	pool   *Pool
	path   string
	client *http.Client

	interval           time.Duration
	healthyThreshold   int
	unhealthyThreshold int

	logger  observability.Logger
	metrics *metrics.Metrics

	mu              sync.Mutex
	successCounts   map[*Instance]int
	failureCounts   map[*Instance]int
	running         bool
	stopCh          chan struct{}
	stoppedCh       chan struct{}
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithCheckerLogger sets the logger.
func WithCheckerLogger(logger observability.Logger) CheckerOption {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCheckerMetrics sets the metrics sink.
func WithCheckerMetrics(m *metrics.Metrics) CheckerOption {
	return func(c *Checker) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithCheckerClient overrides the probe client. Used by tests.
func WithCheckerClient(client *http.Client) CheckerOption {
	return func(c *Checker) {
		if client != nil {
			c.client = client
		}
	}
}

// NewChecker builds a checker for a pool's health check config.
func NewChecker(p *Pool, cfg config.HealthCheckConfig, opts ...CheckerOption) *Checker {
	path := cfg.Path
	if path == "" {
		path = config.DefaultHealthCheckPath
	}
	interval := time.Duration(cfg.Interval)
	if interval <= 0 {
		interval = config.DefaultHealthCheckInterval
	}
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = config.DefaultHealthCheckTimeout
	}
	healthyThreshold := cfg.HealthyThreshold
	if healthyThreshold <= 0 {
		healthyThreshold = config.DefaultHealthyThreshold
	}
	unhealthyThreshold := cfg.UnhealthyThreshold
	if unhealthyThreshold <= 0 {
		unhealthyThreshold = config.DefaultUnhealthyThreshold
	}

	c := &Checker{
		pool:               p,
		path:               path,
		client:             &http.Client{Timeout: timeout},
		interval:           interval,
		healthyThreshold:   healthyThreshold,
		unhealthyThreshold: unhealthyThreshold,
		logger:             observability.NopLogger(),
		metrics:            metrics.Default(),
		successCounts:      make(map[*Instance]int),
		failureCounts:      make(map[*Instance]int),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start launches the probe loop. It probes once immediately so fresh
// pools converge quickly.
func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.stoppedCh = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop halts the probe loop and waits for it to exit.
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	stopped := c.stoppedCh
	c.mu.Unlock()

	<-stopped
}

func (c *Checker) run(ctx context.Context) {
	defer close(c.stoppedCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.checkAll(ctx)

	for {
		select {
		case <-ticker.C:
			c.checkAll(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// checkAll probes every instance concurrently.
func (c *Checker) checkAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, inst := range c.pool.instances {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			c.checkInstance(ctx, inst)
		}(inst)
	}
	wg.Wait()
}

// checkInstance performs one probe. Any transport error, timeout, or
// non-2xx/3xx status counts as a failure.
func (c *Checker) checkInstance(ctx context.Context, inst *Instance) {
	defer inst.markChecked()

	url := fmt.Sprintf("%s://%s%s", c.pool.scheme, inst.Address, c.path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.recordFailure(inst, err)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(inst, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.recordSuccess(inst)
		return
	}
	c.recordFailure(inst, fmt.Errorf("probe returned status %d", resp.StatusCode))
}

func (c *Checker) recordSuccess(inst *Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successCounts[inst]++
	c.failureCounts[inst] = 0

	if c.successCounts[inst] >= c.healthyThreshold && inst.Status() != StatusHealthy {
		inst.SetStatus(StatusHealthy)
		c.logger.Info("instance became healthy",
			observability.String("pool", c.pool.name),
			observability.String("instance", inst.Address),
		)
		c.metrics.SetPoolHealthyInstances(c.pool.name, c.pool.HealthyCount())
	}
}

func (c *Checker) recordFailure(inst *Instance, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCounts[inst]++
	c.successCounts[inst] = 0

	if c.failureCounts[inst] >= c.unhealthyThreshold && inst.Status() != StatusUnhealthy {
		inst.SetStatus(StatusUnhealthy)
		c.logger.Warn("instance became unhealthy",
			observability.String("pool", c.pool.name),
			observability.String("instance", inst.Address),
			observability.Error(err),
		)
		c.metrics.SetPoolHealthyInstances(c.pool.name, c.pool.HealthyCount())
	}
}

// IsRunning reports whether the probe loop is active.
func (c *Checker) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
