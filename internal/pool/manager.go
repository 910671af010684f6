package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/metrics"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// Manager owns all configured pools.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool

	logger  observability.Logger
	metrics *metrics.Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerMetrics sets the metrics sink.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// NewManager builds every configured pool. Pool names must be unique.
func NewManager(cfgs []config.PoolConfig, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		pools:   make(map[string]*Pool, len(cfgs)),
		logger:  observability.NopLogger(),
		metrics: metrics.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, cfg := range cfgs {
		if _, exists := m.pools[cfg.Name]; exists {
			return nil, util.NewConfigError("pools.name", fmt.Sprintf("duplicate pool %q", cfg.Name))
		}
		p, err := New(cfg,
			WithLogger(m.logger.With(observability.String("pool", cfg.Name))),
			WithMetrics(m.metrics),
		)
		if err != nil {
			return nil, err
		}
		m.pools[cfg.Name] = p
	}

	return m, nil
}

// Get returns the named pool.
func (m *Manager) Get(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Names returns all pool names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll launches the health checkers of every pool.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.pools {
		p.Start(ctx)
	}
	m.logger.Info("pools started", observability.Int("count", len(m.pools)))
}

// StopAll halts every pool's health checker.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.pools {
		p.Stop()
	}
	m.logger.Info("pools stopped")
}
