package pool

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/observability"
)

// Breaker defaults applied when the pool config leaves them unset.
const (
	defaultBreakerMaxFailures = 5
	defaultBreakerInterval    = time.Minute
	defaultBreakerTimeout     = 30 * time.Second
	defaultBreakerMaxRequests = 1
)

// newBreaker builds the per-pool circuit breaker. A nil config yields
// a breaker with defaults rather than no breaker, so every pool gets
// failure isolation.
func newBreaker(name string, cfg *config.CircuitBreakerConfig, logger observability.Logger) *gobreaker.CircuitBreaker {
	maxFailures := defaultBreakerMaxFailures
	interval := defaultBreakerInterval
	timeout := defaultBreakerTimeout
	maxRequests := uint32(defaultBreakerMaxRequests)

	if cfg != nil {
		if cfg.MaxFailures > 0 {
			maxFailures = cfg.MaxFailures
		}
		if cfg.Interval > 0 {
			interval = time.Duration(cfg.Interval)
		}
		if cfg.Timeout > 0 {
			timeout = time.Duration(cfg.Timeout)
		}
		if cfg.MaxRequests > 0 {
			maxRequests = uint32(cfg.MaxRequests)
		}
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				observability.String("pool", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
}
