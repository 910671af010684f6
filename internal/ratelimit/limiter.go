// Package ratelimit provides per-identity token bucket rate limiting
// for the proxy. Buckets refill continuously at the configured
// requests-per-minute rate and allow bursts up to the bucket capacity.
package ratelimit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/observability"
)

// Limiter is the interface implemented by all rate limiter backends.
type Limiter interface {
	// Allow reports whether a single request for key may proceed.
	Allow(ctx context.Context, key string) (*Result, error)

	// AllowN reports whether n requests for key may proceed.
	AllowN(ctx context.Context, key string, n int) (*Result, error)

	// Reset clears the bucket for key.
	Reset(ctx context.Context, key string) error

	io.Closer
}

// Result describes the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the sustained limit in requests per minute.
	Limit int

	// Remaining is the number of whole tokens left in the bucket.
	Remaining int

	// RetryAfter is the time until the next token becomes available.
	// Zero when Allowed is true.
	RetryAfter time.Duration
}

// New builds a Limiter from configuration. A disabled config yields a
// NoopLimiter that admits everything.
func New(cfg config.RateLimitConfig, logger observability.Logger) (Limiter, error) {
	if !cfg.Enabled {
		return NewNoopLimiter(), nil
	}

	switch cfg.Store.Type {
	case "", "memory":
		return NewTokenBucket(cfg, WithLogger(logger)), nil
	case "redis":
		return NewRedisLimiter(cfg, WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown rate limit store type: %q", cfg.Store.Type)
	}
}

// Option configures a limiter.
type Option func(*options)

type options struct {
	logger observability.Logger
	clock  func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger: observability.NopLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NoopLimiter admits every request.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that never rejects.
func NewNoopLimiter() *NoopLimiter { return &NoopLimiter{} }

// Allow implements Limiter.
func (n *NoopLimiter) Allow(_ context.Context, _ string) (*Result, error) {
	return &Result{Allowed: true, Remaining: 1}, nil
}

// AllowN implements Limiter.
func (n *NoopLimiter) AllowN(_ context.Context, _ string, _ int) (*Result, error) {
	return &Result{Allowed: true, Remaining: 1}, nil
}

// Reset implements Limiter.
func (n *NoopLimiter) Reset(_ context.Context, _ string) error { return nil }

// Close implements io.Closer.
func (n *NoopLimiter) Close() error { return nil }
