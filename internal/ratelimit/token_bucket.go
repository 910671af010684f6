package ratelimit

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/observability"
)

// Ensure TokenBucket implements Limiter and io.Closer.
var (
	_ Limiter   = (*TokenBucket)(nil)
	_ io.Closer = (*TokenBucket)(nil)
)

// cleanupInterval is how often idle buckets are scanned for eviction.
const cleanupInterval = time.Minute

// TokenBucket implements in-memory token bucket rate limiting. Each key
// gets its own bucket with capacity equal to the configured burst,
// refilled continuously at requestsPerMinute/60 tokens per second.
type TokenBucket struct {
	rate     float64 // tokens per second
	capacity float64
	limit    int // requests per minute, reported in Result
	ttl      time.Duration
	clock    func() time.Time
	logger   observability.Logger

	buckets sync.Map // key -> *bucket

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// bucket holds the state for a single key.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

// NewTokenBucket creates an in-memory token bucket limiter from the
// rate limit configuration.
func NewTokenBucket(cfg config.RateLimitConfig, opts ...Option) *TokenBucket {
	o := newOptions(opts...)

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = config.DefaultRequestsPerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = config.DefaultBurst
	}
	ttl := time.Duration(cfg.TTL)
	if ttl <= 0 {
		ttl = config.DefaultRateLimitTTL
	}

	tb := &TokenBucket{
		rate:     float64(rpm) / 60.0,
		capacity: float64(burst),
		limit:    rpm,
		ttl:      ttl,
		clock:    o.clock,
		logger:   o.logger,
		done:     make(chan struct{}),
	}

	go tb.evictLoop()

	return tb
}

// Allow implements Limiter.
func (tb *TokenBucket) Allow(ctx context.Context, key string) (*Result, error) {
	return tb.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (tb *TokenBucket) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if n <= 0 {
		n = 1
	}

	now := tb.clock()
	b := tb.bucket(key, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	tb.refill(b, now)
	b.lastAccess = now

	need := float64(n)
	if b.tokens >= need {
		b.tokens -= need
		return &Result{
			Allowed:   true,
			Limit:     tb.limit,
			Remaining: int(b.tokens),
		}, nil
	}

	deficit := need - b.tokens
	retryAfter := time.Duration(math.Ceil(deficit / tb.rate * float64(time.Second)))

	return &Result{
		Allowed:    false,
		Limit:      tb.limit,
		Remaining:  int(b.tokens),
		RetryAfter: retryAfter,
	}, nil
}

// Reset implements Limiter.
func (tb *TokenBucket) Reset(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	tb.buckets.Delete(key)
	return nil
}

// Close implements io.Closer. It stops the eviction goroutine.
func (tb *TokenBucket) Close() error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.closed {
		return nil
	}
	tb.closed = true
	close(tb.done)

	return nil
}

// Size returns the number of tracked buckets.
func (tb *TokenBucket) Size() int {
	count := 0
	tb.buckets.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// bucket returns the bucket for key, creating a full one on first use.
func (tb *TokenBucket) bucket(key string, now time.Time) *bucket {
	if v, ok := tb.buckets.Load(key); ok {
		return v.(*bucket)
	}

	fresh := &bucket{
		tokens:     tb.capacity,
		lastRefill: now,
		lastAccess: now,
	}
	actual, _ := tb.buckets.LoadOrStore(key, fresh)
	return actual.(*bucket)
}

// refill adds tokens accrued since the last refill. Caller holds b.mu.
func (tb *TokenBucket) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(tb.capacity, b.tokens+elapsed*tb.rate)
	b.lastRefill = now
}

// evictLoop removes buckets idle longer than the TTL.
func (tb *TokenBucket) evictLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tb.evictIdle()
		case <-tb.done:
			return
		}
	}
}

func (tb *TokenBucket) evictIdle() {
	now := tb.clock()
	evicted := 0

	tb.buckets.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := now.Sub(b.lastAccess)
		b.mu.Unlock()

		if idle > tb.ttl {
			tb.buckets.Delete(key)
			evicted++
		}
		return true
	})

	if evicted > 0 {
		tb.logger.Debug("evicted idle rate limit buckets",
			observability.Int("count", evicted),
		)
	}
}
