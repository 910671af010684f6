package ratelimit

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/observability"
)

// Ensure RedisLimiter implements Limiter and io.Closer.
var (
	_ Limiter   = (*RedisLimiter)(nil)
	_ io.Closer = (*RedisLimiter)(nil)
)

// redisKeyPrefix namespaces limiter keys in a shared redis.
const redisKeyPrefix = "gpanel:ratelimit:"

// tokenBucketScript atomically refills and drains a bucket stored as a
// redis hash. Keys idle past the TTL expire server-side.
//
// KEYS[1] = bucket key
// ARGV[1] = rate (tokens per second, float)
// ARGV[2] = capacity
// ARGV[3] = tokens requested
// ARGV[4] = now (unix microseconds)
// ARGV[5] = ttl (seconds)
//
// Returns {allowed (0/1), remaining (whole tokens), deficit_us}.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local requested = tonumber(ARGV[3])
	local now = tonumber(ARGV[4])
	local ttl = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last')
	local tokens = tonumber(state[1])
	local last = tonumber(state[2])

	if tokens == nil then
		tokens = capacity
		last = now
	end

	local elapsed = math.max(0, now - last)
	tokens = math.min(capacity, tokens + elapsed / 1000000 * rate)

	local allowed = 0
	local deficit_us = 0
	if tokens >= requested then
		allowed = 1
		tokens = tokens - requested
	else
		deficit_us = math.ceil((requested - tokens) / rate * 1000000)
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last', now)
	redis.call('EXPIRE', key, ttl)

	return {allowed, math.floor(tokens), deficit_us}
`)

// RedisLimiter implements distributed token bucket rate limiting
// backed by redis. All limiter instances sharing the redis see one
// bucket per key.
type RedisLimiter struct {
	client *redis.Client
	rate   float64
	limit  int
	burst  int
	ttl    time.Duration
	logger observability.Logger

	mu     sync.Mutex
	closed bool
}

// NewRedisLimiter creates a redis-backed limiter and verifies
// connectivity with a ping.
func NewRedisLimiter(cfg config.RateLimitConfig, opts ...Option) (*RedisLimiter, error) {
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

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.Redis.Addr,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Store.Redis.Addr, err)
	}

	return &RedisLimiter{
		client: client,
		rate:   float64(rpm) / 60.0,
		limit:  rpm,
		burst:  burst,
		ttl:    ttl,
		logger: o.logger,
	}, nil
}

// NewRedisLimiterWithClient wraps an existing redis client. Used by
// tests with miniredis.
func NewRedisLimiterWithClient(client *redis.Client, cfg config.RateLimitConfig, opts ...Option) *RedisLimiter {
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

	return &RedisLimiter{
		client: client,
		rate:   float64(rpm) / 60.0,
		limit:  rpm,
		burst:  burst,
		ttl:    ttl,
		logger: o.logger,
	}
}

// Allow implements Limiter.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (r *RedisLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if n <= 0 {
		n = 1
	}

	ttlSeconds := int64(math.Ceil(r.ttl.Seconds()))

	raw, err := tokenBucketScript.Run(ctx, r.client,
		[]string{redisKeyPrefix + key},
		r.rate,
		r.burst,
		n,
		time.Now().UnixMicro(),
		ttlSeconds,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("running token bucket script: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("unexpected script result: %v", raw)
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	deficitMicros, _ := values[2].(int64)

	res := &Result{
		Allowed:   allowed == 1,
		Limit:     r.limit,
		Remaining: int(remaining),
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration(deficitMicros) * time.Microsecond
	}

	return res, nil
}

// Reset implements Limiter.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("resetting bucket %s: %w", key, err)
	}
	return nil
}

// Close implements io.Closer.
func (r *RedisLimiter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	return r.client.Close()
}
