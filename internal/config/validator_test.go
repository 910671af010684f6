package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Pools = []PoolConfig{
		{
			Name:     "bolt",
			Protocol: "http",
			Strategy: "round_robin",
			Instances: []InstanceConfig{
				{Address: "127.0.0.1:8080", Weight: 1},
			},
			HealthCheck: HealthCheckConfig{
				Path:               "/health",
				Interval:           Duration(10 * time.Second),
				Timeout:            Duration(5 * time.Second),
				HealthyThreshold:   2,
				UnhealthyThreshold: 3,
			},
			ConnectTimeout: Duration(5 * time.Second),
			RequestTimeout: Duration(30 * time.Second),
			RetryBudget:    3,
		},
		{
			Name:     "static",
			Protocol: "http",
			Strategy: "weighted",
			Instances: []InstanceConfig{
				{Address: "127.0.0.1:8081", Weight: 2},
			},
			HealthCheck: HealthCheckConfig{
				Path:               "/health",
				Interval:           Duration(10 * time.Second),
				Timeout:            Duration(5 * time.Second),
				HealthyThreshold:   2,
				UnhealthyThreshold: 3,
			},
			ConnectTimeout: Duration(5 * time.Second),
			RequestTimeout: Duration(30 * time.Second),
			RetryBudget:    3,
		},
	}
	cfg.Routes = []RouteConfig{
		{Pattern: "/api/containers/*", Pool: "bolt", FallbackPool: "static"},
		{Pattern: "/api/stats", Pool: InternalStatsPool},
		{Pattern: "/*", Pool: "static"},
	}
	return cfg
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateNilConfig(t *testing.T) {
	t.Parallel()
	assert.Error(t, Validate(nil))
}

func TestValidateListeners(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty quic addr", func(c *Config) { c.Listeners.QUICAddr = "" }, "listeners.quicAddr"},
		{"empty http addr", func(c *Config) { c.Listeners.HTTPAddr = "" }, "listeners.httpAddr"},
		{"same addr", func(c *Config) { c.Listeners.HTTPAddr = c.Listeners.QUICAddr }, "must differ"},
		{"zero max connections", func(c *Config) { c.Listeners.MaxConnections = 0 }, "maxConnections"},
		{"negative accept rate", func(c *Config) { c.Listeners.AcceptRate = -1 }, "acceptRate"},
		{"cert without key", func(c *Config) { c.Listeners.TLS.CertFile = "cert.pem" }, "set together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidatePools(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty name", func(c *Config) { c.Pools[0].Name = "" }, "name"},
		{"reserved name", func(c *Config) { c.Pools[0].Name = InternalStatsPool }, "reserved"},
		{"duplicate name", func(c *Config) { c.Pools[1].Name = "bolt" }, "duplicate"},
		{"unknown protocol", func(c *Config) { c.Pools[0].Protocol = "spdy" }, "protocol"},
		{"unknown strategy", func(c *Config) { c.Pools[0].Strategy = "random" }, "strategy"},
		{"no instances", func(c *Config) { c.Pools[0].Instances = nil }, "instances"},
		{"empty address", func(c *Config) { c.Pools[0].Instances[0].Address = "" }, "address"},
		{"negative weight", func(c *Config) { c.Pools[0].Instances[0].Weight = -1 }, "weight"},
		{"zero interval", func(c *Config) { c.Pools[0].HealthCheck.Interval = 0 }, "interval"},
		{"zero timeout", func(c *Config) { c.Pools[0].HealthCheck.Timeout = 0 }, "timeout"},
		{"zero healthy threshold", func(c *Config) { c.Pools[0].HealthCheck.HealthyThreshold = 0 }, "healthyThreshold"},
		{"zero unhealthy threshold", func(c *Config) { c.Pools[0].HealthCheck.UnhealthyThreshold = 0 }, "unhealthyThreshold"},
		{"zero retry budget", func(c *Config) { c.Pools[0].RetryBudget = 0 }, "retryBudget"},
		{"breaker zero failures", func(c *Config) {
			c.Pools[0].CircuitBreaker = &CircuitBreakerConfig{Timeout: Duration(time.Second)}
		}, "maxFailures"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no routes", func(c *Config) { c.Routes = nil }, "routes"},
		{"empty pattern", func(c *Config) { c.Routes[0].Pattern = "" }, "pattern"},
		{"relative pattern", func(c *Config) { c.Routes[0].Pattern = "api/*" }, "must start with /"},
		{"unknown pool", func(c *Config) { c.Routes[0].Pool = "ghost" }, "unknown pool"},
		{"unknown fallback", func(c *Config) { c.Routes[0].FallbackPool = "ghost" }, "unknown pool"},
		{"stats as fallback", func(c *Config) { c.Routes[0].FallbackPool = InternalStatsPool }, "cannot be a fallback"},
		{"fallback equals pool", func(c *Config) { c.Routes[0].FallbackPool = "bolt" }, "must differ"},
		{"missing catch-all", func(c *Config) { c.Routes = c.Routes[:2] }, "catch-all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("disabled skips checks", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.RateLimit = RateLimitConfig{Enabled: false}
		assert.NoError(t, Validate(cfg))
	})

	t.Run("zero rpm", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.RateLimit.RequestsPerMinute = 0
		assert.ErrorContains(t, Validate(cfg), "requestsPerMinute")
	})

	t.Run("redis without addr", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.RateLimit.Store = RateLimitStoreConfig{Type: "redis"}
		assert.ErrorContains(t, Validate(cfg), "redis.addr")
	})

	t.Run("unknown store", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.RateLimit.Store.Type = "dynamo"
		assert.ErrorContains(t, Validate(cfg), "store.type")
	})
}

func TestValidateAuth(t *testing.T) {
	t.Parallel()

	t.Run("required without key source", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Auth.Required = true
		assert.ErrorContains(t, Validate(cfg), "jwksUrl")
	})

	t.Run("multiple key sources", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Auth.Required = true
		cfg.Auth.JWKSURL = "https://idp/jwks"
		cfg.Auth.Secret = "shh"
		assert.ErrorContains(t, Validate(cfg), "mutually exclusive")
	})

	t.Run("required with jwks", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Auth.Required = true
		cfg.Auth.JWKSURL = "https://idp/jwks"
		assert.NoError(t, Validate(cfg))
	})
}

func TestValidationErrorsFormatting(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Listeners.QUICAddr = ""
	cfg.Listeners.HTTPAddr = ""

	err := Validate(cfg)
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.HasErrors())
	assert.Contains(t, verrs.Error(), "validation errors")
}
