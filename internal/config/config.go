// Package config provides YAML configuration loading, validation, and
// hot-reload watching for the proxy.
package config

import "time"

// Config is the root proxy configuration.
type Config struct {
	Listeners     ListenersConfig     `yaml:"listeners"`
	Pools         []PoolConfig        `yaml:"pools"`
	Routes        []RouteConfig       `yaml:"routes"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit"`
	Auth          AuthConfig          `yaml:"auth"`
	Security      SecurityConfig      `yaml:"security"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ListenersConfig configures the client-facing listeners.
type ListenersConfig struct {
	// QUICAddr is the UDP address the HTTP/3 listener binds.
	QUICAddr string `yaml:"quicAddr"`
	// HTTPAddr is the TCP address the HTTP/1.1 fallback listener binds.
	HTTPAddr string `yaml:"httpAddr"`
	// AdminAddr is the TCP address of the admin/debug surface.
	AdminAddr string `yaml:"adminAddr"`

	TLS TLSConfig `yaml:"tls"`

	// MaxConnections caps concurrently tracked client connections
	// across both listeners. New connections beyond the cap are
	// rejected at accept, never queued.
	MaxConnections int `yaml:"maxConnections"`
	// IdleTimeout closes connections without activity.
	IdleTimeout Duration `yaml:"idleTimeout"`
	// AcceptRate optionally caps accepted connections per second.
	// Zero disables the throttle.
	AcceptRate float64 `yaml:"acceptRate"`
}

// TLSConfig configures listener TLS. When CertFile/KeyFile are empty a
// self-signed certificate is generated at startup (development only).
type TLSConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// PoolConfig configures one named backend pool.
type PoolConfig struct {
	Name      string           `yaml:"name"`
	Protocol  string           `yaml:"protocol"` // http | h3
	Strategy  string           `yaml:"strategy"` // round_robin | least_connections | weighted
	Instances []InstanceConfig `yaml:"instances"`

	HealthCheck HealthCheckConfig `yaml:"healthCheck"`

	ConnectTimeout Duration `yaml:"connectTimeout"`
	RequestTimeout Duration `yaml:"requestTimeout"`

	// RetryBudget is the maximum forward attempts per request.
	RetryBudget int `yaml:"retryBudget"`

	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// InstanceConfig is one backend address inside a pool.
type InstanceConfig struct {
	Address string `yaml:"address"`
	Weight  int    `yaml:"weight"`
}

// HealthCheckConfig configures active health probing for a pool.
type HealthCheckConfig struct {
	Path     string   `yaml:"path"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
	// HealthyThreshold is the consecutive successes required to mark
	// an instance healthy.
	HealthyThreshold int `yaml:"healthyThreshold"`
	// UnhealthyThreshold is the consecutive failures required to mark
	// an instance unhealthy.
	UnhealthyThreshold int `yaml:"unhealthyThreshold"`
}

// CircuitBreakerConfig configures the per-pool circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures int      `yaml:"maxFailures"`
	Interval    Duration `yaml:"interval"`
	Timeout     Duration `yaml:"timeout"`
	MaxRequests int      `yaml:"maxRequests"`
}

// RouteConfig is one ordered routing rule. Pool may name a configured
// pool or the internal target "@stats".
type RouteConfig struct {
	Pattern      string `yaml:"pattern"`
	Pool         string `yaml:"pool"`
	FallbackPool string `yaml:"fallbackPool"`
	// Public routes bypass the auth gate.
	Public bool `yaml:"public"`
}

// RateLimitConfig configures the per-identity token bucket.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerMinute int      `yaml:"requestsPerMinute"`
	Burst             int      `yaml:"burst"`
	// TTL evicts buckets idle longer than this.
	TTL   Duration             `yaml:"ttl"`
	Store RateLimitStoreConfig `yaml:"store"`
}

// RateLimitStoreConfig selects the bucket store backend.
type RateLimitStoreConfig struct {
	// Type is "memory" (default) or "redis".
	Type  string      `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis-backed rate limit store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig configures the bearer auth gate.
type AuthConfig struct {
	// Required turns the gate on. When false all routes behave as
	// public.
	Required bool   `yaml:"required"`
	Header   string `yaml:"header"`
	Prefix   string `yaml:"prefix"`

	// Exactly one of JWKSURL, Secret, or PublicKeyFile selects the
	// validator key source.
	JWKSURL       string `yaml:"jwksUrl"`
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"publicKeyFile"`

	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// SecurityConfig holds transport security settings.
type SecurityConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
	MinTLSVersion  string   `yaml:"minTlsVersion"` // "1.2" | "1.3"
}

// ObservabilityConfig groups logging, metrics and tracing settings.
type ObservabilityConfig struct {
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig configures OTLP tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SampleRate   float64 `yaml:"sampleRate"`
}

// Default values.
const (
	DefaultQUICAddr       = ":9443"
	DefaultHTTPAddr       = ":9080"
	DefaultAdminAddr      = ":9090"
	DefaultMaxConnections = 1000
	DefaultIdleTimeout    = 300 * time.Second

	DefaultHealthCheckPath     = "/health"
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second
	DefaultHealthyThreshold    = 2
	DefaultUnhealthyThreshold  = 3

	DefaultConnectTimeout = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryBudget    = 3

	DefaultRequestsPerMinute = 600
	DefaultBurst             = 100
	DefaultRateLimitTTL      = 10 * time.Minute
)

// DefaultConfig returns a Config with defaults applied. Pools and
// routes must still come from a file; the result does not validate on
// its own.
func DefaultConfig() *Config {
	return &Config{
		Listeners: ListenersConfig{
			QUICAddr:       DefaultQUICAddr,
			HTTPAddr:       DefaultHTTPAddr,
			AdminAddr:      DefaultAdminAddr,
			MaxConnections: DefaultMaxConnections,
			IdleTimeout:    Duration(DefaultIdleTimeout),
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: DefaultRequestsPerMinute,
			Burst:             DefaultBurst,
			TTL:               Duration(DefaultRateLimitTTL),
			Store:             RateLimitStoreConfig{Type: "memory"},
		},
		Auth: AuthConfig{
			Header: "Authorization",
			Prefix: "Bearer ",
		},
		Security: SecurityConfig{
			MinTLSVersion: "1.2",
		},
		Observability: ObservabilityConfig{
			Log:     LogConfig{Level: "info", Format: "json", Output: "stdout"},
			Metrics: MetricsConfig{Enabled: true},
			Tracing: TracingConfig{SampleRate: 1.0},
		},
	}
}

// applyDefaults fills zero-valued fields after unmarshalling.
func (c *Config) applyDefaults() {
	if c.Listeners.QUICAddr == "" {
		c.Listeners.QUICAddr = DefaultQUICAddr
	}
	if c.Listeners.HTTPAddr == "" {
		c.Listeners.HTTPAddr = DefaultHTTPAddr
	}
	if c.Listeners.AdminAddr == "" {
		c.Listeners.AdminAddr = DefaultAdminAddr
	}
	if c.Listeners.MaxConnections == 0 {
		c.Listeners.MaxConnections = DefaultMaxConnections
	}
	if c.Listeners.IdleTimeout == 0 {
		c.Listeners.IdleTimeout = Duration(DefaultIdleTimeout)
	}

	for i := range c.Pools {
		p := &c.Pools[i]
		if p.Protocol == "" {
			p.Protocol = "http"
		}
		if p.Strategy == "" {
			p.Strategy = "round_robin"
		}
		if p.HealthCheck.Path == "" {
			p.HealthCheck.Path = DefaultHealthCheckPath
		}
		if p.HealthCheck.Interval == 0 {
			p.HealthCheck.Interval = Duration(DefaultHealthCheckInterval)
		}
		if p.HealthCheck.Timeout == 0 {
			p.HealthCheck.Timeout = Duration(DefaultHealthCheckTimeout)
		}
		if p.HealthCheck.HealthyThreshold == 0 {
			p.HealthCheck.HealthyThreshold = DefaultHealthyThreshold
		}
		if p.HealthCheck.UnhealthyThreshold == 0 {
			p.HealthCheck.UnhealthyThreshold = DefaultUnhealthyThreshold
		}
		if p.ConnectTimeout == 0 {
			p.ConnectTimeout = Duration(DefaultConnectTimeout)
		}
		if p.RequestTimeout == 0 {
			p.RequestTimeout = Duration(DefaultRequestTimeout)
		}
		if p.RetryBudget == 0 {
			p.RetryBudget = DefaultRetryBudget
		}
		for j := range p.Instances {
			if p.Instances[j].Weight == 0 {
				p.Instances[j].Weight = 1
			}
		}
	}

	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultBurst
	}
	if c.RateLimit.TTL == 0 {
		c.RateLimit.TTL = Duration(DefaultRateLimitTTL)
	}
	if c.RateLimit.Store.Type == "" {
		c.RateLimit.Store.Type = "memory"
	}

	if c.Auth.Header == "" {
		c.Auth.Header = "Authorization"
	}
	if c.Auth.Prefix == "" {
		c.Auth.Prefix = "Bearer "
	}

	if c.Security.MinTLSVersion == "" {
		c.Security.MinTLSVersion = "1.2"
	}

	if c.Observability.Log.Level == "" {
		c.Observability.Log.Level = "info"
	}
	if c.Observability.Log.Format == "" {
		c.Observability.Log.Format = "json"
	}
	if c.Observability.Log.Output == "" {
		c.Observability.Log.Output = "stdout"
	}
	if c.Observability.Tracing.SampleRate == 0 {
		c.Observability.Tracing.SampleRate = 1.0
	}
}

// Pool returns the pool config with the given name, or nil.
func (c *Config) Pool(name string) *PoolConfig {
	for i := range c.Pools {
		if c.Pools[i].Name == name {
			return &c.Pools[i]
		}
	}
	return nil
}
