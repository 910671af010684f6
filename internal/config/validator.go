package config

import (
	"fmt"
	"strings"
)

// InternalStatsPool is the reserved pool name that routes to the
// built-in statistics handler instead of a backend pool.
const InternalStatsPool = "@stats"

// CatchAllPattern is the pattern every route table must end with.
const CatchAllPattern = "/*"

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates proxy configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the configuration and returns an error when any
// check fails. Validation happens before any socket binds; a failure
// is fatal at startup and rejected (old snapshot kept) on reload.
func Validate(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}

// Validate runs all checks against cfg.
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Message: "config is nil"}
	}

	v.validateListeners(&cfg.Listeners)
	v.validatePools(cfg.Pools)
	v.validateRoutes(cfg.Routes, cfg.Pools)
	v.validateRateLimit(&cfg.RateLimit)
	v.validateAuth(&cfg.Auth)
	v.validateSecurity(&cfg.Security)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateListeners(l *ListenersConfig) {
	if l.QUICAddr == "" {
		v.addError("listeners.quicAddr", "must not be empty")
	}
	if l.HTTPAddr == "" {
		v.addError("listeners.httpAddr", "must not be empty")
	}
	if l.QUICAddr != "" && l.QUICAddr == l.HTTPAddr {
		v.addError("listeners", "quicAddr and httpAddr must differ")
	}
	if l.MaxConnections <= 0 {
		v.addError("listeners.maxConnections", "must be positive")
	}
	if l.IdleTimeout < 0 {
		v.addError("listeners.idleTimeout", "must not be negative")
	}
	if l.AcceptRate < 0 {
		v.addError("listeners.acceptRate", "must not be negative")
	}
	if (l.TLS.CertFile == "") != (l.TLS.KeyFile == "") {
		v.addError("listeners.tls", "certFile and keyFile must be set together")
	}
}

func (v *Validator) validatePools(pools []PoolConfig) {
	seen := make(map[string]bool, len(pools))

	for i, p := range pools {
		path := fmt.Sprintf("pools[%d]", i)

		if p.Name == "" {
			v.addError(path+".name", "must not be empty")
		} else {
			if p.Name == InternalStatsPool {
				v.addError(path+".name", fmt.Sprintf("%q is reserved", InternalStatsPool))
			}
			if seen[p.Name] {
				v.addError(path+".name", fmt.Sprintf("duplicate pool name %q", p.Name))
			}
			seen[p.Name] = true
		}

		switch p.Protocol {
		case "http", "h3":
		default:
			v.addError(path+".protocol", fmt.Sprintf("unknown protocol %q (must be http or h3)", p.Protocol))
		}

		switch p.Strategy {
		case "round_robin", "least_connections", "weighted":
		default:
			v.addError(path+".strategy", fmt.Sprintf("unknown strategy %q", p.Strategy))
		}

		if len(p.Instances) == 0 {
			v.addError(path+".instances", "must not be empty")
		}
		for j, inst := range p.Instances {
			if inst.Address == "" {
				v.addError(fmt.Sprintf("%s.instances[%d].address", path, j), "must not be empty")
			}
			if inst.Weight < 0 {
				v.addError(fmt.Sprintf("%s.instances[%d].weight", path, j), "must not be negative")
			}
		}

		if p.HealthCheck.Interval <= 0 {
			v.addError(path+".healthCheck.interval", "must be positive")
		}
		if p.HealthCheck.Timeout <= 0 {
			v.addError(path+".healthCheck.timeout", "must be positive")
		}
		if p.HealthCheck.HealthyThreshold <= 0 {
			v.addError(path+".healthCheck.healthyThreshold", "must be positive")
		}
		if p.HealthCheck.UnhealthyThreshold <= 0 {
			v.addError(path+".healthCheck.unhealthyThreshold", "must be positive")
		}

		if p.RetryBudget <= 0 {
			v.addError(path+".retryBudget", "must be positive")
		}

		if cb := p.CircuitBreaker; cb != nil {
			if cb.MaxFailures <= 0 {
				v.addError(path+".circuitBreaker.maxFailures", "must be positive")
			}
			if cb.Timeout <= 0 {
				v.addError(path+".circuitBreaker.timeout", "must be positive")
			}
		}
	}
}

func (v *Validator) validateRoutes(routes []RouteConfig, pools []PoolConfig) {
	if len(routes) == 0 {
		v.addError("routes", "must not be empty")
		return
	}

	poolNames := make(map[string]bool, len(pools))
	for _, p := range pools {
		poolNames[p.Name] = true
	}

	hasCatchAll := false
	for i, r := range routes {
		path := fmt.Sprintf("routes[%d]", i)

		if r.Pattern == "" {
			v.addError(path+".pattern", "must not be empty")
		} else if !strings.HasPrefix(r.Pattern, "/") {
			v.addError(path+".pattern", "must start with /")
		}
		if r.Pattern == CatchAllPattern {
			hasCatchAll = true
		}

		if r.Pool == "" {
			v.addError(path+".pool", "must not be empty")
		} else if r.Pool != InternalStatsPool && !poolNames[r.Pool] {
			v.addError(path+".pool", fmt.Sprintf("unknown pool %q", r.Pool))
		}

		if r.FallbackPool != "" {
			if r.FallbackPool == InternalStatsPool {
				v.addError(path+".fallbackPool", fmt.Sprintf("%q cannot be a fallback", InternalStatsPool))
			} else if !poolNames[r.FallbackPool] {
				v.addError(path+".fallbackPool", fmt.Sprintf("unknown pool %q", r.FallbackPool))
			}
			if r.FallbackPool == r.Pool {
				v.addError(path+".fallbackPool", "must differ from pool")
			}
		}
	}

	// A table without a catch-all could leave requests unroutable.
	if !hasCatchAll {
		v.addError("routes", fmt.Sprintf("must contain a catch-all route %q", CatchAllPattern))
	}
}

func (v *Validator) validateRateLimit(rl *RateLimitConfig) {
	if !rl.Enabled {
		return
	}
	if rl.RequestsPerMinute <= 0 {
		v.addError("rateLimit.requestsPerMinute", "must be positive")
	}
	if rl.Burst <= 0 {
		v.addError("rateLimit.burst", "must be positive")
	}
	if rl.TTL <= 0 {
		v.addError("rateLimit.ttl", "must be positive")
	}

	switch rl.Store.Type {
	case "", "memory":
	case "redis":
		if rl.Store.Redis.Addr == "" {
			v.addError("rateLimit.store.redis.addr", "must not be empty")
		}
	default:
		v.addError("rateLimit.store.type", fmt.Sprintf("unknown store type %q", rl.Store.Type))
	}
}

func (v *Validator) validateAuth(a *AuthConfig) {
	if !a.Required {
		return
	}

	sources := 0
	if a.JWKSURL != "" {
		sources++
	}
	if a.Secret != "" {
		sources++
	}
	if a.PublicKeyFile != "" {
		sources++
	}
	if sources == 0 {
		v.addError("auth", "one of jwksUrl, secret, or publicKeyFile is required")
	}
	if sources > 1 {
		v.addError("auth", "jwksUrl, secret, and publicKeyFile are mutually exclusive")
	}
}

func (v *Validator) validateSecurity(s *SecurityConfig) {
	switch s.MinTLSVersion {
	case "", "1.2", "1.3":
	default:
		v.addError("security.minTlsVersion", fmt.Sprintf("unknown TLS version %q", s.MinTLSVersion))
	}
}
