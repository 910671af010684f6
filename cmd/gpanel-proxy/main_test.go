package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/CK-Technology/ghostpanel/internal/config"
)

func TestPoolsChanged(t *testing.T) {
	t.Parallel()

	withBreaker := func() *config.Config {
		cfg := config.DefaultConfig()
		cfg.Pools = []config.PoolConfig{{
			Name:      "pve-api",
			Instances: []config.InstanceConfig{{Address: "10.0.0.1:8006"}},
			CircuitBreaker: &config.CircuitBreakerConfig{
				MaxFailures: 5,
				Interval:    config.Duration(time.Minute),
			},
		}}
		return cfg
	}

	t.Run("identical configs compare equal", func(t *testing.T) {
		t.Parallel()
		// Two separate loads produce distinct breaker pointers; only
		// the pointed-to values may differ.
		assert.False(t, poolsChanged(withBreaker(), withBreaker()))
	})

	t.Run("route-only change is not a restart", func(t *testing.T) {
		t.Parallel()
		a, b := withBreaker(), withBreaker()
		b.Routes = []config.RouteConfig{{Pattern: "/*", Pool: "pve-api"}}
		assert.False(t, poolsChanged(a, b))
	})

	t.Run("pool change requires a restart", func(t *testing.T) {
		t.Parallel()
		a, b := withBreaker(), withBreaker()
		b.Pools[0].CircuitBreaker.MaxFailures = 9
		assert.True(t, poolsChanged(a, b))
	})
}

func TestAltSvcValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `h3=":9443"; ma=86400`, altSvcValue(":9443"))
	assert.Equal(t, `h3=":8443"; ma=86400`, altSvcValue("10.0.0.1:8443"))
	assert.Equal(t, `h3=":443"; ma=86400`, altSvcValue("bad-addr"))
}
