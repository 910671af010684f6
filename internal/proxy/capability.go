package proxy

import (
	"sync"
	"time"
)

// DefaultCapabilityTTL bounds how long a client's negotiated
// transport is remembered.
const DefaultCapabilityTTL = time.Hour

// CapabilityCache remembers which identities have demonstrated h3
// support, so Alt-Svc advertising can be skipped for clients that
// already upgraded.
type CapabilityCache struct {
	ttl     time.Duration
	clock   func() time.Time
	entries sync.Map // identity key -> expiry time.Time
}

// NewCapabilityCache creates a cache with the given entry TTL.
func NewCapabilityCache(ttl time.Duration) *CapabilityCache {
	if ttl <= 0 {
		ttl = DefaultCapabilityTTL
	}
	return &CapabilityCache{
		ttl:   ttl,
		clock: time.Now,
	}
}

// MarkH3 records that the identity reached the proxy over h3.
func (c *CapabilityCache) MarkH3(key string) {
	c.entries.Store(key, c.clock().Add(c.ttl))
}

// KnownH3 reports whether the identity is known h3-capable. Expired
// entries are dropped on read.
func (c *CapabilityCache) KnownH3(key string) bool {
	v, ok := c.entries.Load(key)
	if !ok {
		return false
	}
	if c.clock().After(v.(time.Time)) {
		c.entries.Delete(key)
		return false
	}
	return true
}

// Len returns the number of live entries. Expired entries still
// pending eviction are counted.
func (c *CapabilityCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
