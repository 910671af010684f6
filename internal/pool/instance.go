// Package pool manages named backend pools: instance health, load
// balancing, connection counting, and the per-pool circuit breaker.
package pool

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Status is the health state of an instance.
type Status int32

const (
	// StatusUnknown means the instance has not been probed yet. It is
	// eligible for traffic until proven unhealthy.
	StatusUnknown Status = iota
	// StatusHealthy means the instance passed consecutive probes.
	StatusHealthy
	// StatusUnhealthy means the instance failed consecutive probes
	// and receives no traffic.
	StatusUnhealthy
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Instance is a single backend address inside a pool.
type Instance struct {
	// Address is the host:port of the backend.
	Address string

	// Weight biases the weighted balancer. Defaults to 1.
	Weight int

	status      atomic.Int32
	inFlight    atomic.Int64
	lastUsed    atomic.Int64
	lastChecked atomic.Int64
}

// NewInstance creates an instance in the unknown state.
func NewInstance(address string, weight int) *Instance {
	if weight <= 0 {
		weight = 1
	}
	i := &Instance{
		Address: address,
		Weight:  weight,
	}
	i.status.Store(int32(StatusUnknown))
	return i
}

// URL returns the instance base URL for the given scheme.
func (i *Instance) URL(scheme string) string {
	return fmt.Sprintf("%s://%s", scheme, i.Address)
}

// Status returns the current health state.
func (i *Instance) Status() Status {
	return Status(i.status.Load())
}

// SetStatus stores the health state.
func (i *Instance) SetStatus(status Status) {
	i.status.Store(int32(status))
}

// Routable reports whether the instance may receive traffic. Unknown
// instances are routable so a fresh pool serves before its first
// probe completes.
func (i *Instance) Routable() bool {
	return i.Status() != StatusUnhealthy
}

// InFlight returns the number of requests currently assigned to the
// instance.
func (i *Instance) InFlight() int64 {
	return i.inFlight.Load()
}

// acquire marks one request assigned to the instance.
func (i *Instance) acquire() {
	i.inFlight.Add(1)
	i.lastUsed.Store(time.Now().UnixNano())
}

// release undoes acquire.
func (i *Instance) release() {
	i.inFlight.Add(-1)
}

// LastUsed returns when the instance last received a request.
func (i *Instance) LastUsed() time.Time {
	return time.Unix(0, i.lastUsed.Load())
}

// markChecked records a completed health probe.
func (i *Instance) markChecked() {
	i.lastChecked.Store(time.Now().UnixNano())
}

// LastChecked returns when the instance was last probed. The zero
// time means it has never been probed.
func (i *Instance) LastChecked() time.Time {
	ns := i.lastChecked.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
