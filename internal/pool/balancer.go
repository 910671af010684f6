package pool

import (
	"sync"
	"sync/atomic"
)

// Balancing strategy names accepted in configuration.
const (
	StrategyRoundRobin       = "round_robin"
	StrategyLeastConnections = "least_connections"
	StrategyWeighted         = "weighted"
)

// Balancer selects the next instance to receive a request.
type Balancer interface {
	// Next returns a routable instance, or nil when none is.
	Next() *Instance
}

// NewBalancer builds the balancer for a strategy name. Unknown names
// fall back to round robin; the validator rejects them before this
// point.
func NewBalancer(strategy string, instances []*Instance) Balancer {
	switch strategy {
	case StrategyLeastConnections:
		return NewLeastConnectionsBalancer(instances)
	case StrategyWeighted:
		return NewWeightedBalancer(instances)
	default:
		return NewRoundRobinBalancer(instances)
	}
}

// RoundRobinBalancer cycles through routable instances in order.
type RoundRobinBalancer struct {
	instances []*Instance
	current   atomic.Uint64
}

// NewRoundRobinBalancer creates a round robin balancer.
func NewRoundRobinBalancer(instances []*Instance) *RoundRobinBalancer {
	return &RoundRobinBalancer{instances: instances}
}

// Next implements Balancer. Each routable instance is chosen exactly
// once per cycle.
func (b *RoundRobinBalancer) Next() *Instance {
	routable := routableInstances(b.instances)
	if len(routable) == 0 {
		return nil
	}

	idx := b.current.Add(1) - 1
	return routable[idx%uint64(len(routable))]
}

// LeastConnectionsBalancer picks the routable instance with the
// fewest in-flight requests, rotating among ties.
type LeastConnectionsBalancer struct {
	instances []*Instance
	rotation  atomic.Uint64
}

// NewLeastConnectionsBalancer creates a least connections balancer.
func NewLeastConnectionsBalancer(instances []*Instance) *LeastConnectionsBalancer {
	return &LeastConnectionsBalancer{instances: instances}
}

// Next implements Balancer.
func (b *LeastConnectionsBalancer) Next() *Instance {
	routable := routableInstances(b.instances)
	if len(routable) == 0 {
		return nil
	}

	min := routable[0].InFlight()
	ties := []*Instance{routable[0]}
	for _, inst := range routable[1:] {
		n := inst.InFlight()
		switch {
		case n < min:
			min = n
			ties = ties[:0]
			ties = append(ties, inst)
		case n == min:
			ties = append(ties, inst)
		}
	}

	if len(ties) == 1 {
		return ties[0]
	}
	idx := b.rotation.Add(1) - 1
	return ties[idx%uint64(len(ties))]
}

// WeightedBalancer distributes requests proportionally to instance
// weights using smooth weighted round robin.
type WeightedBalancer struct {
	instances []*Instance

	mu      sync.Mutex
	current map[*Instance]int
}

// NewWeightedBalancer creates a weighted balancer.
func NewWeightedBalancer(instances []*Instance) *WeightedBalancer {
	return &WeightedBalancer{
		instances: instances,
		current:   make(map[*Instance]int, len(instances)),
	}
}

// Next implements Balancer.
func (b *WeightedBalancer) Next() *Instance {
	routable := routableInstances(b.instances)
	if len(routable) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	var best *Instance
	for _, inst := range routable {
		b.current[inst] += inst.Weight
		total += inst.Weight
		if best == nil || b.current[inst] > b.current[best] {
			best = inst
		}
	}
	b.current[best] -= total

	return best
}

// routableInstances filters out unhealthy instances.
func routableInstances(instances []*Instance) []*Instance {
	routable := make([]*Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Routable() {
			routable = append(routable, inst)
		}
	}
	return routable
}
