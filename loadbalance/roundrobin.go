package loadbalance

import (
	"sync/atomic"

	"wiretest/registry"
)

// RoundRobinBalancer rotates through the endpoints in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter atomic.Uint64 // incremented on each Pick()
}

// Pick selects the next endpoint in round-robin order, starting with the first.
func (b *RoundRobinBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	index := (b.counter.Add(1) - 1) % uint64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "round_robin"
}
