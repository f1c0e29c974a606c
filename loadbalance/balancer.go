// Package loadbalance picks the one receiver a sender will talk to when
// several are announced in the registry.
//
// Three strategies are implemented:
//   - RoundRobin:      successive sender sessions rotate over receivers
//   - WeightedRandom:  receivers announced with different weights
//   - ConsistentHash:  the same sender host keeps landing on the same receiver
package loadbalance

import (
	"errors"
	"fmt"

	"wiretest/registry"
)

var ErrNoEndpoints = errors.New("no receivers announced")

// Balancer is the interface for selection strategies.
type Balancer interface {
	// Pick selects one endpoint from the available list. Must be goroutine-safe.
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name. key only matters for
// consistent_hash.
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewKeyedBalancer(key), nil
	}
	return nil, fmt.Errorf("unknown balancer %q (want round_robin, weighted_random or consistent_hash)", name)
}

// Names lists the accepted balancer names.
var Names = []string{"round_robin", "weighted_random", "consistent_hash"}
