package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"wiretest/registry"
)

// ConsistentHashBalancer maps keys to endpoints using a hash ring.
// The same key always maps to the same endpoint until the ring changes.
//
// Virtual nodes: each endpoint is placed on the ring N times so a handful
// of receivers still spread evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int                           // Virtual nodes per endpoint
	ring     []uint32                      // Sorted hash values on the ring
	nodes    map[uint32]*registry.Endpoint // Hash value → endpoint
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		ring:     []uint32{},
		nodes:    make(map[uint32]*registry.Endpoint),
	}
}

// Add places an endpoint onto the ring, hashing "{addr}#{i}" per virtual node.
func (b *ConsistentHashBalancer) Add(ep *registry.Endpoint) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = ep
	}
	// Keep the ring sorted for binary search in Pick()
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick finds the endpoint responsible for key: the first node clockwise
// from the key's hash, wrapping to the start of the ring.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.Endpoint, error) {
	if len(b.ring) == 0 {
		return nil, ErrNoEndpoints
	}
	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "consistent_hash"
}

// KeyedBalancer adapts the ring to the Balancer interface for a fixed key,
// rebuilding the ring only when the endpoint set changes.
type KeyedBalancer struct {
	key string

	mu   sync.Mutex
	sig  string
	ring *ConsistentHashBalancer
}

func NewKeyedBalancer(key string) *KeyedBalancer {
	return &KeyedBalancer{key: key}
}

func (b *KeyedBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	sig := signature(endpoints)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ring == nil || b.sig != sig {
		ring := NewConsistentHashBalancer()
		for i := range endpoints {
			ep := endpoints[i]
			ring.Add(&ep)
		}
		b.ring, b.sig = ring, sig
	}
	return b.ring.Pick(b.key)
}

func (b *KeyedBalancer) Name() string { return "consistent_hash" }

func signature(endpoints []registry.Endpoint) string {
	addrs := make([]string, len(endpoints))
	for i, ep := range endpoints {
		addrs[i] = ep.Addr
	}
	sort.Strings(addrs)
	return fmt.Sprint(addrs)
}
