// Package registry lets a receiver announce where it listens and lets a
// sender find one without being told a host and port.
//
// The etcd implementation is a "distributed phonebook":
//
//	Key:   /wiretest/{protocol}/{addr}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if the receiver dies, the lease expires
// and the entry is removed, so senders never pick a ghost.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)

	mu     sync.Mutex
	leases map[string]lease // key → lease backing it
}

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc // stops KeepAlive
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      zap.L().Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, leases: make(map[string]lease)}, nil
}

// Register adds ep to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// The KeepAlive context is detached from ctx: the announcement outlives
// the call and ends with Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, ep Endpoint, ttl int64) error {
	grant, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	if _, err = r.client.Put(ctx, ep.Key(), string(val), clientv3.WithLease(grant.ID)); err != nil {
		return err
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return err
	}
	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	if old, ok := r.leases[ep.Key()]; ok {
		old.cancel()
	}
	r.leases[ep.Key()] = lease{id: grant.ID, cancel: cancel}
	r.mu.Unlock()
	return nil
}

// Deregister removes an endpoint and revokes its lease.
// A receiver calls it before closing its socket.
func (r *EtcdRegistry) Deregister(ctx context.Context, protocol, addr string) error {
	key := Key(protocol, addr)

	r.mu.Lock()
	l, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}
	if ok {
		l.cancel()
		if _, err := r.client.Revoke(ctx, l.id); err != nil {
			zap.L().Debug("lease revoke failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Watch monitors a protocol prefix and emits updated endpoint lists
// whenever registrations, deregistrations or lease expirations occur.
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (r *EtcdRegistry) Watch(ctx context.Context, protocol string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, protocolPrefix(protocol), clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full list
			// (simpler than parsing individual watch events)
			eps, err := r.Discover(ctx, protocol)
			if err != nil {
				continue
			}
			select {
			case ch <- eps:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently announced endpoints for protocol.
func (r *EtcdRegistry) Discover(ctx context.Context, protocol string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, protocolPrefix(protocol), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			continue // Skip malformed entries
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Close stops all keep-alives and closes the client. Leases then expire
// on their own.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, l := range r.leases {
		l.cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
