package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRegistry is an in-process Registry backed by a map and a
// read/write mutex. Suitable for tests and for running sender and
// receiver in one process. TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.RWMutex
	data     map[string]Endpoint
	watchers map[string][]chan []Endpoint // protocol → subscribers
	closed   bool
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		data:     make(map[string]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
}

func (m *MemoryRegistry) Register(_ context.Context, ep Endpoint, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[ep.Key()] = ep
	m.notifyLocked(ep.Protocol)
	return nil
}

func (m *MemoryRegistry) Deregister(_ context.Context, protocol, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, Key(protocol, addr))
	m.notifyLocked(protocol)
	return nil
}

func (m *MemoryRegistry) Discover(_ context.Context, protocol string) ([]Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.listLocked(protocol), nil
}

func (m *MemoryRegistry) Watch(ctx context.Context, protocol string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch
	}
	m.watchers[protocol] = append(m.watchers[protocol], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.watchers[protocol]
		for i, c := range subs {
			if c == ch {
				m.watchers[protocol] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch
}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for p, subs := range m.watchers {
		for _, c := range subs {
			close(c)
		}
		delete(m.watchers, p)
	}
	return nil
}

// listLocked returns endpoints for protocol in key order, like an etcd
// prefix Get.
func (m *MemoryRegistry) listLocked(protocol string) []Endpoint {
	prefix := protocolPrefix(protocol)
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]Endpoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.data[k])
	}
	return out
}

// notifyLocked sends the latest list to every watcher, replacing a value
// the watcher has not read yet.
func (m *MemoryRegistry) notifyLocked(protocol string) {
	subs := m.watchers[protocol]
	if len(subs) == 0 {
		return
	}
	eps := m.listLocked(protocol)
	for _, c := range subs {
		select {
		case <-c:
		default:
		}
		c <- eps
	}
}
