package registry

import (
	"context"
	"errors"
)

// Prefix is the root of every key this package writes.
const Prefix = "/wiretest/"

var ErrClosed = errors.New("registry closed")

// Endpoint is one announced receiver.
type Endpoint struct {
	Protocol string `json:"protocol"` // "tcp" or "udp"
	Addr     string `json:"addr"`     // host:port a sender can reach
	Weight   int    `json:"weight"`   // Weight for load balancing
	Version  string `json:"version"`
}

// Key is where ep lives: /wiretest/{protocol}/{addr}.
func (ep Endpoint) Key() string { return Key(ep.Protocol, ep.Addr) }

func Key(protocol, addr string) string { return Prefix + protocol + "/" + addr }

func protocolPrefix(protocol string) string { return Prefix + protocol + "/" }

type Registry interface {
	// Register announces ep until Deregister, Close or ttl seconds without renewal.
	Register(ctx context.Context, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, protocol, addr string) error
	Discover(ctx context.Context, protocol string) ([]Endpoint, error)
	// Watch emits the full endpoint list for protocol after every change
	// until ctx is done.
	Watch(ctx context.Context, protocol string) <-chan []Endpoint
	Close() error
}
