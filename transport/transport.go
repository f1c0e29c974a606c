// Package transport owns the one socket a wiretest peer uses at a time.
//
// A Session is either inbound (Bind) or outbound (Connect):
//
//	        Bind                          Connect
//	TCP     listen → accept one → close   dial peer
//	        listener, keep the conn
//	UDP     bind datagram endpoint        unbound endpoint, destination
//	                                      given on every Send
//
// Receive polls with a timeout so a caller can check a stop signal between
// attempts. ErrTimeout is the normal idle outcome, not a failure.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"wiretest/protocol"
)

// Protocol selects the socket type.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case TCP:
		return TCP, nil
	case UDP:
		return UDP, nil
	}
	return "", fmt.Errorf("unknown protocol %q (want tcp or udp)", s)
}

// Toggle returns the other protocol.
func (p Protocol) Toggle() Protocol {
	if p == TCP {
		return UDP
	}
	return TCP
}

func (p Protocol) String() string { return string(p) }

// Packet is one received frame and where it came from.
type Packet struct {
	Frame []byte
	From  net.Addr
}

// Session is one open socket.
//
// Exactly one goroutine may call Receive. Send may be called from any
// goroutine; each call is written with a single transport write.
type Session interface {
	Protocol() Protocol
	LocalAddr() net.Addr
	// RemoteAddr is the connected peer for TCP, nil for UDP.
	RemoteAddr() net.Addr

	// Send writes one frame. dest is required for UDP and ignored for TCP.
	// The context deadline, if any, bounds the write. A context that is
	// already done is returned as is; write failures are *SendError.
	Send(ctx context.Context, frame []byte, dest net.Addr) error

	// Receive waits up to timeout for the next frame. It returns ErrTimeout
	// when nothing arrived and ErrClosed once the peer or the local side
	// has closed the session.
	Receive(timeout time.Duration) (Packet, error)

	// Close releases the socket. Calling it more than once is a no-op.
	Close() error
}

// Options tunes session creation.
type Options struct {
	// MaxFrameSize bounds string frames on TCP streams.
	MaxFrameSize int
	// DialTimeout bounds TCP connect. Zero means no timeout beyond ctx.
	DialTimeout time.Duration
	// Listening, if set, is called once the TCP listener or UDP endpoint
	// is bound, before Bind blocks in accept.
	Listening func(addr net.Addr)
}

func (o Options) maxFrameSize() int {
	if o.MaxFrameSize <= 0 {
		return protocol.DefaultMaxFrameSize
	}
	return o.MaxFrameSize
}

// HostPort joins host and port into a dialable address.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Bind opens an inbound session on host:port. For TCP it blocks until one
// peer connects or ctx is cancelled; the listener is closed after accept.
func Bind(ctx context.Context, proto Protocol, host string, port int, opts Options) (Session, error) {
	addr := HostPort(host, port)
	var (
		s   Session
		err error
	)
	switch proto {
	case TCP:
		s, err = bindTCP(ctx, addr, opts)
	case UDP:
		s, err = bindUDP(ctx, addr, opts)
	default:
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("unknown protocol %q", proto)}
	}
	if err != nil {
		return nil, err
	}
	zap.L().Debug("session bound",
		zap.Stringer("protocol", proto),
		zap.Stringer("local", s.LocalAddr()),
		zap.Any("remote", s.RemoteAddr()))
	return s, nil
}

// Connect opens an outbound session. For TCP it dials host:port; for UDP it
// opens an unbound endpoint and host:port is only checked for resolvability.
func Connect(ctx context.Context, proto Protocol, host string, port int, opts Options) (Session, error) {
	addr := HostPort(host, port)
	switch proto {
	case TCP:
		return dialTCP(ctx, addr, opts)
	case UDP:
		if _, err := ResolveDestination(UDP, host, port); err != nil {
			return nil, &ConnectError{Addr: addr, Err: err}
		}
		return openUDP(ctx)
	}
	return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("unknown protocol %q", proto)}
}

// ResolveDestination turns host:port into an address usable with Send.
func ResolveDestination(proto Protocol, host string, port int) (net.Addr, error) {
	addr := HostPort(host, port)
	if proto == UDP {
		return net.ResolveUDPAddr("udp", addr)
	}
	return net.ResolveTCPAddr("tcp", addr)
}
