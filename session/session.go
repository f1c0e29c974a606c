// Package session is the controller that owns the one active socket and
// the role and protocol it serves.
//
// State machine:
//
//	                 Establish(sender)                 Establish(receiver)
//	Uninitialized ─────────────────────► SenderActive
//	      ▲        ─────────────────────────────────────────► ReceiverActive
//	      │                                                         │
//	      └──── teardown: stop + join receive loop, deregister, ────┘
//	             close socket (SwitchRole, SwitchProtocol, Close)
//
// The receive loop is always joined before the socket it reads from is
// closed. That ordering is what makes an immediate re-bind of the same
// port safe.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"wiretest/loadbalance"
	"wiretest/message"
	"wiretest/middleware"
	"wiretest/receiver"
	"wiretest/registry"
	"wiretest/sender"
	"wiretest/transport"
)

type Role int

const (
	RoleNone Role = iota
	RoleSender
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	}
	return "none"
}

// Toggle returns the other role. RoleNone toggles to RoleSender.
func (r Role) Toggle() Role {
	if r == RoleSender {
		return RoleReceiver
	}
	return RoleSender
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "s", "sender", "send":
		return RoleSender, nil
	case "r", "receiver", "receive", "recv":
		return RoleReceiver, nil
	}
	return RoleNone, fmt.Errorf("invalid role %q (want s or r)", s)
}

type State int

const (
	Uninitialized State = iota
	SenderActive
	ReceiverActive
)

func (s State) String() string {
	switch s {
	case SenderActive:
		return "sender-active"
	case ReceiverActive:
		return "receiver-active"
	}
	return "uninitialized"
}

var (
	// ErrAborted means the operator declined to retry a failed bind.
	ErrAborted = errors.New("session setup aborted")
	// ErrNotSender is returned by Send outside SenderActive.
	ErrNotSender = errors.New("no active sender session")
	// ErrNoDiscovery is returned when no host was given and no registry is configured.
	ErrNoDiscovery = errors.New("no host given and discovery is disabled")
)

// Prompter supplies what the operator decides during session setup.
type Prompter interface {
	// PromptHostPort returns a resolvable host and a port in [1024, 65535].
	// A sender may return an empty host to ask for discovery.
	PromptHostPort(ctx context.Context, role Role, proto transport.Protocol) (host string, port int, err error)
	// ConfirmRetry asks whether to try different parameters after cause.
	ConfirmRetry(ctx context.Context, cause error) (bool, error)
}

// Options wires a Controller to its collaborators. Only Prompter is required.
type Options struct {
	Prompter Prompter
	// Out receives status lines ("Receiver bound to ..."). nil discards them.
	Out io.Writer
	// Inbound handles each received Envelope, typically a printer.
	Inbound middleware.HandlerFunc
	// OnSent is called after each outbound value.
	OnSent func(sender.Result)

	Transport    transport.Options
	PollInterval time.Duration
	SendTimeout  time.Duration
	RatePerSec   float64
	Burst        int

	// Registry enables discovery when non-nil.
	Registry registry.Registry
	Balancer loadbalance.Balancer
	TTL      int64
	Weight   int
	Version  string
}

// Controller holds the single active session. Its methods are meant to be
// called from one command loop; they are serialised all the same.
type Controller struct {
	opts Options
	out  io.Writer

	mu        sync.Mutex
	role      Role
	proto     transport.Protocol
	state     State
	sess      transport.Session
	recv      *receiver.Receiver
	send      *sender.Sender
	announced *registry.Endpoint
}

func New(opts Options) *Controller {
	c := &Controller{opts: opts, out: opts.Out, proto: transport.TCP}
	if c.out == nil {
		c.out = io.Discard
	}
	if c.opts.Balancer == nil {
		c.opts.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Controller) Protocol() transport.Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proto
}

// Target is the sender's destination, empty outside SenderActive.
func (c *Controller) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return ""
	}
	return c.send.Target()
}

// LocalAddr is the bound address of the active session, nil if none.
func (c *Controller) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.LocalAddr()
}

// ReceiverDone is closed when the receive loop exits; nil outside ReceiverActive.
func (c *Controller) ReceiverDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recv == nil {
		return nil
	}
	return c.recv.Done()
}

// ReceiverStats reports the receive loop counters.
func (c *Controller) ReceiverStats() (receiver.Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recv == nil {
		return receiver.Stats{}, false
	}
	return c.recv.Stats(), true
}

// Establish tears down any current session and enters role over proto.
func (c *Controller) Establish(ctx context.Context, role Role, proto transport.Protocol) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	c.role, c.proto = role, proto
	switch role {
	case RoleSender:
		return c.startSenderLocked(ctx)
	case RoleReceiver:
		return c.startReceiverLocked(ctx)
	}
	return fmt.Errorf("cannot establish role %v", role)
}

// SwitchRole leaves the current state and establishes the other role on
// the same protocol.
func (c *Controller) SwitchRole(ctx context.Context) error {
	c.mu.Lock()
	c.teardownLocked()
	c.role = c.role.Toggle()
	role, proto := c.role, c.proto
	c.mu.Unlock()

	fmt.Fprintf(c.out, "Switched to %s mode.\n", role)
	return c.Establish(ctx, role, proto)
}

// SwitchProtocol leaves the current state and establishes the same role on
// the other protocol.
func (c *Controller) SwitchProtocol(ctx context.Context) error {
	c.mu.Lock()
	c.teardownLocked()
	c.proto = c.proto.Toggle()
	role, proto := c.role, c.proto
	c.mu.Unlock()

	fmt.Fprintf(c.out, "Switched to %s protocol.\n", upper(proto))
	if role == RoleNone {
		return nil
	}
	return c.Establish(ctx, role, proto)
}

// Send encodes tokens as kind and sends each as its own frame. A broken TCP
// session is torn down; the caller must Establish again.
func (c *Controller) Send(ctx context.Context, kind message.Kind, tokens []string) ([]sender.Result, error) {
	return c.withSender(func(s *sender.Sender) ([]sender.Result, error) {
		return s.Send(ctx, kind, tokens)
	})
}

// SendRange sends the signed 32-bit integers from..to inclusive.
func (c *Controller) SendRange(ctx context.Context, from, to int32) ([]sender.Result, error) {
	return c.withSender(func(s *sender.Sender) ([]sender.Result, error) {
		return s.SendRange(ctx, from, to)
	})
}

func (c *Controller) withSender(fn func(*sender.Sender) ([]sender.Result, error)) ([]sender.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != SenderActive || c.send == nil {
		return nil, ErrNotSender
	}
	results, err := fn(c.send)
	if errors.Is(err, sender.ErrSessionBroken) {
		fmt.Fprintln(c.out, "The TCP session is broken and has been closed. Set up the sender again.")
		c.teardownLocked()
	}
	return results, err
}

// Close stops the receive loop if any, then closes the socket.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teardownLocked()
}

func (c *Controller) startReceiverLocked(ctx context.Context) error {
	for {
		host, port, err := c.opts.Prompter.PromptHostPort(ctx, RoleReceiver, c.proto)
		if err != nil {
			return err
		}

		topts := c.opts.Transport
		if c.proto == transport.TCP {
			listening := topts.Listening
			topts.Listening = func(addr net.Addr) {
				fmt.Fprintf(c.out, "Waiting for TCP connection on %s\n", addr)
				if listening != nil {
					listening(addr)
				}
			}
		}
		sess, err := transport.Bind(ctx, c.proto, host, port, topts)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(c.out, "Error binding to %s: %v\n", transport.HostPort(host, port), err)
			retry, perr := c.opts.Prompter.ConfirmRetry(ctx, err)
			if perr != nil {
				return perr
			}
			if !retry {
				return fmt.Errorf("%w: %w", ErrAborted, err)
			}
			continue
		}

		if remote := sess.RemoteAddr(); remote != nil {
			fmt.Fprintf(c.out, "Connected to %s\n", remote)
		}
		boundPort := portOf(sess.LocalAddr(), port)
		fmt.Fprintf(c.out, "Receiver bound to %s\n", transport.HostPort(host, boundPort))

		c.sess = sess
		c.recv = receiver.New(sess, c.opts.Inbound, receiver.Options{
			PollInterval: c.opts.PollInterval,
			Out:          c.out,
		})
		c.recv.Use(middleware.LoggingMiddleware(nil))
		if err := c.recv.Start(); err != nil {
			c.teardownLocked()
			return err
		}
		c.state = ReceiverActive
		c.announceLocked(ctx, host, boundPort)
		return nil
	}
}

func (c *Controller) startSenderLocked(ctx context.Context) error {
	host, port, err := c.opts.Prompter.PromptHostPort(ctx, RoleSender, c.proto)
	if err != nil {
		return err
	}
	if host == "" {
		if host, port, err = c.discoverLocked(ctx); err != nil {
			return err
		}
	}

	target := transport.HostPort(host, port)
	sess, err := transport.Connect(ctx, c.proto, host, port, c.opts.Transport)
	if err != nil {
		if errors.Is(err, transport.ErrConnectionRefused) {
			fmt.Fprintf(c.out, "Connection to %s was refused.\n", target)
			fmt.Fprintln(c.out, "Make sure the receiver is running and listening on the specified port.")
			fmt.Fprintln(c.out, "Also check for any firewall or antivirus software that might be blocking the connection.")
		} else {
			fmt.Fprintf(c.out, "An error occurred while connecting: %v\n", err)
		}
		return err
	}

	snd, err := sender.New(sess, host, port, sender.Options{OnResult: c.opts.OnSent})
	if err != nil {
		_ = sess.Close()
		return err
	}
	snd.Use(middleware.LoggingMiddleware(nil))
	snd.Use(middleware.RateLimitMiddleware(c.opts.RatePerSec, c.opts.Burst))
	snd.Use(middleware.TimeOutMiddleware(c.opts.SendTimeout))

	c.sess, c.send = sess, snd
	c.state = SenderActive
	fmt.Fprintf(c.out, "Sender created. Will send to %s\n", target)
	return nil
}

// discoverLocked picks one announced receiver for the current protocol.
func (c *Controller) discoverLocked(ctx context.Context) (string, int, error) {
	if c.opts.Registry == nil {
		return "", 0, ErrNoDiscovery
	}
	eps, err := c.opts.Registry.Discover(ctx, c.proto.String())
	if err != nil {
		return "", 0, fmt.Errorf("discover %s receivers: %w", c.proto, err)
	}
	ep, err := c.opts.Balancer.Pick(eps)
	if err != nil {
		return "", 0, err
	}
	host, portStr, err := net.SplitHostPort(ep.Addr)
	if err != nil {
		return "", 0, fmt.Errorf("announced address %q: %w", ep.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("announced address %q: %w", ep.Addr, err)
	}
	zap.L().Info("receiver discovered",
		zap.String("addr", ep.Addr),
		zap.String("balancer", c.opts.Balancer.Name()),
		zap.Int("candidates", len(eps)))
	return host, port, nil
}

func (c *Controller) announceLocked(ctx context.Context, host string, port int) {
	if c.opts.Registry == nil {
		return
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		if name, err := os.Hostname(); err == nil {
			host = name
		}
	}
	ep := registry.Endpoint{
		Protocol: c.proto.String(),
		Addr:     transport.HostPort(host, port),
		Weight:   c.opts.Weight,
		Version:  c.opts.Version,
	}
	ttl := c.opts.TTL
	if ttl <= 0 {
		ttl = 10
	}
	if err := c.opts.Registry.Register(ctx, ep, ttl); err != nil {
		zap.L().Warn("announce failed", zap.String("addr", ep.Addr), zap.Error(err))
		return
	}
	c.announced = &ep
}

// teardownLocked leaves the current state: stop and join the receive loop,
// withdraw the announcement, then close the socket.
func (c *Controller) teardownLocked() error {
	if c.recv != nil {
		c.recv.Stop()
		if st := c.recv.Stats(); st.Frames > 0 {
			zap.L().Info("receive loop joined",
				zap.Uint64("frames", st.Frames),
				zap.Uint64("malformed", st.Malformed))
		}
		c.recv = nil
	}
	if c.announced != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.opts.Registry.Deregister(ctx, c.announced.Protocol, c.announced.Addr); err != nil {
			zap.L().Warn("deregister failed", zap.String("addr", c.announced.Addr), zap.Error(err))
		}
		cancel()
		c.announced = nil
	}
	var err error
	if c.sess != nil {
		err = c.sess.Close()
		c.sess = nil
	}
	c.send = nil
	c.state = Uninitialized
	return err
}

func portOf(addr net.Addr, fallback int) int {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.Port
	case *net.UDPAddr:
		return a.Port
	}
	return fallback
}

func upper(p transport.Protocol) string {
	if p == transport.UDP {
		return "UDP"
	}
	return "TCP"
}
