// Package receiver implements the receive loop: the one background
// goroutine that turns inbound frames into decoded values while the
// current role is receiver.
//
// Processing pipeline:
//
//	Session.Receive(poll) ─┬─ ErrTimeout        → check stop, poll again
//	                       ├─ frame            → Codec.Decode → Middleware Chain → handler
//	                       ├─ ErrFrameTooLarge → report, poll again
//	                       └─ ErrClosed/other  → loop exits
//
// Stop is cooperative: it closes the stop channel and then waits for the
// loop to return. The loop observes the signal within one poll interval.
// Only after Stop returns may the caller close the session.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wiretest/codec"
	"wiretest/message"
	"wiretest/middleware"
	"wiretest/protocol"
	"wiretest/transport"
)

// DefaultPollInterval bounds how long a Stop waits for the loop.
const DefaultPollInterval = 100 * time.Millisecond

var ErrAlreadyStarted = errors.New("receiver already started")

// Options tunes a Receiver. The zero value is usable.
type Options struct {
	PollInterval time.Duration
	// Out receives the start and stop banners. nil discards them.
	Out io.Writer
	// Codec decodes frames. nil means the binary wire codec.
	Codec codec.Codec
}

// Stats counts what the loop has seen so far.
type Stats struct {
	Frames    uint64 // frames delivered by the session
	Decoded   uint64 // frames that decoded to a known kind
	Unknown   uint64 // frames with an unknown tag
	Malformed uint64 // frames the codec rejected, plus oversized stream frames
}

// Receiver runs the receive loop over one session.
type Receiver struct {
	session     transport.Session
	codec       codec.Codec
	poll        time.Duration
	out         io.Writer
	middlewares []middleware.Middleware // applied in order
	final       middleware.HandlerFunc
	handler     middleware.HandlerFunc // middleware(...(final))

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
	exitErr  error // written by the loop before done is closed

	frames, decoded, unknown, malformed atomic.Uint64
}

// New creates a Receiver reading from session and passing each inbound
// Envelope to handler. The Receiver does not own the session.
func New(session transport.Session, handler middleware.HandlerFunc, opts Options) *Receiver {
	r := &Receiver{
		session: session,
		codec:   opts.Codec,
		poll:    opts.PollInterval,
		out:     opts.Out,
		final:   handler,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if r.codec == nil {
		r.codec = codec.GetCodec(codec.CodecTypeBinary)
	}
	if r.poll <= 0 {
		r.poll = DefaultPollInterval
	}
	if r.out == nil {
		r.out = io.Discard
	}
	if r.final == nil {
		r.final = func(context.Context, *message.Envelope) error { return nil }
	}
	return r
}

// Use registers a middleware. It has no effect once the loop is running.
func (r *Receiver) Use(mw middleware.Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// Start launches the loop goroutine.
func (r *Receiver) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	// Build the chain once, not per frame.
	r.handler = middleware.Chain(r.middlewares...)(r.final)

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop signals the loop and blocks until it has returned. It is safe to
// call more than once, and before Start.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Done is closed when the loop has exited, whether by Stop, by the peer
// closing the stream, or by a receive failure.
func (r *Receiver) Done() <-chan struct{} { return r.done }

// Err reports why the loop exited on its own. It is nil while running,
// after Stop, and after a clean end of stream.
func (r *Receiver) Err() error {
	select {
	case <-r.done:
		return r.exitErr
	default:
		return nil
	}
}

func (r *Receiver) Stats() Stats {
	return Stats{
		Frames:    r.frames.Load(),
		Decoded:   r.decoded.Load(),
		Unknown:   r.unknown.Load(),
		Malformed: r.malformed.Load(),
	}
}

func (r *Receiver) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *Receiver) loop() {
	defer r.wg.Done()
	defer close(r.done)

	log := zap.L().With(zap.Stringer("protocol", r.session.Protocol()), zap.Stringer("local", r.session.LocalAddr()))
	fmt.Fprintln(r.out, "Listening for incoming data...")
	defer fmt.Fprintln(r.out, "Receiving loop stopped.")

	for !r.stopping() {
		pkt, err := r.session.Receive(r.poll)
		switch {
		case err == nil:
			r.frames.Add(1)
			r.dispatch(r.decode(pkt))
		case errors.Is(err, transport.ErrTimeout):
			// idle
		case errors.Is(err, protocol.ErrFrameTooLarge):
			r.malformed.Add(1)
			r.dispatch(&message.Envelope{
				Direction: message.Inbound,
				Peer:      r.session.RemoteAddr(),
				Err:       err,
				At:        time.Now(),
			})
		case errors.Is(err, transport.ErrClosed):
			if !r.stopping() {
				log.Info("stream closed", zap.Error(err))
			}
			return
		default:
			log.Warn("receive failed, loop exits", zap.Error(err))
			r.exitErr = err
			return
		}
	}
}

func (r *Receiver) decode(pkt transport.Packet) *message.Envelope {
	env := &message.Envelope{
		Direction: message.Inbound,
		Frame:     pkt.Frame,
		Peer:      pkt.From,
		At:        time.Now(),
	}
	v, err := r.codec.Decode(pkt.Frame)
	switch {
	case err != nil:
		r.malformed.Add(1)
		env.Err = err
	case v.Kind().Known():
		r.decoded.Add(1)
		env.Value = v
	default:
		r.unknown.Add(1)
		env.Value = v
	}
	return env
}

// dispatch runs one Envelope through the chain. A failing handler is
// logged and never ends the loop.
func (r *Receiver) dispatch(env *message.Envelope) {
	if err := r.handler(context.Background(), env); err != nil {
		zap.L().Warn("inbound handler failed", zap.Error(err))
	}
}
