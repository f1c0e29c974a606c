// Package sender is the outbound path: it turns operator tokens into
// frames and writes them over one session.
//
// Every token becomes its own frame and its own transport write. A token
// that does not parse is reported and skipped; the rest still go out.
package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wiretest/codec"
	"wiretest/message"
	"wiretest/middleware"
	"wiretest/transport"
)

var (
	// ErrSessionBroken is returned once a TCP write has failed. The session
	// must be re-established before anything else can be sent.
	ErrSessionBroken = errors.New("tcp session broken")
	ErrEmptyRange    = errors.New("empty range")
)

// Result is the outcome for one token.
type Result struct {
	Token  string
	Kind   message.Kind
	Value  message.Value // nil when the token did not parse
	Target string        // host:port the value was meant for
	Err    error
}

type Options struct {
	// OnResult is called after each token, in order, from the calling goroutine.
	OnResult func(Result)
}

type Sender struct {
	session     transport.Session
	dest        net.Addr
	target      string
	onResult    func(Result)
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	broken       atomic.Bool
	sent, failed atomic.Uint64
}

// New prepares a Sender that writes to host:port over session. For TCP the
// session is already connected and host:port is only used for display.
func New(session transport.Session, host string, port int, opts Options) (*Sender, error) {
	dest, err := transport.ResolveDestination(session.Protocol(), host, port)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", transport.HostPort(host, port), err)
	}
	return &Sender{
		session:  session,
		dest:     dest,
		target:   transport.HostPort(host, port),
		onResult: opts.OnResult,
	}, nil
}

// Use registers a middleware around the session write.
func (s *Sender) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
	s.handler = nil
}

// Target is the destination as host:port.
func (s *Sender) Target() string { return s.target }

func (s *Sender) Protocol() transport.Protocol { return s.session.Protocol() }

// Broken reports whether a TCP write has failed.
func (s *Sender) Broken() bool { return s.broken.Load() }

// Counts returns how many values went out and how many were not sent.
func (s *Sender) Counts() (sent, failed uint64) { return s.sent.Load(), s.failed.Load() }

// Send encodes each token as kind and writes it as an independent frame.
// The returned results cover every token attempted. The error is non-nil
// only when sending had to stop early: ctx was cancelled or the TCP
// session broke.
func (s *Sender) Send(ctx context.Context, kind message.Kind, tokens []string) ([]Result, error) {
	if s.broken.Load() {
		return nil, ErrSessionBroken
	}
	if s.handler == nil {
		s.handler = middleware.Chain(s.middlewares...)(s.write)
	}

	results := make([]Result, 0, len(tokens))
	for _, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := s.sendOne(ctx, kind, tok)
		results = append(results, res)
		if s.onResult != nil {
			s.onResult(res)
		}
		if res.Err == nil {
			s.sent.Add(1)
			continue
		}
		s.failed.Add(1)
		if errors.Is(res.Err, ErrSessionBroken) {
			return results, res.Err
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}

// SendRange sends the signed 32-bit integers from..to inclusive, ascending,
// one frame each.
func (s *Sender) SendRange(ctx context.Context, from, to int32) ([]Result, error) {
	if from > to {
		return nil, fmt.Errorf("%w: %d > %d", ErrEmptyRange, from, to)
	}
	tokens := make([]string, 0, int64(to)-int64(from)+1)
	for n := int64(from); n <= int64(to); n++ {
		tokens = append(tokens, strconv.FormatInt(n, 10))
	}
	return s.Send(ctx, message.KindInt32, tokens)
}

func (s *Sender) sendOne(ctx context.Context, kind message.Kind, tok string) Result {
	frame, v, err := codec.EncodeToken(kind, tok)
	if err != nil {
		zap.L().Info("value skipped", zap.Stringer("kind", kind), zap.String("token", tok), zap.Error(err))
		return Result{Token: tok, Kind: kind, Target: s.target, Err: err}
	}
	env := &message.Envelope{
		Direction: message.Outbound,
		Token:     tok,
		Value:     v,
		Frame:     frame,
		Peer:      s.dest,
		At:        time.Now(),
	}
	err = s.handler(ctx, env)
	if err != nil && s.session.Protocol() == transport.TCP && breaksStream(err) {
		s.broken.Store(true)
		err = fmt.Errorf("%w: %w", ErrSessionBroken, err)
	}
	return Result{Token: tok, Kind: kind, Value: v, Target: s.target, Err: err}
}

// breaksStream reports whether err may have left part of a frame on a TCP
// stream. A write that timed out can have gone out partly, and the next
// frame would then be read as the rest of it.
func breaksStream(err error) bool {
	var sendErr *transport.SendError
	return errors.As(err, &sendErr) || errors.Is(err, middleware.ErrTimedOut)
}

// write is the terminal handler: one frame, one transport write.
func (s *Sender) write(ctx context.Context, env *message.Envelope) error {
	return s.session.Send(ctx, env.Frame, env.Peer)
}
