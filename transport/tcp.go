package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"wiretest/protocol"
)

const tcpReadChunk = 32 * 1024

func bindTCP(ctx context.Context, addr string, opts Options) (Session, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	// Only one peer per session: the listener goes away after accept.
	defer l.Close()

	if opts.Listening != nil {
		opts.Listening(l.Addr())
	}

	// Accept has no context; closing the listener unblocks it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-done:
		}
	}()

	conn, err := l.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &BindError{Addr: addr, Err: ctxErr}
		}
		return nil, &BindError{Addr: addr, Err: err}
	}
	return newTCPSession(conn, opts), nil
}

func dialTCP(ctx context.Context, addr string, opts Options) (Session, error) {
	d := &net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	return newTCPSession(conn, opts), nil
}

type tcpSession struct {
	conn    net.Conn
	sending sync.Mutex // one frame per Write, never interleaved

	// Receive-side state, touched only by the single reader.
	split   bufio.SplitFunc
	pending bytes.Buffer // bytes read but not yet returned as frames
	chunk   []byte
	eof     bool
	// skip counts body bytes of a rejected oversized frame still to arrive.
	skip uint64

	closeOnce sync.Once
}

func newTCPSession(conn net.Conn, opts Options) *tcpSession {
	return &tcpSession{
		conn:  conn,
		split: protocol.Splitter(opts.maxFrameSize()),
		chunk: make([]byte, tcpReadChunk),
	}
}

func (s *tcpSession) Protocol() Protocol   { return TCP }
func (s *tcpSession) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *tcpSession) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *tcpSession) Send(ctx context.Context, frame []byte, _ net.Addr) error {
	// Nothing written yet, the stream is still intact.
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sending.Lock()
	defer s.sending.Unlock()

	deadline, _ := ctx.Deadline()
	_ = s.conn.SetWriteDeadline(deadline)
	if err := protocol.WriteFrame(s.conn, frame); err != nil {
		return &SendError{Addr: s.conn.RemoteAddr().String(), Err: err}
	}
	return nil
}

// Receive returns the next complete frame. Bytes of a frame that is still
// arriving when the deadline passes stay in pending for the next call.
func (s *tcpSession) Receive(timeout time.Duration) (Packet, error) {
	deadline := time.Now().Add(timeout)
	for {
		if s.pending.Len() > 0 {
			advance, token, err := s.split(s.pending.Bytes(), s.eof)
			if err != nil {
				s.pending.Reset()
				return Packet{}, err
			}
			if advance > 0 {
				frame := bytes.Clone(token)
				s.pending.Next(advance)
				return Packet{Frame: frame, From: s.conn.RemoteAddr()}, nil
			}
		}
		if s.eof {
			return Packet{}, ErrClosed
		}

		_ = s.conn.SetReadDeadline(deadline)
		n, err := s.conn.Read(s.chunk)
		if n > 0 {
			s.pending.Write(s.chunk[s.skipped(n):n])
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.eof = true
		case isTimeout(err):
			if n > 0 {
				continue
			}
			return Packet{}, ErrTimeout
		case errors.Is(err, net.ErrClosed):
			return Packet{}, ErrClosed
		default:
			// Reset by peer and friends: the stream is gone either way.
			s.eof = true
			if s.pending.Len() == 0 {
				return Packet{}, errors.Join(ErrClosed, err)
			}
		}
	}
}

// discardFrame drops the oversized frame at the head of pending. Body bytes
// that have not arrived yet are skipped as they are read.
func (s *tcpSession) discardFrame() {
	total, _ := protocol.FrameLength(s.pending.Bytes())
	if have := uint64(s.pending.Len()); total > have {
		s.skip = total - have
		s.pending.Reset()
		return
	}
	s.pending.Next(int(total))
}

// skipped consumes the part of a fresh read that still belongs to a
// discarded frame and returns how many bytes of chunk to ignore.
func (s *tcpSession) skipped(n int) int {
	if s.skip == 0 {
		return 0
	}
	k := min(s.skip, uint64(n))
	s.skip -= k
	return int(k)
}

func (s *tcpSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
