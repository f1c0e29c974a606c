package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// maxDatagram is the largest UDP payload we can receive.
const maxDatagram = 64 * 1024

func bindUDP(ctx context.Context, addr string, opts Options) (Session, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("unexpected packet conn %T", pc)}
	}
	if opts.Listening != nil {
		opts.Listening(conn.LocalAddr())
	}
	return newUDPSession(conn), nil
}

// openUDP creates an unconnected endpoint on an ephemeral port.
func openUDP(ctx context.Context) (Session, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", ":0")
	if err != nil {
		return nil, &ConnectError{Addr: ":0", Err: err}
	}
	return newUDPSession(pc.(*net.UDPConn)), nil
}

type udpSession struct {
	conn      *net.UDPConn
	sending   sync.Mutex
	buf       []byte
	closeOnce sync.Once
}

func newUDPSession(conn *net.UDPConn) *udpSession {
	return &udpSession{conn: conn, buf: make([]byte, maxDatagram)}
}

func (s *udpSession) Protocol() Protocol   { return UDP }
func (s *udpSession) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *udpSession) RemoteAddr() net.Addr { return nil }

func (s *udpSession) Send(ctx context.Context, frame []byte, dest net.Addr) error {
	if dest == nil {
		return &SendError{Addr: "<none>", Err: ErrNoDestination}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	udpAddr, ok := dest.(*net.UDPAddr)
	if !ok {
		var err error
		if udpAddr, err = net.ResolveUDPAddr("udp", dest.String()); err != nil {
			return &SendError{Addr: dest.String(), Err: err}
		}
	}

	s.sending.Lock()
	defer s.sending.Unlock()

	deadline, _ := ctx.Deadline()
	_ = s.conn.SetWriteDeadline(deadline)
	n, err := s.conn.WriteToUDP(frame, udpAddr)
	if err != nil {
		return &SendError{Addr: udpAddr.String(), Err: err}
	}
	if n != len(frame) {
		return &SendError{Addr: udpAddr.String(), Err: fmt.Errorf("short datagram: wrote %d of %d bytes", n, len(frame))}
	}
	return nil
}

// Receive returns one datagram. Each datagram is one frame.
func (s *udpSession) Receive(timeout time.Duration) (Packet, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	n, from, err := s.conn.ReadFromUDP(s.buf)
	if err != nil {
		switch {
		case isTimeout(err):
			return Packet{}, ErrTimeout
		case errors.Is(err, net.ErrClosed):
			return Packet{}, ErrClosed
		}
		return Packet{}, err
	}
	return Packet{Frame: bytes.Clone(s.buf[:n]), From: from}, nil
}

func (s *udpSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
