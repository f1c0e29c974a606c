package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"wiretest/codec"
	"wiretest/message"
	"wiretest/middleware"
	"wiretest/transport"
)

func udpPair(t *testing.T) (rx transport.Session, s *Sender) {
	t.Helper()
	ctx := context.Background()
	rx, err := transport.Bind(ctx, transport.UDP, "127.0.0.1", 0, transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rx.Close() })
	port := rx.LocalAddr().(*net.UDPAddr).Port

	tx, err := transport.Connect(ctx, transport.UDP, "127.0.0.1", port, transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tx.Close() })

	s, err = New(tx, "127.0.0.1", port, Options{})
	if err != nil {
		t.Fatal(err)
	}
	return rx, s
}

func readValue(t *testing.T, rx transport.Session) message.Value {
	t.Helper()
	pkt, err := rx.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var c codec.BinaryCodec
	v, err := c.Decode(pkt.Frame)
	if err != nil {
		t.Fatalf("decode % x: %v", pkt.Frame, err)
	}
	return v
}

func TestSendSkipsBadTokens(t *testing.T) {
	rx, s := udpPair(t)

	var seen []Result
	s.onResult = func(r Result) { seen = append(seen, r) }

	results, err := s.Send(context.Background(), message.KindInt16, []string{"1", "abc", "40000", "-2"})
	if err != nil {
		t.Fatalf("expect no batch error, got %v", err)
	}
	if len(results) != 4 || len(seen) != 4 {
		t.Fatalf("expect 4 results, got %d / %d", len(results), len(seen))
	}
	if !errors.Is(results[1].Err, codec.ErrEncodingFormat) {
		t.Fatalf("abc: %v", results[1].Err)
	}
	if !errors.Is(results[2].Err, codec.ErrEncodingRange) {
		t.Fatalf("40000: %v", results[2].Err)
	}

	if v := readValue(t, rx); v != message.Int16(1) {
		t.Fatalf("first = %v", v)
	}
	if v := readValue(t, rx); v != message.Int16(-2) {
		t.Fatalf("second = %v", v)
	}
	if sent, failed := s.Counts(); sent != 2 || failed != 2 {
		t.Fatalf("counts = %d/%d", sent, failed)
	}
}

func TestSendRange(t *testing.T) {
	rx, s := udpPair(t)

	results, err := s.SendRange(context.Background(), 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 100 {
		t.Fatalf("expect 100 results, got %d", len(results))
	}
	for want := int32(1); want <= 100; want++ {
		if v := readValue(t, rx); v != message.Int32(want) {
			t.Fatalf("value %d = %v", want, v)
		}
	}

	if _, err := s.SendRange(context.Background(), 5, 4); !errors.Is(err, ErrEmptyRange) {
		t.Fatalf("expect ErrEmptyRange, got %v", err)
	}
}

func TestSendRunsMiddleware(t *testing.T) {
	_, s := udpPair(t)

	var frames [][]byte
	s.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			frames = append(frames, env.Frame)
			return next(ctx, env)
		}
	})
	if _, err := s.Send(context.Background(), message.KindChar, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 || string(frames[0]) != "ca" || string(frames[1]) != "cb" {
		t.Fatalf("frames = %q", frames)
	}
}

func TestSendCancelled(t *testing.T) {
	_, s := udpPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := s.Send(ctx, message.KindInt32, []string{"1", "2"})
	if !errors.Is(err, context.Canceled) || len(results) != 0 {
		t.Fatalf("expect cancellation before any send, got %d results, %v", len(results), err)
	}
}

// resetSession is a connected TCP session whose peer has gone away.
type resetSession struct{ writes int }

func (r *resetSession) Protocol() transport.Protocol { return transport.TCP }
func (r *resetSession) LocalAddr() net.Addr          { return &net.TCPAddr{} }
func (r *resetSession) RemoteAddr() net.Addr         { return &net.TCPAddr{} }
func (r *resetSession) Send(context.Context, []byte, net.Addr) error {
	r.writes++
	return &transport.SendError{Addr: "127.0.0.1:9000", Err: syscall.ECONNRESET}
}
func (r *resetSession) Receive(time.Duration) (transport.Packet, error) {
	return transport.Packet{}, transport.ErrClosed
}
func (r *resetSession) Close() error { return nil }

func TestTCPSendErrorBreaksSession(t *testing.T) {
	sess := &resetSession{}
	s, err := New(sess, "127.0.0.1", 9000, Options{})
	if err != nil {
		t.Fatal(err)
	}

	results, err := s.Send(context.Background(), message.KindInt32, []string{"1", "2", "3"})
	if !errors.Is(err, ErrSessionBroken) || !errors.Is(err, syscall.ECONNRESET) {
		t.Fatalf("expect broken session, got %v", err)
	}
	if len(results) != 1 || sess.writes != 1 {
		t.Fatalf("expect to stop after the first failure, got %d results, %d writes", len(results), sess.writes)
	}
	if !s.Broken() {
		t.Fatal("Broken() should report true")
	}
	if _, err := s.Send(context.Background(), message.KindInt32, []string{"4"}); !errors.Is(err, ErrSessionBroken) {
		t.Fatalf("expect ErrSessionBroken on reuse, got %v", err)
	}
}

func TestTarget(t *testing.T) {
	_, s := udpPair(t)
	if s.Protocol() != transport.UDP {
		t.Fatalf("protocol = %v", s.Protocol())
	}
	if _, port, err := net.SplitHostPort(s.Target()); err != nil || port == "" {
		t.Fatalf("target = %q", s.Target())
	}
}

// tcpPair connects a Sender to a raw listener. The peer conn is returned
// unread so tests control the receive side.
func tcpPair(t *testing.T) (net.Conn, *Sender) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	tx, err := transport.Connect(context.Background(), transport.TCP, "127.0.0.1", port, transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tx.Close() })
	peer, err := l.Accept()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { peer.Close() })

	s, err := New(tx, "127.0.0.1", port, Options{})
	if err != nil {
		t.Fatal(err)
	}
	return peer, s
}

func TestTCPSendTimeoutBreaksSession(t *testing.T) {
	// 对端不读，32 MiB 的字符串写不完，超时后流上可能只剩半个帧
	_, s := tcpPair(t)
	s.Use(middleware.TimeOutMiddleware(100 * time.Millisecond))

	big := strings.Repeat("x", 32<<20)
	results, err := s.Send(context.Background(), message.KindText, []string{big, "after"})
	// the middleware deadline and the write deadline race; either way the
	// session is gone
	if !errors.Is(err, ErrSessionBroken) {
		t.Fatalf("expect broken session after timeout, got %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expect to stop after the timed-out frame, got %d results", len(results))
	}
	if !s.Broken() {
		t.Fatal("Broken() should report true")
	}
}

func TestTCPCancelledBeforeWriteKeepsSession(t *testing.T) {
	peer, s := tcpPair(t)

	first := true
	s.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			if first {
				first = false
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				return next(cctx, env)
			}
			return next(ctx, env)
		}
	})

	results, err := s.Send(context.Background(), message.KindInt32, []string{"1", "2"})
	if err != nil {
		t.Fatalf("expect the batch to go on, got %v", err)
	}
	if !errors.Is(results[0].Err, context.Canceled) || errors.Is(results[0].Err, ErrSessionBroken) {
		t.Fatalf("first result: %v", results[0].Err)
	}
	if s.Broken() {
		t.Fatal("nothing was written, the session must stay usable")
	}

	// only the second frame is on the stream
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 5)
	if _, err := io.ReadFull(peer, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "i\x02\x00\x00\x00" {
		t.Fatalf("frame = % x", buf)
	}
}

func TestTimedOutWriteBreaksStream(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&transport.SendError{Addr: "x", Err: syscall.EPIPE}, true},
		{fmt.Errorf("%w after 2s", middleware.ErrTimedOut), true},
		{context.Canceled, false},
		{codec.ErrEncodingRange, false},
	}
	for _, tc := range cases {
		if got := breaksStream(tc.err); got != tc.want {
			t.Errorf("breaksStream(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
