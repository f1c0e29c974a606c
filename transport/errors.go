package transport

import (
	"errors"
	"os"
	"syscall"
)

var (
	// ErrTimeout means Receive saw no data within its window.
	ErrTimeout = errors.New("receive timeout")
	// ErrClosed means the peer ended the stream or the session was closed locally.
	ErrClosed = errors.New("session closed")
	// ErrConnectionRefused matches a ConnectError whose peer was not listening.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrNoDestination is returned by a UDP Send without a destination.
	ErrNoDestination = errors.New("udp send needs a destination")
)

// BindError reports a failure to open an inbound session on Addr. The
// caller may retry with different parameters.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return "bind " + e.Addr + ": " + e.Err.Error() }
func (e *BindError) Unwrap() error { return e.Err }

// ConnectError reports a failure to open an outbound session to Addr.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string { return "connect " + e.Addr + ": " + e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectionRefused && errors.Is(e.Err, syscall.ECONNREFUSED)
}

// SendError reports an OS-level write failure. On TCP the session is broken
// afterwards and must be re-established.
type SendError struct {
	Addr string
	Err  error
}

func (e *SendError) Error() string { return "send to " + e.Addr + ": " + e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
