// Package protocol cuts typed frames out of a byte stream.
//
// UDP preserves message boundaries, so one datagram is one frame. TCP does
// not: a single read may return half a frame, or three frames glued
// together. The frame itself says how long it is:
//
//	fixed kinds:  1 tag byte + PayloadSize() bytes
//	's':          1 tag byte + 4-byte LE length L + L bytes
//	unknown tag:  no length can be inferred; everything buffered is one frame
//
// SplitFrame has the bufio.SplitFunc signature so it works both with a
// bufio.Scanner and with a hand-managed buffer that must survive read
// deadlines (see transport).
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"wiretest/message"
)

// DefaultMaxFrameSize bounds the declared length of a string frame on a stream.
const DefaultMaxFrameSize = 1 << 24

// ErrFrameTooLarge is returned when a string frame declares more bytes than
// the configured maximum. The declared length still tells a reader how many
// bytes to skip to reach the next frame.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameLength returns the total size of the frame that starts at data[0].
// ok is false when more bytes are needed to know, or to have, the whole frame.
func FrameLength(data []byte) (n uint64, ok bool) {
	if len(data) == 0 {
		return 0, false
	}
	kind := message.Kind(data[0])
	if size, fixed := kind.PayloadSize(); fixed {
		n = uint64(1 + size)
		return n, uint64(len(data)) >= n
	}
	if kind == message.KindText {
		header := 1 + message.LengthPrefixSize
		if len(data) < header {
			return 0, false
		}
		n = uint64(header) + uint64(binary.LittleEndian.Uint32(data[1:header]))
		return n, uint64(len(data)) >= n
	}
	return uint64(len(data)), true
}

// SplitFrame is a bufio.SplitFunc yielding one frame per token with the
// default size limit.
func SplitFrame(data []byte, atEOF bool) (advance int, token []byte, err error) {
	return split(data, atEOF, DefaultMaxFrameSize)
}

// Splitter returns a SplitFunc that rejects string frames larger than maxFrame.
// maxFrame <= 0 means DefaultMaxFrameSize.
func Splitter(maxFrame int) bufio.SplitFunc {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return func(data []byte, atEOF bool) (int, []byte, error) {
		return split(data, atEOF, maxFrame)
	}
}

func split(data []byte, atEOF bool, maxFrame int) (int, []byte, error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	n, ok := FrameLength(data)
	if n > uint64(maxFrame) {
		return 0, nil, fmt.Errorf("%w: %d bytes declared, limit %d", ErrFrameTooLarge, n, maxFrame)
	}
	if ok {
		return int(n), data[:n], nil
	}
	if atEOF {
		// The peer went away mid-frame. Hand the partial frame to the
		// decoder so it gets reported instead of silently dropped.
		return len(data), data, nil
	}
	return 0, nil, nil
}

// WriteFrame writes frame with a single Write call, so a frame is never
// interleaved with another on the same connection.
func WriteFrame(w io.Writer, frame []byte) error {
	n, err := w.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}
