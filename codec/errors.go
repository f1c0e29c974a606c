package codec

import "errors"

// Encode-side errors: the operator's value violates the kind's contract.
// The value is skipped; the caller moves on to the next token.
var (
	ErrEncodingRange  = errors.New("value out of range")
	ErrEncodingFormat = errors.New("invalid value format")
)

// Decode-side errors: the received frame is malformed. They are reported
// per frame and never stop the receive loop.
var (
	ErrFrameTooShort    = errors.New("frame too short")
	ErrDecodingEncoding = errors.New("invalid UTF-8 payload")
	ErrTrailingData     = errors.New("trailing bytes after payload")
)
