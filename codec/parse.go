package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"wiretest/message"
)

// ParseToken converts one operator token into a value of the given kind.
// A token that is not a number (or not a single character for KindChar)
// fails with ErrEncodingFormat; a number outside the kind's range fails
// with ErrEncodingRange.
func ParseToken(kind message.Kind, token string) (message.Value, error) {
	switch kind {
	case message.KindInt32:
		n, err := parseSigned(token, 32)
		if err != nil {
			return nil, err
		}
		return message.Int32(n), nil
	case message.KindInt16:
		n, err := parseSigned(token, 16)
		if err != nil {
			return nil, err
		}
		return message.Int16(n), nil
	case message.KindUint32:
		n, err := parseUnsigned(token, 32)
		if err != nil {
			return nil, err
		}
		return message.Uint32(n), nil
	case message.KindUint16:
		n, err := parseUnsigned(token, 16)
		if err != nil {
			return nil, err
		}
		return message.Uint16(n), nil
	case message.KindFloat32:
		f, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return nil, numError(token, kind, err)
		}
		return message.Float32(f), nil
	case message.KindChar:
		if len(token) != 1 {
			return nil, fmt.Errorf("%w: char needs exactly one single-byte character, got %q", ErrEncodingFormat, token)
		}
		return message.Char(token[0]), nil
	case message.KindText:
		return message.Text(token), nil
	}
	return nil, fmt.Errorf("%w: unknown kind %v", ErrEncodingFormat, kind)
}

// EncodeToken parses token and returns its wire frame.
func EncodeToken(kind message.Kind, token string) ([]byte, message.Value, error) {
	v, err := ParseToken(kind, token)
	if err != nil {
		return nil, nil, err
	}
	var c BinaryCodec
	frame, err := c.Encode(v)
	if err != nil {
		return nil, nil, err
	}
	return frame, v, nil
}

func parseSigned(token string, bits int) (int64, error) {
	n, err := strconv.ParseInt(token, 10, bits)
	if err != nil {
		return 0, numError(token, signedKind(bits), err)
	}
	return n, nil
}

func parseUnsigned(token string, bits int) (uint64, error) {
	kind := unsignedKind(bits)
	// ParseUint reports "-5" as a syntax error; it is a range problem.
	if strings.HasPrefix(token, "-") {
		if _, err := strconv.ParseInt(token, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %q is negative, %s cannot hold it", ErrEncodingRange, token, kind.Name())
		}
	}
	n, err := strconv.ParseUint(token, 10, bits)
	if err != nil {
		return 0, numError(token, kind, err)
	}
	return n, nil
}

func numError(token string, kind message.Kind, err error) error {
	if errors.Is(err, strconv.ErrRange) {
		return fmt.Errorf("%w: %q does not fit %s", ErrEncodingRange, token, kind.Name())
	}
	return fmt.Errorf("%w: %q is not a valid %s", ErrEncodingFormat, token, kind.Name())
}

func signedKind(bits int) message.Kind {
	if bits == 16 {
		return message.KindInt16
	}
	return message.KindInt32
}

func unsignedKind(bits int) message.Kind {
	if bits == 16 {
		return message.KindUint16
	}
	return message.KindUint32
}
