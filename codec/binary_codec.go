package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"wiretest/message"
)

// BinaryCodec implements the tagged little-endian wire format described in
// package message.
type BinaryCodec struct{}

// Encode returns one complete frame for v.
func (c *BinaryCodec) Encode(v message.Value) ([]byte, error) {
	switch v := v.(type) {
	case message.Int32:
		buf := make([]byte, 1+4)
		buf[0] = byte(message.KindInt32)
		binary.LittleEndian.PutUint32(buf[1:], uint32(v))
		return buf, nil
	case message.Uint32:
		buf := make([]byte, 1+4)
		buf[0] = byte(message.KindUint32)
		binary.LittleEndian.PutUint32(buf[1:], uint32(v))
		return buf, nil
	case message.Float32:
		buf := make([]byte, 1+4)
		buf[0] = byte(message.KindFloat32)
		binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(float32(v)))
		return buf, nil
	case message.Uint16:
		buf := make([]byte, 1+2)
		buf[0] = byte(message.KindUint16)
		binary.LittleEndian.PutUint16(buf[1:], uint16(v))
		return buf, nil
	case message.Int16:
		buf := make([]byte, 1+2)
		buf[0] = byte(message.KindInt16)
		binary.LittleEndian.PutUint16(buf[1:], uint16(v))
		return buf, nil
	case message.Char:
		// Only single-byte characters survive the UTF-8 check on decode.
		if byte(v) >= utf8.RuneSelf {
			return nil, fmt.Errorf("%w: char 0x%02x is not a single-byte character", ErrEncodingRange, byte(v))
		}
		return []byte{byte(message.KindChar), byte(v)}, nil
	case message.Text:
		if !utf8.ValidString(string(v)) {
			return nil, fmt.Errorf("%w: string is not valid UTF-8", ErrEncodingFormat)
		}
		if uint64(len(v)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: string of %d bytes exceeds the 32-bit length field", ErrEncodingRange, len(v))
		}
		buf := make([]byte, 1+message.LengthPrefixSize+len(v))
		buf[0] = byte(message.KindText)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(len(v)))
		copy(buf[5:], v)
		return buf, nil
	case nil:
		return nil, fmt.Errorf("%w: nil value", ErrEncodingFormat)
	default:
		return nil, fmt.Errorf("%w: cannot encode kind %v", ErrEncodingFormat, v.Kind())
	}
}

// Decode parses exactly one frame. An unrecognised tag is not an error: it
// comes back as message.Unknown with the payload bytes attached.
func (c *BinaryCodec) Decode(data []byte) (message.Value, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: got %d bytes, need at least 2", ErrFrameTooShort, len(data))
	}

	kind := message.Kind(data[0])
	payload := data[1:]

	if !kind.Known() {
		raw := make([]byte, len(payload))
		copy(raw, payload)
		return message.Unknown{Tag: data[0], Raw: raw}, nil
	}

	if kind == message.KindText {
		return decodeText(data)
	}

	size, _ := kind.PayloadSize()
	if len(payload) < size {
		return nil, fmt.Errorf("%w: %s needs %d payload bytes, got %d", ErrFrameTooShort, kind.Name(), size, len(payload))
	}
	if len(payload) > size {
		return nil, fmt.Errorf("%w: %s needs %d payload bytes, got %d", ErrTrailingData, kind.Name(), size, len(payload))
	}

	switch kind {
	case message.KindInt32:
		return message.Int32(int32(binary.LittleEndian.Uint32(payload))), nil
	case message.KindUint32:
		return message.Uint32(binary.LittleEndian.Uint32(payload)), nil
	case message.KindFloat32:
		return message.Float32(math.Float32frombits(binary.LittleEndian.Uint32(payload))), nil
	case message.KindUint16:
		return message.Uint16(binary.LittleEndian.Uint16(payload)), nil
	case message.KindInt16:
		return message.Int16(int16(binary.LittleEndian.Uint16(payload))), nil
	default: // message.KindChar
		if payload[0] >= utf8.RuneSelf {
			return nil, fmt.Errorf("%w: char byte 0x%02x", ErrDecodingEncoding, payload[0])
		}
		return message.Char(payload[0]), nil
	}
}

func decodeText(data []byte) (message.Value, error) {
	header := 1 + message.LengthPrefixSize
	if len(data) < header {
		return nil, fmt.Errorf("%w: string frame needs %d header bytes, got %d", ErrFrameTooShort, header, len(data))
	}
	length := uint64(binary.LittleEndian.Uint32(data[1:header]))
	body := data[header:]
	if uint64(len(body)) < length {
		return nil, fmt.Errorf("%w: string declares %d bytes, got %d", ErrFrameTooShort, length, len(body))
	}
	if uint64(len(body)) > length {
		return nil, fmt.Errorf("%w: string declares %d bytes, got %d", ErrTrailingData, length, len(body))
	}
	if !utf8.Valid(body) {
		return nil, ErrDecodingEncoding
	}
	return message.Text(body), nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
