// Package codec converts message.Value to and from bytes.
//
// BinaryCodec is the wire format every peer speaks. JSONCodec renders the
// same values as JSON records for machine-readable output and logs; it never
// goes on the wire.
package codec

import "wiretest/message"

type CodecType byte

const (
	CodecTypeBinary CodecType = 0
	CodecTypeJSON   CodecType = 1
)

type Codec interface {
	Encode(v message.Value) ([]byte, error)
	Decode(data []byte) (message.Value, error)
	Type() CodecType // 0=Binary, 1=JSON
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}
