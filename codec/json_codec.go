package codec

import (
	"encoding/json"
	"fmt"

	"wiretest/message"
)

// Record is the structured form of a value used for json/yaml output.
type Record struct {
	Tag   string `json:"tag" yaml:"tag"`
	Type  string `json:"type" yaml:"type"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
	Raw   []byte `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// NewRecord flattens v into a Record. Unknown values keep their raw bytes.
func NewRecord(v message.Value) Record {
	if u, ok := v.(message.Unknown); ok {
		return Record{Tag: fmt.Sprintf("0x%02x", u.Tag), Type: "unknown", Raw: u.Raw}
	}
	r := Record{Tag: string(rune(v.Kind())), Type: v.Kind().Name()}
	switch v := v.(type) {
	case message.Int32:
		r.Value = int32(v)
	case message.Uint32:
		r.Value = uint32(v)
	case message.Float32:
		r.Value = float32(v)
	case message.Uint16:
		r.Value = uint16(v)
	case message.Int16:
		r.Value = int16(v)
	default: // Char, Text
		r.Value = v.String()
	}
	return r
}

// JSONCodec renders values as JSON records. It is never used on the wire.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v message.Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil value", ErrEncodingFormat)
	}
	return json.Marshal(NewRecord(v))
}

func (c *JSONCodec) Decode(data []byte) (message.Value, error) {
	var rec struct {
		Tag   string          `json:"tag"`
		Value json.RawMessage `json:"value"`
		Raw   []byte          `json:"raw"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	if len(rec.Tag) != 1 {
		var tag byte
		if _, err := fmt.Sscanf(rec.Tag, "0x%02x", &tag); err != nil {
			return nil, fmt.Errorf("%w: bad tag %q", ErrEncodingFormat, rec.Tag)
		}
		return message.Unknown{Tag: tag, Raw: rec.Raw}, nil
	}

	kind := message.Kind(rec.Tag[0])
	switch kind {
	case message.KindInt32:
		var n int32
		err := json.Unmarshal(rec.Value, &n)
		return message.Int32(n), err
	case message.KindUint32:
		var n uint32
		err := json.Unmarshal(rec.Value, &n)
		return message.Uint32(n), err
	case message.KindFloat32:
		var f float32
		err := json.Unmarshal(rec.Value, &f)
		return message.Float32(f), err
	case message.KindUint16:
		var n uint16
		err := json.Unmarshal(rec.Value, &n)
		return message.Uint16(n), err
	case message.KindInt16:
		var n int16
		err := json.Unmarshal(rec.Value, &n)
		return message.Int16(n), err
	case message.KindChar, message.KindText:
		var s string
		if err := json.Unmarshal(rec.Value, &s); err != nil {
			return nil, err
		}
		return ParseToken(kind, s)
	}
	return message.Unknown{Tag: rec.Tag[0], Raw: rec.Raw}, nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
