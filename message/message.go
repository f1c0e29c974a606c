// Package message defines the typed values exchanged between two wiretest peers.
//
// Every frame on the wire carries exactly one Value. The first byte of the
// frame is the Kind tag; the rest is the payload for that kind:
//
//	┌─────┬──────────────────────────────┐
//	│ tag │ payload                      │
//	├─────┼──────────────────────────────┤
//	│ 'i' │ int32, 4 bytes LE            │
//	│ 'I' │ uint32, 4 bytes LE           │
//	│ 'f' │ float32, 4 bytes LE IEEE-754 │
//	│ 'c' │ 1 byte                       │
//	│ 'H' │ uint16, 2 bytes LE           │
//	│ 'h' │ int16, 2 bytes LE            │
//	│ 's' │ uint32 length L, then L bytes│
//	└─────┴──────────────────────────────┘
package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the one-byte type discriminator at the start of every frame.
type Kind byte

const (
	KindInt32   Kind = 'i'
	KindFloat32 Kind = 'f'
	KindUint32  Kind = 'I'
	KindChar    Kind = 'c'
	KindUint16  Kind = 'H'
	KindInt16   Kind = 'h'
	KindText    Kind = 's'
)

// LengthPrefixSize is the size of the length field that follows a 's' tag.
const LengthPrefixSize = 4

// Kinds lists the known kinds in menu order (1..7).
var Kinds = [...]Kind{KindInt32, KindFloat32, KindUint32, KindChar, KindUint16, KindInt16, KindText}

// Known reports whether k is one of the seven wire kinds.
func (k Kind) Known() bool {
	switch k {
	case KindInt32, KindFloat32, KindUint32, KindChar, KindUint16, KindInt16, KindText:
		return true
	}
	return false
}

// PayloadSize returns the payload width in bytes for fixed-size kinds.
// fixed is false for KindText and for unknown tags.
func (k Kind) PayloadSize() (n int, fixed bool) {
	switch k {
	case KindInt32, KindUint32, KindFloat32:
		return 4, true
	case KindUint16, KindInt16:
		return 2, true
	case KindChar:
		return 1, true
	}
	return 0, false
}

// Name is the human-readable type name shown to the operator.
func (k Kind) Name() string {
	switch k {
	case KindInt32:
		return "int"
	case KindFloat32:
		return "float"
	case KindUint32:
		return "unsigned int"
	case KindChar:
		return "char"
	case KindUint16:
		return "unsigned short"
	case KindInt16:
		return "signed short"
	case KindText:
		return "complete string"
	}
	return "unknown"
}

func (k Kind) String() string {
	if k.Known() {
		return k.Name()
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(k))
}

// ParseKind accepts a tag letter ("i"), a menu number ("1") or a name
// ("int", "uint16", "string", ...).
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	if len(s) == 1 {
		if k := Kind(s[0]); k.Known() {
			return k, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= len(Kinds) {
		return Kinds[n-1], nil
	}
	switch strings.ToLower(s) {
	case "int", "int32", "signed int":
		return KindInt32, nil
	case "float", "float32":
		return KindFloat32, nil
	case "uint", "uint32", "unsigned int":
		return KindUint32, nil
	case "char":
		return KindChar, nil
	case "ushort", "uint16", "unsigned short":
		return KindUint16, nil
	case "short", "int16", "signed short":
		return KindInt16, nil
	case "string", "str", "text", "complete string":
		return KindText, nil
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// Value is one decoded scalar. The concrete type identifies the kind:
// Int32, Uint32, Float32, Char, Uint16, Int16, Text, or Unknown.
type Value interface {
	Kind() Kind
	String() string
}

type (
	Int32   int32
	Uint32  uint32
	Float32 float32
	Char    byte
	Uint16  uint16
	Int16   int16
	Text    string
)

func (Int32) Kind() Kind   { return KindInt32 }
func (Uint32) Kind() Kind  { return KindUint32 }
func (Float32) Kind() Kind { return KindFloat32 }
func (Char) Kind() Kind    { return KindChar }
func (Uint16) Kind() Kind  { return KindUint16 }
func (Int16) Kind() Kind   { return KindInt16 }
func (Text) Kind() Kind    { return KindText }

func (v Int32) String() string  { return strconv.FormatInt(int64(v), 10) }
func (v Uint32) String() string { return strconv.FormatUint(uint64(v), 10) }
func (v Float32) String() string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}
func (v Char) String() string   { return string(rune(v)) }
func (v Uint16) String() string { return strconv.FormatUint(uint64(v), 10) }
func (v Int16) String() string  { return strconv.FormatInt(int64(v), 10) }
func (v Text) String() string   { return string(v) }

// Unknown is a frame whose tag byte is not a known Kind. The payload is
// kept as raw bytes so the caller can report it and move on.
type Unknown struct {
	Tag byte
	Raw []byte
}

func (u Unknown) Kind() Kind { return Kind(u.Tag) }

func (u Unknown) String() string {
	return fmt.Sprintf("tag=%q payload=% x", rune(u.Tag), u.Raw)
}
