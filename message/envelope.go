package message

import (
	"net"
	"time"
)

// Direction tells whether an Envelope is leaving or arriving.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Envelope carries one value through a handler chain.
//
//   - Outbound: Token is what the operator typed, Value is the parsed value,
//     Frame is the encoded bytes, Peer is the destination.
//   - Inbound: Frame is what the transport delivered, Peer is the sender,
//     Value is set on successful decode, Err is set on a malformed frame.
type Envelope struct {
	Direction Direction
	Token     string
	Value     Value
	Frame     []byte
	Peer      net.Addr
	Err       error
	At        time.Time
}
