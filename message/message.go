// Package message defines the values exchanged between peers.
//
// A Packet is the unit the transport moves: a request or response identified by
// a caller-chosen tag. Its data is a JSON envelope (Request or Response) that
// carries the call itself; the envelope layout is shared with the Java and C#
// runtimes, so field names must not change.
package message

import "fmt"

// Kind distinguishes request packets from response packets.
type Kind byte

const (
	KindRequest  Kind = 0x10 // caller -> callee
	KindResponse Kind = 0x20 // callee -> caller, same tag as the request
)

// Valid reports whether k is a known packet kind.
func (k Kind) Valid() bool {
	return k == KindRequest || k == KindResponse
}

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	}
	return fmt.Sprintf("kind(0x%02x)", byte(k))
}

// Packet is a logical RPC message.
//
//   - Tag pairs a request with its response; it is generated by the caller.
//   - Data is the encoded envelope, possibly larger than one wire fragment.
type Packet struct {
	Kind Kind
	Tag  int64
	Data []byte
}
