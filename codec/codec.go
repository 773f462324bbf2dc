// Package codec holds the serialization helpers used below the RPC layer:
// a bounds-checked byte cursor for the binary wire structures and the codec
// used for request/response envelopes.
package codec

// Codec encodes and decodes protocol envelopes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

// Default is the envelope codec shared by every peer speaking this protocol.
var Default Codec = JSONCodec{}
