// Package fragment splits packets into wire-sized pieces and puts them back
// together on the receiving side.
//
// Each fragment is encoded as:
//
//	┌──────────┬─────────┬───────────┬───────────┬──────────┬─────────┐
//	│ key len  │ key     │ index     │ total     │ data len │ data    │
//	│ u16 BE   │ ...     │ i16 BE    │ i16 BE    │ u16 BE   │ ...     │
//	└──────────┴─────────┴───────────┴───────────┴──────────┴─────────┘
//
// The key is the packet kind followed by its big-endian tag, so every
// fragment of one packet carries the same 9 key bytes and the receiver can
// recover the kind and tag from any of them. Longer keys are accepted; only
// their first 9 bytes are read.
package fragment

import (
	"math"

	"github.com/pkg/errors"

	"xrpc/codec"
	"xrpc/message"
)

// Size is the largest chunk of packet data carried by one fragment.
const Size = 60000

// KeyLength is the length of a group key: one kind byte and an int64 tag.
const KeyLength = 9

// Overhead is the number of bytes a fragment adds to its chunk.
const Overhead = 2 + KeyLength + 2 + 2 + 2

// MaxPacket is the largest packet data Create can split.
const MaxPacket = Size * math.MaxInt16

var (
	ErrTooLarge = errors.New("fragment: packet too large")
	ErrBadKey   = errors.New("fragment: malformed group key")
)

// Fragment is one piece of a packet.
type Fragment struct {
	Key   []byte
	Index int
	Total int
	Chunk []byte
}

// Key returns the group key shared by every fragment of the packet
// identified by kind and tag.
func Key(kind message.Kind, tag int64) []byte {
	w := codec.NewWriter()
	w.WriteByte(byte(kind))
	w.WriteInt64(tag)
	return w.Bytes()
}

// ParseKey recovers the packet kind and tag from a group key. Bytes past
// KeyLength are ignored.
func ParseKey(key []byte) (message.Kind, int64, error) {
	if len(key) < KeyLength {
		return 0, 0, errors.Wrapf(ErrBadKey, "length %d", len(key))
	}
	r := codec.NewReader(key)
	b, _ := r.ReadByte()
	tag, _ := r.ReadInt64()
	kind := message.Kind(b)
	if !kind.Valid() {
		return 0, 0, errors.Wrapf(ErrBadKey, "unknown %s", kind)
	}
	return kind, tag, nil
}

// Create splits data into fragments of at most Size bytes. Empty data still
// yields one (empty) fragment so the receiver sees the packet.
func Create(kind message.Kind, tag int64, data []byte) ([]Fragment, error) {
	return Split(kind, tag, data, Size)
}

// Split is Create with chunks of at most size bytes.
func Split(kind message.Kind, tag int64, data []byte, size int) ([]Fragment, error) {
	if size <= 0 || size > Size {
		return nil, errors.Errorf("fragment: chunk size %d out of range", size)
	}
	if len(data) > size*math.MaxInt16 {
		return nil, errors.Wrapf(ErrTooLarge, "%d bytes", len(data))
	}
	total := (len(data) + size - 1) / size
	if total == 0 {
		total = 1
	}
	key := Key(kind, tag)
	frags := make([]Fragment, total)
	for i := range frags {
		start := i * size
		end := min(start+size, len(data))
		frags[i] = Fragment{Key: key, Index: i, Total: total, Chunk: data[start:end]}
	}
	return frags, nil
}

// Bytes encodes f for the wire.
func (f Fragment) Bytes() ([]byte, error) {
	w := codec.NewWriter()
	if err := w.WriteShortToken(f.Key); err != nil {
		return nil, errors.Wrap(err, "fragment: key")
	}
	w.WriteInt16(int16(f.Index))
	w.WriteInt16(int16(f.Total))
	if err := w.WriteShortToken(f.Chunk); err != nil {
		return nil, errors.Wrap(err, "fragment: chunk")
	}
	return w.Bytes(), nil
}

// Parse decodes a fragment. It reports false for anything that is not a
// well-formed fragment; such input is meant to be dropped.
func Parse(data []byte) (Fragment, bool) {
	r := codec.NewReader(data)
	key, err := r.ReadShortToken()
	if err != nil {
		return Fragment{}, false
	}
	index, err := r.ReadInt16()
	if err != nil {
		return Fragment{}, false
	}
	total, err := r.ReadInt16()
	if err != nil {
		return Fragment{}, false
	}
	chunk, err := r.ReadShortToken()
	if err != nil {
		return Fragment{}, false
	}
	if total <= 0 || index < 0 || index >= total {
		return Fragment{}, false
	}
	return Fragment{Key: key, Index: int(index), Total: int(total), Chunk: chunk}, true
}
