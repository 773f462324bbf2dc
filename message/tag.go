package message

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NewTag returns a random 64-bit correlation tag.
// It folds a random (version 4) UUID into 64 bits; collisions are possible but
// unlikely, and nothing downstream relies on uniqueness beyond that.
func NewTag() int64 {
	id := uuid.New()
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	return int64(hi ^ lo)
}
