package protocol

import "github.com/pkg/errors"

// Framer accumulates bytes received from a stream and hands back whole
// packets. It is not safe for concurrent use; each connection owns one.
type Framer struct {
	buf       []byte
	headerLen int
	maxLen    uint64 // 0 means no limit beyond the header width
}

// NewFramer returns a Framer for packets of at most packetSize bytes.
func NewFramer(packetSize int) *Framer {
	return &Framer{
		headerLen: HeaderLength(packetSize),
		maxLen:    uint64(packetSize),
	}
}

// HeaderLength returns the width of the length header.
func (f *Framer) HeaderLength() int {
	return f.headerLen
}

// Push appends newly received bytes.
func (f *Framer) Push(p []byte) {
	f.buf = append(f.buf, p...)
}

// Buffered returns the number of bytes waiting for a complete packet.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// TryPull removes and returns the next complete payload. It returns
// ok == false when the next packet has not fully arrived; the partial data
// stays buffered. A header declaring an impossible length is reported as an
// error, after which the stream cannot be resynchronized.
func (f *Framer) TryPull() (payload []byte, ok bool, err error) {
	if len(f.buf) < f.headerLen {
		return nil, false, nil
	}
	length := readLength(f.buf[:f.headerLen])
	if length < uint64(f.headerLen) {
		return nil, false, errors.Wrapf(ErrBadLength, "declared %d, header alone is %d", length, f.headerLen)
	}
	if f.maxLen > 0 && length > f.maxLen {
		return nil, false, errors.Wrapf(ErrBadLength, "declared %d, maximum is %d", length, f.maxLen)
	}
	if uint64(len(f.buf)) < length {
		return nil, false, nil
	}

	n := int(length)
	payload = make([]byte, n-f.headerLen)
	copy(payload, f.buf[f.headerLen:n])

	// Shift the remainder down so the backing array is reused.
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
	return payload, true, nil
}

// Reset discards any buffered bytes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
