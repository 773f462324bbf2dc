// Package protocol restores message boundaries on a TCP byte stream.
//
// Every wire packet is prefixed with its total length (header included) as an
// unsigned big-endian integer. The header is as narrow as the configured
// maximum packet size allows:
//
//	packetSize 255        -> 1-byte header
//	packetSize 65535      -> 2-byte header (the default)
//	packetSize 16777215   -> 3-byte header
//	larger                -> 4-byte header
//
// Frame format:
//
//	┌──────────────────────┬───────────────────────────────┐
//	│ length (1..4 bytes)  │ payload (length - header)     │
//	└──────────────────────┴───────────────────────────────┘
//
// The framer knows nothing about what the payload carries.
package protocol

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

// DefaultPacketSize is the default maximum size of one wire packet.
const DefaultPacketSize = 65535

var (
	// ErrPacketTooLarge is returned when a payload does not fit in one packet.
	ErrPacketTooLarge = errors.New("protocol: packet too large")
	// ErrBadLength is returned when a header declares an impossible length.
	ErrBadLength = errors.New("protocol: invalid packet length")
)

// HeaderLength returns the number of bytes (1 to 4) needed to represent
// packetSize as an unsigned big-endian integer.
func HeaderLength(packetSize int) int {
	n := 0
	for v := uint64(packetSize); ; v >>= 8 {
		n++
		if v>>8 == 0 {
			break
		}
	}
	return n
}

// MaxPayload returns the largest payload one packet of packetSize can carry.
func MaxPayload(packetSize int) int {
	return packetSize - HeaderLength(packetSize)
}

// ValidPacketSize reports whether packetSize is usable as a maximum packet size.
func ValidPacketSize(packetSize int) bool {
	return packetSize > 1 && uint64(packetSize) <= math.MaxUint32
}

func putLength(dst []byte, length uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(length)
		length >>= 8
	}
}

func readLength(src []byte) uint64 {
	var v uint64
	for _, b := range src {
		v = v<<8 | uint64(b)
	}
	return v
}

// Frame returns payload prefixed with a headerLen-byte length header.
func Frame(headerLen int, payload []byte) ([]byte, error) {
	if headerLen < 1 || headerLen > 4 {
		return nil, errors.Errorf("protocol: unsupported header length %d", headerLen)
	}
	total := uint64(len(payload) + headerLen)
	if total>>(8*uint(headerLen)) != 0 {
		return nil, errors.Wrapf(ErrPacketTooLarge, "%d bytes with a %d-byte header", len(payload), headerLen)
	}
	buf := make([]byte, int(total))
	putLength(buf[:headerLen], total)
	copy(buf[headerLen:], payload)
	return buf, nil
}

// Encode writes one framed packet to w.
// The caller must serialize writers sharing w, or packets will interleave.
func Encode(w io.Writer, headerLen int, payload []byte) error {
	buf, err := Frame(headerLen, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Decode reads exactly one framed packet from r and returns its payload.
// It blocks until the whole packet has arrived.
func Decode(r io.Reader, headerLen int) ([]byte, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := readLength(header)
	if length < uint64(headerLen) {
		return nil, errors.Wrapf(ErrBadLength, "declared %d, header alone is %d", length, headerLen)
	}
	payload := make([]byte, length-uint64(headerLen))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
