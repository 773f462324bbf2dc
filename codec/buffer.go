package codec

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrShortBuffer is returned when a read runs past the end of the data.
var ErrShortBuffer = errors.New("codec: buffer too short")

// ErrTokenTooLong is returned when a short token does not fit its 2-byte length prefix.
var ErrTokenTooLong = errors.New("codec: token longer than 65535 bytes")

// Writer appends typed values to a growing byte slice.
// The byte order defaults to big-endian (network byte order).
type Writer struct {
	buf   []byte
	order binary.AppendByteOrder
}

// NewWriter returns a Writer using big-endian order.
func NewWriter() *Writer {
	return &Writer{order: binary.BigEndian}
}

// NewWriterOrder returns a Writer using the given byte order.
func NewWriterOrder(order binary.AppendByteOrder) *Writer {
	return &Writer{order: order}
}

func (w *Writer) WriteByte(c byte) error {
	w.buf = append(w.buf, c)
	return nil
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteInt16(v int16) {
	w.buf = w.order.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = w.order.AppendUint16(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.buf = w.order.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = w.order.AppendUint32(w.buf, v)
}

func (w *Writer) WriteInt64(v int64) {
	w.buf = w.order.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.buf = w.order.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.buf = w.order.AppendUint64(w.buf, math.Float64bits(v))
}

// Write appends p verbatim. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// WriteShortToken writes a 2-byte length followed by data.
func (w *Writer) WriteShortToken(data []byte) error {
	if len(data) > math.MaxUint16 {
		return errors.Wrapf(ErrTokenTooLong, "length %d", len(data))
	}
	w.WriteUint16(uint16(len(data)))
	w.buf = append(w.buf, data...)
	return nil
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written bytes. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader is a cursor over a byte slice. Every read is bounds-checked and
// fails with ErrShortBuffer instead of panicking.
type Reader struct {
	data  []byte
	off   int
	order binary.ByteOrder
}

// NewReader returns a big-endian Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, order: binary.BigEndian}
}

// NewReaderOrder returns a Reader over data using the given byte order.
func NewReaderOrder(data []byte, order binary.ByteOrder) *Reader {
	return &Reader{data: data, order: order}
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.off < n {
		return nil, errors.Wrapf(ErrShortBuffer, "need %d bytes at offset %d, have %d", n, r.off, len(r.data)-r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return int64(r.order.Uint64(b)), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(r.order.Uint64(b)), nil
}

// ReadBytes returns a copy of the next n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, err := r.next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadShortToken reads a 2-byte length followed by that many bytes.
func (r *Reader) ReadShortToken() ([]byte, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(int(n))
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}
