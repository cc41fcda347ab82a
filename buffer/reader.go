package buffer

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/ffi-bridge/errors"
)

// Reader consumes a borrowed buffer front to back. The offset only moves
// forward and never passes the end.
type Reader struct {
	data []byte
	off  int
}

// NewReader reads directly from data without taking ownership.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

// Read returns exactly n bytes and advances past them. The result aliases
// the underlying buffer.
func (r *Reader) Read(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, errors.OutOfBounds(errors.PhaseLift, nil, n, r.Remaining())
	}
	out := r.data[r.off : r.off+n : r.off+n]
	r.off += n
	return out, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.Read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}
