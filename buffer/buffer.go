package buffer

import (
	"github.com/wippyai/ffi-bridge/errors"
)

// Buffer is an owned byte sequence crossing the boundary. Exactly one side
// owns a Buffer at a time: handing it over is done with Move, after which
// the old value is dead and every access to it fails.
type Buffer struct {
	data  *[]byte
	moved bool
}

// New takes ownership of data. The caller must not touch data afterwards.
func New(data []byte) *Buffer {
	return &Buffer{data: &data}
}

// Copy returns a Buffer holding a private copy of data.
func Copy(data []byte) *Buffer {
	p := getBytes()
	*p = append(*p, data...)
	return &Buffer{data: p}
}

// Len returns the number of bytes held, or 0 for a dead buffer.
func (b *Buffer) Len() int {
	if b == nil || b.moved {
		return 0
	}
	return len(*b.data)
}

// Live reports whether the buffer may still be accessed.
func (b *Buffer) Live() bool {
	return b != nil && !b.moved
}

// Bytes exposes the contents. The slice is borrowed and must not be
// retained past Free or Move.
func (b *Buffer) Bytes() ([]byte, error) {
	if !b.Live() {
		return nil, errors.MovedBuffer("bytes")
	}
	return *b.data, nil
}

// Move transfers ownership to the returned Buffer. Moving a dead buffer
// yields another dead buffer.
func (b *Buffer) Move() *Buffer {
	if !b.Live() {
		return &Buffer{moved: true}
	}
	out := &Buffer{data: b.data}
	b.data = nil
	b.moved = true
	return out
}

// Free reclaims the storage. The buffer is dead afterwards; freeing it
// again is an error.
func (b *Buffer) Free() error {
	if !b.Live() {
		return errors.MovedBuffer("free")
	}
	putBytes(b.data)
	b.data = nil
	b.moved = true
	return nil
}

// Reader returns a reader positioned at the first byte.
func (b *Buffer) Reader() (*Reader, error) {
	if !b.Live() {
		return nil, errors.MovedBuffer("read")
	}
	return &Reader{data: *b.data}, nil
}
