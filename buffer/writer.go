package buffer

import (
	"encoding/binary"
	"math"
)

// Writer accumulates an outbound buffer. Storage comes from a pool and is
// handed over, not copied, by Finish.
type Writer struct {
	data *[]byte
}

func NewWriter() *Writer {
	return &Writer{data: getBytes()}
}

func (w *Writer) Len() int {
	return len(*w.data)
}

func (w *Writer) Write(p []byte) {
	*w.data = append(*w.data, p...)
}

func (w *Writer) WriteString(s string) {
	*w.data = append(*w.data, s...)
}

func (w *Writer) WriteU8(v uint8) {
	*w.data = append(*w.data, v)
}

func (w *Writer) WriteI8(v int8) {
	w.WriteU8(uint8(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

func (w *Writer) WriteU16(v uint16) {
	*w.data = binary.BigEndian.AppendUint16(*w.data, v)
}

func (w *Writer) WriteI16(v int16) {
	w.WriteU16(uint16(v))
}

func (w *Writer) WriteU32(v uint32) {
	*w.data = binary.BigEndian.AppendUint32(*w.data, v)
}

func (w *Writer) WriteI32(v int32) {
	w.WriteU32(uint32(v))
}

func (w *Writer) WriteU64(v uint64) {
	*w.data = binary.BigEndian.AppendUint64(*w.data, v)
}

func (w *Writer) WriteI64(v int64) {
	w.WriteU64(uint64(v))
}

func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

func (w *Writer) WriteF64(v float64) {
	w.WriteU64(math.Float64bits(v))
}

// Finish hands the written bytes over as an owned Buffer. The writer must
// not be used afterwards.
func (w *Writer) Finish() *Buffer {
	out := &Buffer{data: w.data}
	w.data = nil
	return out
}

// Discard returns the storage without producing a buffer, for error paths.
func (w *Writer) Discard() {
	if w.data != nil {
		putBytes(w.data)
		w.data = nil
	}
}
