package codec

import (
	"sort"
	"strconv"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
)

// Converter lowers and lifts one Go type. Implementations must be exact
// inverses of each other.
type Converter[T any] interface {
	Lower(w *buffer.Writer, v T) error
	Lift(r *buffer.Reader) (T, error)
}

type fixed[T any] struct {
	write func(*buffer.Writer, T)
	read  func(*buffer.Reader) (T, error)
}

func (f fixed[T]) Lower(w *buffer.Writer, v T) error {
	f.write(w, v)
	return nil
}

func (f fixed[T]) Lift(r *buffer.Reader) (T, error) {
	return f.read(r)
}

var (
	U8  Converter[uint8]   = fixed[uint8]{(*buffer.Writer).WriteU8, (*buffer.Reader).ReadU8}
	I8  Converter[int8]    = fixed[int8]{(*buffer.Writer).WriteI8, (*buffer.Reader).ReadI8}
	U16 Converter[uint16]  = fixed[uint16]{(*buffer.Writer).WriteU16, (*buffer.Reader).ReadU16}
	I16 Converter[int16]   = fixed[int16]{(*buffer.Writer).WriteI16, (*buffer.Reader).ReadI16}
	U32 Converter[uint32]  = fixed[uint32]{(*buffer.Writer).WriteU32, (*buffer.Reader).ReadU32}
	I32 Converter[int32]   = fixed[int32]{(*buffer.Writer).WriteI32, (*buffer.Reader).ReadI32}
	U64 Converter[uint64]  = fixed[uint64]{(*buffer.Writer).WriteU64, (*buffer.Reader).ReadU64}
	I64 Converter[int64]   = fixed[int64]{(*buffer.Writer).WriteI64, (*buffer.Reader).ReadI64}
	F32 Converter[float32] = fixed[float32]{(*buffer.Writer).WriteF32, (*buffer.Reader).ReadF32}
	F64 Converter[float64] = fixed[float64]{(*buffer.Writer).WriteF64, (*buffer.Reader).ReadF64}

	Bool   Converter[bool]   = fixed[bool]{(*buffer.Writer).WriteBool, readBool}
	String Converter[string] = stringConverter{}
)

type stringConverter struct{}

func (stringConverter) Lower(w *buffer.Writer, v string) error { return writeString(w, v) }
func (stringConverter) Lift(r *buffer.Reader) (string, error)  { return readString(r, 0) }

// Optional encodes *T with a presence flag; nil is absent.
func Optional[T any](elem Converter[T]) Converter[*T] {
	return optional[T]{elem}
}

type optional[T any] struct{ elem Converter[T] }

func (o optional[T]) Lower(w *buffer.Writer, v *T) error {
	if v == nil {
		w.WriteU8(0)
		return nil
	}
	w.WriteU8(1)
	return o.elem.Lower(w, *v)
}

func (o optional[T]) Lift(r *buffer.Reader) (*T, error) {
	present, err := readFlag(r)
	if err != nil || !present {
		return nil, err
	}
	v, err := o.elem.Lift(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Sequence encodes []T with an i32 count prefix.
func Sequence[T any](elem Converter[T]) Converter[[]T] {
	return sequence[T]{elem}
}

type sequence[T any] struct{ elem Converter[T] }

func (s sequence[T]) Lower(w *buffer.Writer, v []T) error {
	if err := writeLength(w, len(v), "sequence"); err != nil {
		return err
	}
	for i := range v {
		if err := s.elem.Lower(w, v[i]); err != nil {
			return atPath(err, "["+strconv.Itoa(i)+"]")
		}
	}
	return nil
}

func (s sequence[T]) Lift(r *buffer.Reader) ([]T, error) {
	n, err := readLength(r, "sequence", 0)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, capHint(n, r))
	for i := 0; i < n; i++ {
		v, err := s.elem.Lift(r)
		if err != nil {
			return nil, atPath(err, "["+strconv.Itoa(i)+"]")
		}
		out = append(out, v)
	}
	return out, nil
}

// Map encodes map[string]T as a count followed by key/value pairs. Keys
// are written in sorted order so equal maps produce equal bytes.
func Map[T any](value Converter[T]) Converter[map[string]T] {
	return mapConverter[T]{value}
}

type mapConverter[T any] struct{ value Converter[T] }

func (m mapConverter[T]) Lower(w *buffer.Writer, v map[string]T) error {
	if err := writeLength(w, len(v), "record"); err != nil {
		return err
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writeString(w, k); err != nil {
			return atPath(err, k)
		}
		if err := m.value.Lower(w, v[k]); err != nil {
			return atPath(err, k)
		}
	}
	return nil
}

func (m mapConverter[T]) Lift(r *buffer.Reader) (map[string]T, error) {
	n, err := readLength(r, "record", 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, capHint(n, r))
	for i := 0; i < n; i++ {
		k, err := readString(r, 0)
		if err != nil {
			return nil, atPath(err, "["+strconv.Itoa(i)+"]")
		}
		v, err := m.value.Lift(r)
		if err != nil {
			return nil, atPath(err, k)
		}
		out[k] = v
	}
	return out, nil
}

// Func adapts a pair of functions, typically a hand-written record
// encoding that calls the field converters in declared order.
type Func[T any] struct {
	LowerFunc func(w *buffer.Writer, v T) error
	LiftFunc  func(r *buffer.Reader) (T, error)
}

func (f Func[T]) Lower(w *buffer.Writer, v T) error { return f.LowerFunc(w, v) }
func (f Func[T]) Lift(r *buffer.Reader) (T, error)  { return f.LiftFunc(r) }

// FlatEnum encodes a fieldless enum as its 1-based position in variants.
func FlatEnum[T comparable](typeName string, variants ...T) Converter[T] {
	idx := make(map[T]int32, len(variants))
	for i, v := range variants {
		idx[v] = int32(i + 1)
	}
	return flatEnum[T]{name: typeName, variants: variants, index: idx}
}

type flatEnum[T comparable] struct {
	index    map[T]int32
	name     string
	variants []T
}

func (e flatEnum[T]) Lower(w *buffer.Writer, v T) error {
	tag, ok := e.index[v]
	if !ok {
		return errors.New(errors.PhaseLower, errors.KindInvalidDiscriminant).
			TypeName(e.name).
			Value(v).
			Detail("value %v is not a variant", v).
			Build()
	}
	w.WriteI32(tag)
	return nil
}

func (e flatEnum[T]) Lift(r *buffer.Reader) (T, error) {
	i, err := readTag(r, e.name, len(e.variants))
	if err != nil {
		var zero T
		return zero, err
	}
	return e.variants[i], nil
}

// NotSerializable is the converter for object, callback and error types
// embedded by value. Both directions always fail.
func NotSerializable[T any](typeName string) Converter[T] {
	return notSerializable[T]{typeName}
}

type notSerializable[T any] struct{ name string }

func (n notSerializable[T]) Lower(*buffer.Writer, T) error {
	return errors.NotSerializable(errors.PhaseLower, nil, n.name)
}

func (n notSerializable[T]) Lift(*buffer.Reader) (T, error) {
	var zero T
	return zero, errors.NotSerializable(errors.PhaseLift, nil, n.name)
}

// Lower encodes v into a fresh buffer owned by the caller.
func Lower[T any](c Converter[T], v T) (*buffer.Buffer, error) {
	w := buffer.NewWriter()
	if err := c.Lower(w, v); err != nil {
		w.Discard()
		return nil, err
	}
	return w.Finish(), nil
}

// LowerInto appends the encoding of v to w.
func LowerInto[T any](w *buffer.Writer, c Converter[T], v T) error {
	return c.Lower(w, v)
}

// LiftFrom decodes a whole buffer. Bytes left over after the value are an
// error.
func LiftFrom[T any](c Converter[T], b *buffer.Buffer) (T, error) {
	var zero T
	r, err := b.Reader()
	if err != nil {
		return zero, err
	}
	v, err := c.Lift(r)
	if err != nil {
		return zero, err
	}
	if r.Remaining() != 0 {
		return zero, errors.TrailingData(nil, r.Remaining())
	}
	return v, nil
}
