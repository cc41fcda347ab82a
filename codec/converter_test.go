package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
)

func lowerBytes[T any](t *testing.T, c Converter[T], v T) []byte {
	t.Helper()
	b, err := Lower(c, v)
	require.NoError(t, err)
	data, err := b.Bytes()
	require.NoError(t, err)
	return append([]byte(nil), data...)
}

func roundTrip[T any](t *testing.T, c Converter[T], v T) T {
	t.Helper()
	b, err := Lower(c, v)
	require.NoError(t, err)
	got, err := LiftFrom(c, b)
	require.NoError(t, err)
	return got
}

func requireKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	require.Error(t, err)
	got, ok := errors.KindOf(err)
	require.True(t, ok, "not a structured error: %v", err)
	assert.Equal(t, kind, got, "error: %v", err)
	assert.True(t, errors.IsInternal(err))
}

func TestString_Wire(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 2, 'h', 'i'}, lowerBytes(t, String, "hi"))

	got, err := LiftFrom(String, buffer.New([]byte{0, 0, 0, 2, 0x68, 0x69}))
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
}

func TestOptional_Wire(t *testing.T) {
	c := Optional(I32)
	assert.Equal(t, []byte{0x00}, lowerBytes(t, c, nil))

	five := int32(5)
	assert.Equal(t, []byte{0x01, 0, 0, 0, 5}, lowerBytes(t, c, &five))

	got := roundTrip(t, c, &five)
	require.NotNil(t, got)
	assert.Equal(t, int32(5), *got)
	assert.Nil(t, roundTrip(t, c, nil))
}

func TestPrimitives_RoundTrip(t *testing.T) {
	assert.Equal(t, uint8(math.MaxUint8), roundTrip(t, U8, math.MaxUint8))
	assert.Equal(t, int8(math.MinInt8), roundTrip(t, I8, math.MinInt8))
	assert.Equal(t, uint16(300), roundTrip(t, U16, 300))
	assert.Equal(t, int16(math.MinInt16), roundTrip(t, I16, math.MinInt16))
	assert.Equal(t, uint32(math.MaxUint32), roundTrip(t, U32, math.MaxUint32))
	assert.Equal(t, int32(-1), roundTrip(t, I32, -1))
	assert.Equal(t, uint64(math.MaxUint64), roundTrip(t, U64, math.MaxUint64))
	assert.Equal(t, int64(math.MinInt64), roundTrip(t, I64, math.MinInt64))
	assert.Equal(t, float32(-0.5), roundTrip(t, F32, -0.5))
	assert.Equal(t, math.MaxFloat64, roundTrip(t, F64, math.MaxFloat64))
	assert.True(t, roundTrip(t, Bool, true))
	assert.False(t, roundTrip(t, Bool, false))
	assert.Equal(t, "", roundTrip(t, String, ""))
	assert.Equal(t, "héllo, 世界", roundTrip(t, String, "héllo, 世界"))
}

func TestSequenceAndMap_RoundTrip(t *testing.T) {
	seq := Sequence(String)
	assert.Equal(t, []string{"a", "", "ccc"}, roundTrip(t, seq, []string{"a", "", "ccc"}))
	assert.Empty(t, roundTrip(t, seq, nil))

	nested := Sequence(Sequence(U8))
	assert.Equal(t, [][]uint8{{1}, {}, {2, 3}}, roundTrip(t, nested, [][]uint8{{1}, {}, {2, 3}}))

	m := Map(Optional(U32))
	one := uint32(1)
	in := map[string]*uint32{"one": &one, "none": nil}
	got := roundTrip(t, m, in)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), *got["one"])
	assert.Nil(t, got["none"])
}

func TestMap_SortedKeys(t *testing.T) {
	data := lowerBytes(t, Map(U8), map[string]uint8{"b": 2, "a": 1})
	assert.Equal(t, []byte{
		0, 0, 0, 2,
		0, 0, 0, 1, 'a', 1,
		0, 0, 0, 1, 'b', 2,
	}, data)
}

type color int

const (
	red color = iota
	green
	blue
)

func TestFlatEnum(t *testing.T) {
	c := FlatEnum("Color", red, green, blue)

	assert.Equal(t, []byte{0, 0, 0, 1}, lowerBytes(t, c, red))
	assert.Equal(t, []byte{0, 0, 0, 3}, lowerBytes(t, c, blue))
	assert.Equal(t, green, roundTrip(t, c, green))

	_, err := Lower(c, color(7))
	require.Error(t, err)
	kind, _ := errors.KindOf(err)
	assert.Equal(t, errors.KindInvalidDiscriminant, kind)

	for _, tag := range [][]byte{{0, 0, 0, 0}, {0, 0, 0, 4}, {0xFF, 0xFF, 0xFF, 0xFF}} {
		_, err := LiftFrom(c, buffer.New(tag))
		requireKind(t, err, errors.KindInvalidDiscriminant)
	}
}

type point struct {
	Label *string
	X, Y  int32
}

var pointConverter = Func[point]{
	LowerFunc: func(w *buffer.Writer, p point) error {
		if err := I32.Lower(w, p.X); err != nil {
			return err
		}
		if err := I32.Lower(w, p.Y); err != nil {
			return err
		}
		return Optional(String).Lower(w, p.Label)
	},
	LiftFunc: func(r *buffer.Reader) (point, error) {
		var p point
		var err error
		if p.X, err = I32.Lift(r); err != nil {
			return p, err
		}
		if p.Y, err = I32.Lift(r); err != nil {
			return p, err
		}
		p.Label, err = Optional(String).Lift(r)
		return p, err
	},
}

func TestFunc_Record(t *testing.T) {
	label := "origin"
	in := []point{{X: 1, Y: -2}, {X: 0, Y: 0, Label: &label}}
	got := roundTrip(t, Sequence[point](pointConverter), in)
	require.Len(t, got, 2)
	assert.Equal(t, int32(-2), got[0].Y)
	assert.Nil(t, got[0].Label)
	require.NotNil(t, got[1].Label)
	assert.Equal(t, "origin", *got[1].Label)
}

func TestLift_Violations(t *testing.T) {
	tests := []struct {
		name string
		lift func(*buffer.Buffer) error
		data []byte
		want errors.Kind
	}{
		{"bool 2", liftWith(Bool), []byte{2}, errors.KindInvalidBool},
		{"optional flag 2", liftWith(Optional(U8)), []byte{2, 0}, errors.KindInvalidFlag},
		{"negative string", liftWith(String), []byte{0xFF, 0xFF, 0xFF, 0xFE}, errors.KindNegativeLength},
		{"negative sequence", liftWith(Sequence(U8)), []byte{0x80, 0, 0, 0}, errors.KindNegativeLength},
		{"negative map", liftWith(Map(U8)), []byte{0xFF, 0xFF, 0xFF, 0xFF}, errors.KindNegativeLength},
		{"short string", liftWith(String), []byte{0, 0, 0, 5, 'a'}, errors.KindOutOfBounds},
		{"short u32", liftWith(U32), []byte{0, 0, 1}, errors.KindOutOfBounds},
		{"huge count", liftWith(Sequence(U64)), []byte{0x7F, 0xFF, 0xFF, 0xFF}, errors.KindOutOfBounds},
		{"invalid utf8", liftWith(String), []byte{0, 0, 0, 1, 0xFF}, errors.KindInvalidUTF8},
		{"trailing", liftWith(U8), []byte{1, 2}, errors.KindTrailingData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireKind(t, tt.lift(buffer.New(tt.data)), tt.want)
		})
	}
}

func liftWith[T any](c Converter[T]) func(*buffer.Buffer) error {
	return func(b *buffer.Buffer) error {
		_, err := LiftFrom(c, b)
		return err
	}
}

func TestLower_InvalidUTF8(t *testing.T) {
	_, err := Lower(String, string([]byte{0xC3}))
	requireKind(t, err, errors.KindInvalidUTF8)
}

func TestNotSerializable(t *testing.T) {
	c := NotSerializable[uint64]("TodoList")
	_, err := Lower(c, 1)
	requireKind(t, err, errors.KindNotSerializable)

	_, err = LiftFrom(c, buffer.New([]byte{0, 0, 0, 0, 0, 0, 0, 1}))
	requireKind(t, err, errors.KindNotSerializable)
}

func TestLiftFrom_MovedBuffer(t *testing.T) {
	b := buffer.New([]byte{1})
	_ = b.Move()
	_, err := LiftFrom(U8, b)
	requireKind(t, err, errors.KindMovedBuffer)
}

func TestErrorPath(t *testing.T) {
	_, err := LiftFrom(Sequence(Map(Bool)), buffer.New([]byte{
		0, 0, 0, 1,
		0, 0, 0, 1,
		0, 0, 0, 1, 'k', 9,
	}))
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"[0]", "k"}, e.Path)
}

func TestLowerInto_Appends(t *testing.T) {
	w := buffer.NewWriter()
	require.NoError(t, LowerInto(w, U8, 7))
	require.NoError(t, LowerInto(w, String, "x"))
	data, err := w.Finish().Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0, 0, 0, 1, 'x'}, data)
}
