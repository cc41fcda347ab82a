// Package rangeguard narrows foreign, dynamically typed integers into Go
// fixed-width integers.
//
// Foreign callers often hold numbers wider or looser than the declared
// parameter type: a JavaScript number, a Python int, a decimal string from
// JSON. CheckedInteger converts such a value to an exact integer and
// requires min <= v < max, failing with a RangeError otherwise.
package rangeguard

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/schema"
)

// Bounds is a half-open integer interval [Min, Max).
type Bounds struct {
	Min *big.Int
	Max *big.Int
}

func bounds(min, max *big.Int) Bounds { return Bounds{Min: min, Max: max} }

func pow2(n uint) *big.Int { return new(big.Int).Lsh(big.NewInt(1), n) }

func neg(v *big.Int) *big.Int { return new(big.Int).Neg(v) }

var kindBounds = map[schema.Kind]Bounds{
	schema.KindU8:  bounds(big.NewInt(0), pow2(8)),
	schema.KindU16: bounds(big.NewInt(0), pow2(16)),
	schema.KindU32: bounds(big.NewInt(0), pow2(32)),
	schema.KindU64: bounds(big.NewInt(0), pow2(64)),
	schema.KindI8:  bounds(neg(pow2(7)), pow2(7)),
	schema.KindI16: bounds(neg(pow2(15)), pow2(15)),
	schema.KindI32: bounds(neg(pow2(31)), pow2(31)),
	schema.KindI64: bounds(neg(pow2(63)), pow2(63)),
}

// For returns the bounds of a fixed-width integer kind.
func For(kind schema.Kind) (Bounds, bool) {
	b, ok := kindBounds[kind]
	return b, ok
}

// CheckedInteger converts value to an exact integer within [min, max).
//
// Accepted inputs are Go integers of any width, floats with no fractional
// part, decimal strings, json.Number and *big.Int. Anything else, including
// NaN, infinities and fractional values, cannot name an integer and is
// reported as a RangeError as well.
func CheckedInteger(value any, typeName string, min, max *big.Int) (*big.Int, error) {
	v, ok := toBig(value, clampBits(min, max))
	if !ok {
		return nil, errors.OutOfRange(typeName, value, "integer")
	}
	if v.Cmp(min) < 0 {
		return nil, errors.OutOfRange(typeName, value, ">= "+min.String())
	}
	if v.Cmp(max) >= 0 {
		return nil, errors.OutOfRange(typeName, value, "< "+max.String())
	}
	return v, nil
}

// Narrow converts value to the exact Go type of an integer kind, e.g.
// uint16 for schema.KindU16.
func Narrow(kind schema.Kind, value any) (any, error) {
	b, ok := For(kind)
	if !ok {
		return nil, errors.Unsupported(errors.PhaseRange, "not a fixed-width integer kind: "+kind.String())
	}
	v, err := CheckedInteger(value, kind.String(), b.Min, b.Max)
	if err != nil {
		return nil, err
	}
	switch kind {
	case schema.KindU8:
		return uint8(v.Uint64()), nil
	case schema.KindU16:
		return uint16(v.Uint64()), nil
	case schema.KindU32:
		return uint32(v.Uint64()), nil
	case schema.KindU64:
		return v.Uint64(), nil
	case schema.KindI8:
		return int8(v.Int64()), nil
	case schema.KindI16:
		return int16(v.Int64()), nil
	case schema.KindI32:
		return int32(v.Int64()), nil
	default:
		return v.Int64(), nil
	}
}

func Uint8(value any) (uint8, error)   { return narrowAs[uint8](schema.KindU8, value) }
func Uint16(value any) (uint16, error) { return narrowAs[uint16](schema.KindU16, value) }
func Uint32(value any) (uint32, error) { return narrowAs[uint32](schema.KindU32, value) }
func Uint64(value any) (uint64, error) { return narrowAs[uint64](schema.KindU64, value) }
func Int8(value any) (int8, error)     { return narrowAs[int8](schema.KindI8, value) }
func Int16(value any) (int16, error)   { return narrowAs[int16](schema.KindI16, value) }
func Int32(value any) (int32, error)   { return narrowAs[int32](schema.KindI32, value) }
func Int64(value any) (int64, error)   { return narrowAs[int64](schema.KindI64, value) }

func narrowAs[T any](kind schema.Kind, value any) (T, error) {
	var zero T
	v, err := Narrow(kind, value)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// clampBits is a magnitude past both bounds. Exponent-form inputs wider
// than that are clamped to it instead of being expanded digit by digit.
func clampBits(min, max *big.Int) int {
	n := min.BitLen()
	if b := max.BitLen(); b > n {
		n = b
	}
	return n + 1
}

func toBig(value any, limit int) (*big.Int, bool) {
	switch v := value.(type) {
	case int:
		return big.NewInt(int64(v)), true
	case int8:
		return big.NewInt(int64(v)), true
	case int16:
		return big.NewInt(int64(v)), true
	case int32:
		return big.NewInt(int64(v)), true
	case int64:
		return big.NewInt(v), true
	case uint:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case uintptr:
		return new(big.Int).SetUint64(uint64(v)), true
	case float32:
		return floatToBig(float64(v))
	case float64:
		return floatToBig(v)
	case *big.Int:
		if v == nil {
			return nil, false
		}
		return new(big.Int).Set(v), true
	case json.Number:
		return stringToBig(v.String(), limit)
	case string:
		return stringToBig(v, limit)
	}
	return nil, false
}

func floatToBig(f float64) (*big.Int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, false
	}
	out, _ := big.NewFloat(f).Int(nil)
	return out, true
}

// stringToBig accepts decimal integers and, for JSON inputs such as "1e3",
// exponent forms that denote an integer. Inputs at least 2^limit in
// magnitude come back as ±2^limit, which keeps their side of any bound.
func stringToBig(s string, limit int) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if n, negative := decimalDigits(s); n > limit {
		return clamp(limit, negative), true
	}
	if v, ok := new(big.Int).SetString(s, 10); ok {
		return v, true
	}
	f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
	if err != nil || f.IsInf() || !f.IsInt() {
		return nil, false
	}
	if f.MantExp(nil) > limit {
		return clamp(limit, f.Sign() < 0), true
	}
	v, _ := f.Int(nil)
	return v, true
}

// decimalDigits counts the significant digits of a plain decimal integer,
// or returns 0 when s is anything else.
func decimalDigits(s string) (n int, negative bool) {
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	s = strings.TrimLeft(s, "0")
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	return len(s), negative
}

func clamp(limit int, negative bool) *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), uint(limit))
	if negative {
		v.Neg(v)
	}
	return v
}
