package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/rangeguard"
	"github.com/wippyai/ffi-bridge/schema"
)

// Dynamic values:
//
//	bool, uint8..uint64, int8..int64   fixed-width primitives (exact types on lift)
//	float32, float64                    floats
//	string                              String, and flat enum variant names
//	nil                                 absent Optional
//	[]any                               Sequence
//	map[string]any                      Map and Record
//	Variant                             non-flat enum, and errors

// Valuer lets a Go type provide its own dynamic value, typically a struct
// returning the map[string]any form of a record.
type Valuer interface {
	FFIValue() any
}

// Lower appends the encoding of v to w.
func (p *Plan) Lower(w *buffer.Writer, v any) error {
	if vv, ok := v.(Valuer); ok {
		v = vv.FFIValue()
	}
	switch p.kind {
	case schema.KindBool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(v, p)
		}
		w.WriteBool(b)
		return nil

	case schema.KindU8, schema.KindI8, schema.KindU16, schema.KindI16,
		schema.KindU32, schema.KindI32, schema.KindU64, schema.KindI64:
		return p.lowerInteger(w, v)

	case schema.KindF32, schema.KindF64:
		f, ok := toFloat(v)
		if !ok {
			return mismatch(v, p)
		}
		if p.kind == schema.KindF32 {
			// Finite values past the f32 range would otherwise round to ±Inf.
			if !math.IsInf(f, 0) && math.IsInf(float64(float32(f)), 0) {
				return errors.OutOfRange("f32", v, "finite f32 (|v| <= 3.4028235e+38)")
			}
			w.WriteF32(float32(f))
		} else {
			w.WriteF64(f)
		}
		return nil

	case schema.KindString:
		s, ok := v.(string)
		if !ok {
			return mismatch(v, p)
		}
		return writeString(w, s)

	case schema.KindOptional:
		if isNil(v) {
			w.WriteU8(0)
			return nil
		}
		w.WriteU8(1)
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
			v = rv.Elem().Interface()
		}
		return p.elem.Lower(w, v)

	case schema.KindSequence:
		return p.lowerSequence(w, v)

	case schema.KindMap:
		return p.lowerMap(w, v)

	case schema.KindRecord:
		m, ok := v.(map[string]any)
		if !ok {
			return mismatch(v, p)
		}
		return lowerFields(w, p.fields, m)

	case schema.KindEnum:
		return p.lowerEnum(w, v)
	}

	if p.embedded {
		return errors.NotSerializable(errors.PhaseLower, nil, p.name)
	}
	return errors.Unsupported(errors.PhaseLower, "type kind "+p.kind.String())
}

// Lift reads one value of the plan's type from r.
func (p *Plan) Lift(r *buffer.Reader) (any, error) {
	switch p.kind {
	case schema.KindBool:
		return readBool(r)
	case schema.KindU8:
		return r.ReadU8()
	case schema.KindI8:
		return r.ReadI8()
	case schema.KindU16:
		return r.ReadU16()
	case schema.KindI16:
		return r.ReadI16()
	case schema.KindU32:
		return r.ReadU32()
	case schema.KindI32:
		return r.ReadI32()
	case schema.KindU64:
		return r.ReadU64()
	case schema.KindI64:
		return r.ReadI64()
	case schema.KindF32:
		return r.ReadF32()
	case schema.KindF64:
		return r.ReadF64()

	case schema.KindString:
		return readString(r, p.limit)

	case schema.KindOptional:
		present, err := readFlag(r)
		if err != nil || !present {
			return nil, err
		}
		return p.elem.Lift(r)

	case schema.KindSequence:
		n, err := readLength(r, "sequence", p.limit)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, capHint(n, r))
		for i := 0; i < n; i++ {
			v, err := p.elem.Lift(r)
			if err != nil {
				return nil, atPath(err, "["+strconv.Itoa(i)+"]")
			}
			out = append(out, v)
		}
		return out, nil

	case schema.KindMap:
		n, err := readLength(r, "record", p.limit)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, capHint(n, r))
		for i := 0; i < n; i++ {
			k, err := readString(r, p.limit)
			if err != nil {
				return nil, atPath(err, "["+strconv.Itoa(i)+"]")
			}
			v, err := p.elem.Lift(r)
			if err != nil {
				return nil, atPath(err, k)
			}
			out[k] = v
		}
		return out, nil

	case schema.KindRecord:
		return liftFields(r, p.fields)

	case schema.KindEnum:
		i, err := readTag(r, p.name, len(p.variants))
		if err != nil {
			return nil, err
		}
		vp := &p.variants[i]
		if p.flat && !p.asVariant {
			return vp.name, nil
		}
		out := Variant{Name: vp.name}
		if len(vp.fields) > 0 {
			fields, err := liftFields(r, vp.fields)
			if err != nil {
				return nil, atPath(err, vp.name)
			}
			out.Fields = fields
		}
		return out, nil
	}

	if p.embedded {
		return nil, errors.NotSerializable(errors.PhaseLift, nil, p.name)
	}
	return nil, errors.Unsupported(errors.PhaseLift, "type kind "+p.kind.String())
}

func (p *Plan) lowerInteger(w *buffer.Writer, v any) error {
	switch p.kind {
	case schema.KindU8:
		if x, ok := v.(uint8); ok {
			w.WriteU8(x)
			return nil
		}
	case schema.KindI8:
		if x, ok := v.(int8); ok {
			w.WriteI8(x)
			return nil
		}
	case schema.KindU16:
		if x, ok := v.(uint16); ok {
			w.WriteU16(x)
			return nil
		}
	case schema.KindI16:
		if x, ok := v.(int16); ok {
			w.WriteI16(x)
			return nil
		}
	case schema.KindU32:
		if x, ok := v.(uint32); ok {
			w.WriteU32(x)
			return nil
		}
	case schema.KindI32:
		if x, ok := v.(int32); ok {
			w.WriteI32(x)
			return nil
		}
	case schema.KindU64:
		if x, ok := v.(uint64); ok {
			w.WriteU64(x)
			return nil
		}
	case schema.KindI64:
		if x, ok := v.(int64); ok {
			w.WriteI64(x)
			return nil
		}
	}

	if !isNumeric(v) {
		return mismatch(v, p)
	}
	// Wider or looser foreign representation: narrow through the range guard.
	n, err := rangeguard.Narrow(p.kind, v)
	if err != nil {
		return err
	}
	return p.lowerInteger(w, n)
}

func (p *Plan) lowerSequence(w *buffer.Writer, v any) error {
	if items, ok := v.([]any); ok {
		if err := writeLength(w, len(items), "sequence"); err != nil {
			return err
		}
		for i, item := range items {
			if err := p.elem.Lower(w, item); err != nil {
				return atPath(err, "["+strconv.Itoa(i)+"]")
			}
		}
		return nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return mismatch(v, p)
	}
	if err := writeLength(w, rv.Len(), "sequence"); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if err := p.elem.Lower(w, rv.Index(i).Interface()); err != nil {
			return atPath(err, "["+strconv.Itoa(i)+"]")
		}
	}
	return nil
}

func (p *Plan) lowerMap(w *buffer.Writer, v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return mismatch(v, p)
		}
		m = make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
	}

	if err := writeLength(w, len(m), "record"); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writeString(w, k); err != nil {
			return atPath(err, k)
		}
		if err := p.elem.Lower(w, m[k]); err != nil {
			return atPath(err, k)
		}
	}
	return nil
}

func (p *Plan) lowerEnum(w *buffer.Writer, v any) error {
	val, ok := variantFrom(v)
	if !ok {
		return mismatch(v, p)
	}
	for i := range p.variants {
		vp := &p.variants[i]
		if vp.name != val.Name {
			continue
		}
		w.WriteI32(int32(i + 1))
		if err := lowerFields(w, vp.fields, val.Fields); err != nil {
			return atPath(err, vp.name)
		}
		return nil
	}
	return errors.New(errors.PhaseLower, errors.KindInvalidDiscriminant).
		TypeName(p.name).
		Value(val.Name).
		Detail("unknown variant %q", val.Name).
		Build()
}

// lowerFields writes fields in declared order. Every declared field must be
// present and no other keys are allowed.
func lowerFields(w *buffer.Writer, fields []fieldPlan, m map[string]any) error {
	for _, f := range fields {
		fv, ok := m[f.name]
		if !ok && f.plan.kind != schema.KindOptional {
			return errors.FieldMissing(errors.PhaseLower, nil, f.name)
		}
		if err := f.plan.Lower(w, fv); err != nil {
			return atPath(err, f.name)
		}
	}
	for k := range m {
		if !hasField(fields, k) {
			return errors.FieldUnknown(errors.PhaseLower, nil, k)
		}
	}
	return nil
}

func liftFields(r *buffer.Reader, fields []fieldPlan) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := f.plan.Lift(r)
		if err != nil {
			return nil, atPath(err, f.name)
		}
		out[f.name] = v
	}
	return out, nil
}

func hasField(fields []fieldPlan, name string) bool {
	for _, f := range fields {
		if f.name == name {
			return true
		}
	}
	return false
}

func mismatch(v any, p *Plan) error {
	return errors.TypeMismatch(errors.PhaseLower, nil, fmt.Sprintf("%T", v), schema.FormatType(p.Type))
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr,
		float32, float64, string, json.Number, *big.Int:
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
