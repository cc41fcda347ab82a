package codec

import (
	stderrors "errors"
	"math"
	"unicode/utf8"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
)

// Wire helpers shared by the typed converters and compiled plans.

func readBool(r *buffer.Reader) (bool, error) {
	b, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errors.InvalidBool(nil, b)
}

// readFlag reads an Optional presence byte.
func readFlag(r *buffer.Reader) (bool, error) {
	b, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errors.InvalidFlag(nil, b)
}

// readLength reads an i32 length or count prefix and rejects negatives and
// values above limit. A limit of 0 means no limit.
func readLength(r *buffer.Reader, typeName string, limit int) (int, error) {
	n, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.NegativeLength(errors.PhaseLift, nil, typeName, n)
	}
	if limit > 0 && int(n) > limit {
		return 0, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			TypeName(typeName).
			Value(n).
			Detail("length %d exceeds limit %d", n, limit).
			Build()
	}
	return int(n), nil
}

func writeLength(w *buffer.Writer, n int, typeName string) error {
	if n > math.MaxInt32 {
		return errors.New(errors.PhaseLower, errors.KindOutOfBounds).
			TypeName(typeName).
			Value(n).
			Detail("length %d does not fit in an i32 prefix", n).
			Build()
	}
	w.WriteI32(int32(n))
	return nil
}

func readString(r *buffer.Reader, limit int) (string, error) {
	n, err := readLength(r, "string", limit)
	if err != nil {
		return "", err
	}
	b, err := r.Read(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.InvalidUTF8(errors.PhaseLift, nil, b)
	}
	return string(b), nil
}

func writeString(w *buffer.Writer, s string) error {
	if !utf8.ValidString(s) {
		return errors.InvalidUTF8(errors.PhaseLower, nil, []byte(s))
	}
	if err := writeLength(w, len(s), "string"); err != nil {
		return err
	}
	w.WriteString(s)
	return nil
}

// readTag reads a 1-based enum tag and returns the 0-based variant index.
func readTag(r *buffer.Reader, typeName string, count int) (int, error) {
	tag, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	if tag < 1 || int(tag) > count {
		return 0, errors.InvalidDiscriminant(errors.PhaseLift, nil, typeName, tag, count)
	}
	return int(tag) - 1, nil
}

// capHint bounds a preallocation by what the reader can still supply.
func capHint(n int, r *buffer.Reader) int {
	if rem := r.Remaining(); n > rem {
		return rem
	}
	return n
}

// atPath prepends a path element to a structured error as it unwinds.
func atPath(err error, elem string) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		e.Path = append([]string{elem}, e.Path...)
	}
	return err
}
