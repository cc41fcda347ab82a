package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLift     Phase = "lift"     // bytes to value
	PhaseLower    Phase = "lower"    // value to bytes
	PhaseRange    Phase = "range"    // foreign integer narrowing
	PhaseRegistry Phase = "registry" // handle registry
	PhaseDispatch Phase = "dispatch" // call routing
	PhaseSchema   Phase = "schema"   // schema import and plan compilation
	PhaseBuild    Phase = "build"    // dispatch table construction
	PhaseBridge   Phase = "bridge"   // wasm/http transports
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfBounds         Kind = "out_of_bounds"
	KindNegativeLength      Kind = "negative_length"
	KindInvalidBool         Kind = "invalid_bool"
	KindInvalidFlag         Kind = "invalid_flag"
	KindInvalidDiscriminant Kind = "invalid_discriminant"
	KindInvalidUTF8         Kind = "invalid_utf8"
	KindNotSerializable     Kind = "not_serializable"
	KindUnknownHandle       Kind = "unknown_handle"
	KindUnknownOperation    Kind = "unknown_operation"
	KindTypeMismatch        Kind = "type_mismatch"
	KindFieldMissing        Kind = "field_missing"
	KindFieldUnknown        Kind = "field_unknown"
	KindTrailingData        Kind = "trailing_data"
	KindMovedBuffer         Kind = "moved_buffer"
	KindUnsupported         Kind = "unsupported"
	KindBinding             Kind = "binding"
	KindInvalidInput        Kind = "invalid_input"
	KindOutOfRange          Kind = "out_of_range"
)

// Category is the coarse error class callers branch on.
type Category uint8

const (
	// CategoryInternal is a protocol or contract violation between the two
	// sides of the boundary. Never retried.
	CategoryInternal Category = iota
	// CategoryRange is a foreign numeric value outside the target type's
	// bounds. Recoverable.
	CategoryRange
)

func (c Category) String() string {
	switch c {
	case CategoryInternal:
		return "internal"
	case CategoryRange:
		return "range"
	default:
		return "unknown"
	}
}

// Error is the structured error type used throughout the bridge
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	TypeName string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.TypeName != "" {
		b.WriteString(": type ")
		b.WriteString(e.TypeName)
	}

	if e.Detail != "" {
		if e.TypeName != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Category maps the kind onto the boundary error taxonomy.
func (e *Error) Category() Category {
	if e.Kind == KindOutOfRange {
		return CategoryRange
	}
	return CategoryInternal
}

// IsInternal reports whether err carries an InternalError anywhere in its chain.
func IsInternal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category() == CategoryInternal
}

// IsRange reports whether err carries a RangeError anywhere in its chain.
func IsRange(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category() == CategoryRange
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// TypeName sets the schema type name
func (b *Builder) TypeName(t string) *Builder {
	b.err.TypeName = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// OutOfBounds creates a read-past-end error
func OutOfBounds(phase Phase, path []string, want, remaining int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("need %d bytes, %d remaining", want, remaining),
		Value:  want,
	}
}

// NegativeLength creates an error for a negative length or count prefix
func NegativeLength(phase Phase, path []string, typeName string, n int32) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindNegativeLength,
		Path:     path,
		TypeName: typeName,
		Detail:   fmt.Sprintf("negative length %d", n),
		Value:    n,
	}
}

// InvalidBool creates an error for a boolean byte other than 0 or 1
func InvalidBool(path []string, b uint8) *Error {
	return &Error{
		Phase:    PhaseLift,
		Kind:     KindInvalidBool,
		Path:     path,
		TypeName: "boolean",
		Detail:   fmt.Sprintf("unexpected byte %#x", b),
		Value:    b,
	}
}

// InvalidFlag creates an error for an optional presence flag other than 0 or 1
func InvalidFlag(path []string, b uint8) *Error {
	return &Error{
		Phase:  PhaseLift,
		Kind:   KindInvalidFlag,
		Path:   path,
		Detail: fmt.Sprintf("unexpected optional flag %#x", b),
		Value:  b,
	}
}

// InvalidDiscriminant creates an invalid tag error for enums and errors.
// Tags are 1-indexed, so valid tags are 1..count.
func InvalidDiscriminant(phase Phase, path []string, typeName string, tag int32, count int) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindInvalidDiscriminant,
		Path:     path,
		TypeName: typeName,
		Detail:   fmt.Sprintf("tag %d out of range (valid 1..%d)", tag, count),
		Value:    tag,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// NotSerializable creates the error raised when a handle-only type is embedded by value
func NotSerializable(phase Phase, path []string, typeName string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindNotSerializable,
		Path:     path,
		TypeName: typeName,
		Detail:   "handle types cannot be embedded in a serialized value",
	}
}

// UnknownHandle creates an error for a missing, released or mistyped handle
func UnknownHandle(handle uint64, detail string) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindUnknownHandle,
		Detail: fmt.Sprintf("handle %d: %s", handle, detail),
		Value:  handle,
	}
}

// UnknownOperation creates an error for a call name with no descriptor
func UnknownOperation(name string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindUnknownOperation,
		Detail: fmt.Sprintf("no descriptor for %q (interface version mismatch?)", name),
		Value:  name,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, typeName string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Path:     path,
		TypeName: typeName,
		Detail:   fmt.Sprintf("cannot use Go value of type %s", goType),
	}
}

// FieldMissing creates a missing field error
func FieldMissing(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldMissing,
		Path:   path,
		Detail: fmt.Sprintf("required field %q not found", fieldName),
	}
}

// FieldUnknown creates an unknown field error
func FieldUnknown(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldUnknown,
		Path:   path,
		Detail: fmt.Sprintf("unknown field %q", fieldName),
	}
}

// TrailingData creates an error for bytes left over after a complete lift
func TrailingData(path []string, remaining int) *Error {
	return &Error{
		Phase:  PhaseLift,
		Kind:   KindTrailingData,
		Path:   path,
		Detail: fmt.Sprintf("%d unread bytes after lifting", remaining),
		Value:  remaining,
	}
}

// MovedBuffer creates an error for access to a buffer whose ownership was handed off
func MovedBuffer(op string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindMovedBuffer,
		Detail: fmt.Sprintf("%s on a buffer that was moved or freed", op),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfRange creates a RangeError naming the type and the violated bound
func OutOfRange(typeName string, value any, bound string) *Error {
	return &Error{
		Phase:    PhaseRange,
		Kind:     KindOutOfRange,
		TypeName: typeName,
		Detail:   fmt.Sprintf("value %s violates bound %s", shortValue(value), bound),
		Value:    value,
	}
}

// maxValueText caps how much of an offending value is echoed in messages.
const maxValueText = 64

func shortValue(value any) string {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprintf("%v", value)
	}
	if len(s) <= maxValueText {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:maxValueText], len(s))
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// UnboundOperation is a schema operation with no Go implementation,
// or a Go implementation with no schema operation.
type UnboundOperation struct {
	Owner string // object or callback name, empty for free functions
	Name  string
}

// BindingError is returned when building a dispatch table fails because the
// schema and the supplied bindings disagree.
type BindingError struct {
	Missing []UnboundOperation
	Extra   []UnboundOperation
}

// NewBindingError creates an error from "owner.name" or "name" keys
func NewBindingError(missing, extra []string) *BindingError {
	return &BindingError{
		Missing: parseOperationKeys(missing),
		Extra:   parseOperationKeys(extra),
	}
}

func parseOperationKeys(keys []string) []UnboundOperation {
	if len(keys) == 0 {
		return nil
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	ops := make([]UnboundOperation, 0, len(sorted))
	for _, key := range sorted {
		owner, name, found := strings.Cut(key, ".")
		if !found {
			ops = append(ops, UnboundOperation{Name: key})
			continue
		}
		ops = append(ops, UnboundOperation{Owner: owner, Name: name})
	}
	return ops
}

func (e *BindingError) Error() string {
	if len(e.Missing) == 0 && len(e.Extra) == 0 {
		return "[build] binding: no operations specified"
	}

	var b strings.Builder
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "missing %d binding(s):\n", len(e.Missing))
		writeGrouped(&b, e.Missing)
	}
	if len(e.Extra) > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d binding(s) without a schema operation:\n", len(e.Extra))
		writeGrouped(&b, e.Extra)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// writeGrouped prints operations grouped by owner, free functions first.
func writeGrouped(b *strings.Builder, ops []UnboundOperation) {
	byOwner := make(map[string][]string)
	var order []string
	for _, op := range ops {
		if _, exists := byOwner[op.Owner]; !exists {
			order = append(order, op.Owner)
		}
		byOwner[op.Owner] = append(byOwner[op.Owner], op.Name)
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i] == "" && order[j] != "" })

	for _, owner := range order {
		label := owner
		if label == "" {
			label = "functions"
		}
		b.WriteString("\n  ")
		b.WriteString(label)
		b.WriteString(":\n")
		for _, name := range byOwner[owner] {
			b.WriteString("    - ")
			b.WriteString(name)
			b.WriteByte('\n')
		}
	}
}

// Is reports whether target matches this error type
func (e *BindingError) Is(target error) bool {
	_, ok := target.(*BindingError)
	return ok
}
