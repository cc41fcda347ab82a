package dispatch

import (
	"fmt"
)

// DeclaredError is implemented by errors that belong to an operation's
// declared error type. ErrorValue is the dynamic value lowered into the
// error buffer: a variant name for flat errors, or a codec.Variant.
type DeclaredError interface {
	error
	ErrorType() string
	ErrorValue() any
}

// Declared is a ready-made DeclaredError. It is also what a callback
// returns when the foreign implementation raises its declared error.
type Declared struct {
	Value any
	Type  string
}

// NewDeclared returns a declared error of the named type.
func NewDeclared(typeName string, value any) *Declared {
	return &Declared{Type: typeName, Value: value}
}

func (e *Declared) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Value)
}

func (e *Declared) ErrorType() string { return e.Type }
func (e *Declared) ErrorValue() any   { return e.Value }

// UnexpectedError is a failure the operation did not declare, including
// panics. It is reported to the foreign caller as an opaque message and
// never lowered as a declared error.
type UnexpectedError struct {
	Cause     error
	Operation string
	Message   string
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected failure in %s: %s", e.Operation, e.Message)
}

func (e *UnexpectedError) Unwrap() error {
	return e.Cause
}
