// Package errors provides structured error types for the ffi bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: field path, schema type name, and cause chain.
//
// Every Kind belongs to one Category of the boundary taxonomy:
//
//	CategoryInternal - protocol violation between the two sides (never retried)
//	CategoryRange    - foreign integer outside the target type's bounds
//
// Declared and unexpected failures of core code are modelled by the dispatch
// package, not here.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLift, errors.KindTypeMismatch).
//		Path("user", "age").
//		TypeName("u32").
//		Detail("cannot convert string to integer").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(errors.PhaseLift, path, 4, 1)
//	err := errors.OutOfRange("u16", 70000, "[0, 65536)")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
