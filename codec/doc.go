// Package codec lowers values into the boundary wire format and lifts them
// back out.
//
// # Wire Format
//
//	Type                 Encoding
//	────────────────────────────────────────────────────────────
//	u8..u64, i8..i64     fixed width, big-endian
//	f32, f64             big-endian IEEE-754
//	boolean              1 byte, exactly 0 or 1
//	string               i32 length (>= 0) + UTF-8 bytes
//	T?                   u8 flag (0 absent, 1 present) + T
//	sequence<T>          i32 count (>= 0) + T x count
//	record<string, T>    i32 count (>= 0) + (string, T) x count
//	dictionary           fields in declared order, no tag
//	enum                 i32 tag, 1-based, + variant fields in order
//	interface, callback  never embedded; always an error
//
// Any violation found while lifting is an InternalError. Lowering a foreign
// integer wider than its declared type goes through the range guard and
// fails with a RangeError instead.
//
// # Two Surfaces
//
// Typed converters (Converter[T]) serve Go code that knows its types at
// compile time:
//
//	b, _ := codec.Lower(codec.Optional(codec.I32), &five)
//	v, _ := codec.LiftFrom(codec.Optional(codec.I32), b)
//
// Compiled plans serve the dispatch table and bridges, which only know the
// schema. A Compiler caches one Plan per schema type; plans lower and lift
// dynamic values (see Plan.Lower for the value model).
package codec
