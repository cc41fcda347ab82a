package schema

// Kind identifies the shape of a schema type.
type Kind uint8

const (
	KindBool Kind = iota
	KindU8
	KindI8
	KindU16
	KindI16
	KindU32
	KindI32
	KindU64
	KindI64
	KindF32
	KindF64
	KindString
	KindOptional
	KindSequence
	KindMap
	KindRecord
	KindEnum
	KindObject
	KindCallback
	KindError
)

var kindNames = [...]string{
	KindBool:     "boolean",
	KindU8:       "u8",
	KindI8:       "i8",
	KindU16:      "u16",
	KindI16:      "i16",
	KindU32:      "u32",
	KindI32:      "i32",
	KindU64:      "u64",
	KindI64:      "i64",
	KindF32:      "f32",
	KindF64:      "f64",
	KindString:   "string",
	KindOptional: "optional",
	KindSequence: "sequence",
	KindMap:      "record",
	KindRecord:   "dictionary",
	KindEnum:     "enum",
	KindObject:   "interface",
	KindCallback: "callback",
	KindError:    "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsPrimitive reports whether k is a fixed-width scalar.
func (k Kind) IsPrimitive() bool {
	return k <= KindF64
}

// IsInteger reports whether k is a fixed-width integer.
func (k Kind) IsInteger() bool {
	return k >= KindU8 && k <= KindI64
}

// IsHandle reports whether values of k cross the boundary only as handles.
func (k Kind) IsHandle() bool {
	return k == KindObject || k == KindCallback || k == KindError
}

// Width returns the encoded size in bytes of a primitive kind, 0 otherwise.
func (k Kind) Width() int {
	switch k {
	case KindBool, KindU8, KindI8:
		return 1
	case KindU16, KindI16:
		return 2
	case KindU32, KindI32, KindF32:
		return 4
	case KindU64, KindI64, KindF64:
		return 8
	default:
		return 0
	}
}
