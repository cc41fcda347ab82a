package schema

// Type is a reference to a schema type. Named kinds (record, enum, object,
// callback, error) carry only the name; definitions live in the Schema.
type Type struct {
	Elem *Type // optional, sequence and map value type
	Key  *Type // map key type; nil means string
	Name string
	Kind Kind
}

var (
	Bool   = &Type{Kind: KindBool}
	U8     = &Type{Kind: KindU8}
	I8     = &Type{Kind: KindI8}
	U16    = &Type{Kind: KindU16}
	I16    = &Type{Kind: KindI16}
	U32    = &Type{Kind: KindU32}
	I32    = &Type{Kind: KindI32}
	U64    = &Type{Kind: KindU64}
	I64    = &Type{Kind: KindI64}
	F32    = &Type{Kind: KindF32}
	F64    = &Type{Kind: KindF64}
	String = &Type{Kind: KindString}
)

func OptionalOf(t *Type) *Type { return &Type{Kind: KindOptional, Elem: t} }
func SequenceOf(t *Type) *Type { return &Type{Kind: KindSequence, Elem: t} }

// MapOf returns Map<String, T>.
func MapOf(t *Type) *Type { return &Type{Kind: KindMap, Elem: t} }

// MapWithKey returns a map with an explicit key type. Only string keys can
// be encoded; the codec rejects any other key when compiling a plan.
func MapWithKey(key, value *Type) *Type {
	return &Type{Kind: KindMap, Key: key, Elem: value}
}

func RecordRef(name string) *Type   { return &Type{Kind: KindRecord, Name: name} }
func EnumRef(name string) *Type     { return &Type{Kind: KindEnum, Name: name} }
func ObjectRef(name string) *Type   { return &Type{Kind: KindObject, Name: name} }
func CallbackRef(name string) *Type { return &Type{Kind: KindCallback, Name: name} }
func ErrorRef(name string) *Type    { return &Type{Kind: KindError, Name: name} }

// KeyType returns the declared map key type, defaulting to string.
func (t *Type) KeyType() *Type {
	if t.Key == nil {
		return String
	}
	return t.Key
}

// Equal reports structural equality.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil || t.Kind != o.Kind || t.Name != o.Name {
		return false
	}
	if (t.Elem == nil) != (o.Elem == nil) || (t.Elem != nil && !t.Elem.Equal(o.Elem)) {
		return false
	}
	return t.KeyType().Kind == o.KeyType().Kind
}

func (t *Type) String() string {
	return FormatType(t)
}

// Field is a named, typed slot of a record, variant or argument list.
type Field struct {
	Type *Type
	Name string
}

// RecordDef is a struct-like type whose fields are encoded in order.
type RecordDef struct {
	Name   string
	Fields []Field
	Docs   []string
}

// Variant is one case of an enum or error. Tags are 1-based positions.
type Variant struct {
	Name   string
	Fields []Field
}

// EnumDef is an ordered list of variants.
type EnumDef struct {
	Name     string
	Variants []Variant
	Docs     []string
}

// IsFlat reports whether no variant carries fields.
func (e *EnumDef) IsFlat() bool {
	return variantsFlat(e.Variants)
}

// ErrorDef is an error type an operation may declare. It is encoded exactly
// like an enum with the same variants.
type ErrorDef struct {
	Name     string
	Variants []Variant
	Docs     []string
}

// IsFlat reports whether no variant carries fields.
func (e *ErrorDef) IsFlat() bool {
	return variantsFlat(e.Variants)
}

// AsEnum views the error as the enum it is encoded as.
func (e *ErrorDef) AsEnum() *EnumDef {
	return &EnumDef{Name: e.Name, Variants: e.Variants, Docs: e.Docs}
}

func variantsFlat(vs []Variant) bool {
	for _, v := range vs {
		if len(v.Fields) > 0 {
			return false
		}
	}
	return true
}

// FunctionDef is a free function.
type FunctionDef struct {
	Return *Type // nil for no return value
	Name   string
	Throws string // declared error type name, empty if none
	Args   []Field
	Docs   []string
}

// ConstructorDef creates an object. The result is always a handle to Object.
type ConstructorDef struct {
	Name   string
	Throws string
	Args   []Field
	Docs   []string
}

// MethodDef is a method on an object or callback interface.
type MethodDef struct {
	Return  *Type
	Name    string
	Throws  string
	Args    []Field
	Docs    []string
	Mutates bool // requires exclusive access to the receiver
}

// ObjectDef is a core-owned type handed to foreign code as a handle.
type ObjectDef struct {
	Name         string
	Constructors []ConstructorDef
	Methods      []MethodDef
	Docs         []string
}

// RequiresExclusive reports whether any method mutates the receiver. Such
// types must be serialized behind a lock; the rest may be called directly.
func (o *ObjectDef) RequiresExclusive() bool {
	for _, m := range o.Methods {
		if m.Mutates {
			return true
		}
	}
	return false
}

// Method looks up a method by name.
func (o *ObjectDef) Method(name string) (*MethodDef, bool) {
	for i := range o.Methods {
		if o.Methods[i].Name == name {
			return &o.Methods[i], true
		}
	}
	return nil, false
}

// CallbackDef is a foreign-implemented interface the core can call.
type CallbackDef struct {
	Name    string
	Methods []MethodDef
	Docs    []string
}

// Method looks up a method by name, returning its 0-based index.
func (c *CallbackDef) Method(name string) (*MethodDef, int, bool) {
	for i := range c.Methods {
		if c.Methods[i].Name == name {
			return &c.Methods[i], i, true
		}
	}
	return nil, -1, false
}
