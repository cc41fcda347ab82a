package schema

import (
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-bridge/errors"
)

// WITParam is a named parameter of an imported function.
type WITParam struct {
	Type wit.Type
	Name string
}

// WITImporter translates component-model type descriptions into schema
// types, adding named definitions to the builder as they are encountered.
//
// Records, enums, variants, options, lists and resources map directly.
// Tuples, flags, results and char have no counterpart and are rejected.
type WITImporter struct {
	b *Builder
}

func NewWITImporter(b *Builder) *WITImporter {
	return &WITImporter{b: b}
}

// ParseWITType parses a single WIT type expression such as "list<u32>".
func ParseWITType(s string) (wit.Type, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSchema, errors.KindInvalidInput, err, "parse WIT type "+s)
	}
	return t, nil
}

// Function adds a free function whose signature is given in WIT types.
// A nil result means the function returns nothing.
func (im *WITImporter) Function(name string, params []WITParam, result wit.Type) error {
	def := FunctionDef{Name: name}
	for _, p := range params {
		t, err := im.convert(p.Type, []string{name, p.Name})
		if err != nil {
			return err
		}
		def.Args = append(def.Args, Field{Name: p.Name, Type: t})
	}
	if result != nil {
		t, err := im.convert(result, []string{name, "result"})
		if err != nil {
			return err
		}
		def.Return = t
	}
	im.b.Function(def)
	return nil
}

// Type converts a WIT type to a schema type reference.
func (im *WITImporter) Type(t wit.Type) (*Type, error) {
	return im.convert(t, nil)
}

func (im *WITImporter) convert(t wit.Type, path []string) (*Type, error) {
	switch v := t.(type) {
	case wit.Bool:
		return Bool, nil
	case wit.U8:
		return U8, nil
	case wit.S8:
		return I8, nil
	case wit.U16:
		return U16, nil
	case wit.S16:
		return I16, nil
	case wit.U32:
		return U32, nil
	case wit.S32:
		return I32, nil
	case wit.U64:
		return U64, nil
	case wit.S64:
		return I64, nil
	case wit.F32:
		return F32, nil
	case wit.F64:
		return F64, nil
	case wit.String:
		return String, nil
	case *wit.TypeDef:
		return im.convertTypeDef(v, path)
	}
	return nil, errors.New(errors.PhaseSchema, errors.KindUnsupported).
		Path(path...).
		Detail("unsupported WIT type: %T", t).
		Build()
}

func (im *WITImporter) convertTypeDef(td *wit.TypeDef, path []string) (*Type, error) {
	switch kind := td.Kind.(type) {
	case *wit.Option:
		elem, err := im.convert(kind.Type, path)
		if err != nil {
			return nil, err
		}
		return OptionalOf(elem), nil

	case *wit.List:
		elem, err := im.convert(kind.Type, path)
		if err != nil {
			return nil, err
		}
		return SequenceOf(elem), nil

	case *wit.Record:
		name, err := typeDefName(td, "record", path)
		if err != nil {
			return nil, err
		}
		if !im.b.HasType(name) {
			def := RecordDef{Name: name}
			for _, f := range kind.Fields {
				ft, err := im.convert(f.Type, append(path, f.Name))
				if err != nil {
					return nil, err
				}
				def.Fields = append(def.Fields, Field{Name: f.Name, Type: ft})
			}
			im.b.Record(def)
		}
		return RecordRef(name), nil

	case *wit.Enum:
		name, err := typeDefName(td, "enum", path)
		if err != nil {
			return nil, err
		}
		if !im.b.HasType(name) {
			def := EnumDef{Name: name}
			for _, c := range kind.Cases {
				def.Variants = append(def.Variants, Variant{Name: c.Name})
			}
			im.b.Enum(def)
		}
		return EnumRef(name), nil

	case *wit.Variant:
		name, err := typeDefName(td, "variant", path)
		if err != nil {
			return nil, err
		}
		if !im.b.HasType(name) {
			def := EnumDef{Name: name}
			for _, c := range kind.Cases {
				v := Variant{Name: c.Name}
				if c.Type != nil {
					ft, err := im.convert(c.Type, append(path, c.Name))
					if err != nil {
						return nil, err
					}
					v.Fields = []Field{{Name: "value", Type: ft}}
				}
				def.Variants = append(def.Variants, v)
			}
			im.b.Enum(def)
		}
		return EnumRef(name), nil

	case *wit.Own:
		return im.resource(kind.Type, path)

	case *wit.Borrow:
		return im.resource(kind.Type, path)

	case *wit.Resource:
		return im.resource(td, path)

	case wit.Type:
		// alias
		return im.convert(kind, path)
	}

	return nil, errors.New(errors.PhaseSchema, errors.KindUnsupported).
		Path(path...).
		Detail("unsupported WIT type kind: %T", td.Kind).
		Build()
}

func (im *WITImporter) resource(td *wit.TypeDef, path []string) (*Type, error) {
	if td == nil {
		return nil, errors.InvalidInput(errors.PhaseSchema, "resource handle without a type")
	}
	name, err := typeDefName(td, "resource", path)
	if err != nil {
		return nil, err
	}
	if !im.b.HasType(name) {
		im.b.Object(ObjectDef{Name: name})
	}
	return ObjectRef(name), nil
}

func typeDefName(td *wit.TypeDef, what string, path []string) (string, error) {
	if td.Name == nil || *td.Name == "" {
		return "", errors.New(errors.PhaseSchema, errors.KindUnsupported).
			Path(path...).
			Detail("anonymous %s cannot be named in the schema", what).
			Build()
	}
	return *td.Name, nil
}
