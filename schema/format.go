package schema

import (
	"strings"

	"github.com/wippyai/ffi-bridge/errors"
)

// FormatType renders t in interface-definition syntax, e.g.
// "sequence<Todo>?" or "record<DOMString, u32>".
func FormatType(t *Type) string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case KindOptional:
		return FormatType(t.Elem) + "?"
	case KindSequence:
		return "sequence<" + FormatType(t.Elem) + ">"
	case KindMap:
		key := "DOMString"
		if t.Key != nil && t.Key.Kind != KindString {
			key = FormatType(t.Key)
		}
		return "record<" + key + ", " + FormatType(t.Elem) + ">"
	case KindRecord, KindEnum, KindObject, KindCallback, KindError:
		return t.Name
	}
	return t.Kind.String()
}

// Describe renders the whole schema as an interface definition. Output
// order follows declaration order, so it is stable for golden tests.
func (s *Schema) Describe() string {
	var b strings.Builder

	b.WriteString("namespace " + s.Namespace + " {\n")
	for _, f := range s.Functions() {
		b.WriteString("  ")
		writeThrows(&b, f.Throws)
		b.WriteString(FormatType(f.Return) + " " + f.Name)
		writeArgs(&b, f.Args)
		b.WriteString(";\n")
	}
	b.WriteString("};\n")

	for _, d := range s.Records() {
		b.WriteString("\n")
		writeDocs(&b, "", d.Docs)
		b.WriteString("dictionary " + d.Name + " {\n")
		for _, f := range d.Fields {
			b.WriteString("  ")
			if f.Type.Kind != KindOptional {
				b.WriteString("required ")
			}
			b.WriteString(FormatType(f.Type) + " " + f.Name + ";\n")
		}
		b.WriteString("};\n")
	}

	for _, d := range s.Enums() {
		b.WriteString("\n")
		writeDocs(&b, "", d.Docs)
		writeEnum(&b, "", d.Name, d.Variants)
	}

	for _, d := range s.Errors() {
		b.WriteString("\n")
		writeDocs(&b, "", d.Docs)
		writeEnum(&b, "[Error]\n", d.Name, d.Variants)
	}

	for _, o := range s.Objects() {
		b.WriteString("\n")
		writeDocs(&b, "", o.Docs)
		b.WriteString("interface " + o.Name + " {\n")
		for _, c := range o.Constructors {
			b.WriteString("  ")
			writeThrows(&b, c.Throws)
			if c.Name != "" && c.Name != DefaultConstructor {
				b.WriteString("[Name=" + c.Name + "]\n  ")
			}
			b.WriteString("constructor")
			writeArgs(&b, c.Args)
			b.WriteString(";\n")
		}
		for _, m := range o.Methods {
			b.WriteString("  ")
			writeMethod(&b, &m)
		}
		b.WriteString("};\n")
	}

	for _, c := range s.Callbacks() {
		b.WriteString("\n")
		writeDocs(&b, "", c.Docs)
		b.WriteString("callback interface " + c.Name + " {\n")
		for _, m := range c.Methods {
			b.WriteString("  ")
			writeMethod(&b, &m)
		}
		b.WriteString("};\n")
	}

	return b.String()
}

// DefaultConstructor is the name given to a constructor declared without one.
const DefaultConstructor = "new"

func writeEnum(b *strings.Builder, attr, name string, variants []Variant) {
	flat := variantsFlat(variants)
	if flat {
		b.WriteString(attr + "enum " + name + " {\n")
		for i, v := range variants {
			b.WriteString("  \"" + v.Name + "\"")
			if i < len(variants)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString("};\n")
		return
	}
	b.WriteString(attr + "[Enum]\ninterface " + name + " {\n")
	for _, v := range variants {
		b.WriteString("  " + v.Name)
		writeArgs(b, v.Fields)
		b.WriteString(";\n")
	}
	b.WriteString("};\n")
}

func writeMethod(b *strings.Builder, m *MethodDef) {
	if m.Mutates {
		b.WriteString("[Self=ByMut] ")
	}
	writeThrows(b, m.Throws)
	b.WriteString(FormatType(m.Return) + " " + m.Name)
	writeArgs(b, m.Args)
	b.WriteString(";\n")
}

func writeThrows(b *strings.Builder, throws string) {
	if throws != "" {
		b.WriteString("[Throws=" + throws + "] ")
	}
}

func writeArgs(b *strings.Builder, args []Field) {
	b.WriteString("(")
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(FormatType(a.Type) + " " + a.Name)
	}
	b.WriteString(")")
}

func writeDocs(b *strings.Builder, indent string, docs []string) {
	for _, d := range docs {
		b.WriteString(indent + "/// " + d + "\n")
	}
}

// ParseType resolves a type written the way FormatType renders it:
// primitive kind names, "T?", "sequence<T>", "record<DOMString, T>" and
// names defined in the schema.
func (s *Schema) ParseType(text string) (*Type, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return nil, errors.InvalidInput(errors.PhaseSchema, "empty type")
	case strings.HasSuffix(text, "?"):
		elem, err := s.ParseType(strings.TrimSuffix(text, "?"))
		if err != nil {
			return nil, err
		}
		return OptionalOf(elem), nil
	case strings.HasPrefix(text, "sequence<") && strings.HasSuffix(text, ">"):
		elem, err := s.ParseType(text[len("sequence<") : len(text)-1])
		if err != nil {
			return nil, err
		}
		return SequenceOf(elem), nil
	case strings.HasPrefix(text, "record<") && strings.HasSuffix(text, ">"):
		key, value, ok := strings.Cut(text[len("record<"):len(text)-1], ",")
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseSchema, "record type needs a key and a value: "+text)
		}
		v, err := s.ParseType(value)
		if err != nil {
			return nil, err
		}
		if k := strings.TrimSpace(key); k != "DOMString" && k != "string" {
			kt, err := s.ParseType(k)
			if err != nil {
				return nil, err
			}
			return MapWithKey(kt, v), nil
		}
		return MapOf(v), nil
	}

	for k := KindBool; k <= KindString; k++ {
		if k.String() == text {
			return &Type{Kind: k}, nil
		}
	}
	switch s.lookupKind(text) {
	case int(KindRecord):
		return RecordRef(text), nil
	case int(KindEnum):
		return EnumRef(text), nil
	case int(KindError):
		return ErrorRef(text), nil
	case int(KindObject):
		return ObjectRef(text), nil
	case int(KindCallback):
		return CallbackRef(text), nil
	}
	return nil, errors.InvalidInput(errors.PhaseSchema, "unknown type "+text)
}
