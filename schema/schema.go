package schema

import (
	"fmt"
	"sort"

	"github.com/wippyai/ffi-bridge/errors"
)

// Schema is the immutable description of every exposed type and operation.
// It is produced once at startup and only read afterwards.
type Schema struct {
	records   map[string]*RecordDef
	enums     map[string]*EnumDef
	errs      map[string]*ErrorDef
	objects   map[string]*ObjectDef
	callbacks map[string]*CallbackDef
	functions map[string]*FunctionDef
	Namespace string

	// declaration order, for stable iteration
	recordOrder   []string
	enumOrder     []string
	errorOrder    []string
	objectOrder   []string
	callbackOrder []string
	functionOrder []string
}

func (s *Schema) Record(name string) (*RecordDef, bool) {
	d, ok := s.records[name]
	return d, ok
}

func (s *Schema) Enum(name string) (*EnumDef, bool) {
	d, ok := s.enums[name]
	return d, ok
}

func (s *Schema) Error(name string) (*ErrorDef, bool) {
	d, ok := s.errs[name]
	return d, ok
}

func (s *Schema) Object(name string) (*ObjectDef, bool) {
	d, ok := s.objects[name]
	return d, ok
}

func (s *Schema) Callback(name string) (*CallbackDef, bool) {
	d, ok := s.callbacks[name]
	return d, ok
}

func (s *Schema) Function(name string) (*FunctionDef, bool) {
	d, ok := s.functions[name]
	return d, ok
}

func (s *Schema) Records() []*RecordDef {
	out := make([]*RecordDef, len(s.recordOrder))
	for i, n := range s.recordOrder {
		out[i] = s.records[n]
	}
	return out
}

func (s *Schema) Enums() []*EnumDef {
	out := make([]*EnumDef, len(s.enumOrder))
	for i, n := range s.enumOrder {
		out[i] = s.enums[n]
	}
	return out
}

func (s *Schema) Errors() []*ErrorDef {
	out := make([]*ErrorDef, len(s.errorOrder))
	for i, n := range s.errorOrder {
		out[i] = s.errs[n]
	}
	return out
}

func (s *Schema) Objects() []*ObjectDef {
	out := make([]*ObjectDef, len(s.objectOrder))
	for i, n := range s.objectOrder {
		out[i] = s.objects[n]
	}
	return out
}

func (s *Schema) Callbacks() []*CallbackDef {
	out := make([]*CallbackDef, len(s.callbackOrder))
	for i, n := range s.callbackOrder {
		out[i] = s.callbacks[n]
	}
	return out
}

func (s *Schema) Functions() []*FunctionDef {
	out := make([]*FunctionDef, len(s.functionOrder))
	for i, n := range s.functionOrder {
		out[i] = s.functions[n]
	}
	return out
}

// Builder assembles a Schema. Definitions may reference each other in any
// order; references are resolved by Build.
type Builder struct {
	s    *Schema
	errs []error
}

// NewBuilder starts a schema for the given namespace.
func NewBuilder(namespace string) *Builder {
	return &Builder{
		s: &Schema{
			Namespace: namespace,
			records:   make(map[string]*RecordDef),
			enums:     make(map[string]*EnumDef),
			errs:      make(map[string]*ErrorDef),
			objects:   make(map[string]*ObjectDef),
			callbacks: make(map[string]*CallbackDef),
			functions: make(map[string]*FunctionDef),
		},
	}
}

func (b *Builder) Record(d RecordDef) *Builder {
	if b.claimType(d.Name) {
		b.s.records[d.Name] = &d
		b.s.recordOrder = append(b.s.recordOrder, d.Name)
	}
	return b
}

func (b *Builder) Enum(d EnumDef) *Builder {
	if b.claimType(d.Name) {
		b.s.enums[d.Name] = &d
		b.s.enumOrder = append(b.s.enumOrder, d.Name)
	}
	return b
}

func (b *Builder) Error(d ErrorDef) *Builder {
	if b.claimType(d.Name) {
		b.s.errs[d.Name] = &d
		b.s.errorOrder = append(b.s.errorOrder, d.Name)
	}
	return b
}

func (b *Builder) Object(d ObjectDef) *Builder {
	if b.claimType(d.Name) {
		b.s.objects[d.Name] = &d
		b.s.objectOrder = append(b.s.objectOrder, d.Name)
	}
	return b
}

func (b *Builder) Callback(d CallbackDef) *Builder {
	if b.claimType(d.Name) {
		b.s.callbacks[d.Name] = &d
		b.s.callbackOrder = append(b.s.callbackOrder, d.Name)
	}
	return b
}

func (b *Builder) Function(d FunctionDef) *Builder {
	if d.Name == "" {
		b.fail("function with empty name")
		return b
	}
	if _, dup := b.s.functions[d.Name]; dup {
		b.fail("duplicate function %q", d.Name)
		return b
	}
	b.s.functions[d.Name] = &d
	b.s.functionOrder = append(b.s.functionOrder, d.Name)
	return b
}

// HasType reports whether a named type was already added.
func (b *Builder) HasType(name string) bool {
	return b.s.lookupKind(name) >= 0
}

// Build resolves type references and returns the immutable schema.
func (b *Builder) Build() (*Schema, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	s := b.s
	var problems []string
	check := func(where string, t *Type) {
		if msg := s.resolve(t); msg != "" {
			problems = append(problems, where+": "+msg)
		}
	}
	checkThrows := func(where, name string) {
		if name == "" {
			return
		}
		if _, ok := s.errs[name]; !ok {
			problems = append(problems, fmt.Sprintf("%s: throws undefined error %q", where, name))
		}
	}
	checkFields := func(where string, fields []Field) {
		for _, f := range fields {
			check(where+"."+f.Name, f.Type)
		}
	}

	for _, d := range s.Records() {
		checkFields(d.Name, d.Fields)
	}
	for _, d := range s.Enums() {
		for _, v := range d.Variants {
			checkFields(d.Name+"."+v.Name, v.Fields)
		}
	}
	for _, d := range s.Errors() {
		for _, v := range d.Variants {
			checkFields(d.Name+"."+v.Name, v.Fields)
		}
	}
	for _, f := range s.Functions() {
		checkFields(f.Name, f.Args)
		if f.Return != nil {
			check(f.Name+" return", f.Return)
		}
		checkThrows(f.Name, f.Throws)
	}
	for _, o := range s.Objects() {
		for _, c := range o.Constructors {
			where := o.Name + "." + c.Name
			checkFields(where, c.Args)
			checkThrows(where, c.Throws)
		}
		for _, m := range o.Methods {
			where := o.Name + "." + m.Name
			checkFields(where, m.Args)
			if m.Return != nil {
				check(where+" return", m.Return)
			}
			checkThrows(where, m.Throws)
		}
	}
	for _, c := range s.Callbacks() {
		for _, m := range c.Methods {
			where := c.Name + "." + m.Name
			checkFields(where, m.Args)
			if m.Return != nil {
				check(where+" return", m.Return)
			}
			checkThrows(where, m.Throws)
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, errors.New(errors.PhaseSchema, errors.KindInvalidInput).
			Detail("%d unresolved reference(s): %v", len(problems), problems).
			Build()
	}
	return s, nil
}

// MustBuild is Build for schemas declared in code.
func (b *Builder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

func (b *Builder) claimType(name string) bool {
	if name == "" {
		b.fail("type with empty name")
		return false
	}
	if b.s.lookupKind(name) >= 0 {
		b.fail("duplicate type %q", name)
		return false
	}
	return true
}

func (b *Builder) fail(format string, args ...any) {
	b.errs = append(b.errs, errors.New(errors.PhaseSchema, errors.KindInvalidInput).
		Detail(format, args...).
		Build())
}

// lookupKind returns the kind a name is defined as, or -1.
func (s *Schema) lookupKind(name string) int {
	switch {
	case s.records[name] != nil:
		return int(KindRecord)
	case s.enums[name] != nil:
		return int(KindEnum)
	case s.errs[name] != nil:
		return int(KindError)
	case s.objects[name] != nil:
		return int(KindObject)
	case s.callbacks[name] != nil:
		return int(KindCallback)
	}
	return -1
}

// resolve returns a non-empty description if t references something undefined.
func (s *Schema) resolve(t *Type) string {
	if t == nil {
		return "nil type"
	}
	switch t.Kind {
	case KindOptional, KindSequence:
		return s.resolve(t.Elem)
	case KindMap:
		if t.Key != nil {
			if msg := s.resolve(t.Key); msg != "" {
				return msg
			}
		}
		return s.resolve(t.Elem)
	case KindRecord, KindEnum, KindObject, KindCallback, KindError:
		got := s.lookupKind(t.Name)
		if got < 0 {
			return fmt.Sprintf("undefined %s %q", t.Kind, t.Name)
		}
		if Kind(got) != t.Kind {
			return fmt.Sprintf("%q is a %s, not a %s", t.Name, Kind(got), t.Kind)
		}
	}
	return ""
}
