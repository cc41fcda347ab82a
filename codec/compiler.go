package codec

import (
	"sync"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/schema"
)

// Options tunes compiled plans.
type Options struct {
	// MaxLength caps string, sequence and map lengths accepted when lifting.
	// 0 means only the i32 prefix limits them.
	MaxLength int
}

// DefaultOptions returns the default plan options.
func DefaultOptions() Options {
	return Options{}
}

// Compiler turns schema types into encoding plans. Plans are cached per
// type and shared; a Compiler is safe for concurrent use.
type Compiler struct {
	schema *schema.Schema
	cache  sync.Map   // type key -> *Plan
	mu     sync.Mutex // serializes compilation so recursive types resolve once
	opts   Options
}

func NewCompiler(s *schema.Schema) *Compiler {
	return NewCompilerWithOptions(s, DefaultOptions())
}

func NewCompilerWithOptions(s *schema.Schema, opts Options) *Compiler {
	return &Compiler{schema: s, opts: opts}
}

// Schema returns the schema plans are compiled against.
func (c *Compiler) Schema() *schema.Schema {
	return c.schema
}

// Plan is a compiled encoding for one schema type. Plans for named types
// may reference themselves through optional or sequence fields.
type Plan struct {
	Type     *schema.Type
	elem     *Plan
	name     string
	fields   []fieldPlan
	variants []variantPlan
	limit    int
	kind     schema.Kind
	flat     bool
	// asVariant lifts every case as a Variant, even when flat (errors).
	asVariant bool
	// embedded marks handle types, which always fail to encode by value.
	embedded bool
}

type fieldPlan struct {
	plan *Plan
	name string
}

type variantPlan struct {
	name   string
	fields []fieldPlan
}

// Compile returns the plan for t, compiling and caching it on first use.
func (c *Compiler) Compile(t *schema.Type) (*Plan, error) {
	if t == nil {
		return nil, errors.InvalidInput(errors.PhaseSchema, "nil type")
	}
	key := typeKey(t)
	if cached, ok := c.cache.Load(key); ok {
		return cached.(*Plan), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache.Load(key); ok {
		return cached.(*Plan), nil
	}
	building := make(map[string]*Plan)
	p, err := c.compile(t, building)
	if err != nil {
		return nil, err
	}
	for name, np := range building {
		c.cache.LoadOrStore(name, np)
	}
	c.cache.Store(key, p)
	return p, nil
}

// CompileError returns the plan used to carry a declared error through the
// error channel: the error is encoded like an enum with the same variants,
// and lifted as a Variant.
func (c *Compiler) CompileError(name string) (*Plan, error) {
	key := "error:" + name
	if cached, ok := c.cache.Load(key); ok {
		return cached.(*Plan), nil
	}
	def, ok := c.schema.Error(name)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseSchema, "undefined error "+name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	building := make(map[string]*Plan)
	p := &Plan{Type: schema.ErrorRef(name), kind: schema.KindEnum, name: name, flat: def.IsFlat(), asVariant: true}
	if err := c.compileVariants(p, def.Variants, building); err != nil {
		return nil, err
	}
	for n, np := range building {
		c.cache.LoadOrStore(n, np)
	}
	c.cache.Store(key, p)
	return p, nil
}

func typeKey(t *schema.Type) string {
	return t.Kind.String() + ":" + schema.FormatType(t)
}

func (c *Compiler) compile(t *schema.Type, building map[string]*Plan) (*Plan, error) {
	if t == nil {
		return nil, errors.InvalidInput(errors.PhaseSchema, "nil type")
	}
	key := typeKey(t)
	if cached, ok := c.cache.Load(key); ok {
		return cached.(*Plan), nil
	}
	if p, ok := building[key]; ok {
		return p, nil
	}

	switch t.Kind {
	case schema.KindBool, schema.KindU8, schema.KindI8, schema.KindU16, schema.KindI16,
		schema.KindU32, schema.KindI32, schema.KindU64, schema.KindI64,
		schema.KindF32, schema.KindF64:
		return &Plan{Type: t, kind: t.Kind}, nil

	case schema.KindString:
		return &Plan{Type: t, kind: t.Kind, limit: c.opts.MaxLength}, nil

	case schema.KindOptional:
		if t.Elem != nil && t.Elem.Kind == schema.KindOptional {
			return nil, errors.New(errors.PhaseSchema, errors.KindUnsupported).
				TypeName(schema.FormatType(t)).
				Detail("nested optional values cannot be told apart from absent").
				Build()
		}
		elem, err := c.compile(t.Elem, building)
		if err != nil {
			return nil, err
		}
		return &Plan{Type: t, kind: t.Kind, elem: elem}, nil

	case schema.KindSequence:
		elem, err := c.compile(t.Elem, building)
		if err != nil {
			return nil, err
		}
		return &Plan{Type: t, kind: t.Kind, elem: elem, limit: c.opts.MaxLength}, nil

	case schema.KindMap:
		if k := t.KeyType(); k.Kind != schema.KindString {
			return nil, errors.New(errors.PhaseSchema, errors.KindUnsupported).
				TypeName(schema.FormatType(t)).
				Detail("map keys are always encoded as strings; %s keys are not supported", k.Kind).
				Build()
		}
		elem, err := c.compile(t.Elem, building)
		if err != nil {
			return nil, err
		}
		return &Plan{Type: t, kind: t.Kind, elem: elem, limit: c.opts.MaxLength}, nil

	case schema.KindRecord:
		def, ok := c.schema.Record(t.Name)
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseSchema, "undefined record "+t.Name)
		}
		p := &Plan{Type: t, kind: t.Kind, name: t.Name}
		building[key] = p
		fields, err := c.compileFields(def.Fields, building)
		if err != nil {
			return nil, err
		}
		p.fields = fields
		return p, nil

	case schema.KindEnum:
		def, ok := c.schema.Enum(t.Name)
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseSchema, "undefined enum "+t.Name)
		}
		p := &Plan{Type: t, kind: t.Kind, name: t.Name, flat: def.IsFlat()}
		building[key] = p
		if err := c.compileVariants(p, def.Variants, building); err != nil {
			return nil, err
		}
		return p, nil

	case schema.KindObject, schema.KindCallback, schema.KindError:
		return &Plan{Type: t, kind: t.Kind, name: t.Name, embedded: true}, nil
	}

	return nil, errors.Unsupported(errors.PhaseSchema, "type kind "+t.Kind.String())
}

func (c *Compiler) compileFields(fields []schema.Field, building map[string]*Plan) ([]fieldPlan, error) {
	out := make([]fieldPlan, len(fields))
	for i, f := range fields {
		fp, err := c.compile(f.Type, building)
		if err != nil {
			return nil, atPath(err, f.Name)
		}
		out[i] = fieldPlan{name: f.Name, plan: fp}
	}
	return out, nil
}

func (c *Compiler) compileVariants(p *Plan, variants []schema.Variant, building map[string]*Plan) error {
	p.variants = make([]variantPlan, len(variants))
	for i, v := range variants {
		fields, err := c.compileFields(v.Fields, building)
		if err != nil {
			return atPath(err, v.Name)
		}
		p.variants[i] = variantPlan{name: v.Name, fields: fields}
	}
	return nil
}

// Lower encodes v as t into a fresh buffer.
func (c *Compiler) Lower(t *schema.Type, v any) (*buffer.Buffer, error) {
	p, err := c.Compile(t)
	if err != nil {
		return nil, err
	}
	w := buffer.NewWriter()
	if err := p.Lower(w, v); err != nil {
		w.Discard()
		return nil, err
	}
	return w.Finish(), nil
}

// Lift decodes a whole buffer as t. Trailing bytes are an error.
func (c *Compiler) Lift(t *schema.Type, b *buffer.Buffer) (any, error) {
	p, err := c.Compile(t)
	if err != nil {
		return nil, err
	}
	r, err := b.Reader()
	if err != nil {
		return nil, err
	}
	v, err := p.Lift(r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, errors.TrailingData(nil, r.Remaining())
	}
	return v, nil
}
