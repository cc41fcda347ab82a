package schema

import (
	"strings"
	"testing"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-bridge/errors"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewBuilder("todolist").
		Function(FunctionDef{Name: "summarize", Args: []Field{{Name: "items", Type: SequenceOf(RecordRef("Todo"))}}, Return: MapOf(U32)}).
		Record(RecordDef{Name: "Todo", Fields: []Field{
			{Name: "title", Type: String},
			{Name: "priority", Type: EnumRef("Priority")},
			{Name: "note", Type: OptionalOf(String)},
		}}).
		Enum(EnumDef{Name: "Priority", Variants: []Variant{{Name: "Low"}, {Name: "High"}}}).
		Error(ErrorDef{Name: "TodoError", Variants: []Variant{
			{Name: "Empty"},
			{Name: "Duplicate", Fields: []Field{{Name: "title", Type: String}}},
		}}).
		Object(ObjectDef{
			Name:         "TodoList",
			Constructors: []ConstructorDef{{Name: "new"}},
			Methods: []MethodDef{
				{Name: "add", Args: []Field{{Name: "todo", Type: RecordRef("Todo")}}, Throws: "TodoError", Mutates: true},
				{Name: "len", Return: U32},
			},
		}).
		Callback(CallbackDef{Name: "Listener", Methods: []MethodDef{
			{Name: "changed", Args: []Field{{Name: "count", Type: U32}}},
		}}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return s
}

func TestBuilder_Lookups(t *testing.T) {
	s := testSchema(t)

	if _, ok := s.Record("Todo"); !ok {
		t.Error("record Todo not found")
	}
	if _, ok := s.Enum("Priority"); !ok {
		t.Error("enum Priority not found")
	}
	if _, ok := s.Error("TodoError"); !ok {
		t.Error("error TodoError not found")
	}
	obj, ok := s.Object("TodoList")
	if !ok {
		t.Fatal("object TodoList not found")
	}
	if !obj.RequiresExclusive() {
		t.Error("TodoList has a mutating method and should require exclusive access")
	}
	if _, ok := obj.Method("len"); !ok {
		t.Error("method len not found")
	}
	cb, ok := s.Callback("Listener")
	if !ok {
		t.Fatal("callback Listener not found")
	}
	if _, idx, ok := cb.Method("changed"); !ok || idx != 0 {
		t.Errorf("callback method changed: idx=%d ok=%v", idx, ok)
	}
	if _, ok := s.Function("summarize"); !ok {
		t.Error("function summarize not found")
	}
	if _, ok := s.Record("Missing"); ok {
		t.Error("unexpected record Missing")
	}
}

func TestBuilder_DeclarationOrder(t *testing.T) {
	s, err := NewBuilder("ns").
		Record(RecordDef{Name: "B"}).
		Record(RecordDef{Name: "A"}).
		Record(RecordDef{Name: "C"}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range s.Records() {
		names = append(names, r.Name)
	}
	if got := strings.Join(names, ","); got != "B,A,C" {
		t.Errorf("order = %s, want B,A,C", got)
	}
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Builder
		wantSub string
	}{
		{
			name: "duplicate type across kinds",
			build: func() *Builder {
				return NewBuilder("ns").Record(RecordDef{Name: "X"}).Enum(EnumDef{Name: "X"})
			},
			wantSub: `duplicate type "X"`,
		},
		{
			name: "duplicate function",
			build: func() *Builder {
				return NewBuilder("ns").Function(FunctionDef{Name: "f"}).Function(FunctionDef{Name: "f"})
			},
			wantSub: `duplicate function "f"`,
		},
		{
			name: "undefined record",
			build: func() *Builder {
				return NewBuilder("ns").Function(FunctionDef{Name: "f", Return: RecordRef("Nope")})
			},
			wantSub: `undefined dictionary "Nope"`,
		},
		{
			name: "wrong kind",
			build: func() *Builder {
				return NewBuilder("ns").
					Enum(EnumDef{Name: "E", Variants: []Variant{{Name: "A"}}}).
					Record(RecordDef{Name: "R", Fields: []Field{{Name: "e", Type: RecordRef("E")}}})
			},
			wantSub: `"E" is a enum, not a dictionary`,
		},
		{
			name: "undefined throws",
			build: func() *Builder {
				return NewBuilder("ns").Function(FunctionDef{Name: "f", Throws: "Oops"})
			},
			wantSub: `throws undefined error "Oops"`,
		},
		{
			name: "nested reference",
			build: func() *Builder {
				return NewBuilder("ns").Function(FunctionDef{
					Name: "f",
					Args: []Field{{Name: "m", Type: MapOf(SequenceOf(OptionalOf(ObjectRef("Gone"))))}},
				})
			},
			wantSub: `undefined interface "Gone"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantSub)
			}
			if kind, ok := errors.KindOf(err); !ok || kind != errors.KindInvalidInput {
				t.Errorf("kind = %v, want invalid_input", kind)
			}
		})
	}
}

func TestFormatType(t *testing.T) {
	tests := []struct {
		typ  *Type
		want string
	}{
		{nil, "void"},
		{Bool, "boolean"},
		{I64, "i64"},
		{String, "string"},
		{OptionalOf(U32), "u32?"},
		{SequenceOf(RecordRef("Todo")), "sequence<Todo>"},
		{MapOf(F64), "record<DOMString, f64>"},
		{OptionalOf(SequenceOf(String)), "sequence<string>?"},
		{MapWithKey(U32, String), "record<u32, string>"},
		{ObjectRef("TodoList"), "TodoList"},
	}
	for _, tt := range tests {
		if got := FormatType(tt.typ); got != tt.want {
			t.Errorf("FormatType = %q, want %q", got, tt.want)
		}
	}
}

func TestSchema_ParseType(t *testing.T) {
	s := testSchema(t)
	for _, text := range []string{
		"boolean", "i64", "string", "u32?", "sequence<Todo>", "record<DOMString, f64>",
		"sequence<string>?", "record<u32, string>", "TodoList", "Priority", "TodoError", "Listener",
	} {
		typ, err := s.ParseType(text)
		if err != nil {
			t.Errorf("ParseType(%q): %v", text, err)
			continue
		}
		if got := FormatType(typ); got != text {
			t.Errorf("ParseType(%q) formats as %q", text, got)
		}
	}

	if typ, err := s.ParseType("record<string, u8>"); err != nil || !typ.Equal(MapOf(U8)) {
		t.Errorf("record<string, u8> = %v, %v", typ, err)
	}
	for _, bad := range []string{"", "Nope", "sequence<Nope>", "record<u8>"} {
		if _, err := s.ParseType(bad); err == nil {
			t.Errorf("ParseType(%q) should fail", bad)
		}
	}
}

func TestType_Equal(t *testing.T) {
	if !SequenceOf(String).Equal(SequenceOf(String)) {
		t.Error("identical sequences not equal")
	}
	if SequenceOf(String).Equal(SequenceOf(U8)) {
		t.Error("different element types reported equal")
	}
	if !MapOf(U8).Equal(MapWithKey(String, U8)) {
		t.Error("default key should equal explicit string key")
	}
	if RecordRef("A").Equal(EnumRef("A")) {
		t.Error("different kinds reported equal")
	}
}

func TestKind(t *testing.T) {
	if !KindF64.IsPrimitive() || KindString.IsPrimitive() {
		t.Error("IsPrimitive wrong")
	}
	if !KindU8.IsInteger() || KindBool.IsInteger() || KindF32.IsInteger() {
		t.Error("IsInteger wrong")
	}
	if !KindCallback.IsHandle() || KindRecord.IsHandle() {
		t.Error("IsHandle wrong")
	}
	widths := map[Kind]int{KindBool: 1, KindI16: 2, KindF32: 4, KindU64: 8, KindString: 0}
	for k, w := range widths {
		if k.Width() != w {
			t.Errorf("%s width = %d, want %d", k, k.Width(), w)
		}
	}
}

func TestDescribe(t *testing.T) {
	got := testSchema(t).Describe()
	for _, want := range []string{
		"namespace todolist {\n  record<DOMString, u32> summarize(sequence<Todo> items);\n};\n",
		"dictionary Todo {\n  required string title;\n  required Priority priority;\n  string? note;\n};\n",
		"enum Priority {\n  \"Low\",\n  \"High\"\n};\n",
		"[Error]\n[Enum]\ninterface TodoError {\n  Empty();\n  Duplicate(string title);\n};\n",
		"interface TodoList {\n  constructor();\n  [Self=ByMut] [Throws=TodoError] void add(Todo todo);\n  u32 len();\n};\n",
		"callback interface Listener {\n  void changed(u32 count);\n};\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Describe output missing:\n%s\n--- got ---\n%s", want, got)
		}
	}
}

func TestErrorDef_AsEnum(t *testing.T) {
	e := &ErrorDef{Name: "E", Variants: []Variant{{Name: "A"}, {Name: "B"}}}
	if !e.IsFlat() {
		t.Error("flat error not flat")
	}
	en := e.AsEnum()
	if en.Name != "E" || len(en.Variants) != 2 || !en.IsFlat() {
		t.Errorf("AsEnum = %+v", en)
	}
}

func strPtr(s string) *string { return &s }

func TestWITImporter(t *testing.T) {
	b := NewBuilder("wit")
	im := NewWITImporter(b)

	color := &wit.TypeDef{Name: strPtr("color"), Kind: &wit.Enum{Cases: []wit.EnumCase{{Name: "red"}, {Name: "green"}}}}
	point := &wit.TypeDef{Name: strPtr("point"), Kind: &wit.Record{Fields: []wit.Field{
		{Name: "x", Type: wit.S32{}},
		{Name: "y", Type: wit.S32{}},
		{Name: "tint", Type: &wit.TypeDef{Kind: &wit.Option{Type: color}}},
	}}}
	shape := &wit.TypeDef{Name: strPtr("shape"), Kind: &wit.Variant{Cases: []wit.Case{
		{Name: "none"},
		{Name: "dot", Type: point},
	}}}
	points := &wit.TypeDef{Kind: &wit.List{Type: point}}

	err := im.Function("draw", []WITParam{
		{Name: "shape", Type: shape},
		{Name: "trail", Type: points},
		{Name: "label", Type: wit.String{}},
	}, wit.U64{})
	if err != nil {
		t.Fatalf("Function: %v", err)
	}

	s, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	fn, ok := s.Function("draw")
	if !ok {
		t.Fatal("draw not imported")
	}
	if got := FormatType(fn.Args[1].Type); got != "sequence<point>" {
		t.Errorf("trail = %s", got)
	}
	if fn.Return != U64 {
		t.Errorf("return = %s", FormatType(fn.Return))
	}
	rec, ok := s.Record("point")
	if !ok || len(rec.Fields) != 3 {
		t.Fatalf("point = %+v", rec)
	}
	if got := FormatType(rec.Fields[2].Type); got != "color?" {
		t.Errorf("tint = %s", got)
	}
	en, ok := s.Enum("shape")
	if !ok || en.IsFlat() {
		t.Fatalf("shape = %+v", en)
	}
	if en.Variants[1].Fields[0].Type.Name != "point" {
		t.Errorf("dot payload = %+v", en.Variants[1].Fields)
	}
	if c, ok := s.Enum("color"); !ok || !c.IsFlat() {
		t.Errorf("color = %+v", c)
	}
}

func TestWITImporter_Unsupported(t *testing.T) {
	im := NewWITImporter(NewBuilder("wit"))

	tests := []struct {
		name string
		typ  wit.Type
	}{
		{"char", wit.Char{}},
		{"tuple", &wit.TypeDef{Kind: &wit.Tuple{Types: []wit.Type{wit.U8{}}}}},
		{"anonymous record", &wit.TypeDef{Kind: &wit.Record{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := im.Type(tt.typ)
			if err == nil {
				t.Fatal("expected error")
			}
			if kind, _ := errors.KindOf(err); kind != errors.KindUnsupported {
				t.Errorf("kind = %v, want unsupported", kind)
			}
		})
	}
}

func TestWITImporter_Resource(t *testing.T) {
	b := NewBuilder("wit")
	im := NewWITImporter(b)
	res := &wit.TypeDef{Name: strPtr("counter"), Kind: &wit.Resource{}}
	typ, err := im.Type(&wit.TypeDef{Kind: &wit.Own{Type: res}})
	if err != nil {
		t.Fatal(err)
	}
	if typ.Kind != KindObject || typ.Name != "counter" {
		t.Errorf("own<counter> = %+v", typ)
	}
	s := b.MustBuild()
	if _, ok := s.Object("counter"); !ok {
		t.Error("resource not registered as object")
	}
}
