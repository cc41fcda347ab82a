package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/codec"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/schema"
)

type counter struct {
	n       int64
	dropped *atomic.Bool
}

func (c *counter) Drop() {
	if c.dropped != nil {
		c.dropped.Store(true)
	}
}

type gauge struct{ v int64 }

func (*gauge) ConcurrentSafe() {}

type sharedCounter struct{ counter }

func (*sharedCounter) ConcurrentSafe() {}

func i32Params(names ...string) []schema.Field {
	out := make([]schema.Field, len(names))
	for i, n := range names {
		out[i] = schema.Field{Name: n, Type: schema.I32}
	}
	return out
}

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.NewBuilder("test").
		Error(schema.ErrorDef{Name: "MathError", Variants: []schema.Variant{
			{Name: "DivByZero"},
			{Name: "Overflow", Fields: []schema.Field{{Name: "limit", Type: schema.I32}}},
		}}).
		Callback(schema.CallbackDef{Name: "Visitor", Methods: []schema.MethodDef{
			{Name: "visit", Args: []schema.Field{{Name: "n", Type: schema.I32}}, Return: schema.I32, Throws: "MathError"},
		}}).
		Object(schema.ObjectDef{
			Name:         "Counter",
			Constructors: []schema.ConstructorDef{{Args: []schema.Field{{Name: "start", Type: schema.I64}}}},
			Methods: []schema.MethodDef{
				{Name: "increment", Mutates: true},
				{Name: "get", Return: schema.I64},
			},
		}).
		Object(schema.ObjectDef{
			Name:         "Gauge",
			Constructors: []schema.ConstructorDef{{}},
			Methods:      []schema.MethodDef{{Name: "value", Return: schema.I64}},
		}).
		Function(schema.FunctionDef{Name: "add", Args: i32Params("a", "b"), Return: schema.I32}).
		Function(schema.FunctionDef{Name: "divide", Args: i32Params("a", "b"), Return: schema.I32, Throws: "MathError"}).
		Function(schema.FunctionDef{Name: "fail"}).
		Function(schema.FunctionDef{Name: "boom", Return: schema.I32}).
		Function(schema.FunctionDef{
			Name:   "greet",
			Args:   []schema.Field{{Name: "name", Type: schema.OptionalOf(schema.String)}},
			Return: schema.String,
		}).
		Function(schema.FunctionDef{Name: "makeCounter", Return: schema.ObjectRef("Counter")}).
		Function(schema.FunctionDef{
			Name:   "counterValue",
			Args:   []schema.Field{{Name: "c", Type: schema.ObjectRef("Counter")}},
			Return: schema.I64,
		}).
		Function(schema.FunctionDef{
			Name:   "visit",
			Args:   []schema.Field{{Name: "cb", Type: schema.CallbackRef("Visitor")}, {Name: "n", Type: schema.I32}},
			Return: schema.I32,
			Throws: "MathError",
		}).
		Build()
	require.NoError(t, err)
	return s
}

type fixture struct {
	table    *Table
	counterT *handle.Type[*counter]
	dropped  atomic.Bool
}

func testBindings(f *fixture) Bindings {
	gaugeT := handle.NewSharedType[*gauge]("Gauge")
	return Bindings{
		Functions: map[string]Impl{
			"add": Func2(func(_ context.Context, a, b int32) (int32, error) {
				return a + b, nil
			}),
			"divide": Func2(func(_ context.Context, a, b int32) (int32, error) {
				if b == 0 {
					return 0, NewDeclared("MathError", "DivByZero")
				}
				return a / b, nil
			}),
			"fail": Func0(func(context.Context) (Void, error) {
				return Void{}, fmt.Errorf("disk on fire")
			}),
			"boom": Func0(func(context.Context) (int32, error) {
				panic("kaboom")
			}),
			"greet": Func1(func(_ context.Context, name *string) (string, error) {
				if name == nil {
					return "hello, stranger", nil
				}
				return "hello, " + *name, nil
			}),
			"makeCounter": Func0(func(context.Context) (*counter, error) {
				return &counter{n: 7}, nil
			}),
			"counterValue": Func1(func(_ context.Context, h handle.Handle) (int64, error) {
				return handle.Invoke(f.table.Registry(), f.counterT, h, func(c *counter) (int64, error) {
					return c.n, nil
				})
			}),
			"visit": Func2(func(ctx context.Context, cb *Callback, n int32) (int32, error) {
				defer cb.Release()
				v, err := cb.Call(ctx, "visit", n)
				if err != nil {
					return 0, err
				}
				return v.(int32), nil
			}),
		},
		Objects: map[string]*ObjectBinding{
			"Counter": Object(f.counterT).
				Constructor("new", Func1(func(_ context.Context, start int64) (*counter, error) {
					return &counter{n: start, dropped: &f.dropped}, nil
				})).
				Method("increment", Method0(func(_ context.Context, c *counter) (Void, error) {
					c.n++
					return Void{}, nil
				})).
				Method("get", Method0(func(_ context.Context, c *counter) (int64, error) {
					return c.n, nil
				})),
			"Gauge": Object(gaugeT).
				Constructor("new", Func0(func(context.Context) (*gauge, error) {
					return &gauge{v: 42}, nil
				})).
				Method("value", Method0(func(_ context.Context, g *gauge) (int64, error) {
					return g.v, nil
				})),
		},
	}
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{counterT: handle.NewType[*counter]("Counter")}
	tbl, err := NewTableWithOptions(testSchema(t), testBindings(f), opts)
	require.NoError(t, err)
	f.table = tbl
	t.Cleanup(func() { _ = tbl.Close() })
	return f
}

func encode(fn func(w *buffer.Writer)) *buffer.Buffer {
	w := buffer.NewWriter()
	fn(w)
	return w.Finish()
}

func call(t *testing.T, tbl *Table, name string, fn func(w *buffer.Writer)) (*buffer.Buffer, Status, error) {
	t.Helper()
	return tbl.Call(context.Background(), name, encode(fn).Move())
}

func noArgs(*buffer.Writer) {}

func liftAs(t *testing.T, tbl *Table, typ *schema.Type, b *buffer.Buffer) any {
	t.Helper()
	v, err := tbl.Compiler().Lift(typ, b)
	require.NoError(t, err)
	require.NoError(t, b.Free())
	return v
}

func TestTable_CallFunction(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	out, status, err := call(t, f.table, "add", func(w *buffer.Writer) {
		w.WriteI32(2)
		w.WriteI32(3)
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, int32(5), liftAs(t, f.table, schema.I32, out))
}

func TestTable_FreesInput(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	in := encode(func(w *buffer.Writer) {
		w.WriteI32(1)
		w.WriteI32(1)
	})
	out, _, err := f.table.Call(context.Background(), "add", in)
	require.NoError(t, err)
	assert.False(t, in.Live())
	require.NoError(t, out.Free())
}

func TestTable_OptionalArgument(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	out, status, err := call(t, f.table, "greet", func(w *buffer.Writer) { w.WriteU8(0) })
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, "hello, stranger", liftAs(t, f.table, schema.String, out))

	out, status, err = call(t, f.table, "greet", func(w *buffer.Writer) {
		w.WriteU8(1)
		w.WriteI32(3)
		w.WriteString("ada")
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, "hello, ada", liftAs(t, f.table, schema.String, out))
}

func TestTable_DeclaredError(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	out, status, err := call(t, f.table, "divide", func(w *buffer.Writer) {
		w.WriteI32(1)
		w.WriteI32(0)
	})
	require.Equal(t, StatusError, status)

	var de DeclaredError
	require.True(t, stderrors.As(err, &de))
	assert.Equal(t, "MathError", de.ErrorType())

	raw, err := out.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1}, raw)

	p, err := f.table.Compiler().CompileError("MathError")
	require.NoError(t, err)
	r, err := out.Reader()
	require.NoError(t, err)
	v, err := p.Lift(r)
	require.NoError(t, err)
	assert.Equal(t, codec.Variant{Name: "DivByZero"}, v)
}

func TestTable_UndeclaredErrorIsUnexpected(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	out, status, err := call(t, f.table, "fail", noArgs)
	require.Equal(t, StatusUnexpected, status)

	var ue *UnexpectedError
	require.True(t, stderrors.As(err, &ue))
	assert.Equal(t, "fail", ue.Operation)
	assert.Equal(t, "disk on fire", ue.Message)

	var de DeclaredError
	assert.False(t, stderrors.As(err, &de))
	assert.Equal(t, "disk on fire", liftAs(t, f.table, schema.String, out))
}

func TestTable_DeclaredErrorOfWrongTypeIsUnexpected(t *testing.T) {
	s := schema.NewBuilder("t").
		Error(schema.ErrorDef{Name: "A", Variants: []schema.Variant{{Name: "X"}}}).
		Error(schema.ErrorDef{Name: "B", Variants: []schema.Variant{{Name: "X"}}}).
		Function(schema.FunctionDef{Name: "op", Throws: "A"}).
		MustBuild()
	tbl, err := NewTable(s, Bindings{Functions: map[string]Impl{
		"op": Func0(func(context.Context) (Void, error) { return Void{}, NewDeclared("B", "X") }),
	}})
	require.NoError(t, err)

	out, status, err := call(t, tbl, "op", noArgs)
	assert.Equal(t, StatusUnexpected, status)
	var ue *UnexpectedError
	assert.True(t, stderrors.As(err, &ue))
	require.NoError(t, out.Free())
}

func TestTable_PanicIsUnexpected(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	out, status, err := call(t, f.table, "boom", noArgs)
	require.Equal(t, StatusUnexpected, status)
	var ue *UnexpectedError
	require.True(t, stderrors.As(err, &ue))
	assert.Contains(t, ue.Message, "kaboom")
	assert.Contains(t, liftAs(t, f.table, schema.String, out), "kaboom")
}

func TestTable_InternalErrors(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	tests := []struct {
		name string
		op   string
		args func(w *buffer.Writer)
		kind errors.Kind
	}{
		{"unknown operation", "nope", noArgs, errors.KindUnknownOperation},
		{"truncated", "add", func(w *buffer.Writer) { w.WriteI32(1) }, errors.KindOutOfBounds},
		{"trailing", "add", func(w *buffer.Writer) {
			w.WriteI32(1)
			w.WriteI32(2)
			w.WriteU8(9)
		}, errors.KindTrailingData},
		{"bad flag", "greet", func(w *buffer.Writer) { w.WriteU8(2) }, errors.KindInvalidFlag},
		{"unknown receiver", "Counter.get", func(w *buffer.Writer) { w.WriteU64(999) }, errors.KindUnknownHandle},
		{"unknown object arg", "counterValue", func(w *buffer.Writer) { w.WriteU64(999) }, errors.KindUnknownHandle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, status, err := call(t, f.table, tt.op, tt.args)
			assert.Nil(t, out)
			assert.Equal(t, StatusInternal, status)
			require.Error(t, err)
			assert.True(t, errors.IsInternal(err))
			kind, ok := errors.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func readHandle(t *testing.T, out *buffer.Buffer) uint64 {
	t.Helper()
	r, err := out.Reader()
	require.NoError(t, err)
	h, err := r.ReadU64()
	require.NoError(t, err)
	require.NoError(t, out.Free())
	return h
}

func TestTable_ObjectLifecycle(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	out, status, err := call(t, f.table, "Counter.new", func(w *buffer.Writer) { w.WriteI64(10) })
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	h := readHandle(t, out)
	require.NotZero(t, h)

	self := func(w *buffer.Writer) { w.WriteU64(h) }
	for i := 0; i < 2; i++ {
		out, status, err = call(t, f.table, "Counter.increment", self)
		require.NoError(t, err)
		require.Equal(t, StatusOK, status)
		assert.Zero(t, out.Len())
		require.NoError(t, out.Free())
	}

	out, _, err = call(t, f.table, "Counter.get", self)
	require.NoError(t, err)
	assert.Equal(t, int64(12), liftAs(t, f.table, schema.I64, out))

	out, _, err = call(t, f.table, "counterValue", self)
	require.NoError(t, err)
	assert.Equal(t, int64(12), liftAs(t, f.table, schema.I64, out))

	out, status, err = call(t, f.table, "Counter.free", self)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.NoError(t, out.Free())
	assert.True(t, f.dropped.Load())

	_, status, err = call(t, f.table, "Counter.get", self)
	assert.Equal(t, StatusInternal, status)
	assert.True(t, errors.IsInternal(err))

	_, status, _ = call(t, f.table, "Counter.free", self)
	assert.Equal(t, StatusInternal, status)
}

func TestTable_ObjectReturnFromFunction(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	out, status, err := call(t, f.table, "makeCounter", noArgs)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	h := readHandle(t, out)

	name, ok := f.table.Registry().TypeOf(handle.Handle(h))
	require.True(t, ok)
	assert.Equal(t, "Counter", name)
}

func TestTable_HandleTypeChecked(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	out, _, err := call(t, f.table, "Gauge.new", noArgs)
	require.NoError(t, err)
	g := readHandle(t, out)

	_, status, err := call(t, f.table, "Counter.get", func(w *buffer.Writer) { w.WriteU64(g) })
	assert.Equal(t, StatusInternal, status)
	kind, _ := errors.KindOf(err)
	assert.Equal(t, errors.KindUnknownHandle, kind)

	_, status, _ = call(t, f.table, "Counter.free", func(w *buffer.Writer) { w.WriteU64(g) })
	assert.Equal(t, StatusInternal, status)

	out, status, err = call(t, f.table, "Gauge.value", func(w *buffer.Writer) { w.WriteU64(g) })
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, int64(42), liftAs(t, f.table, schema.I64, out))
}

func TestTable_LockedObjectSerializesCalls(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	out, _, err := call(t, f.table, "Counter.new", func(w *buffer.Writer) { w.WriteI64(0) })
	require.NoError(t, err)
	h := readHandle(t, out)

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				out, status, err := f.table.Call(context.Background(), "Counter.increment",
					encode(func(w *buffer.Writer) { w.WriteU64(h) }))
				if err != nil || status != StatusOK {
					t.Errorf("increment: %v %v", status, err)
					return
				}
				_ = out.Free()
			}
		}()
	}
	wg.Wait()

	out, _, err = call(t, f.table, "Counter.get", func(w *buffer.Writer) { w.WriteU64(h) })
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), liftAs(t, f.table, schema.I64, out))
}

func TestTable_Callback(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []uint32
	)
	foreign := func(h uint64, method uint32, in *buffer.Buffer) (*buffer.Buffer, Status, error) {
		defer in.Free()
		mu.Lock()
		methods = append(methods, method)
		mu.Unlock()
		if method == 0 {
			return buffer.New(nil), StatusOK, nil
		}
		r, _ := in.Reader()
		n, _ := r.ReadI32()
		if n < 0 {
			return encode(func(w *buffer.Writer) {
				w.WriteI32(2)
				w.WriteI32(100)
			}), StatusError, nil
		}
		return encode(func(w *buffer.Writer) { w.WriteI32(n * int32(h)) }), StatusOK, nil
	}
	f := newFixture(t, Options{Foreign: foreign})

	out, status, err := call(t, f.table, "visit", func(w *buffer.Writer) {
		w.WriteU64(3)
		w.WriteI32(7)
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, int32(21), liftAs(t, f.table, schema.I32, out))
	assert.Equal(t, []uint32{1, 0}, methods)

	out, status, err = call(t, f.table, "visit", func(w *buffer.Writer) {
		w.WriteU64(3)
		w.WriteI32(-1)
	})
	require.Equal(t, StatusError, status)
	var de *Declared
	require.True(t, stderrors.As(err, &de))
	assert.Equal(t, codec.Variant{Name: "Overflow", Fields: map[string]any{"limit": int32(100)}}, de.Value)
	require.NoError(t, out.Free())
}

func TestCallback_WithoutForeignEntryPoint(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	cb, err := f.table.NewCallback("Visitor", 1)
	require.NoError(t, err)
	_, err = cb.Call(context.Background(), "visit", int32(1))
	require.Error(t, err)
	assert.True(t, errors.IsInternal(err))

	_, err = cb.Call(context.Background(), "nope")
	kind, _ := errors.KindOf(err)
	assert.Equal(t, errors.KindUnknownOperation, kind)

	_, err = f.table.NewCallback("Missing", 1)
	assert.Error(t, err)
}

func TestCallback_ReleaseOnce(t *testing.T) {
	var releases atomic.Int32
	f := newFixture(t, Options{Foreign: func(_ uint64, method uint32, in *buffer.Buffer) (*buffer.Buffer, Status, error) {
		_ = in.Free()
		if method == 0 {
			releases.Add(1)
		}
		return buffer.New(nil), StatusOK, nil
	}})

	cb, err := f.table.NewCallback("Visitor", 5)
	require.NoError(t, err)
	require.NoError(t, cb.Release())
	require.NoError(t, cb.Release())
	assert.Equal(t, int32(1), releases.Load())

	_, err = cb.Call(context.Background(), "visit", int32(1))
	assert.Error(t, err)
}

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string]Status
}

func (o *recordingObserver) ObserveCall(op string, status Status, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[op] = status
}

func TestTable_Observer(t *testing.T) {
	obs := &recordingObserver{calls: make(map[string]Status)}
	f := newFixture(t, Options{Observer: obs})

	for _, op := range []string{"fail", "nope"} {
		out, _, _ := call(t, f.table, op, noArgs)
		if out != nil {
			_ = out.Free()
		}
	}
	assert.Equal(t, map[string]Status{"fail": StatusUnexpected, "nope": StatusInternal}, obs.calls)
}

func TestTable_Descriptors(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	var names []string
	for _, d := range f.table.Descriptors() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"Counter.free", "Counter.get", "Counter.increment", "Counter.new",
		"Gauge.free", "Gauge.new", "Gauge.value",
		"add", "boom", "counterValue", "divide", "fail", "greet", "makeCounter", "visit",
	}, names)

	d, ok := f.table.Descriptor("divide")
	require.True(t, ok)
	assert.Equal(t, "i32 divide(i32 a, i32 b) throws MathError", d.Signature())

	d, ok = f.table.Descriptor("Counter.get")
	require.True(t, ok)
	assert.Equal(t, OpMethod, d.Kind)
	assert.Equal(t, "i64 Counter.get(Counter self)", d.Signature())

	d, _ = f.table.Descriptor("Counter.new")
	assert.Equal(t, OpConstructor, d.Kind)
	assert.False(t, d.HasReceiver())
}

func TestNewTable_BindingMismatch(t *testing.T) {
	f := &fixture{counterT: handle.NewType[*counter]("Counter")}
	b := testBindings(f)
	delete(b.Functions, "add")
	b.Objects["Counter"].Methods["reset"] = Method0(func(context.Context, *counter) (Void, error) {
		return Void{}, nil
	})
	b.Functions["extra"] = Func0(func(context.Context) (Void, error) { return Void{}, nil })

	_, err := NewTable(testSchema(t), b)
	require.Error(t, err)

	var be *errors.BindingError
	require.True(t, stderrors.As(err, &be))
	assert.Equal(t, []errors.UnboundOperation{{Name: "add"}}, be.Missing)
	assert.Equal(t, []errors.UnboundOperation{{Owner: "Counter", Name: "reset"}, {Name: "extra"}}, be.Extra)
}

func TestNewTable_MissingObjectBinding(t *testing.T) {
	f := &fixture{counterT: handle.NewType[*counter]("Counter")}
	b := testBindings(f)
	delete(b.Objects, "Gauge")

	_, err := NewTable(testSchema(t), b)
	var be *errors.BindingError
	require.True(t, stderrors.As(err, &be))
	assert.Equal(t, []errors.UnboundOperation{
		{Owner: "Gauge", Name: "new"},
		{Owner: "Gauge", Name: "value"},
	}, be.Missing)
}

func TestNewTable_ClassMismatch(t *testing.T) {
	t.Run("direct schema with locked token", func(t *testing.T) {
		f := &fixture{counterT: handle.NewType[*counter]("Counter")}
		b := testBindings(f)
		b.Objects["Gauge"] = Object(handle.NewType[*gauge]("Gauge")).
			Constructor("new", Func0(func(context.Context) (*gauge, error) { return &gauge{}, nil })).
			Method("value", Method0(func(_ context.Context, g *gauge) (int64, error) { return g.v, nil }))

		_, err := NewTable(testSchema(t), b)
		require.Error(t, err)
		kind, _ := errors.KindOf(err)
		assert.Equal(t, errors.KindBinding, kind)
		assert.Contains(t, err.Error(), "Shareable")
	})

	t.Run("locked schema with shared token", func(t *testing.T) {
		f := &fixture{counterT: handle.NewType[*counter]("Counter")}
		b := testBindings(f)
		b.Objects["Counter"] = Object(handle.NewSharedType[*sharedCounter]("Counter")).
			Constructor("new", Func1(func(_ context.Context, start int64) (*sharedCounter, error) {
				return &sharedCounter{}, nil
			})).
			Method("increment", Method0(func(context.Context, *sharedCounter) (Void, error) { return Void{}, nil })).
			Method("get", Method0(func(context.Context, *sharedCounter) (int64, error) { return 0, nil }))

		_, err := NewTable(testSchema(t), b)
		require.Error(t, err)
		kind, _ := errors.KindOf(err)
		assert.Equal(t, errors.KindBinding, kind)
	})
}

func TestNewTable_RejectsUnencodableSignatures(t *testing.T) {
	s := schema.NewBuilder("t").
		Function(schema.FunctionDef{
			Name: "op",
			Args: []schema.Field{{Name: "m", Type: schema.MapWithKey(schema.I32, schema.String)}},
		}).
		MustBuild()
	_, err := NewTable(s, Bindings{Functions: map[string]Impl{
		"op": Func1(func(context.Context, map[string]any) (Void, error) { return Void{}, nil }),
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op.m")
}
