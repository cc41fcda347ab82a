package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/codec"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/schema"
)

// CallObserver is notified after every Call with the outcome and latency.
type CallObserver interface {
	ObserveCall(operation string, status Status, d time.Duration)
}

// Options configures a Table.
type Options struct {
	// Registry holds objects handed out by the table. A private registry is
	// created when nil.
	Registry *handle.Registry
	Observer CallObserver
	// Foreign carries calls into foreign callback objects. It can also be
	// installed later with SetForeignCallback.
	Foreign ForeignCallback
	Logger  *zap.Logger
	Codec   codec.Options
}

// DefaultOptions returns the default table options.
func DefaultOptions() Options {
	return Options{Codec: codec.DefaultOptions()}
}

// Table maps operation names to descriptors and implementations. It is
// read-only after construction and safe for concurrent use.
type Table struct {
	ops      map[string]*operation
	objects  map[string]*ObjectBinding
	registry *handle.Registry
	compiler *codec.Compiler
	observer CallObserver
	log      *zap.Logger
	foreign  atomic.Pointer[ForeignCallback]
	owned    bool
}

type operation struct {
	desc   *Descriptor
	fn     Impl
	method MethodImpl
	// args holds nil for handle-typed arguments.
	args    []*codec.Plan
	ret     *codec.Plan
	errPlan *codec.Plan
}

func NewTable(s *schema.Schema, b Bindings) (*Table, error) {
	return NewTableWithOptions(s, b, DefaultOptions())
}

// NewTableWithOptions builds the table. Every schema operation must have a
// binding and every binding must name a schema operation.
func NewTableWithOptions(s *schema.Schema, b Bindings, opts Options) (*Table, error) {
	t := &Table{
		ops:      make(map[string]*operation),
		objects:  make(map[string]*ObjectBinding),
		registry: opts.Registry,
		compiler: codec.NewCompilerWithOptions(s, opts.Codec),
		observer: opts.Observer,
		log:      opts.Logger,
	}
	if t.registry == nil {
		t.registry = handle.NewRegistry()
		t.owned = true
	}
	if t.log == nil {
		t.log = Logger()
	}
	if opts.Foreign != nil {
		t.SetForeignCallback(opts.Foreign)
	}

	var missing, extra []string

	for _, fd := range s.Functions() {
		fn, ok := b.Functions[fd.Name]
		if !ok || fn == nil {
			missing = append(missing, fd.Name)
			continue
		}
		desc := &Descriptor{
			Name:   fd.Name,
			Kind:   OpFunction,
			Args:   fd.Args,
			Return: fd.Return,
			Error:  fd.Throws,
			Docs:   fd.Docs,
		}
		if err := t.add(desc, fn, nil); err != nil {
			return nil, err
		}
	}
	for name := range b.Functions {
		if _, ok := s.Function(name); !ok {
			extra = append(extra, name)
		}
	}

	for _, od := range s.Objects() {
		ob, ok := b.Objects[od.Name]
		if !ok || ob == nil {
			missing = append(missing, objectKeys(od)...)
			continue
		}
		if err := checkClass(od, ob); err != nil {
			return nil, err
		}
		t.objects[od.Name] = ob

		for i := range od.Constructors {
			cd := &od.Constructors[i]
			cname := constructorName(cd)
			fn, ok := ob.Constructors[cname]
			if !ok || fn == nil {
				missing = append(missing, OperationName(od.Name, cname))
				continue
			}
			desc := &Descriptor{
				Name:   OperationName(od.Name, cname),
				Kind:   OpConstructor,
				Args:   cd.Args,
				Return: schema.ObjectRef(od.Name),
				Error:  cd.Throws,
				Docs:   cd.Docs,
			}
			if err := t.add(desc, fn, nil); err != nil {
				return nil, err
			}
		}
		for i := range od.Methods {
			md := &od.Methods[i]
			fn, ok := ob.Methods[md.Name]
			if !ok || fn == nil {
				missing = append(missing, OperationName(od.Name, md.Name))
				continue
			}
			desc := &Descriptor{
				Name:     OperationName(od.Name, md.Name),
				Kind:     OpMethod,
				Receiver: od.Name,
				Args:     md.Args,
				Return:   md.Return,
				Error:    md.Throws,
				Docs:     md.Docs,
			}
			if err := t.add(desc, nil, fn); err != nil {
				return nil, err
			}
		}
		free := &Descriptor{
			Name:     OperationName(od.Name, FreeMethod),
			Kind:     OpFree,
			Receiver: od.Name,
		}
		t.ops[free.Name] = &operation{desc: free}

		for cname := range ob.Constructors {
			if !hasConstructor(od, cname) {
				extra = append(extra, OperationName(od.Name, cname))
			}
		}
		for mname := range ob.Methods {
			if _, ok := od.Method(mname); !ok {
				extra = append(extra, OperationName(od.Name, mname))
			}
		}
	}
	for name, ob := range b.Objects {
		if _, ok := s.Object(name); ok {
			continue
		}
		n := len(extra)
		for cname := range ob.Constructors {
			extra = append(extra, OperationName(name, cname))
		}
		for mname := range ob.Methods {
			extra = append(extra, OperationName(name, mname))
		}
		if len(extra) == n {
			extra = append(extra, name)
		}
	}

	if len(missing) > 0 || len(extra) > 0 {
		err := errors.NewBindingError(missing, extra)
		t.log.Error("dispatch table binding mismatch", zap.Error(err))
		return nil, err
	}

	t.log.Debug("dispatch table built",
		zap.String("namespace", s.Namespace),
		zap.Int("operations", len(t.ops)))
	return t, nil
}

func objectKeys(od *schema.ObjectDef) []string {
	keys := make([]string, 0, len(od.Constructors)+len(od.Methods))
	for i := range od.Constructors {
		keys = append(keys, OperationName(od.Name, constructorName(&od.Constructors[i])))
	}
	for _, m := range od.Methods {
		keys = append(keys, OperationName(od.Name, m.Name))
	}
	if len(keys) == 0 {
		keys = append(keys, od.Name)
	}
	return keys
}

func hasConstructor(od *schema.ObjectDef, name string) bool {
	for i := range od.Constructors {
		if constructorName(&od.Constructors[i]) == name {
			return true
		}
	}
	return false
}

// checkClass matches the schema's concurrency requirement against the
// binding's type token.
func checkClass(od *schema.ObjectDef, ob *ObjectBinding) error {
	info := ob.Type()
	if info.Name() != od.Name {
		return errors.New(errors.PhaseBuild, errors.KindBinding).
			TypeName(od.Name).
			Detail("bound with type token %q", info.Name()).
			Build()
	}
	want := handle.ClassOf(od)
	if want == info.Class() {
		return nil
	}
	if want == handle.Direct {
		return errors.New(errors.PhaseBuild, errors.KindBinding).
			TypeName(od.Name).
			Detail("object has no mutating methods and is called without locking; its Go type must be Shareable and bound with handle.NewSharedType").
			Build()
	}
	return errors.New(errors.PhaseBuild, errors.KindBinding).
		TypeName(od.Name).
		Detail("object has mutating methods and must be bound with a locked token from handle.NewType").
		Build()
}

func (t *Table) add(desc *Descriptor, fn Impl, method MethodImpl) error {
	op := &operation{desc: desc, fn: fn, method: method, args: make([]*codec.Plan, len(desc.Args))}

	for i, a := range desc.Args {
		switch a.Type.Kind {
		case schema.KindObject, schema.KindCallback:
			continue
		case schema.KindError:
			return buildError(desc, a.Name, errors.Unsupported(errors.PhaseSchema, "error type "+a.Type.Name+" as an argument"))
		}
		p, err := t.compiler.Compile(a.Type)
		if err != nil {
			return buildError(desc, a.Name, err)
		}
		op.args[i] = p
	}

	if r := desc.Return; r != nil {
		switch r.Kind {
		case schema.KindObject:
		case schema.KindCallback, schema.KindError:
			return buildError(desc, "return", errors.Unsupported(errors.PhaseSchema, r.Kind.String()+" as a return type"))
		default:
			p, err := t.compiler.Compile(r)
			if err != nil {
				return buildError(desc, "return", err)
			}
			op.ret = p
		}
	}

	if desc.Error != "" {
		p, err := t.compiler.CompileError(desc.Error)
		if err != nil {
			return buildError(desc, "throws", err)
		}
		op.errPlan = p
	}

	t.ops[desc.Name] = op
	return nil
}

func buildError(desc *Descriptor, where string, cause error) error {
	return errors.New(errors.PhaseBuild, errors.KindUnsupported).
		Path(desc.Name, where).
		Cause(cause).
		Detail("cannot compile operation").
		Build()
}

// SetForeignCallback installs the entry point used by Callback proxies.
func (t *Table) SetForeignCallback(fc ForeignCallback) {
	if fc == nil {
		t.foreign.Store(nil)
		return
	}
	t.foreign.Store(&fc)
}

// Registry returns the handle registry objects are stored in.
func (t *Table) Registry() *handle.Registry {
	return t.registry
}

// Compiler returns the codec compiler bound to the table's schema.
func (t *Table) Compiler() *codec.Compiler {
	return t.compiler
}

// Descriptor looks up one operation.
func (t *Table) Descriptor(name string) (*Descriptor, bool) {
	op, ok := t.ops[name]
	if !ok {
		return nil, false
	}
	return op.desc, true
}

// Descriptors lists all operations sorted by name.
func (t *Table) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, op.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close releases every object in a registry the table created itself.
func (t *Table) Close() error {
	if !t.owned {
		return nil
	}
	return t.registry.Close()
}

// Call runs one operation. Ownership of in passes to the table, which frees
// it. The returned buffer is owned by the caller and is nil only for
// StatusInternal.
//
// The error is nil for StatusOK, the DeclaredError for StatusError, an
// *UnexpectedError for StatusUnexpected and an *errors.Error for
// StatusInternal.
func (t *Table) Call(ctx context.Context, name string, in *buffer.Buffer) (*buffer.Buffer, Status, error) {
	start := time.Now()
	out, status, err := t.call(ctx, name, in)
	if t.observer != nil {
		t.observer.ObserveCall(name, status, time.Since(start))
	}
	return out, status, err
}

func (t *Table) call(ctx context.Context, name string, in *buffer.Buffer) (*buffer.Buffer, Status, error) {
	defer func() {
		if in.Live() {
			_ = in.Free()
		}
	}()

	op, ok := t.ops[name]
	if !ok {
		err := errors.UnknownOperation(name)
		t.log.Error("unknown operation", zap.String("operation", name))
		return nil, StatusInternal, err
	}

	r, err := in.Reader()
	if err != nil {
		return t.internal(name, err)
	}

	var recv handle.Handle
	if op.desc.HasReceiver() {
		raw, err := r.ReadU64()
		if err != nil {
			return t.internal(name, atArg(err, "self"))
		}
		recv = handle.Handle(raw)
	}

	args, err := t.liftArgs(op, r)
	if err != nil {
		return t.internal(name, err)
	}
	if r.Remaining() != 0 {
		releaseCallbacks(args)
		return t.internal(name, errors.TrailingData(nil, r.Remaining()))
	}

	var (
		result  any
		implErr error
	)
	switch op.desc.Kind {
	case OpFree:
		if tn, ok := t.registry.TypeOf(recv); !ok || tn != op.desc.Receiver {
			return t.internal(name, errors.UnknownHandle(uint64(recv), "not a live "+op.desc.Receiver))
		}
		if err := t.registry.Release(recv); err != nil {
			return t.internal(name, err)
		}
		return buffer.New(nil), StatusOK, nil

	case OpMethod:
		err := t.registry.Invoke(recv, op.desc.Receiver, func(obj any) error {
			result, implErr = t.guard(name, func() (any, error) {
				return op.method(ctx, obj, args)
			})
			return nil
		})
		if err != nil {
			releaseCallbacks(args)
			return t.internal(name, err)
		}

	default:
		result, implErr = t.guard(name, func() (any, error) {
			return op.fn(ctx, args)
		})
	}

	if implErr != nil {
		return t.failure(op, implErr)
	}

	out, err := t.lowerReturn(op, result)
	if err != nil {
		return t.unexpected(name, err)
	}
	return out, StatusOK, nil
}

func (t *Table) liftArgs(op *operation, r *buffer.Reader) ([]any, error) {
	args := make([]any, len(op.desc.Args))
	for i, a := range op.desc.Args {
		switch a.Type.Kind {
		case schema.KindObject:
			raw, err := r.ReadU64()
			if err != nil {
				releaseCallbacks(args)
				return nil, atArg(err, a.Name)
			}
			h := handle.Handle(raw)
			if tn, ok := t.registry.TypeOf(h); !ok || tn != a.Type.Name {
				releaseCallbacks(args)
				return nil, errors.New(errors.PhaseLift, errors.KindUnknownHandle).
					Path(a.Name).
					TypeName(a.Type.Name).
					Value(raw).
					Detail("handle %d is not a live %s", raw, a.Type.Name).
					Build()
			}
			args[i] = h

		case schema.KindCallback:
			raw, err := r.ReadU64()
			if err != nil {
				releaseCallbacks(args)
				return nil, atArg(err, a.Name)
			}
			def, _ := t.compiler.Schema().Callback(a.Type.Name)
			args[i] = &Callback{table: t, def: def, handle: raw}

		default:
			v, err := op.args[i].Lift(r)
			if err != nil {
				releaseCallbacks(args)
				return nil, atArg(err, a.Name)
			}
			args[i] = v
		}
	}
	return args, nil
}

// releaseCallbacks drops foreign references lifted for a call that never
// reached its implementation.
func releaseCallbacks(args []any) {
	for _, a := range args {
		if cb, ok := a.(*Callback); ok {
			_ = cb.Release()
		}
	}
}

func (t *Table) lowerReturn(op *operation, result any) (*buffer.Buffer, error) {
	ret := op.desc.Return
	if ret == nil {
		return buffer.New(nil), nil
	}
	if ret.Kind != schema.KindObject {
		return t.compiler.Lower(ret, result)
	}

	var h handle.Handle
	if existing, ok := result.(handle.Handle); ok {
		if tn, live := t.registry.TypeOf(existing); !live || tn != ret.Name {
			return nil, errors.UnknownHandle(uint64(existing), "returned handle is not a live "+ret.Name)
		}
		h = existing
	} else {
		ob := t.objects[ret.Name]
		var err error
		h, err = ob.register(t.registry, result)
		if err != nil {
			return nil, err
		}
	}
	w := buffer.NewWriter()
	w.WriteU64(uint64(h))
	return w.Finish(), nil
}

// failure classifies an implementation error as declared or unexpected.
func (t *Table) failure(op *operation, implErr error) (*buffer.Buffer, Status, error) {
	name := op.desc.Name

	var ue *UnexpectedError
	if stderrors.As(implErr, &ue) {
		return t.unexpected(name, ue)
	}

	var de DeclaredError
	if op.errPlan != nil && stderrors.As(implErr, &de) && de.ErrorType() == op.desc.Error {
		w := buffer.NewWriter()
		if err := op.errPlan.Lower(w, de.ErrorValue()); err != nil {
			w.Discard()
			return t.unexpected(name, errors.Wrap(errors.PhaseLower, errors.KindTypeMismatch, err,
				"declared error value cannot be lowered as "+op.desc.Error))
		}
		t.log.Debug("declared error",
			zap.String("operation", name),
			zap.String("type", de.ErrorType()),
			zap.Any("value", de.ErrorValue()))
		return w.Finish(), StatusError, de
	}

	return t.unexpected(name, implErr)
}

func (t *Table) unexpected(name string, cause error) (*buffer.Buffer, Status, error) {
	ue, ok := cause.(*UnexpectedError)
	if !ok {
		ue = &UnexpectedError{Operation: name, Message: cause.Error(), Cause: cause}
	}
	t.log.Error("unexpected failure", zap.String("operation", name), zap.Error(ue))

	w := buffer.NewWriter()
	if err := codec.String.Lower(w, ue.Message); err != nil {
		// invalid UTF-8 in the message
		w.Discard()
		w = buffer.NewWriter()
		_ = codec.String.Lower(w, fmt.Sprintf("%q", ue.Message))
	}
	return w.Finish(), StatusUnexpected, ue
}

func (t *Table) internal(name string, err error) (*buffer.Buffer, Status, error) {
	t.log.Error("internal error", zap.String("operation", name), zap.Error(err))
	return nil, StatusInternal, err
}

// guard runs an implementation and turns a panic into an UnexpectedError.
func (t *Table) guard(name string, fn func() (any, error)) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			t.log.Error("panic in operation",
				zap.String("operation", name),
				zap.Any("panic", p),
				zap.Stack("stack"))
			result = nil
			err = &UnexpectedError{Operation: name, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()
	return fn()
}

func atArg(err error, name string) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		e.Path = append([]string{name}, e.Path...)
		return e
	}
	return err
}
