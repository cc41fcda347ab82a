package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/schema"
)

// ForeignCallback carries a call into a foreign-implemented object. method
// is the 1-based position of the method in the callback interface; method 0
// releases the foreign handle. Ownership of args passes to the callee and
// ownership of the returned buffer passes to the caller.
type ForeignCallback func(handle uint64, method uint32, args *buffer.Buffer) (*buffer.Buffer, Status, error)

// freeMethodIndex is the method index that releases a foreign handle.
const freeMethodIndex = 0

// Callback is a core-side proxy for a foreign object implementing a
// callback interface.
type Callback struct {
	table    *Table
	def      *schema.CallbackDef
	handle   uint64
	released atomic.Bool
}

// NewCallback wraps a foreign handle. Tables create callbacks themselves
// when lifting callback-typed arguments; this is for hosts that obtain
// foreign handles some other way.
func (t *Table) NewCallback(iface string, h uint64) (*Callback, error) {
	def, ok := t.compiler.Schema().Callback(iface)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "undefined callback interface "+iface)
	}
	return &Callback{table: t, def: def, handle: h}, nil
}

func (c *Callback) Handle() uint64 { return c.handle }

func (c *Callback) Interface() *schema.CallbackDef { return c.def }

// Call invokes a method on the foreign object. A declared error comes back
// as *Declared and any other foreign failure as *UnexpectedError.
func (c *Callback) Call(ctx context.Context, method string, args ...any) (any, error) {
	op := OperationName(c.def.Name, method)
	if c.released.Load() {
		return nil, errors.New(errors.PhaseDispatch, errors.KindUnknownHandle).
			TypeName(c.def.Name).
			Value(c.handle).
			Detail("callback already released").
			Build()
	}
	md, idx, ok := c.def.Method(method)
	if !ok {
		return nil, errors.UnknownOperation(op)
	}
	if len(args) != len(md.Args) {
		return nil, errors.InvalidInput(errors.PhaseDispatch,
			fmt.Sprintf("%s takes %d argument(s), got %d", op, len(md.Args), len(args)))
	}
	fcp := c.table.foreign.Load()
	if fcp == nil {
		return nil, errors.Unsupported(errors.PhaseDispatch, "no foreign callback installed for "+op)
	}

	in, err := c.lowerArgs(md, args)
	if err != nil {
		return nil, err
	}

	out, status, err := (*fcp)(c.handle, uint32(idx+1), in.Move())
	if status == StatusInternal {
		if out.Live() {
			_ = out.Free()
		}
		if err == nil {
			err = errors.InvalidInput(errors.PhaseDispatch, "foreign side reported an internal failure in "+op)
		}
		c.table.log.Error("callback internal error", zap.String("operation", op), zap.Error(err))
		return nil, err
	}
	defer func() {
		if out.Live() {
			_ = out.Free()
		}
	}()

	switch status {
	case StatusOK:
		return c.liftReturn(md, out)

	case StatusError:
		if md.Throws == "" {
			return nil, errors.InvalidInput(errors.PhaseDispatch, op+" declares no error type")
		}
		p, err := c.table.compiler.CompileError(md.Throws)
		if err != nil {
			return nil, err
		}
		r, err := out.Reader()
		if err != nil {
			return nil, err
		}
		v, err := p.Lift(r)
		if err != nil {
			return nil, err
		}
		return nil, NewDeclared(md.Throws, v)

	case StatusUnexpected:
		msg, err := c.table.compiler.Lift(schema.String, out)
		if err != nil {
			return nil, err
		}
		return nil, &UnexpectedError{Operation: op, Message: msg.(string)}
	}
	return nil, errors.InvalidInput(errors.PhaseDispatch, "unknown status "+status.String())
}

func (c *Callback) lowerArgs(md *schema.MethodDef, args []any) (*buffer.Buffer, error) {
	w := buffer.NewWriter()
	for i, a := range md.Args {
		switch a.Type.Kind {
		case schema.KindObject:
			h, ok := args[i].(handle.Handle)
			if !ok {
				w.Discard()
				return nil, errors.TypeMismatch(errors.PhaseLower, []string{a.Name}, fmt.Sprintf("%T", args[i]), a.Type.Name)
			}
			w.WriteU64(uint64(h))
		case schema.KindCallback:
			cb, ok := args[i].(*Callback)
			if !ok {
				w.Discard()
				return nil, errors.TypeMismatch(errors.PhaseLower, []string{a.Name}, fmt.Sprintf("%T", args[i]), a.Type.Name)
			}
			w.WriteU64(cb.handle)
		default:
			p, err := c.table.compiler.Compile(a.Type)
			if err != nil {
				w.Discard()
				return nil, err
			}
			if err := p.Lower(w, args[i]); err != nil {
				w.Discard()
				return nil, atArg(err, a.Name)
			}
		}
	}
	return w.Finish(), nil
}

func (c *Callback) liftReturn(md *schema.MethodDef, out *buffer.Buffer) (any, error) {
	if md.Return == nil {
		if out.Len() != 0 {
			return nil, errors.TrailingData(nil, out.Len())
		}
		return nil, nil
	}
	if md.Return.Kind == schema.KindObject {
		r, err := out.Reader()
		if err != nil {
			return nil, err
		}
		raw, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		if r.Remaining() != 0 {
			return nil, errors.TrailingData(nil, r.Remaining())
		}
		return handle.Handle(raw), nil
	}
	return c.table.compiler.Lift(md.Return, out)
}

// Release gives the foreign handle back. Only the first call has an effect.
func (c *Callback) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	fcp := c.table.foreign.Load()
	if fcp == nil {
		return nil
	}
	out, status, err := (*fcp)(c.handle, freeMethodIndex, buffer.New(nil))
	if out.Live() {
		_ = out.Free()
	}
	if err != nil || status != StatusOK {
		c.table.log.Warn("callback release failed",
			zap.String("interface", c.def.Name),
			zap.Uint64("handle", c.handle),
			zap.Stringer("status", status),
			zap.Error(err))
		return err
	}
	return nil
}
