package dispatch

import (
	"context"
	"fmt"
	"reflect"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
)

// Impl implements a free function or constructor. Arguments arrive in
// declared order in the dynamic value model; object arguments are
// handle.Handle values and callback arguments are *Callback.
type Impl func(ctx context.Context, args []any) (any, error)

// MethodImpl implements a method. recv is the object behind the receiver
// handle, already under the type's concurrency policy.
type MethodImpl func(ctx context.Context, recv any, args []any) (any, error)

// Void is the result type of helpers wrapping functions with no return
// value.
type Void = struct{}

// Bindings connects schema operations to Go code.
type Bindings struct {
	Functions map[string]Impl
	Objects   map[string]*ObjectBinding
}

// ObjectBinding binds one object type: its registration token, its
// constructors and its methods.
type ObjectBinding struct {
	info         handle.TypeInfo
	register     func(r *handle.Registry, obj any) (handle.Handle, error)
	Constructors map[string]Impl
	Methods      map[string]MethodImpl
}

// Object starts a binding for the object type behind t. The token decides
// the concurrency class, so a Direct object can only be bound with a token
// from handle.NewSharedType.
func Object[T any](t *handle.Type[T]) *ObjectBinding {
	return &ObjectBinding{
		info: t,
		register: func(r *handle.Registry, obj any) (handle.Handle, error) {
			v, ok := obj.(T)
			if !ok {
				return 0, errors.New(errors.PhaseDispatch, errors.KindTypeMismatch).
					TypeName(t.Name()).
					Detail("constructor returned %T", obj).
					Build()
			}
			h := handle.Register(r, t, v)
			if h == 0 {
				return 0, errors.New(errors.PhaseRegistry, errors.KindUnknownHandle).
					TypeName(t.Name()).
					Detail("registry closed").
					Build()
			}
			return h, nil
		},
		Constructors: make(map[string]Impl),
		Methods:      make(map[string]MethodImpl),
	}
}

// Constructor adds a constructor binding.
func (b *ObjectBinding) Constructor(name string, fn Impl) *ObjectBinding {
	b.Constructors[name] = fn
	return b
}

// Method adds a method binding.
func (b *ObjectBinding) Method(name string, fn MethodImpl) *ObjectBinding {
	b.Methods[name] = fn
	return b
}

// Type returns the registration token's name and class.
func (b *ObjectBinding) Type() handle.TypeInfo {
	return b.info
}

// arg converts a dynamic argument to A. Absent optionals become the zero
// value and present ones are boxed when A is a pointer.
func arg[A any](args []any, i int) (A, error) {
	var zero A
	if i >= len(args) {
		return zero, errors.New(errors.PhaseDispatch, errors.KindTypeMismatch).
			Detail("binding expects argument %d, operation has %d", i, len(args)).
			Build()
	}
	v := args[i]
	if v == nil {
		return zero, nil
	}
	if a, ok := v.(A); ok {
		return a, nil
	}
	want := reflect.TypeFor[A]()
	if want.Kind() == reflect.Pointer && reflect.TypeOf(v) == want.Elem() {
		p := reflect.New(want.Elem())
		p.Elem().Set(reflect.ValueOf(v))
		return p.Interface().(A), nil
	}
	return zero, errors.TypeMismatch(errors.PhaseDispatch, []string{fmt.Sprintf("arg[%d]", i)},
		fmt.Sprintf("%T", v), want.String())
}

func recvAs[T any](recv any) (T, error) {
	r, ok := recv.(T)
	if !ok {
		var zero T
		return zero, errors.TypeMismatch(errors.PhaseDispatch, []string{"self"},
			fmt.Sprintf("%T", recv), reflect.TypeFor[T]().String())
	}
	return r, nil
}

func Func0[R any](fn func(context.Context) (R, error)) Impl {
	return func(ctx context.Context, _ []any) (any, error) {
		return fn(ctx)
	}
}

func Func1[A, R any](fn func(context.Context, A) (R, error)) Impl {
	return func(ctx context.Context, args []any) (any, error) {
		a, err := arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}
}

func Func2[A, B, R any](fn func(context.Context, A, B) (R, error)) Impl {
	return func(ctx context.Context, args []any) (any, error) {
		a, err := arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](args, 1)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}
}

func Func3[A, B, C, R any](fn func(context.Context, A, B, C) (R, error)) Impl {
	return func(ctx context.Context, args []any) (any, error) {
		a, err := arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](args, 1)
		if err != nil {
			return nil, err
		}
		c, err := arg[C](args, 2)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b, c)
	}
}

func Method0[T, R any](fn func(context.Context, T) (R, error)) MethodImpl {
	return func(ctx context.Context, recv any, _ []any) (any, error) {
		r, err := recvAs[T](recv)
		if err != nil {
			return nil, err
		}
		return fn(ctx, r)
	}
}

func Method1[T, A, R any](fn func(context.Context, T, A) (R, error)) MethodImpl {
	return func(ctx context.Context, recv any, args []any) (any, error) {
		r, err := recvAs[T](recv)
		if err != nil {
			return nil, err
		}
		a, err := arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		return fn(ctx, r, a)
	}
}

func Method2[T, A, B, R any](fn func(context.Context, T, A, B) (R, error)) MethodImpl {
	return func(ctx context.Context, recv any, args []any) (any, error) {
		r, err := recvAs[T](recv)
		if err != nil {
			return nil, err
		}
		a, err := arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](args, 1)
		if err != nil {
			return nil, err
		}
		return fn(ctx, r, a, b)
	}
}
