// Package dispatch routes foreign calls to Go implementations.
//
// A Table is built once from a schema and a set of Bindings. Each
// function, constructor and method becomes a named operation, and every
// object type also gets a synthetic "<Object>.free" that releases a
// handle. Calls take an argument buffer and return a result buffer plus a
// Status:
//
//	StatusOK          lowered return value
//	StatusError       the operation's declared error, encoded as an enum
//	StatusUnexpected  a diagnostic message as a String
//	StatusInternal    protocol violation, no buffer
//
// Bindings are written with the generic helpers:
//
//	counter := handle.NewSharedType[*Counter]("Counter")
//	b := dispatch.Bindings{
//		Functions: map[string]dispatch.Impl{
//			"add": dispatch.Func2(func(ctx context.Context, a, b int32) (int32, error) {
//				return a + b, nil
//			}),
//		},
//		Objects: map[string]*dispatch.ObjectBinding{
//			"Counter": dispatch.Object(counter).
//				Constructor("new", dispatch.Func0(newCounter)).
//				Method("get", dispatch.Method0(func(ctx context.Context, c *Counter) (int64, error) {
//					return c.Get(), nil
//				})),
//		},
//	}
//	table, err := dispatch.NewTable(s, b)
//
// Methods run through the handle registry, so Locked objects are
// serialized per handle while Direct objects run in parallel. Panics in
// implementations are recovered and reported as unexpected failures.
package dispatch
