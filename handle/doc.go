// Package handle keeps core-owned objects behind opaque handles.
//
// Foreign code never holds an object, only its Handle. The Registry is the
// sole owner: Register stores an object, Invoke runs a call against it and
// Release ends its life. Handles come from a monotonic counter, so a
// released value can never alias a newer object.
//
// # Concurrency Classes
//
// Every object type has a Class fixed by its registration token:
//
//	Locked  - calls on the same handle are serialized by a per-object mutex
//	Direct  - calls run in parallel with no lock
//
// Direct is only available through NewSharedType, whose type parameter is
// constrained to Shareable. A type that has not declared itself safe for
// concurrent use does not compile as a Direct token:
//
//	var counters = handle.NewSharedType[*Counter]("Counter") // Counter has ConcurrentSafe()
//	var lists = handle.NewType[*TodoList]("TodoList")          // Locked
//
//	h := handle.Register(reg, lists, NewTodoList())
//	n, err := handle.Invoke(reg, lists, h, func(l *TodoList) (int, error) {
//		return l.Len(), nil
//	})
//	err = reg.Release(h)
//
// # Lifetime
//
// Release removes the handle at once; later Invoke or Release calls fail
// with an unknown_handle InternalError. Objects implementing Dropper are
// dropped after the last in-flight call returns, so releasing during a
// Direct call never tears the object down under it.
package handle
