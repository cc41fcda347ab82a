package handle

import "github.com/wippyai/ffi-bridge/schema"

// Handle is an opaque reference to a core-owned object.
// Handle 0 is reserved and always invalid.
type Handle uint64

// Class is the concurrency policy of an object type.
type Class uint8

const (
	// Locked objects are called under a per-object mutex.
	Locked Class = iota
	// Direct objects are called concurrently without locking.
	Direct
)

func (c Class) String() string {
	if c == Direct {
		return "direct"
	}
	return "locked"
}

// ClassOf derives the class an object definition requires: Locked if any
// method mutates the receiver, Direct otherwise.
func ClassOf(def *schema.ObjectDef) Class {
	if def.RequiresExclusive() {
		return Locked
	}
	return Direct
}

// Shareable marks a Go type as safe for concurrent use by multiple
// goroutines without external locking. Only Shareable types can be given a
// Direct type token.
type Shareable interface {
	ConcurrentSafe()
}

// Type is the registration token for one object type. The concurrency
// class is fixed when the token is created.
type Type[T any] struct {
	name  string
	class Class
}

// NewType returns a Locked token.
func NewType[T any](name string) *Type[T] {
	return &Type[T]{name: name, class: Locked}
}

// NewSharedType returns a Direct token. The constraint rejects, at compile
// time, any T that does not declare itself Shareable.
func NewSharedType[T Shareable](name string) *Type[T] {
	return &Type[T]{name: name, class: Direct}
}

func (t *Type[T]) Name() string { return t.name }
func (t *Type[T]) Class() Class { return t.class }

// TypeInfo is the untyped view of a token.
type TypeInfo interface {
	Name() string
	Class() Class
}

// EventType identifies a lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventReleased
)

func (e EventType) String() string {
	if e == EventReleased {
		return "released"
	}
	return "created"
}

// Event is a handle lifecycle notification.
type Event struct {
	TypeName string
	Handle   Handle
	Class    Class
	Type     EventType
}

// Observer receives lifecycle events. Calls happen outside registry locks,
// in the goroutine that caused the event.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }

// Dropper is optionally implemented by objects that need cleanup. Drop runs
// exactly once, after release and after the last in-flight call returns.
type Dropper interface {
	Drop()
}
