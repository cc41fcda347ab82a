package handle

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/errors"
)

// Registry owns every object handed out as a handle. It is safe for
// concurrent use; its own lock only guards the table, never a call.
type Registry struct {
	entries   map[Handle]*entry
	observers []subscription
	next      uint64
	nextSub   uint64
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

type subscription struct {
	o  Observer
	id uint64
}

type entry struct {
	value    any
	typeName string
	// refs counts the registry's own reference plus in-flight calls.
	refs  atomic.Int64
	lock  sync.Mutex
	class Class
}

// NewRegistry creates an empty registry. Handle values start at 1 and are
// never reused.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Handle]*entry, 64),
	}
}

// Register stores obj and returns its handle. It only returns 0 when the
// registry has been closed.
func Register[T any](r *Registry, t *Type[T], obj T) Handle {
	return r.register(t.name, t.class, obj)
}

func (r *Registry) register(typeName string, class Class, obj any) Handle {
	e := &entry{value: obj, typeName: typeName, class: class}
	e.refs.Store(1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		Logger().Error("register on closed registry", zap.String("type", typeName))
		return 0
	}
	r.next++
	h := Handle(r.next)
	r.entries[h] = e
	r.mu.Unlock()

	r.notify(Event{Type: EventCreated, Handle: h, TypeName: typeName, Class: class})
	return h
}

// Invoke calls fn with the object behind h. Locked objects are held for
// the whole call; Direct objects are not locked at all.
func Invoke[T any, R any](r *Registry, t *Type[T], h Handle, fn func(T) (R, error)) (R, error) {
	var out R
	err := r.Invoke(h, t.name, func(obj any) error {
		v, ok := obj.(T)
		if !ok {
			return errors.UnknownHandle(uint64(h), fmt.Sprintf("object is %T, not %s", obj, t.name))
		}
		var err error
		out, err = fn(v)
		return err
	})
	return out, err
}

// Invoke is the untyped form used by the dispatch table. typeName must
// match the name the object was registered under.
func (r *Registry) Invoke(h Handle, typeName string, fn func(obj any) error) error {
	e, err := r.acquire(h, typeName)
	if err != nil {
		return err
	}
	defer r.unref(h, e)

	if e.class == Locked {
		e.lock.Lock()
		defer e.lock.Unlock()
	}
	return fn(e.value)
}

func (r *Registry) acquire(h Handle, typeName string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return nil, errors.UnknownHandle(uint64(h), "not found or already released")
	}
	if e.typeName != typeName {
		return nil, errors.UnknownHandle(uint64(h), fmt.Sprintf("refers to %s, not %s", e.typeName, typeName))
	}
	e.refs.Add(1)
	return e, nil
}

// Release removes h. The object is dropped once no call is using it.
// Releasing an unknown or already released handle is an error.
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	e, ok := r.entries[h]
	if ok {
		delete(r.entries, h)
	}
	r.mu.Unlock()

	if !ok {
		Logger().Error("release of unknown handle", zap.Uint64("handle", uint64(h)))
		return errors.UnknownHandle(uint64(h), "not found or already released")
	}

	r.unref(h, e)
	r.notify(Event{Type: EventReleased, Handle: h, TypeName: e.typeName, Class: e.class})
	return nil
}

func (r *Registry) unref(h Handle, e *entry) {
	if e.refs.Add(-1) != 0 {
		return
	}
	if d, ok := e.value.(Dropper); ok {
		d.Drop()
	}
	Logger().Debug("object dropped", zap.Uint64("handle", uint64(h)), zap.String("type", e.typeName))
	e.value = nil
}

// TypeOf returns the type name h was registered under.
func (r *Registry) TypeOf(h Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	if !ok {
		return "", false
	}
	return e.typeName, true
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Subscribe adds an observer for lifecycle events. The returned function
// removes this subscription; calling it again is a no-op.
func (r *Registry) Subscribe(o Observer) func() {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.nextSub++
	id := r.nextSub
	r.observers = append(r.observers, subscription{id: id, o: o})
	return func() { r.removeSubscription(id) }
}

// Unsubscribe removes the first subscription of o. Observers whose dynamic
// type is not comparable, such as ObserverFunc, can only be removed through
// the function returned by Subscribe.
func (r *Registry) Unsubscribe(o Observer) {
	if o == nil || !reflect.TypeOf(o).Comparable() {
		return
	}
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for i, sub := range r.observers {
		if reflect.TypeOf(sub.o).Comparable() && sub.o == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

func (r *Registry) removeSubscription(id uint64) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for i, sub := range r.observers {
		if sub.id == id {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

// Close releases every live handle and rejects later registrations.
// Objects still in use are dropped when their calls return.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[Handle]*entry)
	r.mu.Unlock()

	for h, e := range entries {
		r.unref(h, e)
		r.notify(Event{Type: EventReleased, Handle: h, TypeName: e.typeName, Class: e.class})
	}
	return nil
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, sub := range r.observers {
		sub.o.OnHandleEvent(e)
	}
}
