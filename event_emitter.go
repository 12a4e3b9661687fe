package realtime

import (
	"sync"
	"sync/atomic"
)

type callback[T any] func(T)

type registeredCallback[T any] struct {
	id ListenerID
	fn callback[T]
}

// EventEmitterCallback is a simple event emitter. It maps events (of type K) to callbacks
// receiving a value of type V, invoked in registration order.
type EventEmitterCallback[K comparable, V any] struct {
	listeners map[K][]registeredCallback[V]
	lock      sync.RWMutex
	nextID    atomic.Uint64
}

var _ eventEmitter[string, int] = (*EventEmitterCallback[string, int])(nil)

// NewEventEmitter creates a new EventEmitterCallback and returns a pointer to it.
func NewEventEmitter[K comparable, V any]() *EventEmitterCallback[K, V] {
	return &EventEmitterCallback[K, V]{
		listeners: make(map[K][]registeredCallback[V]),
	}
}

// On registers a new listener for the given event and returns its id.
func (e *EventEmitterCallback[K, V]) On(event K, listener func(V)) ListenerID {
	id := ListenerID(e.nextID.Add(1))

	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners[event] = append(e.listeners[event], registeredCallback[V]{id: id, fn: listener})
	return id
}

// Off removes a listener. It reports whether the listener was registered.
func (e *EventEmitterCallback[K, V]) Off(event K, id ListenerID) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	listeners := e.listeners[event]
	for i, l := range listeners {
		if l.id != id {
			continue
		}
		next := make([]registeredCallback[V], 0, len(listeners)-1)
		next = append(next, listeners[:i]...)
		next = append(next, listeners[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, event)
		} else {
			e.listeners[event] = next
		}
		return true
	}
	return false
}

// Emit triggers all listeners registered for the given event synchronously. Listeners run
// outside the lock, so they may register or remove listeners themselves.
func (e *EventEmitterCallback[K, V]) Emit(event K, data V) {
	e.lock.RLock()
	listeners := e.listeners[event]
	e.lock.RUnlock()

	for _, listener := range listeners {
		listener.fn(data)
	}
}

func (e *EventEmitterCallback[K, V]) Count(event K) int {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return len(e.listeners[event])
}

// Close removes all listeners to prevent memory leaks.
func (e *EventEmitterCallback[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners = make(map[K][]registeredCallback[V])
}
