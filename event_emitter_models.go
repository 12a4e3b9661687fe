package realtime

// ListenerID identifies a registered listener so that it can be removed later.
type ListenerID uint64

type eventEmitter[K comparable, V any] interface {
	// On registers a new listener for the given event.
	On(event K, listener func(V)) ListenerID

	// Emit triggers all listeners registered for the given event synchronously.
	Emit(event K, data V)

	// Off removes the listener with the given id from the event.
	Off(event K, id ListenerID) bool

	// Count returns how many listeners are registered for the event.
	Count(event K) int

	// Close removes all listeners to prevent memory leaks.
	Close()
}
