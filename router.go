package realtime

import (
	"runtime/debug"
	"sync"
)

// Handler consumes one inbound envelope.
type Handler func(Envelope)

// router parses inbound frames and dispatches them by type. Each type has at most one
// registered handler (the application slot) plus any number of observers, which is how session
// views attach without displacing each other or the application handler.
type router struct {
	logger     Logger
	serializer Serializer
	metrics    *Metrics

	mu       sync.RWMutex
	handlers map[EnvelopeType]Handler

	observers eventEmitter[EnvelopeType, Envelope]

	// heartbeat intercepts heartbeat envelopes before the registry sees them.
	heartbeat func(Envelope)
}

func newRouter(logger Logger, serializer Serializer, metrics *Metrics, heartbeat func(Envelope)) *router {
	return &router{
		logger:     logger.WithField("component", "router"),
		serializer: serializer,
		metrics:    metrics,
		handlers:   make(map[EnvelopeType]Handler),
		observers:  NewEventEmitter[EnvelopeType, Envelope](),
		heartbeat:  heartbeat,
	}
}

// Register installs h as the handler for t and reports whether it replaced another one.
func (r *router) Register(t EnvelopeType, h Handler) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced = r.handlers[t]
	if h == nil {
		delete(r.handlers, t)
		return replaced
	}
	r.handlers[t] = h
	if replaced {
		r.logger.Debugf("handler for %s replaced", t)
	}
	return replaced
}

func (r *router) Unregister(t EnvelopeType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.handlers[t]
	delete(r.handlers, t)
	return ok
}

func (r *router) handler(t EnvelopeType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[t]
	return h, ok
}

func (r *router) Subscribe(t EnvelopeType, h Handler) ListenerID {
	return r.observers.On(t, h)
}

func (r *router) Unsubscribe(t EnvelopeType, id ListenerID) bool {
	return r.observers.Off(t, id)
}

// Route handles one raw inbound frame. Malformed frames and unknown types are dropped without
// affecting the connection.
func (r *router) Route(frame []byte) {
	env, err := r.serializer.Decode(frame)
	if err != nil {
		r.logger.Warnf("dropping malformed frame: %s", err)
		r.metrics.recordDropped("malformed")
		return
	}
	r.metrics.recordReceived(env.Type)

	if env.Type.IsHeartbeat() {
		if r.heartbeat != nil {
			r.heartbeat(env)
		}
		return
	}

	if !env.Type.Known() {
		r.logger.Debugf("dropping envelope of unknown type %q", env.Type)
		r.metrics.recordDropped("unknown_type")
		return
	}

	h, ok := r.handler(env.Type)
	if ok {
		r.invoke(env, h)
	}

	if r.observers.Count(env.Type) > 0 {
		r.invoke(env, func(e Envelope) { r.observers.Emit(e.Type, e) })
	} else if !ok {
		r.logger.Debugf("no handler registered for %s", env.Type)
	}
}

func (r *router) invoke(env Envelope, h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("handler for %s panicked: %v\n%s", env.Type, rec, debug.Stack())
		}
	}()
	h(env)
}
