package realtime

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

const connectionEvent = "connection"

// Dispatcher is the Client implementation. It owns one connection at a time and runs every
// state mutation on a serial event loop: public calls, transport callbacks and timer fires are
// all posted to it, so the fields below the loop marker need no locking.
type Dispatcher struct {
	cfg              Config
	endpoint         *url.URL
	logger           Logger
	clock            Clock
	metrics          *Metrics
	tracer           trace.Tracer
	serializer       Serializer
	transportFactory TransportFactory
	dialer           *websocket.Dialer
	tokens           TokenSource
	paramsGetter     OpenConnectionParamsGetter
	paramsRepo       OpenConnectionParamsRepo
	backoff          BackoffCalculator
	random           func() float64

	loop           *eventLoop
	router         *router
	queue          *outboundQueue
	connListeners  *EventEmitterCallback[string, bool]
	stateListeners *EventEmitterCallback[string, StateEvent]
	stateValue     atomic.Int32

	// Owned by the event loop.
	state             ConnectionState
	reconnectAttempts int
	lastOpenedAt      time.Time
	generation        uint64
	transport         Transport
	cancelDial        context.CancelFunc
	earlyClose        *closeEvent
	reconnectAlarm    *alarm
	heartbeat         *heartbeatMonitor
	typingAlarms      map[string]*alarm
	joined            []string
	waiters           []chan<- error
	reportedConnected bool
	everConnected     bool
}

var _ Client = (*Dispatcher)(nil)

// Option injects a collaborator into the dispatcher.
type Option func(*Dispatcher)

func WithLogger(logger Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

func WithClock(clock Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

func WithSerializer(serializer Serializer) Option {
	return func(d *Dispatcher) {
		if serializer != nil {
			d.serializer = serializer
		}
	}
}

// WithTransportFactory replaces the websocket transport, mostly for tests.
func WithTransportFactory(factory TransportFactory) Option {
	return func(d *Dispatcher) {
		d.transportFactory = factory
	}
}

// WithDialer customises the websocket dialer of the default transport.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(d *Dispatcher) {
		d.dialer = dialer
	}
}

// WithTokenSource authenticates every handshake with a bearer token.
func WithTokenSource(tokens TokenSource) Option {
	return func(d *Dispatcher) {
		d.tokens = tokens
	}
}

// WithOpenConnectionParamsGetter takes over URL and header resolution entirely.
func WithOpenConnectionParamsGetter(getter OpenConnectionParamsGetter) Option {
	return func(d *Dispatcher) {
		d.paramsGetter = getter
	}
}

// WithRandom sets the random source used for reconnect jitter. It must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(d *Dispatcher) {
		if random != nil {
			d.random = random
		}
	}
}

// New validates cfg and builds a dispatcher in the idle state. Nothing is dialled until Connect.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "cannot parse url %q: %s", cfg.URL, err)
	}

	d := &Dispatcher{
		cfg:            cfg,
		endpoint:       endpoint,
		logger:         NewNoopLogger(),
		clock:          NewRealClock(),
		tracer:         defaultTracer(),
		serializer:     NewJSONSerializer(),
		random:         rand.Float64,
		queue:          newOutboundQueue(cfg.MaxQueueSize, cfg.QueueDropPolicy),
		connListeners:  NewEventEmitter[string, bool](),
		stateListeners: NewEventEmitter[string, StateEvent](),
		typingAlarms:   make(map[string]*alarm),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.logger = d.logger.WithField("type", "realtime_dispatcher")
	d.loop = newEventLoop(func(r any) {
		d.logger.Errorf("event loop task panicked: %v", r)
	})
	d.router = newRouter(d.logger, d.serializer, d.metrics, d.onPeerHeartbeat)
	d.backoff = withJitter(
		ExponentialBackoff(cfg.ReconnectInterval, cfg.MaxReconnectDelay),
		cfg.ReconnectJitter,
		d.random,
	)

	if d.paramsGetter == nil {
		d.paramsGetter = NewTokenParamsGetter(cfg.URL, d.tokens, d.clock.Now)
	}
	d.paramsRepo = NewOpenConnectionParamsRepo(d.logger, d.paramsGetter)

	if d.transportFactory == nil {
		dialer := d.dialer
		if dialer == nil {
			dialer = &websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: cfg.HandshakeTimeout,
			}
		}
		d.transportFactory = NewWebsocketTransportFactory(d.logger, dialer, cfg.WriteTimeout, ErrorAdapters{})
	}

	return d, nil
}

// Connect called from a listener, handler or view callback starts the attempt inline and
// returns without waiting for it.
func (d *Dispatcher) Connect(ctx context.Context) error {
	result := make(chan error, 1)
	if d.loop.onLoop() {
		d.connect(result)
		select {
		case err := <-result:
			return err
		default:
			return nil
		}
	}

	d.loop.post(func() {
		d.connect(result)
	})

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Disconnect() {
	d.loop.post(d.disconnect)
}

func (d *Dispatcher) Send(env Envelope) {
	d.loop.post(func() {
		d.send(env)
	})
}

func (d *Dispatcher) OnMessage(h Handler)        { d.router.Register(MessageEnvelope, h) }
func (d *Dispatcher) OnNotification(h Handler)   { d.router.Register(NotificationEnvelope, h) }
func (d *Dispatcher) OnLocationUpdate(h Handler) { d.router.Register(LocationUpdateEnvelope, h) }
func (d *Dispatcher) OnTripStatus(h Handler)     { d.router.Register(TripStatusEnvelope, h) }
func (d *Dispatcher) OnTyping(h Handler)         { d.router.Register(TypingEnvelope, h) }
func (d *Dispatcher) OnUserJoined(h Handler)     { d.router.Register(UserJoinedEnvelope, h) }
func (d *Dispatcher) OnUserLeft(h Handler)       { d.router.Register(UserLeftEnvelope, h) }

func (d *Dispatcher) Register(t EnvelopeType, h Handler) bool {
	return d.router.Register(t, h)
}

func (d *Dispatcher) Unregister(t EnvelopeType) bool {
	return d.router.Unregister(t)
}

func (d *Dispatcher) Subscribe(t EnvelopeType, h Handler) func() {
	id := d.router.Subscribe(t, h)
	return func() {
		d.router.Unsubscribe(t, id)
	}
}

func (d *Dispatcher) OnConnectionChange(listener func(connected bool)) ListenerID {
	return d.connListeners.On(connectionEvent, listener)
}

func (d *Dispatcher) RemoveConnectionListener(id ListenerID) {
	d.connListeners.Off(connectionEvent, id)
}

func (d *Dispatcher) OnStateChange(listener func(StateEvent)) ListenerID {
	return d.stateListeners.On(connectionEvent, listener)
}

func (d *Dispatcher) RemoveStateListener(id ListenerID) {
	d.stateListeners.Off(connectionEvent, id)
}

func (d *Dispatcher) SendTyping(channelID string, isTyping bool) {
	d.loop.post(func() {
		d.sendTyping(channelID, isTyping)
	})
}

func (d *Dispatcher) JoinChannel(channelID string) {
	d.loop.post(func() {
		d.joinChannel(channelID)
	})
}

func (d *Dispatcher) LeaveChannel(channelID string) {
	d.loop.post(func() {
		d.leaveChannel(channelID)
	})
}

func (d *Dispatcher) State() ConnectionState {
	return ConnectionState(d.stateValue.Load())
}

func (d *Dispatcher) QueueLen() int {
	return d.queue.Len()
}

// ClearQueue discards every envelope waiting for a connection.
func (d *Dispatcher) ClearQueue() {
	d.loop.post(func() {
		if n := d.queue.Clear(); n > 0 {
			d.logger.Infof("cleared %d queued envelopes", n)
			d.metrics.recordDropped("cleared")
		}
		d.metrics.setQueueDepth(0)
	})
}

func (d *Dispatcher) UserID() string {
	return d.cfg.UserID
}

// send runs on the loop.
func (d *Dispatcher) send(env Envelope) {
	if env.Timestamp.IsZero() {
		env.Timestamp = d.clock.Now().UTC()
	}

	if d.state != StateConnected {
		d.enqueue(env)
		return
	}

	if err := d.write(env); err != nil {
		if errors.Is(err, ErrMalformedEnvelope) {
			d.logger.Errorf("dropping envelope that cannot be encoded: %s", err)
			d.metrics.recordDropped("malformed")
			return
		}
		d.logger.Warnf("write failed, queueing %s until reconnect: %s", env.Type, err)
		d.enqueue(env)
	}
}

func (d *Dispatcher) write(env Envelope) error {
	frame, err := d.serializer.Encode(env)
	if err != nil {
		return errors.Wrap(ErrMalformedEnvelope, err.Error())
	}
	if d.transport == nil {
		return ErrNotConnected
	}
	if err := d.transport.Send(frame); err != nil {
		return err
	}
	d.metrics.recordSent(env.Type)
	return nil
}

func (d *Dispatcher) enqueue(env Envelope) {
	if dropped := d.queue.Enqueue(env, d.clock.Now()); dropped != nil {
		d.logger.Warnf("%s (%d), dropped %s queued at %s",
			ErrQueueFull, d.cfg.MaxQueueSize, dropped.Envelope.Type, dropped.EnqueuedAt.Format(time.RFC3339))
		d.metrics.recordDropped("queue_full")
	}
	d.metrics.setQueueDepth(d.queue.Len())
}

// flush drains the queue in FIFO order. On a write failure the remainder goes back to the
// front of the queue; the close event that caused it follows on the loop.
func (d *Dispatcher) flush() []OutboundQueueEntry {
	entries := d.queue.Drain()
	sent := entries[:0:0]

	for i, entry := range entries {
		if err := d.write(entry.Envelope); err != nil {
			if errors.Is(err, ErrMalformedEnvelope) {
				d.logger.Errorf("dropping queued envelope that cannot be encoded: %s", err)
				d.metrics.recordDropped("malformed")
				continue
			}
			d.logger.Warnf("flush interrupted after %d envelopes: %s", i, err)
			d.queue.Requeue(entries[i:])
			break
		}
		sent = append(sent, entry)
	}

	if len(sent) > 0 {
		d.logger.Infof("flushed %d queued envelopes", len(sent))
	}
	d.metrics.setQueueDepth(d.queue.Len())
	return sent
}

func (d *Dispatcher) joinChannel(channelID string) {
	if !containsString(d.joined, channelID) {
		d.joined = append(d.joined, channelID)
	}
	d.send(d.presenceEnvelope(UserJoinedEnvelope, channelID))
}

func (d *Dispatcher) leaveChannel(channelID string) {
	d.joined = removeString(d.joined, channelID)
	// Still typing: peers get the clear the auto-clear timer would have sent.
	if a, ok := d.typingAlarms[channelID]; ok {
		a.cancel()
		delete(d.typingAlarms, channelID)
		d.send(d.typingEnvelope(channelID, false))
	}
	d.send(d.presenceEnvelope(UserLeftEnvelope, channelID))
}

// rejoin announces every joined channel again after a reconnect, except those whose join was
// just flushed from the queue.
func (d *Dispatcher) rejoin(flushed []OutboundQueueEntry) {
	announced := make(map[string]struct{})
	for _, entry := range flushed {
		if entry.Envelope.Type == UserJoinedEnvelope {
			announced[entry.Envelope.ChatID] = struct{}{}
		}
	}

	for _, channelID := range d.joined {
		if _, ok := announced[channelID]; ok {
			continue
		}
		d.send(d.presenceEnvelope(UserJoinedEnvelope, channelID))
	}
}

func (d *Dispatcher) presenceEnvelope(t EnvelopeType, channelID string) Envelope {
	return MustEnvelope(t, PresencePayload{UserID: d.cfg.UserID}).
		WithChat(channelID).
		WithUser(d.cfg.UserID)
}

func containsString(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

func removeString(values []string, v string) []string {
	out := values[:0]
	for _, value := range values {
		if value != v {
			out = append(out, value)
		}
	}
	return out
}
