package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport is a scriptable in-memory Transport. Tests play the peer through deliver and drop.
type fakeTransport struct {
	mu        sync.Mutex
	handler   TransportHandler
	openErr   error
	sendErr   error
	gate      chan struct{}
	params    OpenConnectionParams
	opened    bool
	closed    bool
	closeCode int
	frames    [][]byte
}

func (f *fakeTransport) Open(ctx context.Context, params OpenConnectionParams) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.params = params
	if f.opened {
		return ErrAlreadyOpen
	}
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.opened || f.closed {
		return ErrNotConnected
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Close(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.closeCode = code
}

func (f *fakeTransport) isClosed() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed, f.closeCode
}

func (f *fakeTransport) openParams() OpenConnectionParams {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.params
}

func (f *fakeTransport) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sendErr = err
}

// sent decodes every frame written so far.
func (f *fakeTransport) sent(t *testing.T) []Envelope {
	t.Helper()

	f.mu.Lock()
	frames := append([][]byte(nil), f.frames...)
	f.mu.Unlock()

	out := make([]Envelope, 0, len(frames))
	for _, frame := range frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeTransport) sentOfType(t *testing.T, et EnvelopeType) []Envelope {
	t.Helper()

	var out []Envelope
	for _, env := range f.sent(t) {
		if env.Type == et {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeTransport) deliver(frame string) {
	f.handler.OnMessage([]byte(frame))
}

func (f *fakeTransport) deliverEnvelope(t *testing.T, env Envelope) {
	t.Helper()

	frame, err := json.Marshal(env)
	require.NoError(t, err)
	f.handler.OnMessage(frame)
}

func (f *fakeTransport) drop(code int, wasClean bool) {
	f.handler.OnClose(code, wasClean)
}

// fakeNetwork hands out one fakeTransport per dial and can fail the next dials.
type fakeNetwork struct {
	mu         sync.Mutex
	transports []*fakeTransport
	openErrs   []error
	gate       chan struct{}
}

func (n *fakeNetwork) factory(handler TransportHandler) Transport {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &fakeTransport{handler: handler, gate: n.gate}
	n.gate = nil
	if len(n.openErrs) > 0 {
		t.openErr = n.openErrs[0]
		n.openErrs = n.openErrs[1:]
	}
	n.transports = append(n.transports, t)
	return t
}

func (n *fakeNetwork) failNext(errs ...error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.openErrs = append(n.openErrs, errs...)
}

// holdNext makes the next Open block until the returned channel is closed.
func (n *fakeNetwork) holdNext() chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.gate = make(chan struct{})
	return n.gate
}

func (n *fakeNetwork) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.transports)
}

func (n *fakeNetwork) last() *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.transports) == 0 {
		return nil
	}
	return n.transports[len(n.transports)-1]
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and fires every due timer in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the delays, from now, of the timers still armed.
func (c *fakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.at.Sub(c.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// barrier waits until everything posted to the loop so far has run.
func barrier(d *Dispatcher) {
	done := make(chan struct{})
	d.loop.post(func() {
		close(done)
	})
	<-done
}

const testURL = "ws://carpool.test/ws"

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = testURL
	cfg.UserID = "me"
	cfg.ReconnectInterval = 100 * time.Millisecond
	cfg.MaxReconnectDelay = time.Second
	cfg.MaxReconnectAttempts = 3
	cfg.HeartbeatInterval = 30 * time.Second
	cfg.TypingTimeout = 3 * time.Second
	return cfg
}

func newTestDispatcher(t *testing.T, mutate func(*Config), opts ...Option) (*Dispatcher, *fakeNetwork, *fakeClock) {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	network := &fakeNetwork{}
	clock := newFakeClock()

	base := []Option{
		WithTransportFactory(network.factory),
		WithClock(clock),
		WithLogger(NewWriterLogger(io.Discard, true)),
	}
	d, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		d.Disconnect()
		barrier(d)
	})
	return d, network, clock
}

func connect(t *testing.T, d *Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Connect(ctx))
}

func waitForState(t *testing.T, d *Dispatcher, want ConnectionState) {
	t.Helper()

	require.Eventually(t, func() bool {
		return d.State() == want
	}, 2*time.Second, time.Millisecond, "state never became %s, is %s", want, d.State())
}

// connRecorder records connection-change notifications.
type connRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *connRecorder) record(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, connected)
}

func (r *connRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]bool(nil), r.events...)
}
