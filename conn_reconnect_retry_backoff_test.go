package realtime

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(100*time.Millisecond, time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: 3, want: 800 * time.Millisecond},
		{attempt: 4, want: time.Second},
		{attempt: 60, want: time.Second},
		{attempt: 5000, want: time.Second},
		{attempt: -1, want: 100 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestJitterShortensWithinBounds(t *testing.T) {
	base := ExponentialBackoff(100*time.Millisecond, time.Second)

	assert.Equal(t, 400*time.Millisecond, withJitter(base, 0.5, func() float64 { return 0 })(2))
	assert.Equal(t, 300*time.Millisecond, withJitter(base, 0.5, func() float64 { return 0.5 })(2))
	assert.Equal(t, 800*time.Millisecond, withJitter(base, 0.2, func() float64 { return 1 })(10))

	// Disabled jitter returns the calculator untouched.
	assert.Equal(t, time.Second, withJitter(base, 0, func() float64 { return 1 })(10))
}

func TestRetryableClose(t *testing.T) {
	assert.True(t, retryableClose(CloseAbnormalClosure, false))
	assert.True(t, retryableClose(CloseNormalClosure, false))
	assert.True(t, retryableClose(CloseGoingAway, true))
	assert.True(t, retryableClose(CloseServiceRestart, true))
	assert.True(t, retryableClose(CloseTryAgainLater, true))
	assert.False(t, retryableClose(CloseNormalClosure, true))
	assert.False(t, retryableClose(4001, true))
}

func TestReconnectDelaysGrowUntilAttemptsAreExhausted(t *testing.T) {
	d, network, clock := newTestDispatcher(t, func(cfg *Config) {
		cfg.MaxReconnectAttempts = 5
	})
	rec := &connRecorder{}
	d.OnConnectionChange(rec.record)

	var attempts []int
	d.OnStateChange(func(ev StateEvent) {
		if ev.NewState == StateReconnecting {
			attempts = append(attempts, ev.Attempt)
		}
	})

	connect(t, d)
	network.failNext(ErrCannotConnect, ErrCannotConnect, ErrCannotConnect, ErrCannotConnect, ErrCannotConnect)
	network.last().drop(CloseAbnormalClosure, false)

	delays := []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, want := range delays {
		require.Eventually(t, func() bool {
			pending := clock.Pending()
			return network.count() == i+1 && len(pending) == 1 && pending[0] == want
		}, 2*time.Second, time.Millisecond, "attempt %d should wait %s, pending %v", i+1, want, clock.Pending())
		clock.Advance(want)
	}

	waitForState(t, d, StateClosed)
	barrier(d)

	assert.Equal(t, 6, network.count())
	assert.Empty(t, clock.Pending())
	assert.Equal(t, []bool{true, false, false}, rec.get(), "one loss and one terminal signal")
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)

	// Nothing else is dialled once the controller gave up.
	clock.Advance(time.Hour)
	barrier(d)
	assert.Equal(t, 6, network.count())
}

func TestSuccessfulReconnectResetsAttempts(t *testing.T) {
	d, network, clock := newTestDispatcher(t, nil)
	connect(t, d)

	network.failNext(ErrCannotConnect)
	network.last().drop(CloseAbnormalClosure, false)
	barrier(d)
	clock.Advance(200 * time.Millisecond)

	require.Eventually(t, func() bool {
		pending := clock.Pending()
		return len(pending) == 1 && pending[0] == 400*time.Millisecond
	}, 2*time.Second, time.Millisecond)
	clock.Advance(400 * time.Millisecond)
	waitForState(t, d, StateConnected)

	network.last().drop(CloseAbnormalClosure, false)
	barrier(d)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, clock.Pending())
}

func TestConnectionListenersSeeEveryRealChange(t *testing.T) {
	d, network, clock := newTestDispatcher(t, nil)
	rec := &connRecorder{}
	d.OnConnectionChange(rec.record)

	connect(t, d)
	network.last().drop(CloseAbnormalClosure, false)
	barrier(d)
	clock.Advance(200 * time.Millisecond)
	waitForState(t, d, StateConnected)
	barrier(d)

	assert.Equal(t, []bool{true, false, true}, rec.get())
}

func TestCleanCloseByPeerIsFinal(t *testing.T) {
	d, network, clock := newTestDispatcher(t, nil)
	rec := &connRecorder{}
	d.OnConnectionChange(rec.record)
	connect(t, d)

	network.last().drop(CloseNormalClosure, true)
	barrier(d)

	assert.Equal(t, StateClosed, d.State())
	assert.Empty(t, clock.Pending())
	assert.Equal(t, []bool{true, false}, rec.get())
}

func TestServiceRestartIsRetried(t *testing.T) {
	d, network, clock := newTestDispatcher(t, nil)
	connect(t, d)

	network.last().drop(CloseServiceRestart, true)
	barrier(d)

	assert.Equal(t, StateReconnecting, d.State())
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, clock.Pending())
}

func TestZeroAttemptsNeverRetries(t *testing.T) {
	d, network, clock := newTestDispatcher(t, func(cfg *Config) {
		cfg.MaxReconnectAttempts = 0
	})
	connect(t, d)

	network.last().drop(CloseAbnormalClosure, false)
	barrier(d)

	assert.Equal(t, StateClosed, d.State())
	assert.Empty(t, clock.Pending())
}

func TestConnectFromListenerAfterGivingUp(t *testing.T) {
	d, network, _ := newTestDispatcher(t, func(cfg *Config) {
		cfg.MaxReconnectAttempts = 0
	})
	rec := &connRecorder{}
	d.OnConnectionChange(rec.record)

	returned := make(chan error, 1)
	var once sync.Once
	d.OnConnectionChange(func(connected bool) {
		if connected {
			return
		}
		once.Do(func() {
			returned <- d.Connect(context.Background())
		})
	})
	connect(t, d)

	network.last().drop(CloseAbnormalClosure, false)

	select {
	case err := <-returned:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect called from a listener never returned")
	}
	waitForState(t, d, StateConnected)
	assert.Equal(t, 2, network.count())
	assert.Equal(t, []bool{true, false, true}, rec.get())

	d.Disconnect()
	waitForState(t, d, StateClosed)
}

func TestConnectFromStateListenerSkipsTheBackoff(t *testing.T) {
	d, network, clock := newTestDispatcher(t, nil)
	var once sync.Once
	d.OnStateChange(func(ev StateEvent) {
		if ev.NewState == StateReconnecting {
			once.Do(func() {
				assert.NoError(t, d.Connect(context.Background()))
			})
		}
	})
	connect(t, d)

	network.last().drop(CloseAbnormalClosure, false)

	waitForState(t, d, StateConnected)
	barrier(d)
	assert.Equal(t, 2, network.count())
	assert.Equal(t, []time.Duration{30 * time.Second}, clock.Pending(), "only the heartbeat stays armed")

	clock.Advance(200 * time.Millisecond)
	barrier(d)
	assert.Equal(t, 2, network.count())
}

func TestUnrecoverableDialErrorIsNotRetried(t *testing.T) {
	d, network, clock := newTestDispatcher(t, nil)
	u, _ := url.Parse(testURL)
	network.failNext(WrapErrorUnrecoverableConnection(ErrCannotConnect, *u))

	err := d.Connect(context.Background())

	assert.True(t, IsUnrecoverable(err))
	assert.Equal(t, StateClosed, d.State())
	assert.Empty(t, clock.Pending())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	d, network, _ := newTestDispatcher(t, nil)
	rec := &connRecorder{}
	d.OnConnectionChange(rec.record)
	connect(t, d)

	d.Disconnect()
	d.Disconnect()
	barrier(d)

	assert.Equal(t, StateClosed, d.State())
	assert.Equal(t, []bool{true, false}, rec.get())

	closed, code := network.last().isClosed()
	assert.True(t, closed)
	assert.Equal(t, CloseNormalClosure, code)
}

func TestDisconnectBeforeConnectIsNoop(t *testing.T) {
	d, network, _ := newTestDispatcher(t, nil)
	rec := &connRecorder{}
	d.OnConnectionChange(rec.record)

	d.Disconnect()
	barrier(d)

	assert.Equal(t, StateIdle, d.State())
	assert.Empty(t, rec.get())
	assert.Zero(t, network.count())
}

func TestDisconnectCancelsEveryTimer(t *testing.T) {
	d, network, clock := newTestDispatcher(t, func(cfg *Config) {
		cfg.HeartbeatTimeout = 45 * time.Second
	})
	connect(t, d)

	d.SendTyping("c1", true)
	barrier(d)
	require.Len(t, clock.Pending(), 3, "heartbeat, watchdog and typing timers")

	d.Disconnect()
	barrier(d)
	assert.Empty(t, clock.Pending())

	clock.Advance(time.Hour)
	barrier(d)
	assert.Len(t, network.last().sent(t), 1, "only the typing envelope")
	assert.Equal(t, 1, network.count())
	assert.Equal(t, StateClosed, d.State())
}

func TestDisconnectWhileReconnectingStopsRetrying(t *testing.T) {
	d, network, clock := newTestDispatcher(t, nil)
	connect(t, d)

	network.last().drop(CloseAbnormalClosure, false)
	barrier(d)
	require.Len(t, clock.Pending(), 1)

	d.Disconnect()
	barrier(d)

	assert.Empty(t, clock.Pending())
	clock.Advance(time.Hour)
	barrier(d)
	assert.Equal(t, 1, network.count())
	assert.Equal(t, StateClosed, d.State())
}

func TestConnectAfterDisconnect(t *testing.T) {
	d, network, _ := newTestDispatcher(t, nil)
	connect(t, d)
	d.Disconnect()
	barrier(d)

	connect(t, d)

	assert.Equal(t, StateConnected, d.State())
	assert.Equal(t, 2, network.count())
}

func TestConnectWhileReconnectingDialsNow(t *testing.T) {
	d, network, clock := newTestDispatcher(t, nil)
	connect(t, d)
	network.last().drop(CloseAbnormalClosure, false)
	barrier(d)

	connect(t, d)

	assert.Equal(t, 2, network.count())
	barrier(d)
	assert.Equal(t, []time.Duration{30 * time.Second}, clock.Pending(), "only the heartbeat is left, the scheduled retry is superseded")
}

func TestDisconnectWhileDialling(t *testing.T) {
	d, network, _ := newTestDispatcher(t, nil)
	gate := network.holdNext()

	result := make(chan error, 1)
	go func() {
		result <- d.Connect(context.Background())
	}()
	require.Eventually(t, func() bool {
		return network.count() == 1 && d.State() == StateConnecting
	}, 2*time.Second, time.Millisecond)

	d.Disconnect()
	assert.True(t, errors.Is(<-result, ErrTerminated))
	close(gate)

	require.Eventually(t, func() bool {
		closed, _ := network.last().isClosed()
		return closed
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateClosed, d.State())
}

func TestCloseDuringHandshakeFailsTheAttempt(t *testing.T) {
	d, network, clock := newTestDispatcher(t, nil)
	gate := network.holdNext()

	result := make(chan error, 1)
	go func() {
		result <- d.Connect(context.Background())
	}()
	require.Eventually(t, func() bool {
		return network.count() == 1 && d.State() == StateConnecting
	}, 2*time.Second, time.Millisecond)

	network.last().drop(CloseAbnormalClosure, false)
	barrier(d)
	close(gate)

	err := <-result
	assert.True(t, errors.Is(err, ErrConnectionClosed))
	assert.Equal(t, StateReconnecting, d.State())
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, clock.Pending())
}

func TestEventsFromReplacedTransportAreIgnored(t *testing.T) {
	d, network, clock := newTestDispatcher(t, nil)
	received := 0
	d.OnMessage(func(Envelope) { received++ })
	connect(t, d)

	stale := network.last()
	stale.drop(CloseAbnormalClosure, false)
	barrier(d)
	clock.Advance(200 * time.Millisecond)
	waitForState(t, d, StateConnected)

	stale.deliver(`{"type":"message","data":{"text":"late"}}`)
	stale.drop(CloseAbnormalClosure, false)
	barrier(d)

	assert.Zero(t, received)
	assert.Equal(t, StateConnected, d.State())

	network.last().deliver(`{"type":"message","data":{"text":"fresh"}}`)
	barrier(d)
	assert.Equal(t, 1, received)
}

func TestJitterAppliesToScheduledRetries(t *testing.T) {
	d, network, clock := newTestDispatcher(t, func(cfg *Config) {
		cfg.ReconnectJitter = 0.5
	}, WithRandom(func() float64 { return 0.5 }))
	connect(t, d)

	network.last().drop(CloseAbnormalClosure, false)
	barrier(d)

	assert.Equal(t, []time.Duration{150 * time.Millisecond}, clock.Pending())
}
