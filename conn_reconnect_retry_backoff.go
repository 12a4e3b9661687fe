package realtime

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
)

// BackoffCalculator returns the delay before the given 1-indexed reconnection attempt.
type BackoffCalculator func(attempt int) time.Duration

// ExponentialBackoff returns min(base * 2^attempt, max).
func ExponentialBackoff(base, max time.Duration) BackoffCalculator {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		factor := math.Pow(2.0, float64(attempt))
		delay := float64(base) * factor
		if delay >= float64(max) || math.IsInf(delay, 0) {
			return max
		}
		return time.Duration(delay)
	}
}

// withJitter shortens each delay by a random share of up to fraction, so the cap still holds
// and clients that lost the same server do not come back in lockstep.
func withJitter(calc BackoffCalculator, fraction float64, random func() float64) BackoffCalculator {
	if fraction <= 0 {
		return calc
	}
	return func(attempt int) time.Duration {
		delay := calc(attempt)
		return delay - time.Duration(float64(delay)*fraction*random())
	}
}

// retryableClose reports whether a lost connection should be redialled. Clean closes are final
// unless the peer said it is going away or restarting.
func retryableClose(code int, wasClean bool) bool {
	if !wasClean {
		return true
	}
	switch code {
	case CloseGoingAway, CloseServiceRestart, CloseTryAgainLater:
		return true
	}
	return false
}

type closeEvent struct {
	code     int
	wasClean bool
}

// connect runs on the loop.
func (d *Dispatcher) connect(result chan<- error) {
	switch d.state {
	case StateConnected:
		result <- nil
		return
	case StateConnecting:
		d.waiters = append(d.waiters, result)
		return
	case StateReconnecting:
		d.reconnectAlarm.cancel()
		d.reconnectAlarm = nil
	case StateIdle, StateClosed:
		d.reconnectAttempts = 0
	}

	d.waiters = append(d.waiters, result)
	d.dial()
}

func (d *Dispatcher) dial() {
	d.generation++
	gen := d.generation
	d.earlyClose = nil
	d.setState(StateConnecting, nil)

	t := d.transportFactory(transportHandlerFuncs{
		onMessage: func(frame []byte) {
			d.loop.post(func() {
				if gen == d.generation {
					d.onFrame(frame)
				}
			})
		},
		onClose: func(code int, wasClean bool) {
			d.loop.post(func() {
				if gen == d.generation {
					d.onClose(code, wasClean)
				}
			})
		},
		onError: func(err error) {
			d.loop.post(func() {
				if gen == d.generation {
					d.onTransportError(err)
				}
			})
		},
	})
	d.transport = t

	ctx, cancel := context.WithCancel(context.Background())
	d.cancelDial = cancel
	attempt := d.reconnectAttempts

	d.logger.Infof("dialling %s (attempt %d)", d.endpoint.Redacted(), attempt)

	go func() {
		start := d.clock.Now()
		spanCtx, span := startConnectSpan(ctx, d.tracer, attempt, d.endpoint.Host)

		params, err := d.paramsRepo.Get(spanCtx)
		if err == nil {
			err = t.Open(spanCtx, params)
		}
		endConnectSpan(span, err)
		elapsed := d.clock.Now().Sub(start)

		d.loop.post(func() {
			d.onOpenResult(gen, t, err, elapsed)
		})
	}()
}

func (d *Dispatcher) onOpenResult(gen uint64, t Transport, err error, elapsed time.Duration) {
	if gen != d.generation {
		// Superseded by Disconnect while dialling.
		if err == nil {
			t.Close(CloseNormalClosure, "client disconnected")
		}
		return
	}

	if d.cancelDial != nil {
		d.cancelDial()
		d.cancelDial = nil
	}

	if err == nil && d.earlyClose != nil {
		err = errors.Wrapf(ErrConnectionClosed, "closed during handshake with code %d", d.earlyClose.code)
	}

	if err != nil {
		d.logger.Warnf("cannot connect: %s", err)
		d.transport = nil
		// Callers waiting on this attempt are detached first: a listener may start the next one.
		waiters := d.waiters
		d.waiters = nil
		d.retry(err)
		resolve(waiters, err)
		return
	}

	d.onOpen(elapsed)
}

func (d *Dispatcher) onOpen(elapsed time.Duration) {
	d.reconnectAttempts = 0
	d.lastOpenedAt = d.clock.Now()
	d.metrics.recordConnect(elapsed.Seconds())
	d.setState(StateConnected, nil)
	d.logger.Infof("connected to %s", d.endpoint.Redacted())

	d.startHeartbeat()
	flushed := d.flush()
	if d.everConnected {
		d.rejoin(flushed)
	}
	d.everConnected = true

	d.notifyConnection(true)
	d.resolveWaiters(nil)
}

func (d *Dispatcher) onClose(code int, wasClean bool) {
	switch d.state {
	case StateConnecting:
		// The reader saw the close before the open result reached the loop.
		d.earlyClose = &closeEvent{code: code, wasClean: wasClean}
	case StateConnected:
		d.connectionLost(code, wasClean)
	}
}

func (d *Dispatcher) connectionLost(code int, wasClean bool) {
	d.stopHeartbeat()
	d.transport = nil

	if !retryableClose(code, wasClean) {
		d.logger.Infof("connection closed by peer with code %d, not reconnecting", code)
		d.metrics.recordDisconnect("peer_closed")
		d.terminate(errors.Wrapf(ErrConnectionClosed, "closed by peer with code %d", code))
		return
	}

	d.logger.Warnf("connection lost with code %d (clean=%t)", code, wasClean)
	d.metrics.recordDisconnect("lost")
	// The state leaves connected before listeners hear of the loss. When no attempt is left
	// the terminal signal is the only one.
	d.retry(errors.Wrapf(ErrConnectionClosed, "lost with code %d", code))
	d.notifyConnection(false)
}

func (d *Dispatcher) onTransportError(err error) {
	d.logger.Warnf("transport error in state %s: %s", d.state, err)
}

// retry schedules the next attempt, or gives up when attempts are exhausted or the failure is
// unrecoverable.
func (d *Dispatcher) retry(cause error) {
	if IsUnrecoverable(cause) {
		d.logger.Errorf("not reconnecting: %s", cause)
		d.terminate(cause)
		return
	}

	if d.reconnectAttempts >= d.cfg.MaxReconnectAttempts {
		d.logger.Errorf("giving up after %d reconnection attempts: %s", d.reconnectAttempts, cause)
		d.terminate(cause)
		return
	}

	d.reconnectAttempts++
	delay := d.backoff(d.reconnectAttempts)
	d.metrics.recordReconnectAttempt()
	d.logger.Infof("reconnecting in %s (attempt %d/%d)", delay, d.reconnectAttempts, d.cfg.MaxReconnectAttempts)

	// Armed before the state change, so a listener calling Connect cancels it.
	d.reconnectAlarm = d.schedule(delay, func() {
		d.reconnectAlarm = nil
		d.dial()
	})
	d.setState(StateReconnecting, cause)
}

// terminate enters the closed state and emits the terminal false signal exactly once.
func (d *Dispatcher) terminate(cause error) {
	d.setState(StateClosed, cause)
	d.reportedConnected = false
	d.connListeners.Emit(connectionEvent, false)
}

// disconnect is the single teardown path: every timer is released and no retry follows.
func (d *Dispatcher) disconnect() {
	d.cancelTimers()

	if d.state == StateIdle || d.state == StateClosed {
		return
	}

	prev := d.state
	d.generation++

	if d.cancelDial != nil {
		d.cancelDial()
		d.cancelDial = nil
	}
	if d.transport != nil {
		d.transport.Close(CloseNormalClosure, "client disconnected")
		d.transport = nil
	}
	if prev == StateConnected {
		d.metrics.recordDisconnect("local")
	}

	d.resolveWaiters(ErrTerminated)
	d.setState(StateClosed, nil)
	d.notifyConnection(false)
	d.logger.Infof("disconnected from %s", d.endpoint.Redacted())
}

func (d *Dispatcher) cancelTimers() {
	d.stopHeartbeat()

	d.reconnectAlarm.cancel()
	d.reconnectAlarm = nil

	for channelID, a := range d.typingAlarms {
		a.cancel()
		delete(d.typingAlarms, channelID)
	}
}

func (d *Dispatcher) setState(next ConnectionState, cause error) {
	prev := d.state
	if prev == next {
		return
	}
	d.state = next
	d.stateValue.Store(int32(next))

	d.stateListeners.Emit(connectionEvent, StateEvent{
		OldState: prev,
		NewState: next,
		Attempt:  d.reconnectAttempts,
		Error:    cause,
	})
}

// notifyConnection emits only real changes, so repeated failures do not spam listeners.
func (d *Dispatcher) notifyConnection(connected bool) {
	if d.reportedConnected == connected {
		return
	}
	d.reportedConnected = connected
	d.connListeners.Emit(connectionEvent, connected)
}

func (d *Dispatcher) resolveWaiters(err error) {
	waiters := d.waiters
	d.waiters = nil
	resolve(waiters, err)
}

func resolve(waiters []chan<- error, err error) {
	for _, w := range waiters {
		w <- err
	}
}
