package realtime

import "time"

type (
	// Timer is a cancellable scheduled callback.
	Timer interface {
		Stop() bool
	}

	// Clock is the time source for every timer the dispatcher arms: heartbeat, watchdog,
	// reconnect backoff and typing auto-clear.
	Clock interface {
		Now() time.Time
		AfterFunc(d time.Duration, f func()) Timer
	}

	realClock struct{}
)

func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// alarm is a timer owned by the event loop. Its callback runs on the loop and is skipped if the
// alarm was cancelled in the meantime, which closes the gap between a timer firing and Stop.
type alarm struct {
	timer     Timer
	cancelled bool
}

// cancel must be called on the loop.
func (a *alarm) cancel() {
	if a == nil || a.cancelled {
		return
	}
	a.cancelled = true
	a.timer.Stop()
}

func (d *Dispatcher) schedule(delay time.Duration, fn func()) *alarm {
	a := &alarm{}
	a.timer = d.clock.AfterFunc(delay, func() {
		d.loop.post(func() {
			if a.cancelled {
				return
			}
			a.cancelled = true
			fn()
		})
	})
	return a
}
