package realtime

import (
	"time"
)

// armWatchdog checks, after wait, whether the peer has been silent for the whole heartbeat
// timeout. A silent connection is rotated: closed locally and handed to the reconnection
// controller as if it had dropped. A zero timeout disables the watchdog.
func (d *Dispatcher) armWatchdog(wait time.Duration) {
	hb := d.heartbeat
	if hb == nil || hb.timeout <= 0 {
		return
	}

	hb.watchdog = d.schedule(wait, func() {
		silence := d.clock.Now().Sub(hb.lastSeen)
		if silence < hb.timeout {
			d.armWatchdog(hb.timeout - silence)
			return
		}
		d.rotateConnection(silence)
	})
}

func (d *Dispatcher) rotateConnection(silence time.Duration) {
	d.logger.Warnf("no traffic for %s, rotating connection: %s", silence, ErrHeartbeatTimeout)

	stale := d.transport
	// Events of the stale transport must not reach the new connection's state.
	d.generation++
	d.transport = nil
	if stale != nil {
		go stale.Close(CloseGoingAway, "heartbeat timeout")
	}

	d.connectionLost(CloseAbnormalClosure, false)
}
