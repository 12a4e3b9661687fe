package realtime

import (
	"time"
)

// heartbeatMonitor holds the liveness timers of one open connection.
type heartbeatMonitor struct {
	interval time.Duration
	timeout  time.Duration
	lastSeen time.Time
	ticker   *alarm
	watchdog *alarm
}

// startHeartbeat arms the heartbeat for the connection that just opened.
func (d *Dispatcher) startHeartbeat() {
	d.stopHeartbeat()

	d.heartbeat = &heartbeatMonitor{
		interval: d.cfg.HeartbeatInterval,
		timeout:  d.cfg.HeartbeatTimeout,
		lastSeen: d.clock.Now(),
	}
	d.armHeartbeat()
	d.armWatchdog(d.heartbeat.timeout)
}

func (d *Dispatcher) stopHeartbeat() {
	if d.heartbeat == nil {
		return
	}
	d.heartbeat.ticker.cancel()
	d.heartbeat.watchdog.cancel()
	d.heartbeat = nil
}

// armHeartbeat sends a probe every interval for as long as the monitor lives.
func (d *Dispatcher) armHeartbeat() {
	hb := d.heartbeat
	hb.ticker = d.schedule(hb.interval, func() {
		d.sendHeartbeat(false)
		d.armHeartbeat()
	})
}

// sendHeartbeat writes directly: a heartbeat is only meaningful on the current connection, so it
// is never queued.
func (d *Dispatcher) sendHeartbeat(reply bool) {
	env := MustEnvelope(HeartbeatEnvelope, HeartbeatPayload{Reply: reply})
	env.Timestamp = d.clock.Now().UTC()
	if err := d.write(env); err != nil {
		d.logger.Debugf("heartbeat not sent: %s", err)
		return
	}
	d.logger.Debugf("=> [HEARTBEAT] reply=%t", reply)
}

// onFrame runs on the loop for every inbound frame of the current connection.
func (d *Dispatcher) onFrame(frame []byte) {
	if d.heartbeat != nil {
		d.heartbeat.lastSeen = d.clock.Now()
	}
	d.router.Route(frame)
}
