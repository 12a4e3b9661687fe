package realtime

// onPeerHeartbeat is the router's heartbeat interceptor. A probe from the peer is answered with
// a reply; a reply to one of our probes is only a liveness signal and is never answered, which
// keeps two heartbeat-answering peers from echoing each other.
func (d *Dispatcher) onPeerHeartbeat(env Envelope) {
	var payload HeartbeatPayload
	if len(env.Data) > 0 {
		if err := env.Decode(&payload); err != nil {
			d.logger.Debugf("heartbeat with unreadable payload treated as probe: %s", err)
		}
	}

	if payload.Reply {
		d.logger.Debugln("<= [HEARTBEAT ACK]")
		return
	}

	d.logger.Debugln("<= [HEARTBEAT] replying")
	if d.state == StateConnected {
		d.sendHeartbeat(true)
	}
}
