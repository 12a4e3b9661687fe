package realtime

// ConnectionState is the state of the reconnection state machine.
type ConnectionState int32

const (
	// StateIdle means Connect has never been called.
	StateIdle ConnectionState = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means the transport is open and envelopes are written immediately.
	StateConnected

	// StateReconnecting means a retry is scheduled after a failure or a lost connection.
	StateReconnecting

	// StateClosed means the client was disconnected or gave up; only Connect leaves it.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Attempt  int
	Error    error // Optional error that caused the state change
}
