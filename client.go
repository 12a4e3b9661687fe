package realtime

import (
	"context"
)

type (
	// Client is the public surface of the dispatcher: connection lifecycle, outbound envelopes,
	// one handler slot per envelope type and connection-change notifications.
	Client interface {
		// Connect opens the connection and blocks until the attempt succeeds or fails, or ctx ends.
		// A failed attempt has already scheduled its retry when Connect returns. Called from a
		// callback, it starts the attempt and returns nil at once; the outcome arrives through
		// OnConnectionChange.
		Connect(ctx context.Context) error
		// Disconnect closes the connection cleanly, cancels every timer and stops retrying.
		Disconnect()
		// Send writes the envelope now when connected, or queues it until the next open.
		Send(env Envelope)

		OnMessage(h Handler)
		OnNotification(h Handler)
		OnLocationUpdate(h Handler)
		OnTripStatus(h Handler)
		OnTyping(h Handler)
		OnUserJoined(h Handler)
		OnUserLeft(h Handler)
		// Register installs the handler for t, replacing and reporting any previous one.
		Register(t EnvelopeType, h Handler) (replaced bool)
		// Unregister removes the handler for t.
		Unregister(t EnvelopeType) bool
		// Subscribe attaches an observer that runs after the handler of t. It never displaces
		// other observers; call the returned function to detach.
		Subscribe(t EnvelopeType, h Handler) (unsubscribe func())

		OnConnectionChange(listener func(connected bool)) ListenerID
		RemoveConnectionListener(id ListenerID)
		OnStateChange(listener func(StateEvent)) ListenerID
		RemoveStateListener(id ListenerID)

		SendTyping(channelID string, isTyping bool)
		JoinChannel(channelID string)
		LeaveChannel(channelID string)

		State() ConnectionState
		QueueLen() int
		ClearQueue()
		UserID() string
	}
)
