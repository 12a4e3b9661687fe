package realtime

import (
	"context"
	"net/http"
	"net/url"
)

// Close codes used by the dispatcher, as defined by RFC 6455.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
	CloseServiceRestart  = 1012
	CloseTryAgainLater   = 1013
)

type (
	// OpenConnectionParams is everything needed to dial one physical connection.
	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	// Transport owns exactly one physical connection. It never retries: a failed Open simply
	// returns the error, and opening an already open transport returns ErrAlreadyOpen.
	Transport interface {
		// Open dials the peer. A nil return is the transport's open event.
		Open(ctx context.Context, params OpenConnectionParams) error
		// Send writes one raw frame.
		Send(frame []byte) error
		// Close closes the connection with the given close code and reason.
		Close(code int, reason string)
	}

	// TransportHandler receives the events of one Transport.
	TransportHandler interface {
		OnMessage(frame []byte)
		OnClose(code int, wasClean bool)
		OnError(err error)
	}

	// TransportFactory creates a fresh Transport bound to handler for every connection attempt.
	TransportFactory func(handler TransportHandler) Transport
)

// transportHandlerFuncs adapts plain functions to TransportHandler.
type transportHandlerFuncs struct {
	onMessage func([]byte)
	onClose   func(int, bool)
	onError   func(error)
}

func (h transportHandlerFuncs) OnMessage(frame []byte)          { h.onMessage(frame) }
func (h transportHandlerFuncs) OnClose(code int, wasClean bool) { h.onClose(code, wasClean) }
func (h transportHandlerFuncs) OnError(err error)               { h.onError(err) }
