package realtime

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed  = errors.New("connection has been closed")
	ErrCannotConnect     = errors.New("connection cannot be established")
	ErrAlreadyOpen       = errors.New("transport is already open")
	ErrNotConnected      = errors.New("transport is not connected")
	ErrTerminated        = errors.New("connection terminated locally")
	ErrRateLimit         = errors.New("rate limit exceeded")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrEmptyPayload      = errors.New("envelope has no payload")
	ErrTokenExpired      = errors.New("access token has expired")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrQueueFull         = errors.New("outbound queue is full")
	ErrHeartbeatTimeout  = errors.New("no traffic from peer within heartbeat timeout")
)

// ErrUnrecoverableConnection marks a connection failure that must not be retried automatically.
type ErrUnrecoverableConnection struct {
	err error
	url url.URL
}

func (e ErrUnrecoverableConnection) Error() string {
	return fmt.Sprintf("Unrecoverable connection error: %s to %s", e.err, e.url.String())
}

func (e ErrUnrecoverableConnection) Unwrap() error { return e.err }

func WrapErrorUnrecoverableConnection(err error, url url.URL) *ErrUnrecoverableConnection {
	if err == nil {
		return nil
	}
	return &ErrUnrecoverableConnection{
		err: err,
		url: url,
	}
}

// IsUnrecoverable reports whether err, or anything it wraps, is an ErrUnrecoverableConnection.
func IsUnrecoverable(err error) bool {
	var target *ErrUnrecoverableConnection
	return errors.As(err, &target)
}
