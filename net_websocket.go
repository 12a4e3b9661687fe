package realtime

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

const (
	defaultWriteTimeout = time.Second
	closeGracePeriod    = time.Second
	sendBufferSize      = 256
)

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WsTransport is a Transport over a single websocket connection. A reader goroutine delivers
	// frames to the handler and a writer goroutine serializes outgoing frames.
	WsTransport struct {
		errAdapters  ErrorAdapters
		logger       Logger
		dialer       *websocket.Dialer
		handler      TransportHandler
		writeTimeout time.Duration

		mu         sync.Mutex
		conn       *websocket.Conn
		dialing    bool
		closing    bool
		localCode  int
		send       chan []byte
		closeChan  chan struct{}
		closeOnce  sync.Once
		notifyOnce sync.Once
	}
)

var _ Transport = (*WsTransport)(nil)

func NewWebsocketTransport(
	logger Logger,
	dialer *websocket.Dialer,
	handler TransportHandler,
	writeTimeout time.Duration,
	errorAdapters ErrorAdapters,
) *WsTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WsTransport{
		errAdapters:  errorAdapters,
		logger:       logger.WithField("net", "ws_transport"),
		dialer:       dialer,
		handler:      handler,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, sendBufferSize),
		closeChan:    make(chan struct{}),
	}
}

func NewWebsocketTransportFactory(
	logger Logger,
	dialer *websocket.Dialer,
	writeTimeout time.Duration,
	errorAdapters ErrorAdapters,
) TransportFactory {
	return func(handler TransportHandler) Transport {
		return NewWebsocketTransport(logger, dialer, handler, writeTimeout, errorAdapters)
	}
}

// Open dials the websocket endpoint. It blocks until the handshake completes or fails.
func (w *WsTransport) Open(ctx context.Context, p OpenConnectionParams) error {
	w.mu.Lock()
	if w.conn != nil || w.dialing {
		w.mu.Unlock()
		return ErrAlreadyOpen
	}
	if w.closing {
		w.mu.Unlock()
		return ErrConnectionClosed
	}
	w.dialing = true
	w.mu.Unlock()

	conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.dialing = false

	if err = w.handleDialError(conn, resp, err, p); err != nil {
		w.logger.Errorf("connection err to %s: %s", p.URL.Redacted(), err)
		return err
	}

	if w.closing {
		// Close was requested while the handshake was in flight.
		_ = conn.Close()
		return ErrConnectionClosed
	}

	w.logger.Debugf("success opening connection to %s", p.URL.Redacted())
	w.conn = conn

	go w.read(conn)
	go w.write(conn)

	return nil
}

// Send queues one text frame for the writer goroutine.
func (w *WsTransport) Send(frame []byte) error {
	w.mu.Lock()
	open := w.conn != nil && !w.closing
	w.mu.Unlock()

	if !open {
		return ErrNotConnected
	}

	select {
	case <-w.closeChan:
		return ErrConnectionClosed
	case w.send <- frame:
		return nil
	}
}

// Close sends a close frame and tears the connection down. The reader reports the close to the
// handler as clean, carrying code.
func (w *WsTransport) Close(code int, reason string) {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return
	}
	w.closing = true
	w.localCode = code
	conn := w.conn
	w.mu.Unlock()

	w.stopWriter()

	if conn == nil {
		return
	}

	w.logger.Infof("closing connection from our side with code %d", code)
	deadline := time.Now().Add(w.writeTimeout)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		w.logger.Debugf("cannot write close frame: %s", err)
		_ = conn.Close()
		return
	}
	// Give the peer a chance to echo the close frame; the reader closes the socket either way.
	_ = conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
}

func (w *WsTransport) stopWriter() {
	w.closeOnce.Do(func() {
		close(w.closeChan)
	})
}

func (w *WsTransport) read(conn *websocket.Conn) {
	var (
		code     = CloseAbnormalClosure
		wasClean = false
	)

	defer func() {
		w.stopWriter()
		_ = conn.Close()
		w.notifyOnce.Do(func() {
			w.handler.OnClose(code, wasClean)
		})
	}()

	for {
		messageType, bts, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closing, localCode := w.closing, w.localCode
			w.mu.Unlock()

			var closeErr *websocket.CloseError
			switch {
			case closing:
				code, wasClean = localCode, true
			case errors.As(err, &closeErr):
				code = closeErr.Code
				wasClean = closeErr.Code != CloseAbnormalClosure
				w.logger.Infof("peer closed connection: %d %s", closeErr.Code, closeErr.Text)
			default:
				w.logger.Errorf("error occurred on websocket read: %s", err)
				w.handler.OnError(errors.Wrap(ErrConnectionClosed, "error occurred on websocket read: "+err.Error()))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			w.logger.Debugf("<= [DATA] %s", bts)
			w.handler.OnMessage(bts)
		}
	}
}

func (w *WsTransport) write(conn *websocket.Conn) {
	for {
		select {
		case <-w.closeChan:
			return
		case frame := <-w.send:
			_ = conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))

			w.logger.Debugf("=> [DATA] %s", frame)
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				w.logger.Errorf("error occurred on websocket write: %s", err)
				w.handler.OnError(errors.Wrap(ErrConnectionClosed, "error occurred on websocket write: "+err.Error()))
				// Unblocks the reader, which reports the abnormal close.
				_ = conn.Close()
				return
			}
		}
	}
}

func (w *WsTransport) handleDialError(
	conn *websocket.Conn,
	resp *http.Response,
	err error,
	p OpenConnectionParams,
) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	if err == nil {
		return nil
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				msg = string(bts)
			}
			_ = resp.Body.Close()
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return errors.Wrap(ErrRateLimit, msg)
		case http.StatusUnauthorized, http.StatusForbidden:
			return WrapErrorUnrecoverableConnection(
				errors.Wrapf(ErrCannotConnect, "handshake rejected with %d: %s", resp.StatusCode, msg),
				p.URL,
			)
		}
	}

	// 2. Network errors
	return errors.Wrap(ErrCannotConnect, err.Error())
}
