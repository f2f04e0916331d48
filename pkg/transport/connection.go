package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nordicopen/pyeasee/pkg/log"
	"github.com/nordicopen/pyeasee/pkg/wire"
)

// Connection states.
type State int32

const (
	// StateClosed indicates no session.
	StateClosed State = iota

	// StateOpening indicates negotiation, dial or handshake in progress.
	StateOpening

	// StateOpen indicates an established hub session.
	StateOpen

	// StateClosing indicates teardown in progress.
	StateClosing
)

// String returns the connection state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Handler receives inbound hub messages.
type Handler interface {
	// OnMessage is called from the read loop, one message at a time in
	// arrival order. Pings and close messages are handled by the
	// connection and not passed on.
	OnMessage(msg *wire.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg *wire.Message)

// OnMessage calls f.
func (f HandlerFunc) OnMessage(msg *wire.Message) { f(msg) }

// Connection is a single hub session. A Connection is opened at most once;
// create a new one to reconnect.
type Connection struct {
	config  Config
	handler Handler
	logger  *zap.Logger
	plog    log.Logger
	id      string

	// State
	state  atomic.Int32
	used   atomic.Bool
	remote string

	ws      *websocket.Conn
	writeMu sync.Mutex

	// Keep-alive
	keepAlive *KeepAlive

	// Open/Close handoff
	lifeMu         sync.Mutex
	closeRequested bool

	// Session end
	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
	readers   sync.WaitGroup
	cancel    context.CancelFunc
}

// NewConnection creates a new connection (not yet opened).
func NewConnection(config Config, handler Handler) *Connection {
	config = config.withDefaults()
	id := uuid.NewString()

	c := &Connection{
		config:  config,
		handler: handler,
		logger:  config.Logger.Named("transport").With(zap.String("conn_id", id)),
		plog:    config.ProtocolLogger,
		id:      id,
		done:    make(chan struct{}),
	}
	c.state.Store(int32(StateClosed))
	return c
}

// ID returns the session identifier used in logs and captures.
func (c *Connection) ID() string {
	return c.id
}

// State returns the current connection state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Done is closed when an opened session ends for any reason.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns why the session ended: nil after a local Close, a classified
// *Error otherwise. It is only meaningful after Done is closed.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Open negotiates, dials and performs the SignalR handshake using
// accessToken. On failure the connection is left Closed and the error is a
// classified *Error (or ctx.Err() wrapped as a network error).
func (c *Connection) Open(ctx context.Context, accessToken string) error {
	if !c.used.CompareAndSwap(false, true) {
		return ErrAlreadyUsed
	}
	c.setState(StateClosed, StateOpening, "")

	ws, pending, err := c.establish(ctx, accessToken)
	if err == nil {
		c.lifeMu.Lock()
		if c.closeRequested {
			c.lifeMu.Unlock()
			ws.Close()
			err = networkError("open", ErrClosedLocally)
		}
	}
	if err != nil {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		c.setState(StateOpening, StateClosed, err.Error())
		c.captureError(LayerOf(err), err, "open")
		close(c.done)
		return err
	}
	defer c.lifeMu.Unlock()

	c.ws = ws
	sessionCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.keepAlive = NewKeepAlive(c.config.KeepAlive,
		func() error {
			return c.Send(sessionCtx, wire.NewPing())
		},
		func() {
			c.logger.Warn("server timeout", zap.Duration("timeout", c.config.KeepAlive.ServerTimeout))
			c.finish(networkError("keepalive", ErrServerTimeout))
		},
	)

	c.setState(StateOpening, StateOpen, "")
	c.keepAlive.Start(sessionCtx)

	c.readers.Add(1)
	go c.readLoop(pending)

	c.logger.Debug("hub session open", zap.String("remote", c.remote))
	return nil
}

// establish runs negotiate, dial and handshake.
func (c *Connection) establish(ctx context.Context, accessToken string) (*websocket.Conn, [][]byte, error) {
	ep := endpoint{token: accessToken}
	if c.config.SkipNegotiation {
		u, err := websocketURL(c.config.HubURL, "")
		if err != nil {
			return nil, nil, protocolError("dial", err)
		}
		ep.url = u
	} else {
		var err error
		if ep, err = negotiate(ctx, c.config, c.config.HubURL, accessToken); err != nil {
			return nil, nil, withContext(ctx, err)
		}
	}
	c.remote = ep.url

	ws, err := c.dial(ctx, ep)
	if err != nil {
		return nil, nil, withContext(ctx, err)
	}

	pending, err := c.handshake(ctx, ws)
	if err != nil {
		ws.Close()
		return nil, nil, withContext(ctx, err)
	}
	return ws, pending, nil
}

func (c *Connection) dial(ctx context.Context, ep endpoint) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.HandshakeTimeout,
		TLSClientConfig:  c.config.TLSConfig,
	}

	header := http.Header{}
	setHeaders(header, c.config, ep.token)

	ws, resp, err := dialer.DialContext(ctx, ep.url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, authError("dial", fmt.Errorf("status %d: %w", resp.StatusCode, err))
			}
		}
		return nil, networkError("dial", err)
	}
	ws.SetReadLimit(c.config.MaxMessageSize)
	return ws, nil
}

// handshake sends the protocol handshake and waits for the reply. Records
// that arrive in the same frame after the reply are returned.
func (c *Connection) handshake(ctx context.Context, ws *websocket.Conn) ([][]byte, error) {
	// Unblock the read below if ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	deadline := time.Now().Add(c.config.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := wire.EncodeHandshake()
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, networkError("handshake", err)
	}
	c.captureControl(log.DirectionOut, log.ControlMsgHandshake, "")

	ws.SetReadDeadline(deadline)
	_, frame, err := ws.ReadMessage()
	if err != nil {
		return nil, networkError("handshake", err)
	}
	ws.SetReadDeadline(time.Time{})
	ws.SetWriteDeadline(time.Time{})

	records, err := wire.Split(frame)
	if len(records) == 0 {
		if err == nil {
			err = errors.New("empty handshake response")
		}
		return nil, protocolError("handshake", err)
	}
	if herr := wire.DecodeHandshakeResponse(records[0]); herr != nil {
		c.captureControl(log.DirectionIn, log.ControlMsgHandshake, herr.Error())
		return nil, protocolError("handshake", herr)
	}
	c.captureControl(log.DirectionIn, log.ControlMsgHandshake, "")
	if err != nil {
		return nil, protocolError("handshake", err)
	}
	return records[1:], nil
}

// Send encodes msg and writes it as one frame.
func (c *Connection) Send(ctx context.Context, msg *wire.Message) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return networkError("send", err)
	}

	c.captureFrame(log.DirectionOut, data)
	c.captureMessage(log.DirectionOut, msg)
	return nil
}

// Close ends the session. It is idempotent and waits for the read loop.
// Close must not be called from Handler.OnMessage.
func (c *Connection) Close() error {
	c.lifeMu.Lock()
	c.closeRequested = true
	open := c.State() == StateOpen
	c.lifeMu.Unlock()

	if open {
		c.finish(nil)
	}
	c.readers.Wait()
	return nil
}

// finish tears the session down once, recording cause.
func (c *Connection) finish(cause error) {
	c.closeOnce.Do(func() {
		old := c.State()
		c.state.Store(int32(StateClosing))
		c.notifyState(old, StateClosing, reason(cause))

		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		if c.keepAlive != nil {
			c.keepAlive.Stop()
		}
		if c.cancel != nil {
			c.cancel()
		}

		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.config.CloseTimeout))
		c.ws.Close()

		if cause != nil {
			c.captureError(LayerOf(cause), cause, "session")
			c.logger.Info("hub session ended", zap.Error(cause))
		}

		c.state.Store(int32(StateClosed))
		c.notifyState(StateClosing, StateClosed, reason(cause))
		close(c.done)
	})
}

// readLoop reads frames until the session ends.
func (c *Connection) readLoop(pending [][]byte) {
	defer c.readers.Done()

	for _, rec := range pending {
		if !c.handleRecord(rec) {
			return
		}
	}

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if c.State() != StateOpen {
				return // Expected during close
			}
			c.finish(networkError("read", err))
			return
		}

		c.keepAlive.Touch()
		c.captureFrame(log.DirectionIn, frame)

		records, splitErr := wire.Split(frame)
		for _, rec := range records {
			if !c.handleRecord(rec) {
				return
			}
		}
		if splitErr != nil {
			c.finish(protocolError("read", splitErr))
			return
		}
	}
}

// handleRecord decodes and routes one record. It returns false when the
// session ended.
func (c *Connection) handleRecord(rec []byte) bool {
	msg, err := wire.Decode(rec)
	if err != nil {
		c.finish(protocolError("decode", err))
		return false
	}
	c.captureMessage(log.DirectionIn, msg)

	switch msg.Type {
	case wire.MessageTypePing:
		return true

	case wire.MessageTypeClose:
		c.captureControl(log.DirectionIn, log.ControlMsgClose, msg.Error)
		if msg.Error != "" {
			c.finish(protocolError("hub close", fmt.Errorf("%w: %s", ErrServerClosed, msg.Error)))
		} else {
			c.finish(networkError("hub close", ErrServerClosed))
		}
		return false
	}

	if c.handler != nil {
		c.handler.OnMessage(msg)
	}
	return c.State() == StateOpen
}

func (c *Connection) setState(from, to State, why string) {
	c.state.Store(int32(to))
	c.notifyState(from, to, why)
}

func (c *Connection) notifyState(from, to State, why string) {
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   why,
		},
	})
}

func (c *Connection) captureFrame(dir log.Direction, data []byte) {
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		RemoteAddr:   c.remote,
		Frame:        log.NewFrameEvent(data),
	})
}

func (c *Connection) captureMessage(dir log.Direction, msg *wire.Message) {
	ev := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message:      log.NewMessageEvent(msg),
	}
	if msg.Type == wire.MessageTypePing {
		ev.Category = log.CategoryControl
		ev.Message = nil
		ev.ControlMsg = &log.ControlMsgEvent{Type: log.ControlMsgPing}
	}
	if msg.Target == wire.MethodSubscribe && len(msg.Arguments) > 0 {
		ev.DeviceID = unquote(msg.Arguments[0])
	}
	c.plog.Log(ev)
}

func (c *Connection) captureControl(dir log.Direction, typ log.ControlMsgType, why string) {
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		ControlMsg:   &log.ControlMsgEvent{Type: typ, Reason: why},
	})
}

func (c *Connection) captureError(layer log.Layer, err error, op string) {
	kind := ""
	if k, ok := KindOf(err); ok {
		kind = k.String()
	}
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        layer,
		Category:     log.CategoryError,
		RemoteAddr:   c.remote,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Kind:    kind,
			Context: op,
		},
	})
}

// LayerOf returns the capture layer an error belongs to.
func LayerOf(err error) log.Layer {
	if k, ok := KindOf(err); ok && k == KindProtocol {
		return log.LayerWire
	}
	return log.LayerTransport
}

// withContext reports a cancelled ctx as a network error wrapping ctx.Err().
func withContext(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		var te *Error
		if errors.As(err, &te) && te.Kind == KindNetwork {
			return &Error{Kind: KindNetwork, Op: te.Op, Err: ctx.Err()}
		}
	}
	return err
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func unquote(raw []byte) string {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return string(raw[1 : len(raw)-1])
	}
	return string(raw)
}

// Compile-time interface satisfaction check.
var _ Handler = HandlerFunc(nil)
