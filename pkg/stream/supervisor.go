package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nordicopen/pyeasee/pkg/backoff"
	"github.com/nordicopen/pyeasee/pkg/log"
	"github.com/nordicopen/pyeasee/pkg/subscription"
	"github.com/nordicopen/pyeasee/pkg/token"
	"github.com/nordicopen/pyeasee/pkg/transport"
	"github.com/nordicopen/pyeasee/pkg/wire"
)

// Supervisor errors.
var (
	ErrClosed        = errors.New("stream: supervisor closed")
	ErrEmptyDeviceID = errors.New("stream: empty device id")
	ErrNilCallback   = errors.New("stream: nil callback")
)

var (
	errToken    = errors.New("token acquisition failed")
	errRecycled = errors.New("session rebuilt after unsubscribe")
)

// Supervisor maintains one hub session, restores subscriptions after every
// reconnect and dispatches device events to callbacks.
// It is safe for concurrent use.
type Supervisor struct {
	tokens   token.Source
	registry *subscription.Registry
	seq      *backoff.Sequence

	// Configuration
	policy                 backoff.Policy
	transportConfig        transport.Config
	newConn                ConnFactory
	queueSize              int
	reconnectOnUnsubscribe bool

	baseLogger *zap.Logger
	logger     *zap.Logger
	plog       log.Logger
	metrics    *Metrics

	events  chan wire.Event
	recycle chan struct{}

	state atomic.Int32

	// mu serialises subscribe commands with session activation.
	mu            sync.Mutex
	conn          transport.HubConnection
	started       bool
	closed        bool
	onStateChange func(oldState, newState State)

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a supervisor. Nothing connects until the first Subscribe.
func New(tokens token.Source, opts ...Option) (*Supervisor, error) {
	if tokens == nil {
		return nil, errors.New("stream: nil token source")
	}

	s := &Supervisor{
		tokens:          tokens,
		registry:        subscription.NewRegistry(),
		policy:          backoff.DefaultPolicy(),
		transportConfig: transport.DefaultConfig(),
		newConn:         newTransportConnection,
		queueSize:       DefaultQueueSize,
		baseLogger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.policy.Validate(); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	s.seq = backoff.NewSequence(s.policy)

	s.logger = s.baseLogger.Named("stream")
	s.plog = log.OrNoop(s.plog)
	if s.transportConfig.Logger == nil {
		s.transportConfig.Logger = s.baseLogger
	}
	if s.transportConfig.ProtocolLogger == nil {
		s.transportConfig.ProtocolLogger = s.plog
	}

	s.events = make(chan wire.Event, s.queueSize)
	s.recycle = make(chan struct{}, 1)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.registry.OnUnrouted(s.unrouted)
	s.registry.OnPanic(s.callbackPanic)
	s.metrics.setState(StateDisconnected)
	return s, nil
}

// Subscribe registers cb for deviceID, replacing any previous callback.
// The first call starts the reconnect loop; if a session is live the
// subscribe command is sent right away, otherwise on the next connect.
// Connection errors never surface here.
func (s *Supervisor) Subscribe(deviceID string, cb subscription.Callback) error {
	if deviceID == "" {
		return ErrEmptyDeviceID
	}
	if cb == nil {
		return ErrNilCallback
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	replaced := s.registry.Add(deviceID, cb)
	s.metrics.setSubscriptions(s.registry.Len())
	s.logger.Debug("subscribed", zap.String("device", deviceID), zap.Bool("replaced", replaced))

	s.startLocked()
	if s.conn != nil && s.State() == StateConnected {
		s.sendSubscribe(s.conn, deviceID)
	}
	return nil
}

// Unsubscribe removes the callback for deviceID. No hub command is sent:
// the hub keeps streaming the device until the session is rebuilt, and
// those events are dropped. Unknown devices are a no-op.
func (s *Supervisor) Unsubscribe(deviceID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	existed := s.registry.Remove(deviceID)
	s.metrics.setSubscriptions(s.registry.Len())
	rebuild := existed && s.reconnectOnUnsubscribe && s.State() == StateConnected
	s.mu.Unlock()

	s.logger.Debug("unsubscribed", zap.String("device", deviceID), zap.Bool("existed", existed))
	if rebuild {
		select {
		case s.recycle <- struct{}{}:
		default:
		}
	}
	return nil
}

// IsConnected reports whether a session is live. It never blocks.
func (s *Supervisor) IsConnected() bool {
	return s.State() == StateConnected
}

// State returns the supervisor state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Failures returns the consecutive failed connection attempts.
func (s *Supervisor) Failures() int {
	return s.seq.Failures()
}

// Subscriptions returns the registered device IDs, sorted.
func (s *Supervisor) Subscriptions() []string {
	return s.registry.DeviceIDs()
}

// OnStateChange sets a hook called on every state transition. The hook
// runs on supervisor goroutines and must not block. Calling Close from the
// hook deadlocks, since Close waits for the goroutine running it.
func (s *Supervisor) OnStateChange(fn func(oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// Close stops the supervisor for good: it cancels any backoff wait or
// connection attempt, closes the session and waits for all goroutines.
// Close is idempotent. It must not be called from a subscription callback
// or a state change hook.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.conn = nil
		old := State(s.state.Swap(int32(StateClosed)))
		s.mu.Unlock()

		s.cancel()
		if conn != nil {
			conn.Close()
		}
		s.wg.Wait()

		if old != StateClosed {
			s.notify(old, StateClosed, nil)
		}
		s.logger.Debug("supervisor closed")
	})
	return nil
}

func (s *Supervisor) startLocked() {
	if s.started {
		return
	}
	s.started = true
	s.wg.Add(2)
	go s.run()
	go s.dispatch()
}

// run is the reconnect loop.
func (s *Supervisor) run() {
	defer s.wg.Done()

	var lastErr error
	for s.ctx.Err() == nil {
		conn, err := s.connect(lastErr)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			lastErr = err
			delay := s.seq.Fail()
			kind := errorKind(err)
			s.metrics.failure(kind)
			s.logger.Warn("hub connect failed",
				zap.Error(err),
				zap.String("kind", kind),
				zap.Int("failures", s.seq.Failures()),
				zap.Duration("retry_in", delay))
			s.setState(StateDisconnected, err)
			if !s.sleep(delay) {
				return
			}
			continue
		}

		lastErr = nil
		s.seq.Reset()
		if !s.activate(conn) {
			conn.Close()
			return
		}

		cause := s.wait(conn)
		if s.ctx.Err() != nil {
			return
		}
		s.deactivate(conn, cause)

		// The session was healthy: restart from the floor.
		if !s.sleep(s.seq.Peek()) {
			return
		}
	}
}

// connect obtains a token and opens one session. A previous auth failure
// forces a token refresh.
func (s *Supervisor) connect(lastErr error) (transport.HubConnection, error) {
	s.setState(StateConnecting, nil)
	s.metrics.attempt()

	var (
		tok token.Token
		err error
	)
	if isAuth(lastErr) {
		tok, err = s.tokens.Refresh(s.ctx)
	} else {
		tok, err = s.tokens.Get(s.ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errToken, err)
	}

	conn := s.newConn(s.transportConfig, transport.HandlerFunc(s.onMessage))
	if err := conn.Open(s.ctx, tok.AccessToken); err != nil {
		return nil, err
	}
	return conn, nil
}

// activate publishes conn and resubscribes every registered device. It
// returns false if the supervisor was closed meanwhile.
func (s *Supervisor) activate(conn transport.HubConnection) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.conn = conn

	// A rebuild requested for the previous session is satisfied by this one.
	select {
	case <-s.recycle:
	default:
	}

	entries := s.registry.All()
	for _, e := range entries {
		s.sendSubscribe(conn, e.DeviceID)
	}
	old, changed := s.swapState(StateConnected)
	s.mu.Unlock()

	s.logger.Info("hub connected",
		zap.String("conn_id", conn.ID()),
		zap.Int("subscriptions", len(entries)))
	if changed {
		s.notify(old, StateConnected, nil)
	}
	return true
}

// wait blocks until the session ends, a rebuild is requested or the
// supervisor closes.
func (s *Supervisor) wait(conn transport.HubConnection) error {
	select {
	case <-conn.Done():
		return conn.Err()
	case <-s.recycle:
		s.logger.Info("rebuilding hub session", zap.String("conn_id", conn.ID()))
		conn.Close()
		return errRecycled
	case <-s.ctx.Done():
		conn.Close()
		return nil
	}
}

func (s *Supervisor) deactivate(conn transport.HubConnection, cause error) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	s.seq.Reset()
	if !errors.Is(cause, errRecycled) {
		s.logger.Warn("hub session ended", zap.String("conn_id", conn.ID()), zap.Error(cause))
	}
	s.setState(StateDisconnected, cause)
}

// sendSubscribe must be called with mu held.
func (s *Supervisor) sendSubscribe(conn transport.HubConnection, deviceID string) {
	if err := conn.Send(s.ctx, wire.SubscribeCommand(deviceID)); err != nil {
		// The read loop notices a dead socket; the next session resubscribes.
		s.logger.Warn("subscribe command failed", zap.String("device", deviceID), zap.Error(err))
		return
	}
	s.metrics.subscribeSent()
}

func (s *Supervisor) sleep(d time.Duration) bool {
	s.metrics.waited(d.Seconds())
	if d <= 0 {
		return s.ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// onMessage runs on the transport read loop. It only decodes and enqueues.
func (s *Supervisor) onMessage(msg *wire.Message) {
	switch {
	case msg.IsProductUpdate():
		events, err := wire.DecodeProductUpdate(msg)
		if err != nil {
			s.metrics.event("malformed")
			s.logger.Warn("dropping malformed product update events", zap.Error(err),
				zap.Int("kept", len(events)))
		}
		for _, ev := range events {
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				return
			}
		}

	case msg.Type == wire.MessageTypeCompletion && msg.Error != "":
		s.logger.Warn("hub invocation failed",
			zap.String("invocation_id", msg.InvocationID),
			zap.String("error", msg.Error))

	default:
		s.logger.Debug("ignoring hub message",
			zap.Stringer("type", msg.Type),
			zap.String("target", msg.Target))
	}
}

// dispatch drains the event queue in arrival order.
func (s *Supervisor) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case ev := <-s.events:
			outcome := s.registry.Dispatch(ev)
			s.metrics.event(outcome.String())
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Supervisor) unrouted(ev wire.Event, outcome subscription.Outcome, err error) {
	if outcome == subscription.OutcomeInvalid {
		s.logger.Warn("dropping event with invalid value", zap.Stringer("event", ev), zap.Error(err))
		return
	}
	s.logger.Debug("dropping event without subscriber", zap.Stringer("event", ev))
}

func (s *Supervisor) callbackPanic(ev wire.Event, recovered any) {
	s.logger.Error("subscription callback panicked",
		zap.Stringer("event", ev),
		zap.Any("panic", recovered))
}

// swapState moves to a new state unless the supervisor is closed.
func (s *Supervisor) swapState(to State) (State, bool) {
	for {
		old := State(s.state.Load())
		if old == StateClosed || old == to {
			return old, false
		}
		if s.state.CompareAndSwap(int32(old), int32(to)) {
			return old, true
		}
	}
}

func (s *Supervisor) setState(to State, cause error) {
	if old, changed := s.swapState(to); changed {
		s.notify(old, to, cause)
	}
}

func (s *Supervisor) notify(oldState, newState State, cause error) {
	s.metrics.setState(newState)

	change := &log.StateChangeEvent{
		Entity:   log.StateEntitySupervisor,
		OldState: oldState.String(),
		NewState: newState.String(),
	}
	if cause != nil {
		change.Reason = cause.Error()
	}
	s.plog.Log(log.Event{
		Timestamp:   time.Now(),
		Layer:       log.LayerStream,
		Category:    log.CategoryState,
		StateChange: change,
	})

	s.mu.Lock()
	fn := s.onStateChange
	s.mu.Unlock()
	if fn != nil {
		fn(oldState, newState)
	}
}

func isAuth(err error) bool {
	return errors.Is(err, transport.ErrAuth) || errors.Is(err, token.ErrAuthFailed)
}

// errorKind labels a connect failure for metrics and logs.
func errorKind(err error) string {
	if errors.Is(err, errToken) {
		if errors.Is(err, token.ErrAuthFailed) {
			return "auth"
		}
		return "token"
	}
	if k, ok := transport.KindOf(err); ok {
		return k.String()
	}
	return "unknown"
}
