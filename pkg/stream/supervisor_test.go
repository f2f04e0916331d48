package stream

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nordicopen/pyeasee/pkg/backoff"
	"github.com/nordicopen/pyeasee/pkg/token"
	"github.com/nordicopen/pyeasee/pkg/wire"
)

var fastPolicy = backoff.Policy{Floor: 0, Increment: 10 * time.Millisecond, Ceiling: 50 * time.Millisecond}

type fixture struct {
	sup     *Supervisor
	hub     *fakeHub
	tokens  *stubTokens
	metrics *Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	f := &fixture{hub: newFakeHub(), tokens: &stubTokens{}, metrics: m}
	base := []Option{
		WithPolicy(fastPolicy),
		WithConnFactory(f.hub.factory),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(m),
	}
	f.sup, err = New(f.tokens, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { f.sup.Close() })
	return f
}

// nextConn waits for the next successfully opened session.
func (f *fixture) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-f.hub.opened:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no session opened")
		return nil
	}
}

func (f *fixture) waitConnected(t *testing.T) {
	t.Helper()
	require.Eventually(t, f.sup.IsConnected, 2*time.Second, 5*time.Millisecond)
}

func (s *sink) next(t *testing.T) received {
	t.Helper()
	select {
	case r := <-s.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
		return received{}
	}
}

func (s *sink) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case r := <-s.ch:
		t.Fatalf("unexpected callback: %+v", r)
	case <-time.After(wait):
	}
}

func waitSubscribes(t *testing.T, c *fakeConn, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return slices.Equal(c.subscribes(), want)
	}, 2*time.Second, 5*time.Millisecond, "subscribes: got %v, want %v", c.subscribes(), want)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&stubTokens{}, WithPolicy(backoff.Policy{Floor: time.Minute, Ceiling: time.Second}))
	assert.ErrorIs(t, err, backoff.ErrCeilingBelowFloor)

	sup, err := New(&stubTokens{})
	require.NoError(t, err)
	defer sup.Close()

	assert.Equal(t, StateDisconnected, sup.State())
	assert.False(t, sup.IsConnected())
	assert.Equal(t, 0, sup.Failures())
}

func TestSubscribeValidation(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.sup.Subscribe("", newSink().callback), ErrEmptyDeviceID)
	assert.ErrorIs(t, f.sup.Subscribe("EH1", nil), ErrNilCallback)
	assert.Empty(t, f.sup.Subscriptions())

	// Nothing starts without a subscription.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.hub.attemptTimes())
}

func TestSubscribeDeliversEvent(t *testing.T) {
	f := newFixture(t)
	s := newSink()

	require.NoError(t, f.sup.Subscribe("EH1", s.callback))

	conn := f.nextConn(t)
	f.waitConnected(t)
	waitSubscribes(t, conn, "EH1")

	conn.deliver(wire.Event{DeviceID: "EH1", DataType: wire.DataTypeInteger, ID: 114, Value: "16"})

	got := s.next(t)
	assert.Equal(t, received{DeviceID: "EH1", DataType: wire.DataTypeInteger, FieldID: 114, Value: 16}, got)
}

func TestMalformedEventDoesNotDropBatch(t *testing.T) {
	f := newFixture(t)
	eh1, eh2 := newSink(), newSink()

	require.NoError(t, f.sup.Subscribe("EH1", eh1.callback))
	require.NoError(t, f.sup.Subscribe("EH2", eh2.callback))
	conn := f.nextConn(t)
	f.waitConnected(t)
	require.Eventually(t, func() bool {
		sent := conn.subscribes()
		return slices.Contains(sent, "EH1") && slices.Contains(sent, "EH2")
	}, 2*time.Second, 5*time.Millisecond)

	conn.deliverRaw(`[` +
		`{"mid":"EH1","dataType":4,"id":114,"value":"16"},` +
		`{"mid":"","dataType":4,"id":115,"value":"1"},` +
		`{"mid":"EH2","dataType":2,"id":31,"value":"1"}]`)

	assert.Equal(t, received{DeviceID: "EH1", DataType: wire.DataTypeInteger, FieldID: 114, Value: 16}, eh1.next(t))
	assert.Equal(t, received{DeviceID: "EH2", DataType: wire.DataTypeBoolean, FieldID: 31, Value: true}, eh2.next(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.events.WithLabelValues("malformed")))
	assert.True(t, f.sup.IsConnected())
}

func TestSubscribeIsNonBlocking(t *testing.T) {
	f := newFixture(t)
	f.hub.block = true

	start := time.Now()
	require.NoError(t, f.sup.Subscribe("EH1", newSink().callback))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool { return f.sup.State() == StateConnecting }, time.Second, 5*time.Millisecond)
}

func TestSubscribeWhileConnectedSendsOneCommand(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sup.Subscribe("EH1", newSink().callback))
	conn := f.nextConn(t)
	f.waitConnected(t)
	waitSubscribes(t, conn, "EH1")

	require.NoError(t, f.sup.Subscribe("EH2", newSink().callback))
	assert.Equal(t, []string{"EH1", "EH2"}, conn.subscribes())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.subscriptions))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.subscribesSent))
}

func TestSubscribeTwiceKeepsOneEntry(t *testing.T) {
	f := newFixture(t)
	first, second := newSink(), newSink()

	require.NoError(t, f.sup.Subscribe("EH1", first.callback))
	require.NoError(t, f.sup.Subscribe("EH1", second.callback))
	assert.Equal(t, []string{"EH1"}, f.sup.Subscriptions())

	conn := f.nextConn(t)
	f.waitConnected(t)
	waitSubscribes(t, conn, "EH1")

	conn.deliver(wire.Event{DeviceID: "EH1", DataType: wire.DataTypeString, ID: 1, Value: "x"})
	assert.Equal(t, "x", second.next(t).Value)
	first.none(t, 50*time.Millisecond)
}

func TestResubscribeAfterDrop(t *testing.T) {
	f := newFixture(t)
	s := newSink()

	require.NoError(t, f.sup.Subscribe("EH1", s.callback))
	require.NoError(t, f.sup.Subscribe("EH2", s.callback))
	conn := f.nextConn(t)
	f.waitConnected(t)
	waitSubscribes(t, conn, "EH1", "EH2")

	// Removed before the drop: must not come back.
	require.NoError(t, f.sup.Unsubscribe("EH2"))
	require.NoError(t, f.sup.Subscribe("EH3", s.callback))

	conn.drop()

	next := f.nextConn(t)
	f.waitConnected(t)
	waitSubscribes(t, next, "EH1", "EH3")

	// Exactly one command per device, and none later.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"EH1", "EH3"}, next.subscribes())
	assert.Equal(t, 0, f.sup.Failures())
}

func TestReconnectBackoffAfterDrop(t *testing.T) {
	policy := backoff.Policy{Floor: 0, Increment: 60 * time.Millisecond, Ceiling: time.Second}
	f := newFixture(t, WithPolicy(policy))
	s := newSink()

	require.NoError(t, f.sup.Subscribe("EH1", s.callback))
	conn := f.nextConn(t)
	f.waitConnected(t)
	waitSubscribes(t, conn, "EH1")

	for i := range 3 {
		conn.deliver(wire.Event{DeviceID: "EH1", DataType: wire.DataTypeInteger, ID: 114, Value: "16"})
		assert.Equal(t, 114, s.next(t).FieldID, "event %d", i)
	}

	f.hub.failNext(netErr(), netErr())
	before := len(f.hub.attemptTimes())
	dropped := time.Now()
	conn.drop()

	next := f.nextConn(t)
	f.waitConnected(t)
	waitSubscribes(t, next, "EH1")

	attempts := f.hub.attemptTimes()[before:]
	require.Len(t, attempts, 3)

	first := attempts[0].Sub(dropped)
	second := attempts[1].Sub(attempts[0])
	third := attempts[2].Sub(attempts[1])

	assert.Less(t, first, 50*time.Millisecond, "floor delay after drop")
	assert.GreaterOrEqual(t, second, policy.Delay(1))
	assert.GreaterOrEqual(t, third, policy.Delay(2))
	assert.Greater(t, second, first)
	assert.Greater(t, third, first)
	assert.Equal(t, 0, f.sup.Failures())

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.connectFailures.WithLabelValues("network")))
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.connectAttempts))
}

func TestFailuresCountUntilSuccess(t *testing.T) {
	policy := backoff.Policy{Floor: 0, Increment: 40 * time.Millisecond, Ceiling: time.Second}
	f := newFixture(t, WithPolicy(policy))
	f.hub.failNext(netErr(), netErr(), netErr())

	require.NoError(t, f.sup.Subscribe("EH1", newSink().callback))

	require.Eventually(t, func() bool { return f.sup.Failures() >= 2 }, time.Second, time.Millisecond)
	assert.False(t, f.sup.IsConnected())

	f.nextConn(t)
	f.waitConnected(t)
	assert.Equal(t, 0, f.sup.Failures())
}

func TestAuthErrorForcesRefresh(t *testing.T) {
	f := newFixture(t)
	f.hub.failNext(authErr())

	require.NoError(t, f.sup.Subscribe("EH1", newSink().callback))
	f.nextConn(t)
	f.waitConnected(t)

	gets, refreshes := f.tokens.counts()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.connectFailures.WithLabelValues("auth")))
}

func TestTokenFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.tokens.errs = []error{token.ErrAuthFailed, errors.New("token endpoint down")}

	require.NoError(t, f.sup.Subscribe("EH1", newSink().callback))
	f.nextConn(t)
	f.waitConnected(t)

	gets, refreshes := f.tokens.counts()
	assert.Equal(t, 2, gets, "first Get and the attempt after the transient failure")
	assert.Equal(t, 1, refreshes, "after the auth failure")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.connectFailures.WithLabelValues("auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.connectFailures.WithLabelValues("token")))
}

func TestDispatchDropsUnroutedEvents(t *testing.T) {
	f := newFixture(t)
	s := newSink()

	require.NoError(t, f.sup.Subscribe("EH1", s.callback))
	conn := f.nextConn(t)
	f.waitConnected(t)

	conn.deliver(
		wire.Event{DeviceID: "OTHER", DataType: wire.DataTypeInteger, ID: 1, Value: "1"},
		wire.Event{DeviceID: "EH1", DataType: wire.DataTypeInteger, ID: 114, Value: "not a number"},
		wire.Event{DeviceID: "EH1", DataType: wire.DataTypeBoolean, ID: 109, Value: "YES"},
	)

	got := s.next(t)
	assert.Equal(t, 109, got.FieldID)
	assert.Equal(t, true, got.Value)
	s.none(t, 30*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.events.WithLabelValues("no_subscriber")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.events.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.events.WithLabelValues("delivered")))
	assert.True(t, f.sup.IsConnected())
}

func TestDispatchPreservesOrder(t *testing.T) {
	f := newFixture(t, WithQueueSize(4))
	s := newSink()

	require.NoError(t, f.sup.Subscribe("EH1", s.callback))
	conn := f.nextConn(t)
	f.waitConnected(t)

	go func() {
		for i := range 50 {
			conn.deliver(wire.Event{DeviceID: "EH1", DataType: wire.DataTypeInteger, ID: i, Value: "0"})
		}
	}()

	for i := range 50 {
		assert.Equal(t, i, s.next(t).FieldID)
	}
}

func TestCallbackPanicDoesNotStopDispatch(t *testing.T) {
	f := newFixture(t)
	s := newSink()

	require.NoError(t, f.sup.Subscribe("BAD", func(string, wire.DataType, int, any) { panic("boom") }))
	require.NoError(t, f.sup.Subscribe("EH1", s.callback))
	conn := f.nextConn(t)
	f.waitConnected(t)

	conn.deliver(
		wire.Event{DeviceID: "BAD", DataType: wire.DataTypeString, ID: 1, Value: "x"},
		wire.Event{DeviceID: "EH1", DataType: wire.DataTypeString, ID: 2, Value: "y"},
	)
	assert.Equal(t, "y", s.next(t).Value)
}

func TestCallbackMaySubscribe(t *testing.T) {
	f := newFixture(t)
	s := newSink()

	var once sync.Once
	require.NoError(t, f.sup.Subscribe("EH1", func(deviceID string, dt wire.DataType, id int, v any) {
		once.Do(func() {
			assert.NoError(t, f.sup.Subscribe("EH2", s.callback))
			assert.NoError(t, f.sup.Unsubscribe("EH1"))
		})
	}))
	conn := f.nextConn(t)
	f.waitConnected(t)

	conn.deliver(wire.Event{DeviceID: "EH1", DataType: wire.DataTypeString, ID: 1, Value: "a"})
	waitSubscribes(t, conn, "EH1", "EH2")

	conn.deliver(wire.Event{DeviceID: "EH2", DataType: wire.DataTypeString, ID: 2, Value: "b"})
	assert.Equal(t, "EH2", s.next(t).DeviceID)
	assert.Equal(t, []string{"EH2"}, f.sup.Subscriptions())
}

func TestUnsubscribeKeepsSession(t *testing.T) {
	f := newFixture(t)
	s := newSink()

	require.NoError(t, f.sup.Subscribe("EH1", s.callback))
	require.NoError(t, f.sup.Subscribe("EH2", s.callback))
	conn := f.nextConn(t)
	f.waitConnected(t)
	waitSubscribes(t, conn, "EH1", "EH2")

	require.NoError(t, f.sup.Unsubscribe("EH1"))
	require.NoError(t, f.sup.Unsubscribe("EH1"))
	require.NoError(t, f.sup.Unsubscribe("UNKNOWN"))

	// No hub command and no reconnect: the hub may keep pushing EH1.
	assert.Equal(t, []string{"EH1", "EH2"}, conn.subscribes())
	assert.True(t, conn.isOpen())

	conn.deliver(
		wire.Event{DeviceID: "EH1", DataType: wire.DataTypeString, ID: 1, Value: "stale"},
		wire.Event{DeviceID: "EH2", DataType: wire.DataTypeString, ID: 1, Value: "live"},
	)
	got := s.next(t)
	assert.Equal(t, "EH2", got.DeviceID)
	s.none(t, 30*time.Millisecond)
	assert.Len(t, f.hub.attemptTimes(), 1)
}

func TestReconnectOnUnsubscribe(t *testing.T) {
	f := newFixture(t, WithReconnectOnUnsubscribe(true))

	require.NoError(t, f.sup.Subscribe("EH1", newSink().callback))
	require.NoError(t, f.sup.Subscribe("EH2", newSink().callback))
	conn := f.nextConn(t)
	f.waitConnected(t)
	waitSubscribes(t, conn, "EH1", "EH2")

	require.NoError(t, f.sup.Unsubscribe("EH1"))

	next := f.nextConn(t)
	waitSubscribes(t, next, "EH2")
	assert.False(t, conn.isOpen())
	assert.Equal(t, 0, f.sup.Failures())

	// Unknown device: nothing to rebuild.
	require.NoError(t, f.sup.Unsubscribe("EH1"))
	select {
	case c := <-f.hub.opened:
		t.Fatalf("unexpected session %s", c.ID())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseIsBounded(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name: "during backoff sleep",
			setup: func(f *fixture) {
				f.hub.failNext(netErr())
			},
		},
		{
			name: "during open",
			setup: func(f *fixture) {
				f.hub.block = true
			},
		},
		{
			name:  "while connected",
			setup: func(*fixture) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithPolicy(backoff.Policy{Floor: 0, Increment: time.Hour, Ceiling: time.Hour}))
			tt.setup(f)

			require.NoError(t, f.sup.Subscribe("EH1", newSink().callback))
			time.Sleep(30 * time.Millisecond)

			done := make(chan struct{})
			go func() {
				f.sup.Close()
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("Close did not return")
			}

			assert.Equal(t, StateClosed, f.sup.State())
			f.hub.mu.Lock()
			conns := f.hub.conns
			f.hub.mu.Unlock()
			for _, c := range conns {
				assert.False(t, c.isOpen(), "session %s left open", c.ID())
			}
		})
	}
}

func TestClosedSupervisor(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sup.Subscribe("EH1", newSink().callback))
	f.nextConn(t)
	f.waitConnected(t)

	require.NoError(t, f.sup.Close())
	require.NoError(t, f.sup.Close())

	assert.ErrorIs(t, f.sup.Subscribe("EH2", newSink().callback), ErrClosed)
	assert.ErrorIs(t, f.sup.Unsubscribe("EH1"), ErrClosed)
	assert.Equal(t, []string{"EH1"}, f.sup.Subscriptions(), "rejected subscribe registers nothing")
	assert.False(t, f.sup.IsConnected())
	assert.Equal(t, float64(StateClosed), testutil.ToFloat64(f.metrics.state))

	// No reconnect after close.
	select {
	case <-f.hub.opened:
		t.Fatal("session opened after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseWithoutSubscribe(t *testing.T) {
	sup, err := New(&stubTokens{})
	require.NoError(t, err)
	require.NoError(t, sup.Close())
	assert.Equal(t, StateClosed, sup.State())
}

func TestStateChangeHook(t *testing.T) {
	f := newFixture(t)
	f.hub.failNext(netErr())

	var (
		mu          sync.Mutex
		transitions []State
	)
	f.sup.OnStateChange(func(oldState, newState State) {
		mu.Lock()
		transitions = append(transitions, newState)
		mu.Unlock()
		_ = f.sup.IsConnected() // must not deadlock
	})

	require.NoError(t, f.sup.Subscribe("EH1", newSink().callback))
	f.nextConn(t)
	f.waitConnected(t)
	require.NoError(t, f.sup.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		StateConnecting, StateDisconnected, StateConnecting, StateConnected, StateClosed,
	}, transitions)
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err, "duplicate registration")

	var m *Metrics
	assert.NotPanics(t, func() {
		m.setState(StateConnected)
		m.attempt()
		m.failure("network")
		m.event("delivered")
		m.setSubscriptions(1)
		m.subscribeSent()
		m.waited(1)
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateClosed, "CLOSED"},
		{State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "network", errorKind(netErr()))
	assert.Equal(t, "auth", errorKind(authErr()))
	assert.Equal(t, "token", errorKind(errors.Join(errToken, context.DeadlineExceeded)))
	assert.Equal(t, "unknown", errorKind(errors.New("x")))

	assert.True(t, isAuth(authErr()))
	assert.True(t, isAuth(token.ErrAuthFailed))
	assert.False(t, isAuth(netErr()))
	assert.False(t, isAuth(nil))
}
