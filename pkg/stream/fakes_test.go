package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nordicopen/pyeasee/pkg/token"
	"github.com/nordicopen/pyeasee/pkg/transport"
	"github.com/nordicopen/pyeasee/pkg/wire"
)

// stubTokens is a token.Source counting calls. Queued errors are returned
// first, one per call.
type stubTokens struct {
	mu        sync.Mutex
	errs      []error
	gets      int
	refreshes int
	issue     func() string
}

func (s *stubTokens) next() (token.Token, error) {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return token.Token{}, err
	}
	access := "access"
	if s.issue != nil {
		access = s.issue()
	}
	return token.Token{AccessToken: access, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *stubTokens) Get(ctx context.Context) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	return s.next()
}

func (s *stubTokens) Refresh(ctx context.Context) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return s.next()
}

func (s *stubTokens) counts() (gets, refreshes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.refreshes
}

// fakeHub hands out fakeConns. Queued open errors fail attempts in order;
// a nil entry lets an attempt succeed.
type fakeHub struct {
	mu       sync.Mutex
	openErrs []error
	block    bool // Open blocks until ctx is done
	conns    []*fakeConn
	attempts []time.Time
	opened   chan *fakeConn
}

func newFakeHub() *fakeHub {
	return &fakeHub{opened: make(chan *fakeConn, 32)}
}

func (h *fakeHub) factory(cfg transport.Config, handler transport.Handler) transport.HubConnection {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &fakeConn{
		hub:     h,
		handler: handler,
		id:      fmt.Sprintf("fake-%d", len(h.conns)+1),
		done:    make(chan struct{}),
	}
	h.conns = append(h.conns, c)
	return c
}

func (h *fakeHub) failNext(errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openErrs = append(h.openErrs, errs...)
}

func (h *fakeHub) attemptTimes() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Time(nil), h.attempts...)
}

// fakeConn is a scripted hub session.
type fakeConn struct {
	hub     *fakeHub
	handler transport.Handler
	id      string

	mu        sync.Mutex
	open      bool
	token     string
	sent      []string
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

func (c *fakeConn) Open(ctx context.Context, accessToken string) error {
	c.hub.mu.Lock()
	c.hub.attempts = append(c.hub.attempts, time.Now())
	block := c.hub.block
	var err error
	if len(c.hub.openErrs) > 0 {
		err = c.hub.openErrs[0]
		c.hub.openErrs = c.hub.openErrs[1:]
	}
	c.hub.mu.Unlock()

	if block {
		<-ctx.Done()
		err = &transport.Error{Kind: transport.KindNetwork, Op: "open", Err: ctx.Err()}
	}
	if err != nil {
		c.end(err)
		return err
	}

	c.mu.Lock()
	c.open = true
	c.token = accessToken
	c.mu.Unlock()
	c.hub.opened <- c
	return nil
}

func (c *fakeConn) Send(ctx context.Context, msg *wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.ErrNotOpen
	}
	if msg.Target == wire.MethodSubscribe {
		var id string
		if err := json.Unmarshal(msg.Arguments[0], &id); err != nil {
			return err
		}
		c.sent = append(c.sent, id)
	}
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.end(nil)
	return nil
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) end(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.open = false
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// drop ends the session as if the socket died.
func (c *fakeConn) drop() {
	c.end(&transport.Error{Kind: transport.KindNetwork, Op: "read", Err: fmt.Errorf("connection reset")})
}

// deliver feeds a ProductUpdate through the handler, as the read loop would.
func (c *fakeConn) deliver(events ...wire.Event) {
	msg, err := wire.NewProductUpdate(events...)
	if err != nil {
		panic(err)
	}
	c.handler.OnMessage(msg)
}

// deliverRaw feeds a ProductUpdate whose arguments are taken verbatim.
func (c *fakeConn) deliverRaw(args ...string) {
	msg := &wire.Message{Type: wire.MessageTypeInvocation, Target: wire.TargetProductUpdate}
	for _, a := range args {
		msg.Arguments = append(msg.Arguments, json.RawMessage(a))
	}
	c.handler.OnMessage(msg)
}

func (c *fakeConn) subscribes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConn) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// received collects callback invocations.
type received struct {
	DeviceID string
	DataType wire.DataType
	FieldID  int
	Value    any
}

type sink struct {
	ch chan received
}

func newSink() *sink {
	return &sink{ch: make(chan received, 64)}
}

func (s *sink) callback(deviceID string, dataType wire.DataType, fieldID int, value any) {
	s.ch <- received{deviceID, dataType, fieldID, value}
}

func authErr() error {
	return &transport.Error{Kind: transport.KindAuth, Op: "negotiate", Err: fmt.Errorf("status 401")}
}

func netErr() error {
	return &transport.Error{Kind: transport.KindNetwork, Op: "dial", Err: fmt.Errorf("connection refused")}
}
