package hubtest

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nordicopen/pyeasee/pkg/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// session is one connected hub client.
type session struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	devices map[string]bool
	closed  bool
}

func (ss *session) write(m *wire.Message) error {
	data, err := wire.Encode(m)
	if err != nil {
		return err
	}
	return ss.writeRaw(data)
}

func (ss *session) writeRaw(data []byte) error {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	ss.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ss.ws.WriteMessage(websocket.TextMessage, data)
}

func (ss *session) subscribed(deviceID string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.devices[deviceID]
}

func (s *Server) handleHub(c echo.Context) error {
	if !s.validBearer(c.Request()) {
		return c.NoContent(http.StatusUnauthorized)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // Upgrade already replied
	}
	s.upgrades.Add(1)
	defer ws.Close()

	ss := &session{ws: ws, devices: make(map[string]bool)}
	if !s.acceptHandshake(ss) {
		return nil
	}

	s.mu.Lock()
	s.sessions[ss] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, ss)
		s.mu.Unlock()
	}()

	stop := make(chan struct{})
	defer close(stop)
	if s.opts.PingInterval > 0 {
		go s.pingLoop(ss, stop)
	}

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return nil
		}
		msgs, err := wire.DecodeFrame(frame)
		for _, m := range msgs {
			if !s.handleMessage(ss, m) {
				return nil
			}
		}
		if err != nil {
			return nil
		}
	}
}

func (s *Server) acceptHandshake(ss *session) bool {
	ss.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := ss.ws.ReadMessage()
	if err != nil {
		return false
	}
	ss.ws.SetReadDeadline(time.Time{})

	records, err := wire.Split(frame)
	if err != nil || len(records) == 0 {
		return false
	}
	var req wire.HandshakeRequest
	if err := json.Unmarshal(records[0], &req); err != nil {
		return false
	}

	s.mu.Lock()
	refuse := s.handshakeErr
	s.mu.Unlock()
	if refuse == "" && (req.Protocol != wire.ProtocolName || req.Version != wire.ProtocolVersion) {
		refuse = "unsupported protocol"
	}

	resp, _ := json.Marshal(wire.HandshakeResponse{Error: refuse})
	if err := ss.writeRaw(append(resp, wire.RecordSeparator)); err != nil {
		return false
	}
	return refuse == ""
}

// handleMessage processes one client message. It returns false when the
// client closed the session.
func (s *Server) handleMessage(ss *session, m *wire.Message) bool {
	switch m.Type {
	case wire.MessageTypeClose:
		return false
	case wire.MessageTypeInvocation:
	default:
		return true
	}

	if m.Target != wire.MethodSubscribe || len(m.Arguments) == 0 {
		if m.InvocationID != "" {
			_ = ss.write(&wire.Message{
				Type:         wire.MessageTypeCompletion,
				InvocationID: m.InvocationID,
				Error:        "unknown method " + m.Target,
			})
		}
		return true
	}

	var deviceID string
	if err := json.Unmarshal(m.Arguments[0], &deviceID); err != nil {
		return true
	}

	ss.mu.Lock()
	ss.devices[deviceID] = true
	ss.mu.Unlock()

	s.mu.Lock()
	s.subs = append(s.subs, deviceID)
	current := slices.Clone(s.state[deviceID])
	s.mu.Unlock()

	if m.InvocationID != "" {
		_ = ss.write(&wire.Message{Type: wire.MessageTypeCompletion, InvocationID: m.InvocationID})
	}
	if len(current) > 0 {
		if pu, err := wire.NewProductUpdate(current...); err == nil {
			_ = ss.write(pu)
		}
	}
	return true
}

func (s *Server) pingLoop(ss *session, stop <-chan struct{}) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := ss.write(wire.NewPing()); err != nil {
				return
			}
		}
	}
}

// --- test controls ---

func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for ss := range s.sessions {
		out = append(out, ss)
	}
	return out
}

// SetState records the current state of a device. It is sent to every
// later subscriber of the device right after the subscribe completes.
// Events without a device ID get deviceID.
func (s *Server) SetState(deviceID string, events ...wire.Event) {
	events = withDevice(deviceID, events)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[deviceID] = events
}

// State returns the recorded current state of a device.
func (s *Server) State(deviceID string) []wire.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state[deviceID])
}

// withDevice returns a copy of events with empty device IDs set.
func withDevice(deviceID string, events []wire.Event) []wire.Event {
	out := slices.Clone(events)
	for i := range out {
		if out[i].DeviceID == "" {
			out[i].DeviceID = deviceID
		}
	}
	return out
}

// Push sends events to every session subscribed to deviceID and returns
// the number of sessions reached. Events without a device ID get deviceID.
func (s *Server) Push(deviceID string, events ...wire.Event) int {
	events = withDevice(deviceID, events)
	pu, err := wire.NewProductUpdate(events...)
	if err != nil {
		return 0
	}
	n := 0
	for _, ss := range s.snapshot() {
		if ss.subscribed(deviceID) && ss.write(pu) == nil {
			n++
		}
	}
	return n
}

// Broadcast sends events to every session, subscribed or not.
func (s *Server) Broadcast(events ...wire.Event) int {
	pu, err := wire.NewProductUpdate(events...)
	if err != nil {
		return 0
	}
	n := 0
	for _, ss := range s.snapshot() {
		if ss.write(pu) == nil {
			n++
		}
	}
	return n
}

// SendRaw writes data as one frame to every session.
func (s *Server) SendRaw(data []byte) {
	for _, ss := range s.snapshot() {
		_ = ss.writeRaw(data)
	}
}

// DropAll closes every session's socket without a close message.
func (s *Server) DropAll() {
	for _, ss := range s.snapshot() {
		ss.ws.Close()
	}
}

// CloseAll sends a hub Close message carrying errMsg (may be empty) to
// every session, then closes the sockets.
func (s *Server) CloseAll(errMsg string) {
	for _, ss := range s.snapshot() {
		_ = ss.write(&wire.Message{Type: wire.MessageTypeClose, Error: errMsg, AllowReconnect: true})
		ss.ws.Close()
	}
}

// Sessions returns the number of live hub sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Subscriptions returns every device ID subscribed so far, in order,
// including repeats across sessions.
func (s *Server) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.subs)
}

// WaitSubscriptions waits until at least n subscribes were received.
func (s *Server) WaitSubscriptions(n int, timeout time.Duration) bool {
	return s.waitFor(timeout, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.subs) >= n
	})
}

// WaitSessions waits until exactly n sessions are live.
func (s *Server) WaitSessions(n int, timeout time.Duration) bool {
	return s.waitFor(timeout, func() bool { return s.Sessions() == n })
}

func (s *Server) waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
