package stream

import (
	"go.uber.org/zap"

	"github.com/nordicopen/pyeasee/pkg/backoff"
	"github.com/nordicopen/pyeasee/pkg/log"
	"github.com/nordicopen/pyeasee/pkg/transport"
)

// DefaultQueueSize is the capacity of the inbound event queue.
const DefaultQueueSize = 256

// ConnFactory creates one hub session. The supervisor calls it once per
// connection attempt.
type ConnFactory func(cfg transport.Config, h transport.Handler) transport.HubConnection

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPolicy sets the reconnect backoff policy.
func WithPolicy(p backoff.Policy) Option {
	return func(s *Supervisor) { s.policy = p }
}

// WithLogger sets the logger. It is also handed to the transport unless
// the transport config carries its own.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.baseLogger = l }
}

// WithMetrics records supervisor metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithProtocolLogger captures supervisor state changes and every session's
// traffic.
func WithProtocolLogger(l log.Logger) Option {
	return func(s *Supervisor) { s.plog = l }
}

// WithQueueSize sets the inbound event queue capacity. When the queue is
// full the transport read loop waits for the dispatcher.
func WithQueueSize(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithConnFactory replaces transport.NewConnection.
func WithConnFactory(f ConnFactory) Option {
	return func(s *Supervisor) { s.newConn = f }
}

// WithTransportConfig sets the per-session transport configuration.
func WithTransportConfig(cfg transport.Config) Option {
	return func(s *Supervisor) { s.transportConfig = cfg }
}

// WithReconnectOnUnsubscribe makes Unsubscribe rebuild the hub session so
// the hub stops streaming the removed device.
func WithReconnectOnUnsubscribe(enabled bool) Option {
	return func(s *Supervisor) { s.reconnectOnUnsubscribe = enabled }
}

func newTransportConnection(cfg transport.Config, h transport.Handler) transport.HubConnection {
	return transport.NewConnection(cfg, h)
}
