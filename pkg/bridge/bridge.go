// Package bridge republishes stream events to an MQTT broker.
//
// Each event becomes one retained message on
//
//	{prefix}/{deviceID}/{fieldID}
//
// with a JSON payload {"dataType":3,"id":114,"value":16.5,"ts":"..."}.
package bridge

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nordicopen/pyeasee/pkg/subscription"
	"github.com/nordicopen/pyeasee/pkg/wire"
)

// DefaultPublishTimeout bounds one publish.
const DefaultPublishTimeout = 5 * time.Second

// Publisher sends one MQTT message.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// Message is the published payload.
type Message struct {
	DataType  wire.DataType `json:"dataType"`
	ID        int           `json:"id"`
	Value     any           `json:"value"`
	Timestamp time.Time     `json:"ts"`
}

// Stats counts bridge activity.
type Stats struct {
	Published uint64
	Failed    uint64
}

// Bridge turns subscription callbacks into MQTT publishes.
type Bridge struct {
	pub     Publisher
	prefix  string
	retain  bool
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	published atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPrefix sets the topic prefix (default "easee").
func WithPrefix(prefix string) Option {
	return func(b *Bridge) { b.prefix = strings.Trim(prefix, "/") }
}

// WithRetain sets the retain flag (default true).
func WithRetain(retain bool) Option {
	return func(b *Bridge) { b.retain = retain }
}

// WithPublishTimeout bounds each publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New creates a bridge publishing through pub.
func New(pub Publisher, opts ...Option) *Bridge {
	b := &Bridge{
		pub:     pub,
		prefix:  "easee",
		retain:  true,
		timeout: DefaultPublishTimeout,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("bridge")
	return b
}

// Topic returns the topic an event is published on.
func (b *Bridge) Topic(deviceID string, fieldID int) string {
	topic := deviceID + "/" + strconv.Itoa(fieldID)
	if b.prefix == "" {
		return topic
	}
	return b.prefix + "/" + topic
}

// Callback returns a subscription callback that publishes every event.
// Failures are logged and counted.
func (b *Bridge) Callback() subscription.Callback {
	return func(deviceID string, dataType wire.DataType, fieldID int, value any) {
		b.publish(deviceID, dataType, fieldID, value)
	}
}

// Stats returns the counters.
func (b *Bridge) Stats() Stats {
	return Stats{Published: b.published.Load(), Failed: b.failed.Load()}
}

func (b *Bridge) publish(deviceID string, dataType wire.DataType, fieldID int, value any) {
	topic := b.Topic(deviceID, fieldID)
	logger := b.logger.With(zap.String("topic", topic))

	payload, err := json.Marshal(Message{
		DataType:  dataType,
		ID:        fieldID,
		Value:     value,
		Timestamp: b.now().UTC(),
	})
	if err != nil {
		b.failed.Add(1)
		logger.Warn("encode event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.pub.Publish(ctx, topic, payload, b.retain); err != nil {
		b.failed.Add(1)
		logger.Warn("publish failed", zap.Error(err))
		return
	}
	b.published.Add(1)
	logger.Debug("published", zap.ByteString("payload", payload))
}
