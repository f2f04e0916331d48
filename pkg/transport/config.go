package transport

import (
	"crypto/tls"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nordicopen/pyeasee/pkg/log"
)

// DefaultHubURL is the Easee charger hub.
const DefaultHubURL = "https://streams.easee.com/hubs/chargers"

// Connection defaults.
const (
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultCloseTimeout     = 2 * time.Second
	DefaultMaxMessageSize   = 1 << 20
)

// Config configures a hub connection.
type Config struct {
	// HubURL is the hub endpoint (http, https, ws or wss).
	HubURL string

	// SkipNegotiation dials the websocket directly without the negotiate
	// round trip.
	SkipNegotiation bool

	// UserAgent is sent on negotiate and upgrade requests.
	UserAgent string

	// HTTPClient is used for negotiation (default: 30 s timeout).
	HTTPClient *http.Client

	// TLSConfig for the websocket dial (nil = system defaults).
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the websocket upgrade and the SignalR
	// handshake separately.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single Send.
	WriteTimeout time.Duration

	// CloseTimeout bounds the websocket close frame on Close.
	CloseTimeout time.Duration

	// MaxMessageSize limits inbound frames.
	MaxMessageSize int64

	// KeepAlive configuration
	KeepAlive KeepAliveConfig

	// Logger for operational messages (default: no-op).
	Logger *zap.Logger

	// ProtocolLogger receives capture events (default: none).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		HubURL:           DefaultHubURL,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		CloseTimeout:     DefaultCloseTimeout,
		MaxMessageSize:   DefaultMaxMessageSize,
		KeepAlive:        DefaultKeepAliveConfig(),
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HubURL == "" {
		c.HubURL = d.HubURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.KeepAlive.PingInterval <= 0 {
		c.KeepAlive.PingInterval = d.KeepAlive.PingInterval
	}
	if c.KeepAlive.ServerTimeout <= 0 {
		c.KeepAlive.ServerTimeout = d.KeepAlive.ServerTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
	return c
}
