package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive constants.
const (
	// DefaultPingInterval is the default interval between client pings.
	DefaultPingInterval = 15 * time.Second

	// DefaultServerTimeout is how long the connection may go without
	// receiving anything before it is considered dead.
	DefaultServerTimeout = 30 * time.Second
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration `mapstructure:"ping_interval"`

	// ServerTimeout is the maximum silence from the hub.
	ServerTimeout time.Duration `mapstructure:"server_timeout"`
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:  DefaultPingInterval,
		ServerTimeout: DefaultServerTimeout,
	}
}

// KeepAlive sends periodic pings and watches for inbound silence.
type KeepAlive struct {
	config KeepAliveConfig

	// Callbacks
	sendPing  func() error
	onTimeout func()

	// State
	pingsSent    atomic.Uint64
	lastReceived atomic.Int64 // unix nanos

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	timer   *time.Timer
}

// NewKeepAlive creates a new keep-alive manager. onTimeout is called at most
// once, from a timer goroutine.
func NewKeepAlive(config KeepAliveConfig, sendPing func() error, onTimeout func()) *KeepAlive {
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.ServerTimeout <= 0 {
		config.ServerTimeout = DefaultServerTimeout
	}

	return &KeepAlive{
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
	}
}

// Start begins pinging and arms the server timeout.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	ka.lastReceived.Store(time.Now().UnixNano())

	var fired sync.Once
	ka.timer = time.AfterFunc(ka.config.ServerTimeout, func() {
		if !ka.IsRunning() {
			return
		}
		fired.Do(func() {
			if ka.onTimeout != nil {
				ka.onTimeout()
			}
		})
	})
	stopCh := ka.stopCh
	ka.mu.Unlock()

	go ka.loop(ctx, stopCh)
}

// Stop stops pinging and disarms the timeout. It does not wait.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}

	ka.running = false
	close(ka.stopCh)
	if ka.timer != nil {
		ka.timer.Stop()
	}
}

// Touch records inbound traffic and pushes the server timeout back.
func (ka *KeepAlive) Touch() {
	ka.lastReceived.Store(time.Now().UnixNano())

	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.running && ka.timer != nil {
		ka.timer.Reset(ka.config.ServerTimeout)
	}
}

// IsRunning returns true if keep-alive monitoring is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	return KeepAliveStats{
		LastReceived: time.Unix(0, ka.lastReceived.Load()),
		PingsSent:    ka.pingsSent.Load(),
	}
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	LastReceived time.Time
	PingsSent    uint64
}

// loop sends pings until stopped.
func (ka *KeepAlive) loop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			// A failed ping is left to the server timeout.
			if err := ka.sendPing(); err == nil {
				ka.pingsSent.Add(1)
			}
		}
	}
}
