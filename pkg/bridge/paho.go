package bridge

import (
	"context"
	"fmt"
	"net/url"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

// PahoConfig configures a PahoPublisher.
type PahoConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// QoS for every publish (0, 1 or 2).
	QoS byte

	// KeepAlive in seconds (default 20).
	KeepAlive uint16

	Logger *zap.Logger
}

// PahoPublisher publishes through an autopaho connection manager, which
// reconnects to the broker until its context is cancelled.
type PahoPublisher struct {
	cm     *autopaho.ConnectionManager
	qos    byte
	logger *zap.Logger
}

// NewPahoPublisher starts connecting to the broker. It does not wait for
// the connection; see AwaitConnection.
func NewPahoPublisher(ctx context.Context, cfg PahoConfig) (*PahoPublisher, error) {
	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("bridge: broker url: %w", err)
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mqtt").With(zap.String("broker", u.Redacted()))

	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		KeepAlive:                     cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			logger.Info("mqtt connection up")
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt connect failed", zap.Error(err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			OnClientError: func(err error) {
				logger.Warn("mqtt client error", zap.Error(err))
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				logger.Info("mqtt server disconnect", zap.Uint8("reason", d.ReasonCode))
			},
		},
	}
	if cfg.Username != "" {
		cliCfg.ConnectUsername = cfg.Username
		cliCfg.ConnectPassword = []byte(cfg.Password)
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return nil, fmt.Errorf("bridge: connect: %w", err)
	}
	return &PahoPublisher{cm: cm, qos: cfg.QoS, logger: logger}, nil
}

// AwaitConnection blocks until the broker connection is up.
func (p *PahoPublisher) AwaitConnection(ctx context.Context) error {
	return p.cm.AwaitConnection(ctx)
}

// Publish implements Publisher.
func (p *PahoPublisher) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	_, err := p.cm.Publish(ctx, &paho.Publish{
		QoS:     p.qos,
		Topic:   topic,
		Payload: payload,
		Retain:  retain,
	})
	return err
}

// Close disconnects from the broker.
func (p *PahoPublisher) Close(ctx context.Context) error {
	return p.cm.Disconnect(ctx)
}

// Done is closed once the connection manager has stopped.
func (p *PahoPublisher) Done() <-chan struct{} {
	return p.cm.Done()
}

var _ Publisher = (*PahoPublisher)(nil)
