// Package config loads the client configuration from a file and the
// environment.
//
// Keys use snake_case and nest with dots. Every key can be overridden by
// an environment variable with the EASEE_ prefix and dots replaced by
// underscores, e.g. EASEE_PASSWORD or EASEE_BACKOFF_CEILING. Durations are
// written as strings ("30s").
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nordicopen/pyeasee/pkg/backoff"
	"github.com/nordicopen/pyeasee/pkg/rest"
	"github.com/nordicopen/pyeasee/pkg/transport"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "EASEE"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete client configuration.
type Config struct {
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`

	// UserAgent is appended to the default User-Agent.
	UserAgent string `mapstructure:"user_agent"`

	// TokenCache is a file the token is cached in between runs.
	TokenCache string `mapstructure:"token_cache"`

	// Devices to subscribe to. Empty means every charger of the account.
	Devices []string `mapstructure:"devices" validate:"dive,required"`

	REST    RESTConfig     `mapstructure:"rest"`
	Stream  StreamConfig   `mapstructure:"stream"`
	Backoff backoff.Policy `mapstructure:"backoff"`
	Log     LogConfig      `mapstructure:"log"`
	MQTT    MQTTConfig     `mapstructure:"mqtt"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Tracing TracingConfig  `mapstructure:"tracing"`
	Capture CaptureConfig  `mapstructure:"capture"`
}

// RESTConfig configures the REST client.
type RESTConfig struct {
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RateLimit     int           `mapstructure:"rate_limit"`
	RatePeriod    time.Duration `mapstructure:"rate_period" validate:"gt=0"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gt=0"`
}

// StreamConfig configures the hub connection.
type StreamConfig struct {
	HubURL          string                    `mapstructure:"hub_url" validate:"required,url"`
	SkipNegotiation bool                      `mapstructure:"skip_negotiation"`
	KeepAlive       transport.KeepAliveConfig `mapstructure:"keep_alive"`
	QueueSize       int                       `mapstructure:"queue_size" validate:"gte=1"`

	// ReconnectOnUnsubscribe rebuilds the session after an unsubscribe so
	// the hub stops pushing the removed device.
	ReconnectOnUnsubscribe bool `mapstructure:"reconnect_on_unsubscribe"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn warning error dpanic panic fatal"`
	Development bool   `mapstructure:"development"`
	JSON        bool   `mapstructure:"json"`
}

// MQTTConfig configures the optional MQTT bridge. BrokerURL and
// TopicPrefix are required when Enabled.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BrokerURL   string `mapstructure:"broker_url" validate:"omitempty,url"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos" validate:"lte=2"`
	Retain      bool   `mapstructure:"retain"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen address, e.g. ":9090". Empty disables the endpoint.
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
	Path   string `mapstructure:"path" validate:"startswith=/"`
}

// TracingConfig configures the Jaeger tracer for REST spans. ServiceName
// is required when Enabled.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// CaptureConfig configures the protocol capture file.
type CaptureConfig struct {
	// File receives CBOR capture events. Empty disables capture.
	File string `mapstructure:"file"`
}

// Default returns the configuration used for unset keys.
func Default() Config {
	return Config{
		REST: RESTConfig{
			BaseURL:       rest.DefaultBaseURL,
			Timeout:       rest.DefaultTimeout,
			RateLimit:     rest.DefaultRateLimit,
			RatePeriod:    rest.DefaultRatePeriod,
			MaxRetries:    rest.DefaultMaxRetries,
			RetryInterval: rest.DefaultRetryInterval,
		},
		Stream: StreamConfig{
			HubURL:    transport.DefaultHubURL,
			KeepAlive: transport.DefaultKeepAliveConfig(),
			QueueSize: 256,
		},
		Backoff: backoff.DefaultPolicy(),
		Log:     LogConfig{Level: "info"},
		MQTT:    MQTTConfig{TopicPrefix: "easee", QoS: 1, Retain: true},
		Metrics: MetricsConfig{Path: "/metrics"},
		Tracing: TracingConfig{ServiceName: "easee-stream"},
	}
}

// Load reads and validates the configuration. See Read.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads path (yaml, json or toml by extension) and applies
// environment overrides without validating. An empty path loads defaults
// and environment only.
func Read(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	// A comma separated EASEE_DEVICES arrives as one element.
	cfg.Devices = SplitList(cfg.Devices...)
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are missing from the file.
func setDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"username":    "",
		"password":    "",
		"user_agent":  "",
		"token_cache": "",
		"devices":     []string{},

		"rest.base_url":       d.REST.BaseURL,
		"rest.timeout":        d.REST.Timeout,
		"rest.rate_limit":     d.REST.RateLimit,
		"rest.rate_period":    d.REST.RatePeriod,
		"rest.max_retries":    d.REST.MaxRetries,
		"rest.retry_interval": d.REST.RetryInterval,

		"stream.hub_url":                   d.Stream.HubURL,
		"stream.skip_negotiation":          false,
		"stream.keep_alive.ping_interval":  d.Stream.KeepAlive.PingInterval,
		"stream.keep_alive.server_timeout": d.Stream.KeepAlive.ServerTimeout,
		"stream.queue_size":                d.Stream.QueueSize,
		"stream.reconnect_on_unsubscribe":  false,

		"backoff.floor":     d.Backoff.Floor,
		"backoff.increment": d.Backoff.Increment,
		"backoff.ceiling":   d.Backoff.Ceiling,

		"log.level":       d.Log.Level,
		"log.development": false,
		"log.json":        false,

		"mqtt.enabled":      false,
		"mqtt.broker_url":   "",
		"mqtt.client_id":    "",
		"mqtt.username":     "",
		"mqtt.password":     "",
		"mqtt.topic_prefix": d.MQTT.TopicPrefix,
		"mqtt.qos":          d.MQTT.QoS,
		"mqtt.retain":       d.MQTT.Retain,

		"metrics.listen": "",
		"metrics.path":   d.Metrics.Path,

		"tracing.enabled":      false,
		"tracing.service_name": d.Tracing.ServiceName,

		"capture.file": "",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// SplitList splits comma separated items and drops empty ones.
func SplitList(in ...string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
