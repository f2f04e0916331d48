package rest

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the Easee API.
const DefaultBaseURL = "https://api.easee.com"

// Defaults.
const (
	// DefaultRateLimit requests per DefaultRatePeriod is the API's general
	// limit.
	DefaultRateLimit  = 500
	DefaultRatePeriod = 300 * time.Second

	DefaultMaxRetries    = 3
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultTimeout       = 30 * time.Second
)

// Config configures Client and Authenticator.
type Config struct {
	// BaseURL of the API, without trailing slash.
	BaseURL string

	// UserAgent header value.
	UserAgent string

	// HTTPClient (default: DefaultTimeout).
	HTTPClient *http.Client

	// RateLimit requests per RatePeriod. Zero RateLimit uses the default;
	// a negative value disables throttling.
	RateLimit  int
	RatePeriod time.Duration

	// MaxRetries for transient failures (429, 5xx, transport). Zero uses
	// the default; negative disables retries.
	MaxRetries int

	// RetryInterval is the first retry delay; later delays grow
	// exponentially.
	RetryInterval time.Duration

	// Logger (default: no-op).
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RatePeriod <= 0 {
		c.RatePeriod = DefaultRatePeriod
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
