package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nordicopen/pyeasee/pkg/token"
)

// Client sends authorised requests to the API. It is safe for concurrent
// use.
type Client struct {
	req     requester
	tokens  token.Source
	limiter *rate.Limiter

	maxRetries    int
	retryInterval time.Duration
}

// NewClient creates a client drawing tokens from tokens.
func NewClient(tokens token.Source, cfg Config) *Client {
	cfg = cfg.withDefaults()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RatePeriod/time.Duration(cfg.RateLimit)), cfg.RateLimit)
	}

	return &Client{
		req:           newRequester(cfg, "rest"),
		tokens:        tokens,
		limiter:       limiter,
		maxRetries:    max(cfg.MaxRetries, 0),
		retryInterval: cfg.RetryInterval,
	}
}

// Get decodes the response of GET path into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post sends in as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// Put sends in as JSON and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPut, path, in, out)
}

// Delete sends DELETE path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}

// Do sends one request, retrying transient failures. in and out may be
// nil. Error statuses are returned as *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("rest: encode %s %s: %w", method, path, err)
		}
	}

	policy := cbackoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.MaxInterval = 30 * time.Second

	notify := func(err error, d time.Duration) {
		c.req.logger.Debug("retrying request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("in", d),
			zap.Error(err))
	}

	operation := func() (struct{}, error) {
		return struct{}{}, c.attempt(ctx, method, path, payload, out)
	}

	_, err := cbackoff.Retry(ctx, operation,
		cbackoff.WithBackOff(policy),
		cbackoff.WithMaxTries(uint(c.maxRetries)+1),
		cbackoff.WithNotify(notify))
	return err
}

// attempt sends the request once, replaying it after a token refresh if
// the API answers 401. Non-transient errors are marked permanent.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	tok, err := c.tokens.Get(ctx)
	if err != nil {
		return cbackoff.Permanent(err)
	}

	err = c.send(ctx, method, path, tok.AccessToken, payload, out)
	if errors.Is(err, token.ErrAuthFailed) {
		c.req.logger.Debug("re-authorizing after 401", zap.String("path", path))
		if tok, err = c.tokens.Refresh(ctx); err != nil {
			return cbackoff.Permanent(err)
		}
		err = c.send(ctx, method, path, tok.AccessToken, payload, out)
	}

	if err == nil || retryable(ctx, err) {
		return err
	}
	return cbackoff.Permanent(err)
}

func (c *Client) send(ctx context.Context, method, path, bearer string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.req.roundTrip(ctx, method, path, bearer, payload, out)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Retryable()
	}
	return errors.Is(err, ErrTransport)
}
