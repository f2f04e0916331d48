package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otlog "github.com/opentracing/opentracing-go/log"
	"go.uber.org/zap"
)

const maxResponseBody = 4 << 20

// requester performs one JSON round trip, with tracing and logging.
type requester struct {
	baseURL   string
	userAgent string
	http      *http.Client
	logger    *zap.Logger
	now       func() time.Time
}

func newRequester(cfg Config, name string) requester {
	return requester{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger.Named(name),
		now:       time.Now,
	}
}

// roundTrip sends payload (already JSON, may be nil) and decodes a
// successful response into out (may be nil). Error statuses yield a
// *StatusError, unreachable servers an error wrapping ErrTransport.
func (r requester) roundTrip(ctx context.Context, method, path, bearer string, payload []byte, out any) (err error) {
	url := r.baseURL + path

	span, ctx := opentracing.StartSpanFromContext(ctx, "easee "+method+" "+path)
	defer span.Finish()
	ext.SpanKindRPCClient.Set(span)
	ext.HTTPMethod.Set(span, method)
	ext.HTTPUrl.Set(span, url)

	logger := r.logger.With(zap.String("method", method), zap.String("path", path))

	defer func() {
		if err != nil {
			ext.Error.Set(span, true)
			span.LogFields(otlog.String("event", "error"), otlog.Error(err))
		}
	}()

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	_ = opentracing.GlobalTracer().Inject(
		span.Context(),
		opentracing.HTTPHeaders,
		opentracing.HTTPHeadersCarrier(req.Header))

	start := r.now()
	resp, err := r.http.Do(req)
	if err != nil {
		logger.Debug("request failed", zap.Error(err))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	ext.HTTPStatusCode.Set(span, uint16(resp.StatusCode))
	logger = logger.With(zap.Int("status", resp.StatusCode), zap.Duration("took", r.now().Sub(start)))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		logger.Debug("read response failed", zap.Error(err))
		return fmt.Errorf("%w: %s %s: read body: %w", ErrTransport, method, path, err)
	}

	if resp.StatusCode >= 400 {
		serr := newStatusError(method, path, resp, respBody, r.now())
		if serr.Code >= 500 {
			logger.Warn("server failure", zap.String("body", serr.Body))
		} else {
			logger.Debug("error response", zap.String("body", serr.Body))
		}
		return serr
	}
	logger.Debug("request done")

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrDecode, method, path, err)
	}
	return nil
}
