package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"

	"github.com/nordicopen/pyeasee/pkg/token"
)

// Status errors. A 401 matches token.ErrAuthFailed.
var (
	ErrBadRequest       = errors.New("rest: bad request")
	ErrForbidden        = errors.New("rest: forbidden")
	ErrNotFound         = errors.New("rest: not found")
	ErrTooManyRequests  = errors.New("rest: too many requests")
	ErrServerFailure    = errors.New("rest: server failure")
	ErrUnexpectedStatus = errors.New("rest: unexpected status")
)

// Request errors.
var (
	// ErrTransport wraps failures to reach the API at all.
	ErrTransport = errors.New("rest: transport failure")

	// ErrDecode means a successful response body did not match the
	// expected shape.
	ErrDecode = errors.New("rest: cannot decode response")
)

// StatusError is an error response from the API.
type StatusError struct {
	Code   int
	Method string
	Path   string

	// Title is the "title" field of a JSON problem body, if any.
	Title string

	// Body is the raw response body, truncated.
	Body string

	// RetryAfter is the server's Retry-After hint (429 only).
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("rest: %s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	if e.Title != "" {
		msg += ": " + e.Title
	}
	return msg
}

// Unwrap returns the sentinel for the status code.
func (e *StatusError) Unwrap() error {
	return sentinelFor(e.Code)
}

// As lets backoff.Retry honour RetryAfter.
func (e *StatusError) As(target any) bool {
	if t, ok := target.(**cbackoff.RetryAfterError); ok && e.RetryAfter > 0 {
		*t = &cbackoff.RetryAfterError{Duration: e.RetryAfter}
		return true
	}
	return false
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func sentinelFor(code int) error {
	switch {
	case code == http.StatusBadRequest:
		return ErrBadRequest
	case code == http.StatusUnauthorized:
		return token.ErrAuthFailed
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrTooManyRequests
	case code >= 500:
		return ErrServerFailure
	default:
		return ErrUnexpectedStatus
	}
}

const maxErrorBody = 2048

func newStatusError(method, path string, resp *http.Response, body []byte, now time.Time) *StatusError {
	e := &StatusError{
		Code:   resp.StatusCode,
		Method: method,
		Path:   path,
	}

	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	e.Body = string(body)

	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var problem struct {
			Title string `json:"title"`
		}
		if json.Unmarshal(body, &problem) == nil {
			e.Title = problem.Title
		}
	}

	if e.Code == http.StatusTooManyRequests {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), now)
	}
	return e
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
