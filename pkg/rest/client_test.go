package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordicopen/pyeasee/internal/hubtest"
	"github.com/nordicopen/pyeasee/pkg/token"
)

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// staticSource hands out one token and counts calls.
type staticSource struct {
	tok       token.Token
	err       error
	gets      atomic.Int32
	refreshes atomic.Int32
}

func (s *staticSource) Get(context.Context) (token.Token, error) {
	s.gets.Add(1)
	return s.tok, s.err
}

func (s *staticSource) Refresh(context.Context) (token.Token, error) {
	s.refreshes.Add(1)
	return s.tok, s.err
}

func newHubClient(t *testing.T, hub *hubtest.Server, cfg Config) (*Client, *token.Store) {
	t.Helper()
	store := token.NewStore(NewAuthenticator(testConfig(hub.URL()), "user", "secret"))
	return NewClient(store, cfg), store
}

func TestClientChargers(t *testing.T) {
	hub := hubtest.New(hubtest.Options{
		Chargers: []hubtest.Charger{{ID: "EH000001", Name: "Garage"}, {ID: "EH000002", Name: "Carport"}},
	})
	defer hub.Close()

	client, _ := newHubClient(t, hub, testConfig(hub.URL()))

	chargers, err := client.Chargers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Charger{{ID: "EH000001", Name: "Garage"}, {ID: "EH000002", Name: "Carport"}}, chargers)
}

func TestClientReauthorizesOnce(t *testing.T) {
	hub := hubtest.New(hubtest.Options{})
	defer hub.Close()
	client, store := newHubClient(t, hub, testConfig(hub.URL()))
	ctx := context.Background()

	before, err := store.Get(ctx)
	require.NoError(t, err)

	hub.RevokeTokens()

	_, err = client.Chargers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Refreshes())

	after, ok := store.Current()
	require.True(t, ok)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
}

func TestClientPersistent401(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := &staticSource{tok: token.Token{AccessToken: "stale"}}
	client := NewClient(src, testConfig(srv.URL))

	err := client.Get(context.Background(), "/api/chargers", nil)
	assert.ErrorIs(t, err, token.ErrAuthFailed)

	// One replay after the refresh, no retries beyond that.
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), src.refreshes.Load())
}

func TestClientTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent without token")
	}))
	defer srv.Close()

	boom := errors.New("boom")
	src := &staticSource{err: boom}
	client := NewClient(src, testConfig(srv.URL))

	err := client.Get(context.Background(), "/x", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), src.gets.Load())
}

func TestClientRetries(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		retries  int
		wantErr  error
		wantHits int
	}{
		{"429 then ok", []int{429}, 3, nil, 2},
		{"5xx then ok", []int{502, 503}, 3, nil, 3},
		{"5xx exhausted", []int{500, 500, 500}, 2, ErrServerFailure, 3},
		{"404 not retried", []int{404}, 3, ErrNotFound, 1},
		{"403 not retried", []int{403}, 3, ErrForbidden, 1},
		{"400 not retried", []int{400}, 3, ErrBadRequest, 1},
		{"retries disabled", []int{503}, -1, ErrServerFailure, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(hits.Add(1))
				if n <= len(tt.statuses) {
					if tt.statuses[n-1] == http.StatusTooManyRequests {
						w.Header().Set("Retry-After", "0")
					}
					w.WriteHeader(tt.statuses[n-1])
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer srv.Close()

			cfg := testConfig(srv.URL)
			cfg.MaxRetries = tt.retries
			client := NewClient(&staticSource{tok: token.Token{AccessToken: "a"}}, cfg)

			var out struct {
				OK bool `json:"ok"`
			}
			err := client.Get(context.Background(), "/x", &out)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.True(t, out.OK)
			}
			assert.Equal(t, int32(tt.wantHits), hits.Load())
		})
	}
}

func TestClientRetriesAgainstHub(t *testing.T) {
	hub := hubtest.New(hubtest.Options{Chargers: []hubtest.Charger{{ID: "EH1"}}})
	defer hub.Close()
	client, _ := newHubClient(t, hub, testConfig(hub.URL()))

	hub.QueueStatus(hubtest.ChargersPath, http.StatusTooManyRequests, http.StatusServiceUnavailable)

	chargers, err := client.Chargers(context.Background())
	require.NoError(t, err)
	assert.Len(t, chargers, 1)
}

func TestClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	cfg.MaxRetries = 1
	client := NewClient(&staticSource{tok: token.Token{AccessToken: "a"}}, cfg)

	err := client.Get(context.Background(), "/x", nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClientContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient(&staticSource{tok: token.Token{AccessToken: "a"}}, testConfig(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Get(ctx, "/slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	client := NewClient(&staticSource{tok: token.Token{AccessToken: "a"}}, testConfig(srv.URL))

	var out struct{ ID string }
	err := client.Get(context.Background(), "/x", &out)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestClientMethods(t *testing.T) {
	type call struct {
		method string
		path   string
		auth   string
		body   map[string]any
	}
	calls := make(chan call, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if r.ContentLength > 0 {
			_ = decodeJSON(r, &c.body)
		}
		calls <- c
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(&staticSource{tok: token.Token{AccessToken: "tok"}}, testConfig(srv.URL))
	ctx := context.Background()

	require.NoError(t, client.Post(ctx, "/api/chargers/EH1/commands/pause_charging", map[string]any{"a": 1.0}, nil))
	require.NoError(t, client.Put(ctx, "/api/chargers/EH1", map[string]any{"name": "x"}, nil))
	require.NoError(t, client.Delete(ctx, "/api/chargers/EH1/schedules"))

	want := []call{
		{http.MethodPost, "/api/chargers/EH1/commands/pause_charging", "Bearer tok", map[string]any{"a": 1.0}},
		{http.MethodPut, "/api/chargers/EH1", "Bearer tok", map[string]any{"name": "x"}},
		{http.MethodDelete, "/api/chargers/EH1/schedules", "Bearer tok", nil},
	}
	for _, w := range want {
		assert.Equal(t, w, <-calls)
	}
}

func TestClientThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RateLimit = 2
	cfg.RatePeriod = 200 * time.Millisecond
	client := NewClient(&staticSource{tok: token.Token{AccessToken: "a"}}, cfg)
	ctx := context.Background()

	start := time.Now()
	for range 3 {
		require.NoError(t, client.Get(ctx, "/x", nil))
	}
	// Burst of two, the third waits one interval (100ms).
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestClientTracing(t *testing.T) {
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

	var injected atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := tracer.Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(r.Header)); err == nil {
			injected.Store(true)
		}
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(&staticSource{tok: token.Token{AccessToken: "a"}}, testConfig(srv.URL))
	ctx := context.Background()

	require.NoError(t, client.Get(ctx, "/ok", nil))
	require.Error(t, client.Get(ctx, "/missing", nil))

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.True(t, injected.Load())

	ok := spans[0]
	assert.Equal(t, "easee GET /ok", ok.OperationName)
	assert.Equal(t, "GET", ok.Tag("http.method"))
	assert.Equal(t, uint16(200), ok.Tag("http.status_code"))
	assert.Nil(t, ok.Tag("error"))

	failed := spans[1]
	assert.Equal(t, uint16(404), failed.Tag("http.status_code"))
	assert.Equal(t, true, failed.Tag("error"))
	assert.NotEmpty(t, failed.Logs())
}
