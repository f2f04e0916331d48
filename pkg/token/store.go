package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Default store settings.
const (
	DefaultSafetyMargin   = 60 * time.Second
	DefaultAcquireTimeout = 30 * time.Second
)

// flightKey is the single singleflight key; all acquisitions coalesce.
const flightKey = "token"

// Authenticator talks to the token endpoint.
type Authenticator interface {
	// Login exchanges the configured credentials for a grant.
	Login(ctx context.Context) (Grant, error)

	// Refresh exchanges the current token pair for a new grant.
	Refresh(ctx context.Context, current Token) (Grant, error)
}

// Source hands out access tokens. The stream supervisor and the REST
// client depend on Source rather than on Store.
type Source interface {
	// Get returns a token valid for immediate use.
	Get(ctx context.Context) (Token, error)

	// Refresh replaces the current token, even if it looks valid.
	Refresh(ctx context.Context) (Token, error)
}

// Option configures a Store.
type Option func(*Store)

// WithSafetyMargin sets how long before the server-side expiry a token is
// considered stale.
func WithSafetyMargin(d time.Duration) Option {
	return func(s *Store) { s.margin = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l.Named("token") }
}

// WithCache persists tokens across process runs.
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// WithAcquireTimeout bounds a single shared login/refresh.
func WithAcquireTimeout(d time.Duration) Option {
	return func(s *Store) { s.acquireTimeout = d }
}

// Store owns the current token and coalesces acquisitions.
// It is safe for concurrent use.
type Store struct {
	auth           Authenticator
	cache          Cache
	logger         *zap.Logger
	now            func() time.Time
	margin         time.Duration
	acquireTimeout time.Duration

	group singleflight.Group

	mu     sync.RWMutex
	token  *Token
	seeded bool
}

// NewStore creates a store that acquires tokens through auth.
func NewStore(auth Authenticator, opts ...Option) *Store {
	s := &Store{
		auth:           auth,
		logger:         zap.NewNop(),
		now:            time.Now,
		margin:         DefaultSafetyMargin,
		acquireTimeout: DefaultAcquireTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a token valid for immediate use, acquiring one if needed.
func (s *Store) Get(ctx context.Context) (Token, error) {
	if t, ok := s.current(); ok {
		return t, nil
	}
	return s.acquire(ctx, false)
}

// Refresh acquires a new token even if the current one still looks valid.
// Use after the server rejected the current token.
func (s *Store) Refresh(ctx context.Context) (Token, error) {
	return s.acquire(ctx, true)
}

// Current returns the held token without acquiring. ok is false when no
// token is held.
func (s *Store) Current() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return Token{}, false
	}
	return *s.token, true
}

// Invalidate drops the held token and clears the cache.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.token = nil
	s.seeded = true
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Clear(); err != nil {
			s.logger.Warn("clear token cache", zap.Error(err))
		}
	}
}

func (s *Store) current() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil || !s.token.Valid(s.now()) {
		return Token{}, false
	}
	return *s.token, true
}

func (s *Store) acquire(ctx context.Context, force bool) (Token, error) {
	ch := s.group.DoChan(flightKey, func() (any, error) {
		actx, cancel := context.WithTimeout(context.Background(), s.acquireTimeout)
		defer cancel()
		return s.obtain(actx, force)
	})

	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

// obtain runs inside the single flight.
func (s *Store) obtain(ctx context.Context, force bool) (Token, error) {
	s.seed()

	s.mu.RLock()
	var cur *Token
	if s.token != nil {
		t := *s.token
		cur = &t
	}
	s.mu.RUnlock()

	if !force && cur != nil && cur.Valid(s.now()) {
		return *cur, nil
	}

	if cur != nil && cur.RefreshToken != "" {
		grant, err := s.auth.Refresh(ctx, *cur)
		if err == nil {
			s.logger.Debug("token refreshed")
			return s.install(grant, cur.RefreshToken)
		}
		if !errors.Is(err, ErrAuthFailed) {
			return Token{}, fmt.Errorf("refresh token: %w", err)
		}
		s.logger.Info("refresh rejected, logging in again", zap.Error(err))
	}

	grant, err := s.auth.Login(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("login: %w", err)
	}
	s.logger.Debug("logged in")
	return s.install(grant, "")
}

// install converts grant into the held token. previousRefresh is kept when
// the grant does not carry a new refresh token.
func (s *Store) install(grant Grant, previousRefresh string) (Token, error) {
	if grant.AccessToken == "" {
		return Token{}, ErrEmptyGrant
	}

	now := s.now()
	t := Token{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
	}
	if t.RefreshToken == "" {
		t.RefreshToken = previousRefresh
	}

	switch exp, ok := jwtExpiry(grant.AccessToken); {
	case grant.ExpiresIn > 0:
		t.ExpiresAt = now.Add(time.Duration(grant.ExpiresIn)*time.Second - s.margin)
	case ok:
		t.ExpiresAt = exp.Add(-s.margin)
	default:
		// No expiry known: usable by the caller that asked for it, stale
		// for everyone after.
		t.ExpiresAt = now
		s.logger.Warn("token grant without expiry")
	}

	s.mu.Lock()
	s.token = &t
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Save(t); err != nil {
			s.logger.Warn("save token cache", zap.Error(err))
		}
	}

	s.logger.Debug("token installed", zap.Time("expiresAt", t.ExpiresAt))
	return t, nil
}

// seed loads the cached token once.
func (s *Store) seed() {
	s.mu.Lock()
	if s.seeded {
		s.mu.Unlock()
		return
	}
	s.seeded = true
	s.mu.Unlock()

	if s.cache == nil {
		return
	}

	t, err := s.cache.Load()
	if err != nil {
		s.logger.Warn("load token cache", zap.Error(err))
		return
	}
	if t == nil {
		return
	}

	s.mu.Lock()
	if s.token == nil {
		s.token = t
	}
	s.mu.Unlock()
	s.logger.Debug("token loaded from cache", zap.Time("expiresAt", t.ExpiresAt))
}

// Compile-time interface satisfaction check.
var _ Source = (*Store)(nil)
