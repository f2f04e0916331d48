package hubtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nordicopen/pyeasee/pkg/wire"
)

// Paths served by the fake.
const (
	LoginPath    = "/api/accounts/login"
	RefreshPath  = "/api/accounts/refresh_token"
	ChargersPath = "/api/chargers"
	HubPath      = "/hubs/chargers"
)

// Charger is one entry of the charger listing.
type Charger struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Options configures a Server.
type Options struct {
	// Users maps user names to passwords. Default: {"user": "secret"}.
	Users map[string]string

	// Chargers is the account's charger listing.
	Chargers []Charger

	// ExpiresIn is the token lifetime reported to clients in seconds.
	// Default: 86400.
	ExpiresIn int

	// PingInterval makes the hub ping every session (0 = never).
	PingInterval time.Duration
}

// Server is a fake Easee cloud.
type Server struct {
	echo *echo.Echo
	srv  *httptest.Server
	opts Options

	mu       sync.Mutex
	access   map[string]bool         // valid access tokens
	refresh  map[string]string       // refresh token -> user
	sessions map[*session]struct{}
	state    map[string][]wire.Event // current state pushed on subscribe
	subs     []string                // every subscribe received, in order

	// Failure injection
	failConnects int
	failStatus   int
	handshakeErr string
	statusFor    map[string][]int // path -> queued statuses

	// Counters
	logins     atomic.Int32
	refreshes  atomic.Int32
	negotiates atomic.Int32
	upgrades   atomic.Int32
}

// New starts a fake cloud on a random local port.
func New(opts Options) *Server {
	if opts.Users == nil {
		opts.Users = map[string]string{"user": "secret"}
	}
	if opts.ExpiresIn == 0 {
		opts.ExpiresIn = 86400
	}

	s := &Server{
		opts:      opts,
		access:    make(map[string]bool),
		refresh:   make(map[string]string),
		sessions:  make(map[*session]struct{}),
		state:     make(map[string][]wire.Event),
		statusFor: make(map[string][]int),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.injectStatus)

	e.POST(LoginPath, s.handleLogin)
	e.POST(RefreshPath, s.handleRefresh)
	e.GET(ChargersPath, s.handleChargers, s.requireBearer)
	e.POST(HubPath+"/negotiate", s.handleNegotiate)
	e.GET(HubPath, s.handleHub)

	s.echo = e
	s.srv = httptest.NewServer(e)
	return s
}

// URL returns the base URL of the fake, e.g. http://127.0.0.1:1234.
func (s *Server) URL() string {
	return s.srv.URL
}

// HubURL returns the hub endpoint.
func (s *Server) HubURL() string {
	return s.srv.URL + HubPath
}

// Echo exposes the router so callers can add routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Close drops every session and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// IssueToken creates a valid access token without a login round trip.
func (s *Server) IssueToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := "at-" + uuid.NewString()
	s.access[tok] = true
	return tok
}

// RevokeTokens invalidates every access token. Refresh tokens stay valid.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]bool)
}

// FailNextConnects makes the next n negotiations answer with status.
func (s *Server) FailNextConnects(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failConnects = n
	s.failStatus = status
}

// SetHandshakeError makes the hub refuse the SignalR handshake with msg.
// An empty msg accepts handshakes again.
func (s *Server) SetHandshakeError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handshakeErr = msg
}

// QueueStatus makes the next requests to path answer with the given
// statuses, one per request, before normal handling resumes.
func (s *Server) QueueStatus(path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFor[path] = append(s.statusFor[path], statuses...)
}

// Logins returns the number of successful logins.
func (s *Server) Logins() int { return int(s.logins.Load()) }

// Refreshes returns the number of successful refreshes.
func (s *Server) Refreshes() int { return int(s.refreshes.Load()) }

// Negotiations returns the number of negotiate requests.
func (s *Server) Negotiations() int { return int(s.negotiates.Load()) }

// Upgrades returns the number of accepted websocket sessions.
func (s *Server) Upgrades() int { return int(s.upgrades.Load()) }

// --- middleware ---

func (s *Server) injectStatus(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		s.mu.Lock()
		queued := s.statusFor[path]
		var status int
		if len(queued) > 0 {
			status = queued[0]
			s.statusFor[path] = queued[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			if status == http.StatusTooManyRequests {
				c.Response().Header().Set("Retry-After", "0")
			}
			return c.JSON(status, map[string]string{"title": http.StatusText(status)})
		}
		return next(c)
	}
}

func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.validBearer(c.Request()) {
			return c.NoContent(http.StatusUnauthorized)
		}
		return next(c)
	}
}

func (s *Server) validBearer(r *http.Request) bool {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access[tok]
}

// --- account endpoints ---

type loginRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type refreshRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type grant struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"title": "invalid body"})
	}
	if pw, ok := s.opts.Users[req.UserName]; !ok || pw != req.Password {
		return c.JSON(http.StatusUnauthorized, map[string]string{"title": "invalid credentials"})
	}
	s.logins.Add(1)
	return c.JSON(http.StatusOK, s.newGrant(req.UserName))
}

func (s *Server) handleRefresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"title": "invalid body"})
	}

	s.mu.Lock()
	user, ok := s.refresh[req.RefreshToken]
	if ok {
		delete(s.refresh, req.RefreshToken)
	}
	s.mu.Unlock()

	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"title": "invalid refresh token"})
	}
	s.refreshes.Add(1)
	return c.JSON(http.StatusOK, s.newGrant(user))
}

func (s *Server) newGrant(user string) grant {
	g := grant{
		AccessToken:  "at-" + uuid.NewString(),
		RefreshToken: "rt-" + uuid.NewString(),
		ExpiresIn:    s.opts.ExpiresIn,
		TokenType:    "Bearer",
	}
	s.mu.Lock()
	s.access[g.AccessToken] = true
	s.refresh[g.RefreshToken] = user
	s.mu.Unlock()
	return g
}

func (s *Server) handleChargers(c echo.Context) error {
	chargers := s.opts.Chargers
	if chargers == nil {
		chargers = []Charger{}
	}
	return c.JSON(http.StatusOK, chargers)
}

// --- negotiate ---

func (s *Server) handleNegotiate(c echo.Context) error {
	s.negotiates.Add(1)

	s.mu.Lock()
	if s.failConnects > 0 {
		s.failConnects--
		status := s.failStatus
		s.mu.Unlock()
		return c.NoContent(status)
	}
	s.mu.Unlock()

	if !s.validBearer(c.Request()) {
		return c.NoContent(http.StatusUnauthorized)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"connectionId":     uuid.NewString(),
		"connectionToken":  uuid.NewString(),
		"negotiateVersion": 1,
		"availableTransports": []map[string]any{
			{"transport": "WebSockets", "transferFormats": []string{"Text", "Binary"}},
		},
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("hubtest.Server(%s)", s.URL())
}
