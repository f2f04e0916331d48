package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/nordicopen/pyeasee/pkg/token"
)

// Account endpoints.
const (
	LoginPath   = "/api/accounts/login"
	RefreshPath = "/api/accounts/refresh_token"
)

type loginRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type refreshRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Authenticator exchanges account credentials for tokens. It is not
// throttled: token calls are rare and must not queue behind API traffic.
type Authenticator struct {
	req      requester
	username string
	password string
}

// NewAuthenticator creates an authenticator for one account.
func NewAuthenticator(cfg Config, username, password string) *Authenticator {
	cfg = cfg.withDefaults()
	return &Authenticator{
		req:      newRequester(cfg, "auth"),
		username: username,
		password: password,
	}
}

// Login implements token.Authenticator.
func (a *Authenticator) Login(ctx context.Context) (token.Grant, error) {
	a.req.logger.Debug("logging in", zap.String("user", a.username))
	return a.grant(ctx, LoginPath, loginRequest{UserName: a.username, Password: a.password})
}

// Refresh implements token.Authenticator.
func (a *Authenticator) Refresh(ctx context.Context, current token.Token) (token.Grant, error) {
	if current.RefreshToken == "" {
		return token.Grant{}, fmt.Errorf("%w: no refresh token", token.ErrAuthFailed)
	}
	a.req.logger.Debug("refreshing access token")
	return a.grant(ctx, RefreshPath, refreshRequest{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
	})
}

func (a *Authenticator) grant(ctx context.Context, path string, body any) (token.Grant, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return token.Grant{}, fmt.Errorf("rest: encode %s: %w", path, err)
	}

	var g token.Grant
	err = a.req.roundTrip(ctx, http.MethodPost, path, "", payload, &g)

	var serr *StatusError
	if errors.As(err, &serr) && (serr.Code == http.StatusBadRequest || serr.Code == http.StatusUnauthorized) {
		return token.Grant{}, fmt.Errorf("%w: %w", token.ErrAuthFailed, serr)
	}
	if err != nil {
		return token.Grant{}, err
	}
	return g, nil
}

// Compile-time interface satisfaction check.
var _ token.Authenticator = (*Authenticator)(nil)
