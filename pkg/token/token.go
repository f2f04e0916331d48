package token

import (
	"errors"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// Errors
var (
	// ErrAuthFailed means the credentials or the refresh token were
	// rejected by the token endpoint.
	ErrAuthFailed = errors.New("token: authentication failed")

	// ErrEmptyGrant means the token endpoint answered without an access
	// token.
	ErrEmptyGrant = errors.New("token: grant without access token")
)

// Token is an access/refresh token pair. It is replaced wholesale on every
// acquisition and never mutated.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the token can be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// Grant mirrors the token endpoint response body.
type Grant struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// jwtExpiry reads the exp claim of an access token without verifying its
// signature.
func jwtExpiry(accessToken string) (time.Time, bool) {
	var claims jwt.StandardClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.ExpiresAt, 0), true
}
