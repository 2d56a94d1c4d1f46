// Package domain contains the core business entities and interfaces.
package domain

import (
	"context"
	"time"
)

// Session is the authentication state of one browser session or bearer
// request. It is read-only outside the session service.
type Session struct {
	ID           string
	Subject      string
	Username     string
	AccessToken  string
	RefreshToken string
	IDToken      string
	// Expiry is when the access token stops being valid. Zero means unknown.
	Expiry time.Time
	// ExpiresAt bounds the session itself, independent of token refreshes.
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Authenticated reports whether the session carries a usable access token.
func (s *Session) Authenticated(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return s.Expiry.IsZero() || now.Before(s.Expiry)
}

// Tokens is the token set issued by the Identity Server.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// TokenClaims is what can be read from a bearer access token without a
// round trip to the Identity Server. Expiry is zero when the token has no exp.
type TokenClaims struct {
	Username string
	Expiry   time.Time
}

// Identity is the verified subject of a completed login.
type Identity struct {
	Subject  string
	Username string
	Email    string
	Name     string
}

// SessionRepository defines the port for session persistence operations.
// Get returns (nil, nil) when the session does not exist.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	UpdateTokens(ctx context.Context, id string, t Tokens) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// IdentityProvider is the port to the remote Identity Server.
type IdentityProvider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*Identity, *Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
	UserInfo(ctx context.Context, accessToken string) (*Profile, error)
	TokenClaims(accessToken string) (TokenClaims, bool)
	EndSessionURL(idTokenHint string) string
}
