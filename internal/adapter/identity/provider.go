// Package identity adapts the remote OIDC Identity Server.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cartable/internal/domain"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Config describes the Identity Server client registration.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// PostLogoutRedirectURL is sent with the end-session request.
	PostLogoutRedirectURL string
}

// Provider implements domain.IdentityProvider with go-oidc and oauth2.
type Provider struct {
	oidc          *oidc.Provider
	verifier      *oidc.IDTokenVerifier
	oauth         oauth2.Config
	endSession    string
	postLogoutURL string
}

var _ domain.IdentityProvider = (*Provider)(nil)

// New runs OIDC discovery against cfg.IssuerURL.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("identity: discovery: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
	}

	var meta struct {
		EndSession string `json:"end_session_endpoint"`
	}
	_ = p.Claims(&meta)

	return &Provider{
		oidc:     p,
		verifier: p.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     p.Endpoint(),
			Scopes:       scopes,
		},
		endSession:    meta.EndSession,
		postLogoutURL: cfg.PostLogoutRedirectURL,
	}, nil
}

// AuthCodeURL returns the Identity Server authorization URL.
func (p *Provider) AuthCodeURL(state, nonce string) string {
	return p.oauth.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange trades an authorization code for tokens and verifies the ID token.
func (p *Provider) Exchange(ctx context.Context, code, nonce string) (*domain.Identity, *domain.Tokens, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, nil, errors.New("identity: no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: verify id_token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, nil, errors.New("identity: id_token nonce mismatch")
	}

	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("identity: parse claims: %w", err)
	}

	id := &domain.Identity{
		Subject:  claims.Sub,
		Username: username(claims.PreferredUsername, claims.Email, claims.Sub),
		Email:    claims.Email,
		Name:     claims.Name,
	}
	return id, p.tokens(token, rawIDToken), nil
}

// Refresh redeems a refresh token for a new token set.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*domain.Tokens, error) {
	if refreshToken == "" {
		return nil, errors.New("identity: no refresh token")
	}
	// An expired token forces the source to hit the token endpoint.
	src := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("identity: refresh: %w", err)
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	t := p.tokens(token, rawIDToken)
	if t.RefreshToken == "" {
		t.RefreshToken = refreshToken
	}
	return t, nil
}

// UserInfo fetches the profile of the access token's subject.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (*domain.Profile, error) {
	info, err := p.oidc.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, classifyUserInfoError(err)
	}

	var claims struct {
		Sub               string   `json:"sub"`
		Name              string   `json:"name"`
		PreferredUsername string   `json:"preferred_username"`
		Email             string   `json:"email"`
		PhoneNumber       string   `json:"phone_number"`
		Roles             []string `json:"role"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("identity: userinfo claims: %w", err)
	}

	username := claims.PreferredUsername
	if username == "" {
		username = info.Email
	}
	return &domain.Profile{
		Subject:  info.Subject,
		Username: username,
		Name:     claims.Name,
		Email:    info.Email,
		Phone:    claims.PhoneNumber,
		Roles:    claims.Roles,
	}, nil
}

// TokenClaims reads the username and exp claims of a JWT access token
// without verifying it. The backend verifies the signature on every call.
func (p *Provider) TokenClaims(accessToken string) (domain.TokenClaims, bool) {
	return TokenClaims(accessToken)
}

// TokenClaims is the package-level form of Provider.TokenClaims. It reports
// false for tokens that are not JWTs.
func TokenClaims(accessToken string) (domain.TokenClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return domain.TokenClaims{}, false
	}
	str := func(name string) string {
		v, _ := claims[name].(string)
		return v
	}

	out := domain.TokenClaims{Username: username(str("preferred_username"), str("email"), str("sub"))}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.Expiry = exp.Time
	}
	return out, true
}

func username(preferred, email, sub string) string {
	switch {
	case preferred != "":
		return preferred
	case email != "":
		return email
	}
	return sub
}

// EndSessionURL returns the RP-initiated logout URL, or "" when the
// Identity Server does not advertise one.
func (p *Provider) EndSessionURL(idTokenHint string) string {
	if p.endSession == "" {
		return ""
	}
	u, err := url.Parse(p.endSession)
	if err != nil {
		return ""
	}
	q := u.Query()
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if p.postLogoutURL != "" {
		q.Set("post_logout_redirect_uri", p.postLogoutURL)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Provider) tokens(token *oauth2.Token, rawIDToken string) *domain.Tokens {
	expiry := token.Expiry
	if expiry.IsZero() {
		if c, ok := TokenClaims(token.AccessToken); ok {
			expiry = c.Expiry
		}
	}
	return &domain.Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
		Expiry:       expiry,
	}
}

// go-oidc reports userinfo failures as "<status>: <body>".
func classifyUserInfoError(err error) error {
	var status int
	if _, scanErr := fmt.Sscanf(err.Error(), "%d", &status); scanErr == nil && status >= 400 {
		return &domain.UpstreamError{Operation: "identity: userinfo", Status: status, Message: err.Error()}
	}
	return fmt.Errorf("identity: userinfo: %w", err)
}
