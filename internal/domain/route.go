package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Verdict is the outcome of a route guard decision.
type Verdict int

const (
	Allow Verdict = iota
	RedirectToLogin
	RedirectToHome
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_login"
	case RedirectToHome:
		return "redirect_home"
	default:
		return "unknown"
	}
}

// Decision is a route guard verdict plus the redirect target, if any.
type Decision struct {
	Verdict  Verdict
	Location string
}

// RoutePolicy classifies request paths and decides where a request goes.
// It holds no mutable state and is safe for concurrent use.
type RoutePolicy struct {
	// PublicPrefixes are matched with a plain, case-sensitive prefix test:
	// "/media" also matches "/medias".
	PublicPrefixes []string
	// EntryPaths are matched exactly. Authenticated users are sent home.
	EntryPaths    []string
	LoginPath     string
	HomePath      string
	CallbackParam string
}

// DefaultRoutePolicy returns the canonical cartable policy.
func DefaultRoutePolicy() RoutePolicy {
	return RoutePolicy{
		PublicPrefixes: []string{
			"/login",
			"/auth/error",
			"/api/auth",
			"/api/health",
			"/_next",
			"/static",
			"/media",
			"/favicon.ico",
		},
		EntryPaths:    []string{"/login", "/"},
		LoginPath:     "/login",
		HomePath:      "/dashboard",
		CallbackParam: "callbackUrl",
	}
}

// IsPublic reports whether path starts with any public prefix.
func (p RoutePolicy) IsPublic(path string) bool {
	for _, prefix := range p.PublicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// IsEntry reports whether path is one of the entry pages.
func (p RoutePolicy) IsEntry(path string) bool {
	for _, e := range p.EntryPaths {
		if path == e {
			return true
		}
	}
	return false
}

// Decide returns the guard verdict for a request.
func (p RoutePolicy) Decide(authenticated bool, path string) Decision {
	if authenticated {
		if p.IsEntry(path) {
			return Decision{Verdict: RedirectToHome, Location: p.HomePath}
		}
		return Decision{Verdict: Allow}
	}
	if p.IsPublic(path) {
		return Decision{Verdict: Allow}
	}
	return Decision{Verdict: RedirectToLogin, Location: p.LoginURL(path)}
}

// LoginURL builds the login location carrying callback as a query parameter.
func (p RoutePolicy) LoginURL(callback string) string {
	if callback == "" {
		return p.LoginPath
	}
	return p.LoginPath + "?" + p.CallbackParam + "=" + escapeCallback(callback)
}

// Validate rejects policies that would redirect in a loop.
func (p RoutePolicy) Validate() error {
	if p.LoginPath == "" || p.HomePath == "" {
		return errors.New("route policy: login and home paths are required")
	}
	if p.CallbackParam == "" {
		return errors.New("route policy: callback parameter is required")
	}
	if !p.IsPublic(p.LoginPath) {
		return fmt.Errorf("route policy: login path %q is not public", p.LoginPath)
	}
	if p.IsEntry(p.HomePath) {
		return fmt.Errorf("route policy: home path %q is an entry path", p.HomePath)
	}
	if p.IsPublic(p.HomePath) {
		return fmt.Errorf("route policy: home path %q is public", p.HomePath)
	}
	return nil
}

// SafeCallback returns raw when it is a local absolute path, else fallback.
func SafeCallback(raw, fallback string) string {
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return raw
}

// Slashes stay literal so the callback reads as a path.
func escapeCallback(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "%2F", "/")
}
