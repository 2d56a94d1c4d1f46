package adapthttp

import (
	"net/http"
	"net/url"
	"time"

	"cartable/internal/i18n"

	"github.com/rs/zerolog/hlog"
)

const (
	sessionCookie = "cartable_session"
	loginCookie   = "cartable_login"

	loginCookiePath = "/api/auth"
	authErrorPath   = "/auth/error"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !s.logins.Allow(clientIP(r), s.now()) {
		hlog.FromRequest(r).Warn().Str("ip", clientIP(r)).Msg("login rate limited")
		w.Header().Set("Retry-After", "1")
		writeMessage(w, r, http.StatusTooManyRequests, i18n.MsgRateLimited)
		return
	}

	callback := r.URL.Query().Get(s.opts.Policy.CallbackParam)
	authURL, sealed, err := s.sessions.BeginLogin(callback)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("begin login")
		writeMessage(w, r, http.StatusInternalServerError, i18n.MsgInternal)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     loginCookie,
		Value:    sealed,
		Path:     loginCookiePath,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode, // Lax required for cross-site redirect returns
		MaxAge:   600,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	s.clearCookie(w, loginCookie, loginCookiePath)

	if idpErr := q.Get("error"); idpErr != "" {
		hlog.FromRequest(r).Warn().Str("error", idpErr).Str("description", q.Get("error_description")).Msg("identity server rejected login")
		http.Redirect(w, r, authErrorPath+"?error="+url.QueryEscape(idpErr), http.StatusFound)
		return
	}

	var sealed string
	if c, err := r.Cookie(loginCookie); err == nil {
		sealed = c.Value
	}

	id, callback, err := s.sessions.CompleteLogin(r.Context(), sealed, q.Get("state"), q.Get("code"))
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("login failed")
		http.Redirect(w, r, authErrorPath+"?error=login_failed", http.StatusFound)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.opts.SessionTTL / time.Second),
	})
	http.Redirect(w, r, callback, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	if sess := sessionFrom(r.Context()); sess != nil {
		s.cache.Forget(sess.AccessToken)
	}

	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	endURL, err := s.sessions.Logout(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("logout")
	}
	s.clearCookie(w, sessionCookie, "/")

	redirect := endURL
	if redirect == "" {
		redirect = s.opts.Policy.LoginPath
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "redirect": redirect})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	sess := sessionFrom(r.Context())
	body := map[string]any{
		"authenticated": sess.Authenticated(s.now()),
		"username":      nil,
		"expiresAt":     nil,
		"locale":        i18n.FromContext(r.Context()).String(),
	}
	if sess != nil {
		if sess.Username != "" {
			body["username"] = sess.Username
		}
		switch {
		case !sess.ExpiresAt.IsZero():
			body["expiresAt"] = sess.ExpiresAt.UTC().Format(time.RFC3339)
		case !sess.Expiry.IsZero():
			body["expiresAt"] = sess.Expiry.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		MaxAge:   -1,
	})
}
