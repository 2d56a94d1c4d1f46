package adapthttp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"cartable/internal/app"
	"cartable/internal/domain"
	"cartable/internal/i18n"
	"cartable/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type contextKey string

const sessionContextKey contextKey = "session"

const requestIDHeader = "X-Request-ID"

// sessionFrom returns the request's session, or nil when anonymous.
func sessionFrom(ctx context.Context) *domain.Session {
	sess, _ := ctx.Value(sessionContextKey).(*domain.Session)
	return sess
}

// logging attaches a request-scoped logger carrying the request id and
// writes one access line per request.
func (s *Server) logging(next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		metrics.ObserveHTTP(r.Method, routeLabel(r.URL.Path), status, d)

		lvl := zerolog.InfoLevel
		if status >= http.StatusInternalServerError {
			lvl = zerolog.ErrorLevel
		}
		hlog.FromRequest(r).WithLevel(lvl).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	})(next)
	h = withRequestID(h)
	return hlog.NewHandler(s.opts.Logger)(h)
}

// withRequestID reuses a well-formed incoming request id or mints one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("request_id", id)
		})
		next.ServeHTTP(w, r)
	})
}

// withSession resolves the caller from a bearer token or the session cookie.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sess *domain.Session

		if token, ok := bearerToken(r); ok {
			sess = s.sessions.FromBearer(token)
		} else if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			resolved, err := s.sessions.Resolve(r.Context(), c.Value)
			switch {
			case err == nil:
				sess = resolved
			case errors.Is(err, app.ErrSessionNotFound), errors.Is(err, app.ErrSessionExpired):
				s.clearCookie(w, sessionCookie, "/")
			default:
				hlog.FromRequest(r).Error().Err(err).Msg("resolve session")
			}
		}

		if sess == nil {
			next.ServeHTTP(w, r)
			return
		}
		if sess.Username != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("username", sess.Username)
			})
		}
		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withLocale resolves the request language and persists an explicit choice.
func withLocale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag, persist := i18n.ResolveTag(r)
		if persist {
			i18n.SetLanguageCookie(w, tag)
		}
		next.ServeHTTP(w, r.WithContext(i18n.WithTag(r.Context(), tag)))
	})
}

// guard applies the route policy. API callers get 401 instead of a login
// redirect.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authenticated := sessionFrom(r.Context()).Authenticated(s.now())
		d := s.opts.Policy.Decide(authenticated, r.URL.Path)
		metrics.ObserveGuard(d.Verdict.String())

		switch d.Verdict {
		case domain.RedirectToLogin:
			if strings.HasPrefix(r.URL.Path, "/api/") {
				writeMessage(w, r, http.StatusUnauthorized, i18n.MsgUnauthorized)
				return
			}
			http.Redirect(w, r, d.Location, http.StatusFound)
		case domain.RedirectToHome:
			http.Redirect(w, r, d.Location, http.StatusFound)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

func routeLabel(p string) string {
	if !strings.HasPrefix(p, "/api/") {
		return "spa"
	}
	rest := strings.TrimPrefix(p, "/api")
	for _, r := range apiRoutes {
		if rest == r {
			return p
		}
	}
	return "/api/other"
}
