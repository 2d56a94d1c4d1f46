// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"net/http"
	"time"

	"cartable/internal/app"
	"cartable/internal/domain"
	"cartable/internal/i18n"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options configures a Server.
type Options struct {
	WebDir       string
	Policy       domain.RoutePolicy
	CookieSecure bool
	// SessionTTL is the session cookie lifetime.
	SessionTTL time.Duration
	LoginRate  rate.Limit
	LoginBurst int
	Logger     zerolog.Logger
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	sessions  *app.SessionService
	profile   *app.ProfileService
	cartable  *app.CartableService
	dashboard *app.DashboardService
	cache     *app.QueryCache
	opts      Options
	logins    *loginLimiter
	now       func() time.Time
}

// New creates a Server wired to the given application services.
func New(ss *app.SessionService, ps *app.ProfileService, cs *app.CartableService, ds *app.DashboardService, cache *app.QueryCache, opts Options) *Server {
	if opts.LoginRate <= 0 {
		opts.LoginRate = rate.Every(2 * time.Second)
	}
	if opts.LoginBurst <= 0 {
		opts.LoginBurst = 5
	}
	return &Server{
		sessions:  ss,
		profile:   ps,
		cartable:  cs,
		dashboard: ds,
		cache:     cache,
		opts:      opts,
		logins:    newLoginLimiter(opts.LoginRate, opts.LoginBurst),
		now:       time.Now,
	}
}

// apiRoutes are the API paths, relative to /api, also used as metric labels.
var apiRoutes = []string{
	"/health",
	"/auth/login",
	"/auth/callback",
	"/auth/logout",
	"/auth/session",
	"/user/profile",
	"/accounts",
	"/payment-orders",
	"/dashboard/transaction-progress",
	"/menu/badges",
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	api.HandleFunc("/auth/login", s.handleLogin)
	api.HandleFunc("/auth/callback", s.handleCallback)
	api.HandleFunc("/auth/logout", s.handleLogout)
	api.HandleFunc("/auth/session", s.handleSession)

	api.HandleFunc("/user/profile", s.handleProfile)

	api.HandleFunc("/accounts", s.handleAccounts)
	api.HandleFunc("/payment-orders", s.handlePaymentOrders)
	api.HandleFunc("/dashboard/transaction-progress", s.handleTransactionProgress)
	api.HandleFunc("/menu/badges", s.handleMenuBadges)

	api.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusNotFound, i18n.MsgNotFound)
	})

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))
	root.Handle("/", spaFromDisk(s.opts.WebDir))

	var h http.Handler = root
	h = s.guard(h)
	h = withLocale(h)
	h = s.withSession(h)
	h = withNoCache(h)
	return s.logging(h)
}
