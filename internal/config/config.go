// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"cartable/internal/domain"
	"cartable/internal/secure"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every variable name.
const Prefix = "CARTABLE_"

// Session store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the full service configuration.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	WebDir      string `env:"WEB_DIR" envDefault:"web"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	IssuerURL             string   `env:"OIDC_ISSUER_URL,required"`
	ClientID              string   `env:"OIDC_CLIENT_ID,required"`
	ClientSecret          string   `env:"OIDC_CLIENT_SECRET"`
	RedirectURL           string   `env:"OIDC_REDIRECT_URL,required"`
	Scopes                []string `env:"OIDC_SCOPES" envSeparator:"," envDefault:"openid,profile,email,offline_access"`
	PostLogoutRedirectURL string   `env:"OIDC_POST_LOGOUT_REDIRECT_URL"`

	BackendURL     string        `env:"BACKEND_URL,required"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"15s"`

	SessionStore  string        `env:"SESSION_STORE" envDefault:"memory"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	RedisURL      string        `env:"REDIS_URL"`
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	RefreshSkew   time.Duration `env:"REFRESH_SKEW" envDefault:"30s"`
	PurgeInterval time.Duration `env:"PURGE_INTERVAL" envDefault:"10m"`
	CookieSecure  bool          `env:"COOKIE_SECURE" envDefault:"true"`

	ProfileStaleTime time.Duration `env:"PROFILE_STALE_TIME" envDefault:"30m"`
	QueryCacheSize   int           `env:"QUERY_CACHE_SIZE" envDefault:"1024"`

	LoginRate  float64 `env:"LOGIN_RATE" envDefault:"0.5"`
	LoginBurst int     `env:"LOGIN_BURST" envDefault:"5"`

	PublicPrefixes []string `env:"PUBLIC_PREFIXES" envSeparator:"," envDefault:"/login,/auth/error,/api/auth,/api/health,/_next,/static,/media,/favicon.ico"`
	EntryPaths     []string `env:"ENTRY_PATHS" envSeparator:"," envDefault:"/login,/"`
	LoginPath      string   `env:"LOGIN_PATH" envDefault:"/login"`
	HomePath       string   `env:"HOME_PATH" envDefault:"/dashboard"`
	CallbackParam  string   `env:"CALLBACK_PARAM" envDefault:"callbackUrl"`

	// GeneratedSecret is set when SessionSecret was not configured and an
	// ephemeral one was generated.
	GeneratedSecret bool
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SessionSecret == "" {
		secret, err := secure.RandomToken(32)
		if err != nil {
			return cfg, err
		}
		cfg.SessionSecret = secret
		cfg.GeneratedSecret = true
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c Config) Validate() error {
	var errs []error

	switch c.SessionStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres session store"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session store %q", c.SessionStore))
	}

	for name, raw := range map[string]string{
		"OIDC_ISSUER_URL":   c.IssuerURL,
		"OIDC_REDIRECT_URL": c.RedirectURL,
		"BACKEND_URL":       c.BackendURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL", name))
		}
	}

	if len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.LoginRate <= 0 || c.LoginBurst <= 0 {
		errs = append(errs, errors.New("LOGIN_RATE and LOGIN_BURST must be positive"))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if err := c.RoutePolicy().Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RoutePolicy returns the route guard configuration.
func (c Config) RoutePolicy() domain.RoutePolicy {
	return domain.RoutePolicy{
		PublicPrefixes: c.PublicPrefixes,
		EntryPaths:     c.EntryPaths,
		LoginPath:      c.LoginPath,
		HomePath:       c.HomePath,
		CallbackParam:  c.CallbackParam,
	}
}
