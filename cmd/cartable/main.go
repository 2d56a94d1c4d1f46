package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartable/internal/adapter/backend"
	adapthttp "cartable/internal/adapter/http"
	"cartable/internal/adapter/identity"
	"cartable/internal/adapter/memory"
	"cartable/internal/adapter/postgres"
	"cartable/internal/adapter/redisstore"
	"cartable/internal/app"
	"cartable/internal/config"
	"cartable/internal/domain"
	"cartable/internal/metrics"
	"cartable/internal/secure"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := newLogger(cfg)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.GeneratedSecret {
		log.Warn().Msg("CARTABLE_SESSION_SECRET is not set; sessions will not survive a restart")
	}

	repo, closeRepo, err := openSessionStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer func() { _ = closeRepo.Close() }()

	idp, err := identity.New(ctx, identity.Config{
		IssuerURL:             cfg.IssuerURL,
		ClientID:              cfg.ClientID,
		ClientSecret:          cfg.ClientSecret,
		RedirectURL:           cfg.RedirectURL,
		Scopes:                cfg.Scopes,
		PostLogoutRedirectURL: cfg.PostLogoutRedirectURL,
	})
	if err != nil {
		return fmt.Errorf("identity server: %w", err)
	}

	sealer, err := secure.NewSealer([]byte(cfg.SessionSecret))
	if err != nil {
		return err
	}

	backendClient := backend.New(cfg.BackendURL, cfg.BackendTimeout, backend.WithObserver(metrics.ObserveUpstream))
	cache := app.NewQueryCache(cfg.QueryCacheSize, map[app.Category]time.Duration{
		app.CategoryFinancial: 0,
		app.CategoryProfile:   cfg.ProfileStaleTime,
	}, sealer.HashID)

	policy := cfg.RoutePolicy()
	sessionSvc := app.NewSessionService(repo, idp, sealer, app.SessionOptions{
		TTL:         cfg.SessionTTL,
		RefreshSkew: cfg.RefreshSkew,
		HomePath:    policy.HomePath,
		Logger:      log.With().Str("component", "session").Logger(),
	})
	profileSvc := app.NewProfileService(idp, cache)
	cartableSvc := app.NewCartableService(backendClient, cache)
	dashboardSvc := app.NewDashboardService(backendClient, cache)

	go sessionSvc.RunPurge(ctx, cfg.PurgeInterval)

	h := adapthttp.New(sessionSvc, profileSvc, cartableSvc, dashboardSvc, cache, adapthttp.Options{
		WebDir:       cfg.WebDir,
		Policy:       policy,
		CookieSecure: cfg.CookieSecure,
		SessionTTL:   cfg.SessionTTL,
		LoginRate:    rate.Limit(cfg.LoginRate),
		LoginBurst:   cfg.LoginBurst,
		Logger:       log,
	}).Handler()

	servers := []*http.Server{{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errc := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}(srv)
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("shutdown")
		}
	}
	return nil
}

func openSessionStore(ctx context.Context, cfg config.Config) (domain.SessionRepository, io.Closer, error) {
	switch cfg.SessionStore {
	case config.StorePostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewSessionRepo(db), db, nil
	case config.StoreRedis:
		rdb, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewSessionRepo(rdb), rdb, nil
	default:
		return memory.NewSessionRepo(), io.NopCloser(nil), nil
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "cartable").Logger()
}
