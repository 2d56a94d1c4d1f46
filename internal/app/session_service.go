package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cartable/internal/domain"
	"cartable/internal/metrics"
	"cartable/internal/secure"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	loginStateTTL  = 10 * time.Minute
	refreshTimeout = 15 * time.Second
)

// SessionOptions tunes a SessionService.
type SessionOptions struct {
	// TTL bounds a session regardless of token refreshes.
	TTL time.Duration
	// RefreshSkew is how long before access token expiry a refresh starts.
	RefreshSkew time.Duration
	// HomePath is the landing page when a login carries no usable callback.
	HomePath string
	Logger   zerolog.Logger
}

// SessionService is the session provider: it runs the login flow against
// the Identity Server, stores sessions and keeps their tokens fresh.
type SessionService struct {
	repo    domain.SessionRepository
	idp     domain.IdentityProvider
	sealer  *secure.Sealer
	opts    SessionOptions
	now     func() time.Time
	refresh singleflight.Group
}

// NewSessionService creates a session service.
func NewSessionService(repo domain.SessionRepository, idp domain.IdentityProvider, sealer *secure.Sealer, opts SessionOptions) *SessionService {
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	if opts.RefreshSkew <= 0 {
		opts.RefreshSkew = 30 * time.Second
	}
	if opts.HomePath == "" {
		opts.HomePath = "/"
	}
	return &SessionService{
		repo:   repo,
		idp:    idp,
		sealer: sealer,
		opts:   opts,
		now:    time.Now,
	}
}

type loginState struct {
	State    string `json:"s"`
	Nonce    string `json:"n"`
	Callback string `json:"c"`
	IssuedAt int64  `json:"t"`
}

// BeginLogin returns the Identity Server authorization URL and the sealed
// login state the caller keeps in a short-lived cookie.
func (s *SessionService) BeginLogin(callback string) (authURL, sealedState string, err error) {
	state, err := secure.RandomToken(16)
	if err != nil {
		return "", "", err
	}
	nonce, err := secure.RandomToken(16)
	if err != nil {
		return "", "", err
	}

	b, err := json.Marshal(loginState{
		State:    state,
		Nonce:    nonce,
		Callback: domain.SafeCallback(callback, s.opts.HomePath),
		IssuedAt: s.now().Unix(),
	})
	if err != nil {
		return "", "", err
	}
	sealedState, err = s.sealer.Seal(string(b))
	if err != nil {
		return "", "", err
	}
	return s.idp.AuthCodeURL(state, nonce), sealedState, nil
}

// CompleteLogin checks the callback against the sealed login state, redeems
// the code and creates a session. It returns the session id for the cookie
// and the local path to continue to.
func (s *SessionService) CompleteLogin(ctx context.Context, sealedState, state, code string) (sessionID, callback string, err error) {
	plain, err := s.sealer.Open(sealedState)
	if err != nil || plain == "" {
		return "", "", ErrInvalidLoginState
	}
	var ls loginState
	if err := json.Unmarshal([]byte(plain), &ls); err != nil {
		return "", "", ErrInvalidLoginState
	}
	if ls.State == "" || !ConstantTimeCompare(ls.State, state) {
		return "", "", ErrInvalidLoginState
	}
	if s.now().Sub(time.Unix(ls.IssuedAt, 0)) > loginStateTTL {
		return "", "", ErrInvalidLoginState
	}
	if code == "" {
		return "", "", fmt.Errorf("%w: missing code", ErrInvalidLoginState)
	}

	identity, tokens, err := s.idp.Exchange(ctx, code, ls.Nonce)
	if err != nil {
		return "", "", fmt.Errorf("login: %w", err)
	}

	sessionID, err = secure.RandomToken(32)
	if err != nil {
		return "", "", err
	}
	sealed, err := s.seal(*tokens)
	if err != nil {
		return "", "", err
	}

	now := s.now()
	err = s.repo.Create(ctx, &domain.Session{
		ID:           s.sealer.HashID(sessionID),
		Subject:      identity.Subject,
		Username:     identity.Username,
		AccessToken:  sealed.AccessToken,
		RefreshToken: sealed.RefreshToken,
		IDToken:      sealed.IDToken,
		Expiry:       tokens.Expiry,
		ExpiresAt:    now.Add(s.opts.TTL),
		CreatedAt:    now,
	})
	if err != nil {
		return "", "", fmt.Errorf("login: store session: %w", err)
	}

	s.opts.Logger.Info().Str("username", identity.Username).Msg("session created")
	return sessionID, domain.SafeCallback(ls.Callback, s.opts.HomePath), nil
}

// Resolve returns the live session for a session cookie value, refreshing
// its access token when it is about to expire.
func (s *SessionService) Resolve(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	key := s.sealer.HashID(sessionID)

	stored, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrSessionNotFound
	}

	now := s.now()
	if now.After(stored.ExpiresAt) {
		_ = s.repo.Delete(ctx, key)
		return nil, ErrSessionExpired
	}

	sess, err := s.open(stored)
	if err != nil {
		s.opts.Logger.Warn().Err(err).Msg("dropping unreadable session")
		_ = s.repo.Delete(ctx, key)
		return nil, ErrSessionNotFound
	}
	sess.ID = sessionID

	if sess.RefreshToken != "" && !sess.Expiry.IsZero() && now.Add(s.opts.RefreshSkew).After(sess.Expiry) {
		return s.refreshSession(ctx, key, sess)
	}
	if !sess.Authenticated(now) {
		_ = s.repo.Delete(ctx, key)
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// errRefreshRejected marks a refresh the Identity Server answered with an
// error, as opposed to one that timed out.
var errRefreshRejected = errors.New("refresh rejected")

// refreshSession renews the access token of sess. The call is detached from
// the request context and bounded by refreshTimeout.
func (s *SessionService) refreshSession(ctx context.Context, key string, sess *domain.Session) (*domain.Session, error) {
	v, err, _ := s.refresh.Do(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		tokens, err := s.idp.Refresh(rctx, sess.RefreshToken)
		if err != nil {
			metrics.ObserveRefresh(false)
			s.opts.Logger.Warn().Err(err).Str("username", sess.Username).Msg("token refresh failed")
			if rctx.Err() != nil {
				return nil, fmt.Errorf("refresh: %w", err)
			}
			return nil, errRefreshRejected
		}
		metrics.ObserveRefresh(true)

		sealed, err := s.seal(*tokens)
		if err != nil {
			return nil, err
		}
		if err := s.repo.UpdateTokens(rctx, key, sealed); err != nil {
			return nil, fmt.Errorf("refresh: store tokens: %w", err)
		}
		return tokens, nil
	})

	if err != nil {
		// Still usable until it actually expires.
		if sess.Authenticated(s.now()) {
			return sess, nil
		}
		if !errors.Is(err, errRefreshRejected) {
			return nil, err
		}
		_ = s.repo.Delete(context.WithoutCancel(ctx), key)
		return nil, ErrSessionExpired
	}

	tokens := v.(*domain.Tokens)
	out := *sess
	out.AccessToken = tokens.AccessToken
	out.RefreshToken = tokens.RefreshToken
	if tokens.IDToken != "" {
		out.IDToken = tokens.IDToken
	}
	out.Expiry = tokens.Expiry
	return &out, nil
}

// FromBearer wraps a raw Authorization bearer token as a transient session.
func (s *SessionService) FromBearer(token string) *domain.Session {
	sess := &domain.Session{AccessToken: token}
	if c, ok := s.idp.TokenClaims(token); ok {
		sess.Username = c.Username
		sess.Expiry = c.Expiry
	}
	return sess
}

// Logout deletes the session and returns the Identity Server end-session
// URL, or "" when there is none.
func (s *SessionService) Logout(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return s.idp.EndSessionURL(""), nil
	}
	key := s.sealer.HashID(sessionID)

	var idToken string
	if stored, err := s.repo.Get(ctx, key); err == nil && stored != nil {
		idToken, _ = s.sealer.Open(stored.IDToken)
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		return "", err
	}
	return s.idp.EndSessionURL(idToken), nil
}

// PurgeExpired removes sessions past their expiry.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}

// RunPurge calls PurgeExpired every interval until ctx is done.
func (s *SessionService) RunPurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				s.opts.Logger.Error().Err(err).Msg("purge expired sessions")
				continue
			}
			if n > 0 {
				s.opts.Logger.Debug().Int64("count", n).Msg("purged expired sessions")
			}
		}
	}
}

func (s *SessionService) seal(t domain.Tokens) (domain.Tokens, error) {
	var (
		out domain.Tokens
		err error
	)
	if out.AccessToken, err = s.sealer.Seal(t.AccessToken); err != nil {
		return out, err
	}
	if out.RefreshToken, err = s.sealer.Seal(t.RefreshToken); err != nil {
		return out, err
	}
	if out.IDToken, err = s.sealer.Seal(t.IDToken); err != nil {
		return out, err
	}
	out.Expiry = t.Expiry
	return out, nil
}

func (s *SessionService) open(stored *domain.Session) (*domain.Session, error) {
	sess := *stored
	var err error
	if sess.AccessToken, err = s.sealer.Open(stored.AccessToken); err != nil {
		return nil, err
	}
	if sess.RefreshToken, err = s.sealer.Open(stored.RefreshToken); err != nil {
		return nil, err
	}
	if sess.IDToken, err = s.sealer.Open(stored.IDToken); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ConstantTimeCompare performs a constant-time comparison of two strings.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
