// Package redisstore implements the session repository on Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cartable/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cartable:session:"

// SessionRepo stores one JSON value per session; Redis expires it at
// Session.ExpiresAt.
type SessionRepo struct {
	rdb *redis.Client
}

// NewSessionRepo wraps a Redis client as a SessionRepository.
func NewSessionRepo(rdb *redis.Client) *SessionRepo {
	return &SessionRepo{rdb: rdb}
}

// Open parses a redis:// URL, connects and pings.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

var _ domain.SessionRepository = (*SessionRepo)(nil)

type record struct {
	Subject      string    `json:"sub"`
	Username     string    `json:"usr"`
	AccessToken  string    `json:"at"`
	RefreshToken string    `json:"rt,omitempty"`
	IDToken      string    `json:"idt,omitempty"`
	Expiry       time.Time `json:"exp,omitempty"`
	ExpiresAt    time.Time `json:"sexp"`
	CreatedAt    time.Time `json:"cat"`
}

// Create stores a session with a TTL matching its expiry.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	b, err := json.Marshal(record{
		Subject:      s.Subject,
		Username:     s.Username,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		IDToken:      s.IDToken,
		Expiry:       s.Expiry,
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    createdAt,
	})
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, keyPrefix+s.ID, b, ttl).Err()
}

// Get returns the session or nil when the key is absent.
func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	rec, err := r.load(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return &domain.Session{
		ID:           id,
		Subject:      rec.Subject,
		Username:     rec.Username,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		IDToken:      rec.IDToken,
		Expiry:       rec.Expiry,
		ExpiresAt:    rec.ExpiresAt,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

// UpdateTokens rewrites the token set, keeping the key's TTL. A session
// that expired in the meantime stays gone.
func (r *SessionRepo) UpdateTokens(ctx context.Context, id string, t domain.Tokens) error {
	rec, err := r.load(ctx, id)
	if err != nil || rec == nil {
		return err
	}
	rec.AccessToken = t.AccessToken
	rec.RefreshToken = t.RefreshToken
	if t.IDToken != "" {
		rec.IDToken = t.IDToken
	}
	rec.Expiry = t.Expiry
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.rdb.SetXX(ctx, keyPrefix+id, b, redis.KeepTTL).Err()
}

// Delete removes the session key.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, keyPrefix+id).Err()
}

// DeleteExpired is a no-op: Redis evicts keys at their TTL.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (r *SessionRepo) load(ctx context.Context, id string) (*record, error) {
	b, err := r.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("redis: decode session: %w", err)
	}
	return &rec, nil
}
