package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cartable/internal/domain"
)

// SessionRepo implements session repository operations on DB.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo wraps a DB as a SessionRepository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

var _ domain.SessionRepository = (*SessionRepo)(nil)

// Create inserts a new session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (id, subject, username, access_token, refresh_token, id_token, token_expiry, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.Subject, s.Username, s.AccessToken, s.RefreshToken, s.IDToken,
		nullTime(s.Expiry), s.ExpiresAt.UTC(), createdAt.UTC(),
	)
	return err
}

// Get retrieves a session by id.
func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	var (
		s      domain.Session
		expiry sql.NullTime
	)
	err := r.db.sql.QueryRowContext(ctx,
		`SELECT id, subject, username, access_token, refresh_token, id_token, token_expiry, expires_at, created_at
		 FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.Subject, &s.Username, &s.AccessToken, &s.RefreshToken, &s.IDToken, &expiry, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		s.Expiry = expiry.Time
	}
	return &s, nil
}

// UpdateTokens replaces the token set of a session. An empty ID token keeps
// the stored one.
func (r *SessionRepo) UpdateTokens(ctx context.Context, id string, t domain.Tokens) error {
	_, err := r.db.sql.ExecContext(ctx,
		`UPDATE sessions SET access_token = $2, refresh_token = $3,
		 id_token = CASE WHEN $4 = '' THEN id_token ELSE $4 END, token_expiry = $5
		 WHERE id = $1`,
		id, t.AccessToken, t.RefreshToken, t.IDToken, nullTime(t.Expiry),
	)
	return err
}

// Delete deletes a session by id.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.sql.ExecContext(ctx, "DELETE FROM sessions WHERE id = $1", id)
	return err
}

// DeleteExpired deletes all sessions that expired before now.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.sql.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < $1", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
