// Package memory implements an in-memory session store for development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"cartable/internal/domain"
)

// SessionRepo keeps sessions in a map. It is safe for concurrent use.
type SessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

// NewSessionRepo creates an empty in-memory session store.
func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: make(map[string]domain.Session)}
}

// Ensure interfaces are met.
var _ domain.SessionRepository = (*SessionRepo)(nil)

// Create stores a session under s.ID.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *s
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.sessions[s.ID] = stored
	return nil
}

// Get returns a copy of the session, or nil when it does not exist.
func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// UpdateTokens replaces the token set of an existing session.
func (r *SessionRepo) UpdateTokens(ctx context.Context, id string, t domain.Tokens) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	s.AccessToken = t.AccessToken
	s.RefreshToken = t.RefreshToken
	if t.IDToken != "" {
		s.IDToken = t.IDToken
	}
	s.Expiry = t.Expiry
	r.sessions[id] = s
	return nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// DeleteExpired removes sessions whose ExpiresAt is before now.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, v := range r.sessions {
		if now.After(v.ExpiresAt) {
			delete(r.sessions, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (r *SessionRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
