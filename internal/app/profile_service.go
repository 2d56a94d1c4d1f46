package app

import (
	"context"

	"cartable/internal/domain"
)

// ProfileService serves the user profile from the Identity Server.
type ProfileService struct {
	idp   domain.IdentityProvider
	cache *QueryCache
}

// NewProfileService creates a ProfileService.
func NewProfileService(idp domain.IdentityProvider, cache *QueryCache) *ProfileService {
	return &ProfileService{idp: idp, cache: cache}
}

// Profile returns the profile of the token's subject, cached for the
// profile stale time.
func (s *ProfileService) Profile(ctx context.Context, token string) (*domain.Profile, error) {
	return Query(ctx, s.cache, CategoryProfile, token, "userinfo", s.idp.UserInfo)
}
