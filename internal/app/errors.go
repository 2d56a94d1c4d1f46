// Package app holds the application services and business logic.
package app

import "errors"

var (
	// ErrUnauthorized indicates a request without a usable bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates that the session has expired.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidLoginState indicates a login callback that does not match a login we started.
	ErrInvalidLoginState = errors.New("invalid login state")
	// ErrInvalidFilter indicates a payment order filter that fails validation.
	ErrInvalidFilter = errors.New("invalid filter")
)
