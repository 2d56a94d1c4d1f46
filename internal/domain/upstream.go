package domain

import (
	"fmt"
	"net/http"
)

// UpstreamError is a non-2xx answer from the backend or the Identity Server.
type UpstreamError struct {
	Operation string
	Status    int
	Message   string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Operation, e.Status, e.Message)
}

// Unauthorized reports whether the upstream rejected the bearer token.
func (e *UpstreamError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}
