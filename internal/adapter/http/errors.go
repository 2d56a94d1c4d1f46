package adapthttp

import (
	"errors"
	"net/http"

	"cartable/internal/app"
	"cartable/internal/domain"
	"cartable/internal/i18n"

	"github.com/rs/zerolog/hlog"
)

// writeServiceError maps an application error onto a status and body.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *domain.UpstreamError
	switch {
	case errors.Is(err, app.ErrUnauthorized),
		errors.Is(err, app.ErrSessionNotFound),
		errors.Is(err, app.ErrSessionExpired):
		writeMessage(w, r, http.StatusUnauthorized, i18n.MsgUnauthorized)
	case errors.As(err, &upstream) && upstream.Unauthorized():
		writeMessage(w, r, http.StatusUnauthorized, i18n.MsgUnauthorized)
	case errors.Is(err, app.ErrInvalidFilter):
		writeFailure(w, r, http.StatusBadRequest, i18n.MsgInvalidFilter, err)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeFailure(w, r, http.StatusInternalServerError, i18n.MsgUpstream, err)
	}
}
