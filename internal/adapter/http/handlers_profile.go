package adapthttp

import "net/http"

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	var token string
	if sess := sessionFrom(r.Context()); sess != nil {
		token = sess.AccessToken
	}
	profile, err := s.profile.Profile(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
