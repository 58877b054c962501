package server

import "net/http"

// getConfig returns the effective merged config.Config, the JSON
// equivalent of opencode run --show-config's output.
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.AppConfig == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no configuration loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.AppConfig)
}
