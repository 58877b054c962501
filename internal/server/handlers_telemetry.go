package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomlabs/loom/internal/event"
)

func (s *Server) getSessionTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.deps.Aggregator == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "telemetry aggregator not configured")
		return
	}
	metrics, ok := s.deps.Aggregator.Session(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no telemetry for session")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) getGlobalTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.deps.Aggregator == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "telemetry aggregator not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"global":   s.deps.Aggregator.Global(),
		"perModel": s.deps.Aggregator.PerModel(),
		"perTool":  s.deps.Aggregator.PerTool(),
	})
}

// telemetryEvents streams the raw span/message event feed, the live feed
// the aggregator itself consumes, for a UI that wants push updates instead
// of polling the snapshot endpoints above.
func (s *Server) telemetryEvents(w http.ResponseWriter, r *http.Request) {
	streamTopic(w, r, s.deps.Bus, event.TopicTelemetry)
}
