package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/persistence"
)

type createSessionRequest struct {
	Model       string `json:"model"`
	ProjectPath string `json:"projectPath"`
	Title       string `json:"title"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Store.ListSessions(r.Context(), persistence.SessionFilter{
		ProjectPath: r.URL.Query().Get("projectPath"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if req.ProjectPath == "" {
		req.ProjectPath = s.cfg.Directory
	}
	if req.Model == "" && s.deps.AppConfig != nil {
		req.Model = s.deps.AppConfig.Model.Default
	}

	sess, err := s.deps.Store.CreateSession(r.Context(), persistence.SessionAttrs{
		Model:       req.Model,
		ProjectPath: req.ProjectPath,
		Title:       req.Title,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if _, err := s.deps.Manager.Start(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeSessionLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s.deps.Manager.Stop(id)
	if err := s.deps.Store.ArchiveSession(r.Context(), id); err != nil {
		s.writeSessionLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	s.deps.Manager.Stop(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.deps.Store.LoadMessages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Text string `json:"text"`
	// Mode selects the reason/act SessionEngine ("" or "chat") versus the
	// two-phase ArchitectPipeline ("architect"), per spec.md §4.10.
	Mode string `json:"mode"`
}

type sendMessageResponse struct {
	Text string `json:"text"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}

	sess, err := s.deps.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeSessionLookupError(w, err)
		return
	}

	var text string
	if req.Mode == "architect" {
		if s.deps.Architect == nil {
			writeError(w, http.StatusNotImplemented, ErrCodeInvalidRequest, "architect pipeline is not configured")
			return
		}
		text, err = s.deps.Architect.Run(r.Context(), sess, req.Text)
	} else {
		eng, startErr := s.deps.Manager.Start(r.Context(), sess)
		if startErr != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, startErr.Error())
			return
		}
		text, err = eng.SendMessage(r.Context(), req.Text)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{Text: text})
}

func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	streamTopic(w, r, s.deps.Bus, event.Session(sessionID))
}

func (s *Server) writeSessionLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
}
