package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/loomlabs/loom/internal/decisiongraph"
	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/pkg/types"
)

type createNodeRequest struct {
	Kind        types.DecisionNodeKind   `json:"kind"`
	Title       string                   `json:"title"`
	Description string                   `json:"description"`
	Confidence  *int                     `json:"confidence"`
	Status      types.DecisionNodeStatus `json:"status"`
	SessionID   string                   `json:"sessionID"`
	AgentName   string                   `json:"agentName"`
	Metadata    map[string]any           `json:"metadata"`
}

func (s *Server) createDecisionNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	node, err := s.deps.Graph.AddNode(r.Context(), persistence.NodeAttrs{
		Kind:        req.Kind,
		Title:       req.Title,
		Description: req.Description,
		Confidence:  req.Confidence,
		Status:      req.Status,
		SessionID:   req.SessionID,
		AgentName:   req.AgentName,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) getDecisionNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.deps.Graph.GetNode(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) listDecisionNodes(w http.ResponseWriter, r *http.Request) {
	filter := persistence.NodeFilter{
		Kind:      types.DecisionNodeKind(r.URL.Query().Get("kind")),
		Status:    types.DecisionNodeStatus(r.URL.Query().Get("status")),
		SessionID: r.URL.Query().Get("sessionID"),
	}
	nodes, err := s.deps.Graph.ListNodes(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

type createEdgeRequest struct {
	From      string                   `json:"from"`
	To        string                   `json:"to"`
	Kind      types.DecisionEdgeKind   `json:"kind"`
	Weight    *float64                 `json:"weight"`
	Rationale string                   `json:"rationale"`
}

func (s *Server) createDecisionEdge(w http.ResponseWriter, r *http.Request) {
	var req createEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	edge, err := s.deps.Graph.AddEdge(r.Context(), req.From, req.To, req.Kind, persistence.EdgeOpts{
		Weight:    req.Weight,
		Rationale: req.Rationale,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (s *Server) listDecisionEdges(w http.ResponseWriter, r *http.Request) {
	filter := persistence.EdgeFilter{
		Kind: types.DecisionEdgeKind(r.URL.Query().Get("kind")),
		From: r.URL.Query().Get("from"),
		To:   r.URL.Query().Get("to"),
	}
	edges, err := s.deps.Graph.ListEdges(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, edges)
}

// decisionTimeline renders RecentDecisions through FormatTimeline as plain
// text, the teacher's narrative-walker presentation.
func (s *Server) decisionTimeline(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	nodes, err := s.deps.Graph.RecentDecisions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(decisiongraph.FormatTimeline(nodes)))
}
