package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomlabs/loom/pkg/types"
)

func TestCreateAndGetDecisionNode(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(createNodeRequest{
		Kind:  types.NodeGoal,
		Title: "ship the feature",
	})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/decision/node", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create node: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var node types.DecisionNode
	if err := json.Unmarshal(rec.Body.Bytes(), &node); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if node.ID == "" {
		t.Fatal("expected a node ID")
	}

	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/decision/node/"+node.ID, nil))
	if rec2.Code != http.StatusOK {
		t.Fatalf("get node: expected 200, got %d", rec2.Code)
	}
}

func TestCreateDecisionEdgeAndTimeline(t *testing.T) {
	srv, _ := newTestServer(t)

	goalBody, _ := json.Marshal(createNodeRequest{Kind: types.NodeGoal, Title: "goal"})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/decision/node", bytes.NewReader(goalBody)))
	var goal types.DecisionNode
	json.Unmarshal(rec.Body.Bytes(), &goal)

	decisionBody, _ := json.Marshal(createNodeRequest{Kind: types.NodeDecision, Title: "decision"})
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/decision/node", bytes.NewReader(decisionBody)))
	var decision types.DecisionNode
	json.Unmarshal(rec2.Body.Bytes(), &decision)

	edgeBody, _ := json.Marshal(createEdgeRequest{From: goal.ID, To: decision.ID, Kind: types.EdgeLeadsTo})
	rec3 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec3, httptest.NewRequest(http.MethodPost, "/decision/edge", bytes.NewReader(edgeBody)))
	if rec3.Code != http.StatusCreated {
		t.Fatalf("create edge: expected 201, got %d: %s", rec3.Code, rec3.Body.String())
	}

	rec4 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec4, httptest.NewRequest(http.MethodGet, "/decision/timeline", nil))
	if rec4.Code != http.StatusOK {
		t.Fatalf("timeline: expected 200, got %d", rec4.Code)
	}
	if rec4.Body.Len() == 0 {
		t.Fatal("expected non-empty timeline text")
	}
}

func TestListDecisionNodesFiltersByKind(t *testing.T) {
	srv, _ := newTestServer(t)

	goalBody, _ := json.Marshal(createNodeRequest{Kind: types.NodeGoal, Title: "goal"})
	srv.Router().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/decision/node", bytes.NewReader(goalBody)))

	actionBody, _ := json.Marshal(createNodeRequest{Kind: types.NodeAction, Title: "action"})
	srv.Router().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/decision/node", bytes.NewReader(actionBody)))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/decision/node?kind=goal", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var nodes []*types.DecisionNode
	if err := json.Unmarshal(rec.Body.Bytes(), &nodes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, n := range nodes {
		if n.Kind != types.NodeGoal {
			t.Fatalf("expected only goal nodes, got %q", n.Kind)
		}
	}
	if len(nodes) == 0 {
		t.Fatal("expected at least one goal node")
	}
}
