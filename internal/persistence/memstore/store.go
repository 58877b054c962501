// Package memstore is an in-memory persistence.Store, grounded on the
// teacher's map+mutex internal/storage.Storage, used by the test suites of
// every component that consumes persistence.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/pkg/types"
)

// Store is a map-backed persistence.Store. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	sessions map[string]*types.Session
	messages map[string][]*types.Message // keyed by sessionID, insertion order
	nodes    map[string]*types.DecisionNode
	edges    map[string]*types.DecisionEdge

	now func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*types.Session),
		messages: make(map[string][]*types.Message),
		nodes:    make(map[string]*types.DecisionNode),
		edges:    make(map[string]*types.DecisionEdge),
		now:      time.Now,
	}
}

func (s *Store) CreateSession(ctx context.Context, attrs persistence.SessionAttrs) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session := &types.Session{
		ID:          uuid.NewString(),
		Model:       attrs.Model,
		ProjectPath: attrs.ProjectPath,
		Title:       attrs.Title,
		Status:      types.StatusIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.sessions[session.ID] = session
	cp := *session
	return &cp, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *Store) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if filter.ProjectPath != "" && session.ProjectPath != filter.ProjectPath {
			continue
		}
		if !filter.IncludeArchived && session.Status == types.StatusStopped {
			continue
		}
		cp := *session
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return persistence.ErrNotFound
	}
	cp := *session
	cp.UpdatedAt = s.now()
	s.sessions[session.ID] = &cp
	return nil
}

func (s *Store) ArchiveSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	session.Status = types.StatusStopped
	session.UpdatedAt = s.now()
	return nil
}

func (s *Store) SaveMessage(ctx context.Context, attrs persistence.MessageAttrs) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[attrs.SessionID]; !ok {
		return nil, fmt.Errorf("memstore: save message: %w", persistence.ErrNotFound)
	}

	msg := &types.Message{
		ID:         uuid.NewString(),
		SessionID:  attrs.SessionID,
		Role:       attrs.Role,
		Content:    attrs.Content,
		ToolCalls:  attrs.ToolCalls,
		ToolCallID: attrs.ToolCallID,
		CreatedAt:  s.now(),
	}
	s.messages[attrs.SessionID] = append(s.messages[attrs.SessionID], msg)
	cp := *msg
	return &cp, nil
}

func (s *Store) LoadMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.messages[sessionID]
	out := make([]*types.Message, len(src))
	for i, m := range src {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) UpdateCosts(ctx context.Context, sessionID string, inputDelta, outputDelta int, costDeltaMicros int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return persistence.ErrNotFound
	}
	session.InputTokens += int64(inputDelta)
	session.OutputTokens += int64(outputDelta)
	session.CostMicros += costDeltaMicros
	session.UpdatedAt = s.now()
	return nil
}

func (s *Store) AddNode(ctx context.Context, attrs persistence.NodeAttrs) (*types.DecisionNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attrs.Title == "" {
		return nil, fmt.Errorf("memstore: add node: title is required")
	}
	if attrs.Confidence != nil && (*attrs.Confidence < 0 || *attrs.Confidence > 100) {
		return nil, fmt.Errorf("memstore: add node: confidence %d out of [0,100]", *attrs.Confidence)
	}
	status := attrs.Status
	if status == "" {
		status = types.NodeActive
	}

	now := s.now()
	node := &types.DecisionNode{
		ID:          uuid.NewString(),
		Kind:        attrs.Kind,
		Title:       attrs.Title,
		Description: attrs.Description,
		Confidence:  attrs.Confidence,
		Status:      status,
		SessionID:   attrs.SessionID,
		AgentName:   attrs.AgentName,
		Metadata:    attrs.Metadata,
		ChangeID:    uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.nodes[node.ID] = node
	cp := *node
	return &cp, nil
}

func (s *Store) GetNode(ctx context.Context, id string) (*types.DecisionNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *node
	return &cp, nil
}

func (s *Store) ListNodes(ctx context.Context, filter persistence.NodeFilter) ([]*types.DecisionNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.DecisionNode, 0, len(s.nodes))
	for _, node := range s.nodes {
		if filter.Kind != "" && node.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && node.Status != filter.Status {
			continue
		}
		if filter.SessionID != "" && node.SessionID != filter.SessionID {
			continue
		}
		cp := *node
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateNode(ctx context.Context, node *types.DecisionNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[node.ID]; !ok {
		return persistence.ErrNotFound
	}
	cp := *node
	cp.UpdatedAt = s.now()
	s.nodes[node.ID] = &cp
	return nil
}

func (s *Store) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.nodes, id)
	return nil
}

func (s *Store) AddEdge(ctx context.Context, from, to string, kind types.DecisionEdgeKind, opts persistence.EdgeOpts) (*types.DecisionEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[from]; !ok {
		return nil, fmt.Errorf("memstore: add edge: from node %q: %w", from, persistence.ErrNotFound)
	}
	if _, ok := s.nodes[to]; !ok {
		return nil, fmt.Errorf("memstore: add edge: to node %q: %w", to, persistence.ErrNotFound)
	}

	edge := &types.DecisionEdge{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Kind:      kind,
		Weight:    opts.Weight,
		Rationale: opts.Rationale,
		CreatedAt: s.now(),
	}
	s.edges[edge.ID] = edge
	cp := *edge
	return &cp, nil
}

func (s *Store) ListEdges(ctx context.Context, filter persistence.EdgeFilter) ([]*types.DecisionEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.DecisionEdge, 0, len(s.edges))
	for _, edge := range s.edges {
		if filter.Kind != "" && edge.Kind != filter.Kind {
			continue
		}
		if filter.From != "" && edge.From != filter.From {
			continue
		}
		if filter.To != "" && edge.To != filter.To {
			continue
		}
		cp := *edge
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Supersede(ctx context.Context, oldID, newID, rationale string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldNode, ok := s.nodes[oldID]
	if !ok {
		return fmt.Errorf("memstore: supersede: old node %q: %w", oldID, persistence.ErrNotFound)
	}
	if _, ok := s.nodes[newID]; !ok {
		return fmt.Errorf("memstore: supersede: new node %q: %w", newID, persistence.ErrNotFound)
	}

	edge := &types.DecisionEdge{
		ID:        uuid.NewString(),
		From:      newID,
		To:        oldID,
		Kind:      types.EdgeSupersedes,
		Rationale: rationale,
		CreatedAt: s.now(),
	}
	s.edges[edge.ID] = edge
	oldNode.Status = types.NodeSuperseded
	oldNode.UpdatedAt = s.now()
	return nil
}

func (s *Store) Close() error { return nil }
