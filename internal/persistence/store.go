// Package persistence defines the durable-storage contract the core
// consumes for sessions, messages, and decision-graph records. The core
// never implements this package; it only calls through the Store
// interface. Two concrete implementations live in subpackages: memstore
// (in-memory, for tests) and sqlstore (modernc.org/sqlite, for real use).
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/loomlabs/loom/pkg/types"
)

// ErrNotFound is returned by Get-style lookups when the record does not
// exist.
var ErrNotFound = errors.New("persistence: not found")

// SessionFilter narrows ListSessions. A zero-value filter matches all
// non-archived sessions.
type SessionFilter struct {
	ProjectPath     string
	IncludeArchived bool
}

// NodeFilter narrows ListNodes.
type NodeFilter struct {
	Kind      types.DecisionNodeKind
	Status    types.DecisionNodeStatus
	SessionID string
}

// EdgeFilter narrows ListEdges.
type EdgeFilter struct {
	Kind types.DecisionEdgeKind
	From string
	To   string
}

// SessionAttrs is the input to CreateSession. Implementations do not
// validate it: zero-value Model/ProjectPath are stored as given.
type SessionAttrs struct {
	Model       string
	ProjectPath string
	Title       string
}

// MessageAttrs is the input to SaveMessage.
type MessageAttrs struct {
	SessionID  string
	Role       types.MessageRole
	Content    string
	ToolCalls  []types.ToolCall
	ToolCallID string
}

// NodeAttrs is the input to AddNode.
type NodeAttrs struct {
	Kind        types.DecisionNodeKind
	Title       string
	Description string
	Confidence  *int
	Status      types.DecisionNodeStatus
	SessionID   string
	AgentName   string
	Metadata    map[string]any
}

// EdgeOpts carries the optional fields of AddEdge.
type EdgeOpts struct {
	Weight    *float64
	Rationale string
}

// Store is the persistence contract the core consumes. Implementations
// must be safe for concurrent use. A write must be durable by the time the
// call returns — the engine relies on "in-memory equals on-disk" at every
// quiescent moment (spec.md §5).
type Store interface {
	CreateSession(ctx context.Context, attrs SessionAttrs) (*types.Session, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*types.Session, error)
	UpdateSession(ctx context.Context, session *types.Session) error
	ArchiveSession(ctx context.Context, id string) error

	SaveMessage(ctx context.Context, attrs MessageAttrs) (*types.Message, error)
	LoadMessages(ctx context.Context, sessionID string) ([]*types.Message, error)

	// UpdateCosts applies additive deltas to a session's token and cost
	// counters. Deltas may be negative only for test fixtures; the engine
	// only ever applies non-negative deltas.
	UpdateCosts(ctx context.Context, sessionID string, inputDelta, outputDelta int, costDeltaMicros int64) error

	AddNode(ctx context.Context, attrs NodeAttrs) (*types.DecisionNode, error)
	GetNode(ctx context.Context, id string) (*types.DecisionNode, error)
	ListNodes(ctx context.Context, filter NodeFilter) ([]*types.DecisionNode, error)
	UpdateNode(ctx context.Context, node *types.DecisionNode) error
	DeleteNode(ctx context.Context, id string) error

	AddEdge(ctx context.Context, from, to string, kind types.DecisionEdgeKind, opts EdgeOpts) (*types.DecisionEdge, error)
	ListEdges(ctx context.Context, filter EdgeFilter) ([]*types.DecisionEdge, error)

	// Supersede atomically inserts a supersedes edge from newID to oldID
	// and marks oldID's status superseded. Both effects commit together or
	// neither does.
	Supersede(ctx context.Context, oldID, newID, rationale string) error

	Close() error
}

// Clock lets implementations be driven by a fake clock in tests while
// defaulting to time.Now in production.
type Clock func() time.Time
