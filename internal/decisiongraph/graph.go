// Package decisiongraph is the typed-node/typed-edge decision record the
// SessionEngine and ArchitectPipeline log goals, decisions, and outcomes
// to. It is a thin, validating layer over persistence.Store — all storage
// lives there; this package owns graph-shaped queries (transitive closure,
// timeline rendering) that a flat Store contract cannot express on its own.
package decisiongraph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/pkg/types"
)

// Graph wraps a persistence.Store with the decision-graph operations of
// spec.md §4.4.
type Graph struct {
	store persistence.Store
}

// New creates a Graph backed by store.
func New(store persistence.Store) *Graph {
	return &Graph{store: store}
}

// AddNode validates and persists a new node.
func (g *Graph) AddNode(ctx context.Context, attrs persistence.NodeAttrs) (*types.DecisionNode, error) {
	return g.store.AddNode(ctx, attrs)
}

// GetNode returns a single node by id.
func (g *Graph) GetNode(ctx context.Context, id string) (*types.DecisionNode, error) {
	return g.store.GetNode(ctx, id)
}

// ListNodes returns nodes matching filter.
func (g *Graph) ListNodes(ctx context.Context, filter persistence.NodeFilter) ([]*types.DecisionNode, error) {
	return g.store.ListNodes(ctx, filter)
}

// UpdateNode persists changes to an existing node.
func (g *Graph) UpdateNode(ctx context.Context, node *types.DecisionNode) error {
	return g.store.UpdateNode(ctx, node)
}

// DeleteNode removes a node.
func (g *Graph) DeleteNode(ctx context.Context, id string) error {
	return g.store.DeleteNode(ctx, id)
}

// AddEdge adds a foreign-key-checked edge between two existing nodes.
func (g *Graph) AddEdge(ctx context.Context, from, to string, kind types.DecisionEdgeKind, opts persistence.EdgeOpts) (*types.DecisionEdge, error) {
	return g.store.AddEdge(ctx, from, to, kind, opts)
}

// ListEdges returns edges matching filter.
func (g *Graph) ListEdges(ctx context.Context, filter persistence.EdgeFilter) ([]*types.DecisionEdge, error) {
	return g.store.ListEdges(ctx, filter)
}

// ActiveGoals returns nodes with kind=goal and status=active.
func (g *Graph) ActiveGoals(ctx context.Context) ([]*types.DecisionNode, error) {
	return g.store.ListNodes(ctx, persistence.NodeFilter{Kind: types.NodeGoal, Status: types.NodeActive})
}

// RecentDecisions returns up to limit nodes with kind in {decision,option},
// newest first.
func (g *Graph) RecentDecisions(ctx context.Context, limit int) ([]*types.DecisionNode, error) {
	decisions, err := g.store.ListNodes(ctx, persistence.NodeFilter{Kind: types.NodeDecision})
	if err != nil {
		return nil, err
	}
	options, err := g.store.ListNodes(ctx, persistence.NodeFilter{Kind: types.NodeOption})
	if err != nil {
		return nil, err
	}

	all := append(decisions, options...)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Supersede atomically records that newID supersedes oldID.
func (g *Graph) Supersede(ctx context.Context, oldID, newID, rationale string) error {
	return g.store.Supersede(ctx, oldID, newID, rationale)
}

// ForSession returns every node attached to sessionID, ascending by
// insertion.
func (g *Graph) ForSession(ctx context.Context, sessionID string) ([]*types.DecisionNode, error) {
	return g.store.ListNodes(ctx, persistence.NodeFilter{SessionID: sessionID})
}

// ForGoal returns the transitive closure of nodes reachable from goalID via
// any edge, in either direction, cycle-safe via a visited set.
func (g *Graph) ForGoal(ctx context.Context, goalID string) ([]*types.DecisionNode, error) {
	allEdges, err := g.store.ListEdges(ctx, persistence.EdgeFilter{})
	if err != nil {
		return nil, err
	}

	neighbors := make(map[string][]string)
	for _, edge := range allEdges {
		neighbors[edge.From] = append(neighbors[edge.From], edge.To)
		neighbors[edge.To] = append(neighbors[edge.To], edge.From)
	}

	visited := map[string]bool{goalID: true}
	queue := []string{goalID}
	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range neighbors[id] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	var nodes []*types.DecisionNode
	for _, id := range order {
		node, err := g.store.GetNode(ctx, id)
		if err != nil {
			if err == persistence.ErrNotFound {
				continue
			}
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// FormatTimeline renders nodes as a text timeline: one line per node, kind
// name prefix, status suffix when not active, confidence suffix when set.
func FormatTimeline(nodes []*types.DecisionNode) string {
	var b strings.Builder
	for _, node := range nodes {
		b.WriteString(fmt.Sprintf("[%s] %s", node.Kind, node.Title))
		if node.Status != "" && node.Status != types.NodeActive {
			b.WriteString(fmt.Sprintf(" (%s)", node.Status))
		}
		if node.Confidence != nil {
			b.WriteString(fmt.Sprintf(" — confidence %d%%", *node.Confidence))
		}
		b.WriteString("\n")
	}
	return b.String()
}
