package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/pkg/types"
)

func TestStore_CreateAndGetSession(t *testing.T) {
	ctx := context.Background()
	s := New()

	session, err := s.CreateSession(ctx, persistence.SessionAttrs{Model: "anthropic:claude-sonnet-4", ProjectPath: "/tmp/proj"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, types.StatusIdle, session.Status)

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
}

func TestStore_GetSessionNotFound(t *testing.T) {
	s := New()
	_, err := s.GetSession(context.Background(), "ghost")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStore_SaveAndLoadMessagesOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	session, err := s.CreateSession(ctx, persistence.SessionAttrs{Model: "m", ProjectPath: "/p"})
	require.NoError(t, err)

	_, err = s.SaveMessage(ctx, persistence.MessageAttrs{SessionID: session.ID, Role: types.RoleUser, Content: "hi"})
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, persistence.MessageAttrs{SessionID: session.ID, Role: types.RoleAssistant, Content: "hello"})
	require.NoError(t, err)

	msgs, err := s.LoadMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestStore_SaveMessageUnknownSession(t *testing.T) {
	s := New()
	_, err := s.SaveMessage(context.Background(), persistence.MessageAttrs{SessionID: "ghost", Role: types.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStore_UpdateCostsIsAdditive(t *testing.T) {
	ctx := context.Background()
	s := New()
	session, err := s.CreateSession(ctx, persistence.SessionAttrs{Model: "m", ProjectPath: "/p"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateCosts(ctx, session.ID, 100, 50, 2000))
	require.NoError(t, s.UpdateCosts(ctx, session.ID, 10, 5, 200))

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(110), got.InputTokens)
	assert.Equal(t, int64(55), got.OutputTokens)
	assert.Equal(t, int64(2200), got.CostMicros)
}

func TestStore_ArchiveSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	session, err := s.CreateSession(ctx, persistence.SessionAttrs{Model: "m", ProjectPath: "/p"})
	require.NoError(t, err)

	require.NoError(t, s.ArchiveSession(ctx, session.ID))

	all, err := s.ListSessions(ctx, persistence.SessionFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	withArchived, err := s.ListSessions(ctx, persistence.SessionFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, withArchived, 1)
}

func TestStore_AddNodeValidatesConfidenceAndTitle(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: ""})
	assert.Error(t, err)

	bad := 150
	_, err = s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: "t", Confidence: &bad})
	assert.Error(t, err)

	good := 80
	node, err := s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: "Ship v1", Confidence: &good})
	require.NoError(t, err)
	assert.NotEmpty(t, node.ChangeID)
	assert.Equal(t, types.NodeActive, node.Status)
}

func TestStore_AddEdgeRequiresExistingNodes(t *testing.T) {
	ctx := context.Background()
	s := New()
	node, err := s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: "g"})
	require.NoError(t, err)

	_, err = s.AddEdge(ctx, node.ID, "ghost", types.EdgeLeadsTo, persistence.EdgeOpts{})
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	other, err := s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeDecision, Title: "d"})
	require.NoError(t, err)

	edge, err := s.AddEdge(ctx, node.ID, other.ID, types.EdgeLeadsTo, persistence.EdgeOpts{Rationale: "because"})
	require.NoError(t, err)
	assert.Equal(t, "because", edge.Rationale)
}

func TestStore_SupersedeIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()
	oldNode, err := s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeDecision, Title: "old"})
	require.NoError(t, err)
	newNode, err := s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeDecision, Title: "new"})
	require.NoError(t, err)

	require.NoError(t, s.Supersede(ctx, oldNode.ID, newNode.ID, "reconsidered"))

	got, err := s.GetNode(ctx, oldNode.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeSuperseded, got.Status)

	edges, err := s.ListEdges(ctx, persistence.EdgeFilter{Kind: types.EdgeSupersedes})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, newNode.ID, edges[0].From)
	assert.Equal(t, oldNode.ID, edges[0].To)
}

func TestStore_SupersedeUnknownNodeFails(t *testing.T) {
	ctx := context.Background()
	s := New()
	node, err := s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeDecision, Title: "only"})
	require.NoError(t, err)

	err = s.Supersede(ctx, node.ID, "ghost", "x")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	got, err := s.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeActive, got.Status, "failed supersede must not half-apply")
}

func TestStore_ListNodesFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: "g1", SessionID: "s1"})
	require.NoError(t, err)
	_, err = s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeDecision, Title: "d1", SessionID: "s1"})
	require.NoError(t, err)
	_, err = s.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: "g2", SessionID: "s2"})
	require.NoError(t, err)

	nodes, err := s.ListNodes(ctx, persistence.NodeFilter{Kind: types.NodeGoal, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "g1", nodes[0].Title)
}
