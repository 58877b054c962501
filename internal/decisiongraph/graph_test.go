package decisiongraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/internal/persistence/memstore"
	"github.com/loomlabs/loom/pkg/types"
)

func TestGraph_ActiveGoals(t *testing.T) {
	ctx := context.Background()
	g := New(memstore.New())

	_, err := g.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: "ship v1", Status: types.NodeActive})
	require.NoError(t, err)
	_, err = g.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: "done goal", Status: types.NodeResolved})
	require.NoError(t, err)

	goals, err := g.ActiveGoals(ctx)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "ship v1", goals[0].Title)
}

func TestGraph_RecentDecisionsNewestFirstAndLimited(t *testing.T) {
	ctx := context.Background()
	g := New(memstore.New())

	var ids []string
	for _, title := range []string{"d1", "d2", "o1"} {
		kind := types.NodeDecision
		if title == "o1" {
			kind = types.NodeOption
		}
		n, err := g.AddNode(ctx, persistence.NodeAttrs{Kind: kind, Title: title})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	recent, err := g.RecentDecisions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// newest first: o1, d2
	assert.Equal(t, "o1", recent[0].Title)
	assert.Equal(t, "d2", recent[1].Title)
}

func TestGraph_SupersedeAndForGoal(t *testing.T) {
	ctx := context.Background()
	g := New(memstore.New())

	goal, err := g.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: "goal"})
	require.NoError(t, err)
	decision, err := g.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeDecision, Title: "old decision"})
	require.NoError(t, err)
	_, err = g.AddEdge(ctx, goal.ID, decision.ID, types.EdgeLeadsTo, persistence.EdgeOpts{})
	require.NoError(t, err)

	replacement, err := g.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeDecision, Title: "new decision"})
	require.NoError(t, err)
	require.NoError(t, g.Supersede(ctx, decision.ID, replacement.ID, "changed approach"))

	closure, err := g.ForGoal(ctx, goal.ID)
	require.NoError(t, err)
	titles := make(map[string]bool)
	for _, n := range closure {
		titles[n.Title] = true
	}
	assert.True(t, titles["goal"])
	assert.True(t, titles["old decision"])
	assert.True(t, titles["new decision"])
}

func TestGraph_ForGoalHandlesCycles(t *testing.T) {
	ctx := context.Background()
	g := New(memstore.New())

	a, err := g.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: "a"})
	require.NoError(t, err)
	b, err := g.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeDecision, Title: "b"})
	require.NoError(t, err)

	_, err = g.AddEdge(ctx, a.ID, b.ID, types.EdgeLeadsTo, persistence.EdgeOpts{})
	require.NoError(t, err)
	_, err = g.AddEdge(ctx, b.ID, a.ID, types.EdgeRequires, persistence.EdgeOpts{})
	require.NoError(t, err)

	done := make(chan []*types.DecisionNode, 1)
	go func() {
		closure, _ := g.ForGoal(ctx, a.ID)
		done <- closure
	}()

	select {
	case closure := <-done:
		assert.Len(t, closure, 2)
	case <-time.After(time.Second):
		t.Fatal("ForGoal did not terminate on a cyclic graph")
	}
}

func TestGraph_FormatTimeline(t *testing.T) {
	confidence := 80
	nodes := []*types.DecisionNode{
		{Kind: types.NodeGoal, Title: "ship v1", Status: types.NodeActive},
		{Kind: types.NodeDecision, Title: "use sqlite", Status: types.NodeSuperseded, Confidence: &confidence},
	}

	out := FormatTimeline(nodes)
	assert.Contains(t, out, "[goal] ship v1")
	assert.NotContains(t, out, "ship v1 (active)")
	assert.Contains(t, out, "[decision] use sqlite (superseded) — confidence 80%")
}

func TestGraph_AddNodeRejectsInvalidConfidence(t *testing.T) {
	ctx := context.Background()
	g := New(memstore.New())

	bad := -1
	_, err := g.AddNode(ctx, persistence.NodeAttrs{Kind: types.NodeGoal, Title: "x", Confidence: &bad})
	assert.Error(t, err)
}
