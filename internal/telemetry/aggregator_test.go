package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/pkg/types"
)

func TestAggregator_LLMRequestSpan(t *testing.T) {
	bus := event.New()
	defer bus.Close()

	agg := NewAggregator(bus, nil)
	defer agg.Close()

	tracer := New(bus)

	_, err := tracer.SpanLLMRequest(map[string]any{
		"session_id":    "s1",
		"model":         "claude-sonnet",
		"input_tokens":  100,
		"output_tokens": 50,
		"cost_micros":   int64(1234),
	}, func() (SpanResult, error) {
		return SpanResult{OK: true}, nil
	})
	require.NoError(t, err)

	sm, ok := agg.Session("s1")
	require.True(t, ok)
	assert.Equal(t, int64(100), sm.InputTokens)
	assert.Equal(t, int64(50), sm.OutputTokens)
	assert.Equal(t, int64(1234), sm.CostMicros)
	assert.Equal(t, int64(1), sm.RequestCount)

	global := agg.Global()
	assert.Equal(t, int64(1), global.TotalRequests)
	assert.Equal(t, int64(150), global.TotalTokens)
	assert.Equal(t, int64(1234), global.TotalCostMicros)

	perModel := agg.PerModel()
	assert.Equal(t, int64(1), perModel["claude-sonnet"])
}

func TestAggregator_ToolExecuteSpan(t *testing.T) {
	bus := event.New()
	defer bus.Close()

	agg := NewAggregator(bus, nil)
	defer agg.Close()

	tracer := New(bus)

	_, _ = tracer.SpanToolExecute(map[string]any{
		"session_id": "s1",
		"tool":       "bash",
	}, func() (SpanResult, error) {
		return SpanResult{OK: true}, nil
	})
	_, _ = tracer.SpanToolExecute(map[string]any{
		"session_id": "s1",
		"tool":       "bash",
	}, func() (SpanResult, error) {
		return SpanResult{OK: false}, nil
	})

	sm, ok := agg.Session("s1")
	require.True(t, ok)
	assert.Equal(t, int64(2), sm.ToolCallCount)

	perTool := agg.PerTool()
	require.Contains(t, perTool, "bash")
	assert.Equal(t, int64(2), perTool["bash"].Count)
	assert.Equal(t, int64(1), perTool["bash"].Successes)
}

func TestAggregator_SessionMessageAndDecisionCounts(t *testing.T) {
	bus := event.New()
	defer bus.Close()

	agg := NewAggregator(bus, nil)
	defer agg.Close()

	tracer := New(bus)
	tracer.EmitSessionMessage("s1", types.RoleUser)
	tracer.EmitSessionMessage("s1", types.RoleAssistant)
	tracer.EmitSessionMessage("s1", types.RoleAssistant)
	tracer.EmitDecisionLogged("s1", "node-1")

	sm, ok := agg.Session("s1")
	require.True(t, ok)
	assert.Equal(t, int64(1), sm.RoleCounts[types.RoleUser])
	assert.Equal(t, int64(2), sm.RoleCounts[types.RoleAssistant])
	assert.Equal(t, int64(1), sm.DecisionCount)
}

func TestAggregator_UnknownSessionReturnsFalse(t *testing.T) {
	bus := event.New()
	defer bus.Close()

	agg := NewAggregator(bus, nil)
	defer agg.Close()

	_, ok := agg.Session("ghost")
	assert.False(t, ok)
}

func TestAggregator_SnapshotIsIndependentCopy(t *testing.T) {
	bus := event.New()
	defer bus.Close()

	agg := NewAggregator(bus, nil)
	defer agg.Close()

	tracer := New(bus)
	tracer.EmitSessionMessage("s1", types.RoleUser)

	sm, ok := agg.Session("s1")
	require.True(t, ok)
	sm.RoleCounts[types.RoleUser] = 999

	sm2, _ := agg.Session("s1")
	assert.Equal(t, int64(1), sm2.RoleCounts[types.RoleUser])
}

func TestAggregator_LastActivityUpdates(t *testing.T) {
	bus := event.New()
	defer bus.Close()

	agg := NewAggregator(bus, nil)
	defer agg.Close()

	tracer := New(bus)
	tracer.EmitSessionMessage("s1", types.RoleUser)
	sm, _ := agg.Session("s1")
	first := sm.LastActivity

	time.Sleep(time.Millisecond)
	tracer.EmitSessionMessage("s1", types.RoleAssistant)
	sm2, _ := agg.Session("s1")

	assert.True(t, sm2.LastActivity.After(first) || sm2.LastActivity.Equal(first))
}
