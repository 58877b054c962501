package architect

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlabs/loom/internal/dispatcher"
	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/permission"
	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/internal/persistence/memstore"
	"github.com/loomlabs/loom/internal/tool"
	"github.com/loomlabs/loom/internal/transport"
	"github.com/loomlabs/loom/pkg/types"
)

// scriptedTransport mirrors internal/session's test double: one canned
// response per call, in order, repeating the last past the end.
type scriptedTransport struct {
	responses []transport.Response
	calls     int32
}

func (t *scriptedTransport) GenerateText(ctx context.Context, modelSpec string, messages []*types.Message, opts transport.GenerateOpts) (transport.Response, error) {
	i := atomic.AddInt32(&t.calls, 1) - 1
	if int(i) >= len(t.responses) {
		return t.responses[len(t.responses)-1], nil
	}
	return t.responses[i], nil
}

func newTestPipeline(t *testing.T, responses []transport.Response) (*Pipeline, *memstore.Store, *types.Session) {
	t.Helper()
	store := memstore.New()
	sess, err := store.CreateSession(context.Background(), persistence.SessionAttrs{
		Model:       "anthropic:claude-opus-4-6",
		ProjectPath: t.TempDir(),
		Title:       "architect test",
	})
	require.NoError(t, err)

	tools := tool.DefaultRegistry(sess.ProjectPath)
	perms := permission.NewManager([]string{"read", "write", "edit", "list"})

	p := New(Config{
		Store:       store,
		Bus:         event.New(),
		Dispatcher:  dispatcher.New(tools, nil),
		Permissions: perms,
		Transport:   &scriptedTransport{responses: responses},
		Tools:       tools,
		PlanModel:   "anthropic:claude-opus-4-6",
		EditorModel: "anthropic:claude-haiku-4-5",
	})
	return p, store, sess
}

func TestPipeline_Run_PlanThenSingleStepFinalAnswer(t *testing.T) {
	p, store, sess := newTestPipeline(t, []transport.Response{
		{Type: transport.ResponseFinalAnswer, Text: "```json\n{\"summary\":\"add a greeting\",\"plan\":[{\"file\":\"hello.txt\",\"action\":\"create\",\"description\":\"write hello\"}]}\n```"},
		{Type: transport.ResponseFinalAnswer, Text: "created hello.txt"},
	})

	summary, err := p.Run(context.Background(), sess, "add a hello file")
	require.NoError(t, err)
	assert.Contains(t, summary, "Execution complete.")
	assert.Contains(t, summary, "hello.txt")

	persisted, err := store.LoadMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	// plan summary + execute summary == 2 assistant messages (no tool calls issued)
	require.Len(t, persisted, 2)
	assert.Equal(t, types.RoleAssistant, persisted[0].Role)
	assert.Contains(t, persisted[0].Content, "add a greeting")
	assert.Equal(t, types.RoleAssistant, persisted[1].Role)
}

func TestPipeline_Run_PlanWithoutFenceAndMissingSummary(t *testing.T) {
	p, store, sess := newTestPipeline(t, []transport.Response{
		{Type: transport.ResponseFinalAnswer, Text: `{"plan":[{"file":"a.go","action":"edit","description":"fix it"},{"file":"b.go","action":"edit","description":"fix it too"}]}`},
		{Type: transport.ResponseFinalAnswer, Text: "step done"},
	})

	_, err := p.Run(context.Background(), sess, "fix a.go and b.go")
	require.NoError(t, err)

	persisted, err := store.LoadMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Contains(t, persisted[0].Content, "2-step plan")
}

func TestPipeline_Run_MalformedPlanJSONIsDecodeError(t *testing.T) {
	p, _, sess := newTestPipeline(t, []transport.Response{
		{Type: transport.ResponseFinalAnswer, Text: "not json at all"},
	})

	_, err := p.Run(context.Background(), sess, "do something")
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestPipeline_Run_StepWithToolCallThenFinalAnswer(t *testing.T) {
	p, store, sess := newTestPipeline(t, []transport.Response{
		{Type: transport.ResponseFinalAnswer, Text: `{"summary":"list the dir","plan":[{"file":".","action":"edit","description":"list contents"}]}`},
		{Type: transport.ResponseToolCalls, ToolCalls: []types.ToolCall{{ID: "s1", Name: "list", Arguments: map[string]any{"path": sess.ProjectPath}}}},
		{Type: transport.ResponseFinalAnswer, Text: "listed the directory"},
	})

	summary, err := p.Run(context.Background(), sess, "list the project dir")
	require.NoError(t, err)
	assert.Contains(t, summary, "listed the directory")

	persisted, err := store.LoadMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	// plan summary, tool(result) persisted by runToolCall, execute summary == 3
	// (the step's own intermediate assistant tool-call message stays in the
	// step's local context only — it never leaves the step, so it is not
	// separately persisted, per spec.md §4.10's "step results aggregate
	// into a final summary assistant message").
	require.Len(t, persisted, 3)
	assert.Equal(t, types.RoleTool, persisted[1].Role)
	assert.Equal(t, "s1", persisted[1].ToolCallID)
}
