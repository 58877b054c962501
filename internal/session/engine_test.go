package session

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

// scriptedTransport returns one canned transport.Response per call to
// GenerateText, in order, looping the last one if more calls arrive than
// scripted responses — grounded on the teacher's provider test doubles.
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

func newTestSession(t *testing.T) (*Manager, *memstore.Store, *types.Session) {
	t.Helper()
	store := memstore.New()
	sess, err := store.CreateSession(context.Background(), persistence.SessionAttrs{
		Model:       "anthropic:claude-sonnet-4-6",
		ProjectPath: t.TempDir(),
		Title:       "test",
	})
	require.NoError(t, err)
	sess.AutoApprove = true
	require.NoError(t, store.UpdateSession(context.Background(), sess))

	tools := tool.DefaultRegistry(sess.ProjectPath)
	perms := permission.NewManager(nil)

	cfg := Config{
		Store:       store,
		Bus:         event.New(),
		Dispatcher:  dispatcher.New(tools, nil),
		Permissions: perms,
		Tools:       tools,
	}
	mgr := NewManager(cfg)
	return mgr, store, sess
}

func TestEngine_SendMessage_FinalAnswer(t *testing.T) {
	mgr, store, sess := newTestSession(t)
	transportDouble := &scriptedTransport{responses: []transport.Response{
		{Type: transport.ResponseFinalAnswer, Text: "done"},
	}}
	mgr.cfg.Transport = transportDouble

	eng, err := mgr.Start(context.Background(), sess)
	require.NoError(t, err)

	text, err := eng.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "done", text)

	history, err := eng.GetHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.RoleUser, history[0].Role)
	assert.Equal(t, types.RoleAssistant, history[1].Role)
	assert.Equal(t, "done", history[1].Content)

	persisted, err := store.LoadMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)

	status, err := eng.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StatusIdle, status)
}

func TestEngine_SendMessage_ToolRoundThenFinalAnswer(t *testing.T) {
	mgr, store, sess := newTestSession(t)

	toolCall := types.ToolCall{ID: "c1", Name: "read", Arguments: map[string]any{"filePath": "a.txt"}}
	transportDouble := &scriptedTransport{responses: []transport.Response{
		{Type: transport.ResponseToolCalls, ToolCalls: []types.ToolCall{toolCall}},
		{Type: transport.ResponseFinalAnswer, Text: "finished reading"},
	}}
	mgr.cfg.Transport = transportDouble

	eng, err := mgr.Start(context.Background(), sess)
	require.NoError(t, err)

	text, err := eng.SendMessage(context.Background(), "read a.txt")
	require.NoError(t, err)
	assert.Equal(t, "finished reading", text)

	persisted, err := store.LoadMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	// user, assistant(tool_calls), tool(result), assistant(final) == 4
	require.Len(t, persisted, 4)
	assert.Equal(t, types.RoleTool, persisted[2].Role)
	assert.Equal(t, "c1", persisted[2].ToolCallID)
}

func TestEngine_SendMessage_IterationCapExceeded(t *testing.T) {
	mgr, _, sess := newTestSession(t)

	toolCall := types.ToolCall{ID: "loop", Name: "read", Arguments: map[string]any{"filePath": "a.txt"}}
	transportDouble := &scriptedTransport{responses: []transport.Response{
		{Type: transport.ResponseToolCalls, ToolCalls: []types.ToolCall{toolCall}},
	}}
	mgr.cfg.Transport = transportDouble

	eng, err := mgr.Start(context.Background(), sess)
	require.NoError(t, err)

	_, err = eng.SendMessage(context.Background(), "go forever")
	require.Error(t, err)
	assert.Equal(t, "Maximum tool call iterations (25) exceeded.", err.Error())

	var capErr *IterationCapExceededError
	assert.ErrorAs(t, err, &capErr)
}

func TestEngine_SendMessage_PermissionDenied(t *testing.T) {
	mgr, store, sess := newTestSession(t)
	sess.AutoApprove = false
	require.NoError(t, store.UpdateSession(context.Background(), sess))

	toolCall := types.ToolCall{ID: "c1", Name: "write", Arguments: map[string]any{"filePath": "a.txt", "content": "x"}}
	transportDouble := &scriptedTransport{responses: []transport.Response{
		{Type: transport.ResponseToolCalls, ToolCalls: []types.ToolCall{toolCall}},
		{Type: transport.ResponseFinalAnswer, Text: "gave up"},
	}}
	mgr.cfg.Transport = transportDouble

	eng, err := mgr.Start(context.Background(), sess)
	require.NoError(t, err)

	text, err := eng.SendMessage(context.Background(), "write a.txt")
	require.NoError(t, err)
	assert.Equal(t, "gave up", text)

	persisted, err := store.LoadMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, persisted, 4)
	assert.Contains(t, persisted[2].Content, "Permission denied")
}

func TestEngine_EventOrdering(t *testing.T) {
	mgr, _, sess := newTestSession(t)

	toolCall := types.ToolCall{ID: "c1", Name: "read", Arguments: map[string]any{"filePath": "a.txt"}}
	transportDouble := &scriptedTransport{responses: []transport.Response{
		{Type: transport.ResponseToolCalls, ToolCalls: []types.ToolCall{toolCall}},
		{Type: transport.ResponseFinalAnswer, Text: "done"},
	}}
	mgr.cfg.Transport = transportDouble

	var kinds []string
	mgr.cfg.Bus.Subscribe(event.Session(sess.ID), func(e event.Event) {
		switch payload := e.Payload.(type) {
		case event.SessionStatusPayload:
			kinds = append(kinds, "status:"+string(payload.Status))
		case event.NewMessagePayload:
			kinds = append(kinds, "message:"+string(payload.Message.Role))
		case event.ToolExecutingPayload:
			kinds = append(kinds, "executing")
		case event.ToolCompletePayload:
			kinds = append(kinds, "complete")
		}
	})

	eng, err := mgr.Start(context.Background(), sess)
	require.NoError(t, err)

	_, err = eng.SendMessage(context.Background(), "go")
	require.NoError(t, err)

	require.Equal(t, []string{
		"status:thinking",
		"message:user",
		"status:executing_tool",
		"message:assistant",
		"executing",
		"complete",
		"message:tool",
		"status:thinking",
		"message:assistant",
		"status:idle",
	}, kinds)
}

