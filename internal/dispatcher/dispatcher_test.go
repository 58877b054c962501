package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/telemetry"
	"github.com/loomlabs/loom/internal/tool"
)

func newTestTool(id string, execute func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error)) tool.Tool {
	return tool.NewBaseTool(id, "test tool", json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`), execute)
}

func TestDispatch_UnknownToolProducesSyntheticError(t *testing.T) {
	d := New(MapRegistry{}, nil)
	out := d.Dispatch(context.Background(), "ghost", nil, &tool.Context{}, time.Second)
	assert.True(t, out.IsError)
	assert.Contains(t, out.Text, "unknown tool")
}

func TestDispatch_SuccessRendersOutput(t *testing.T) {
	echo := newTestTool("echo", func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
		return &tool.Result{Output: "hello"}, nil
	})
	d := New(MapRegistry{"echo": echo}, nil)
	out := d.Dispatch(context.Background(), "echo", nil, &tool.Context{}, time.Second)
	assert.False(t, out.IsError)
	assert.Equal(t, "hello", out.Text)
}

func TestDispatch_ErrorRendersErrorPrefix(t *testing.T) {
	failing := newTestTool("fail", func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
		return nil, errors.New("boom")
	})
	d := New(MapRegistry{"fail": failing}, nil)
	out := d.Dispatch(context.Background(), "fail", nil, &tool.Context{}, time.Second)
	assert.True(t, out.IsError)
	assert.Equal(t, "Error: boom", out.Text)
}

func TestDispatch_PanicRendersErrorPrefix(t *testing.T) {
	panicky := newTestTool("panicky", func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
		panic("kaboom")
	})
	d := New(MapRegistry{"panicky": panicky}, nil)
	out := d.Dispatch(context.Background(), "panicky", nil, &tool.Context{}, time.Second)
	assert.True(t, out.IsError)
	assert.Contains(t, out.Text, "Error:")
	assert.Contains(t, out.Text, "kaboom")
}

func TestDispatch_TimeoutCancelsContext(t *testing.T) {
	slow := newTestTool("slow", func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
		select {
		case <-time.After(time.Second):
			return &tool.Result{Output: "too late"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	d := New(MapRegistry{"slow": slow}, nil)
	out := d.Dispatch(context.Background(), "slow", nil, &tool.Context{}, 10*time.Millisecond)
	assert.True(t, out.IsError)
}

func TestDispatch_PublishesSpanEvents(t *testing.T) {
	bus := event.New()
	defer bus.Close()

	var starts, stops int
	bus.Subscribe(event.TopicTelemetry, func(e event.Event) {
		switch e.Payload.(type) {
		case event.SpanStartPayload:
			starts++
		case event.SpanStopPayload:
			stops++
		}
	})

	tracer := telemetry.New(bus)
	echo := newTestTool("echo", func(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
		return &tool.Result{Output: "hi"}, nil
	})
	d := New(MapRegistry{"echo": echo}, tracer)
	d.Dispatch(context.Background(), "echo", nil, &tool.Context{SessionID: "s1"}, time.Second)

	require.Equal(t, 1, starts)
	require.Equal(t, 1, stops)
}
