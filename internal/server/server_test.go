package server

import (
	"context"
	"testing"

	"github.com/loomlabs/loom/internal/architect"
	"github.com/loomlabs/loom/internal/decisiongraph"
	"github.com/loomlabs/loom/internal/dispatcher"
	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/permission"
	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/internal/persistence/memstore"
	"github.com/loomlabs/loom/internal/session"
	"github.com/loomlabs/loom/internal/telemetry"
	"github.com/loomlabs/loom/internal/tool"
	"github.com/loomlabs/loom/internal/transport"
	"github.com/loomlabs/loom/pkg/types"
)

// stubTransport always answers with a final-answer response, never
// requesting a tool call — enough to drive SessionEngine/ArchitectPipeline
// through one send_message/Run round-trip without a real LLM, grounded on
// internal/session's scriptedTransport test double.
type stubTransport struct {
	text string
}

func (t *stubTransport) GenerateText(ctx context.Context, modelSpec string, messages []*types.Message, opts transport.GenerateOpts) (transport.Response, error) {
	return transport.Response{Type: transport.ResponseFinalAnswer, Text: t.text}, nil
}

func newTestServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	bus := event.New()
	tools := tool.DefaultRegistry(t.TempDir())
	perms := permission.NewManager(nil)
	tracer := telemetry.New(bus)
	disp := dispatcher.New(tools, tracer)

	mgr := session.NewManager(session.Config{
		Store:       store,
		Bus:         bus,
		Tracer:      tracer,
		Dispatcher:  disp,
		Permissions: perms,
		Transport:   &stubTransport{text: "hello from engine"},
		Tools:       tools,
	})

	pipeline := architect.New(architect.Config{
		Store:       store,
		Bus:         bus,
		Tracer:      tracer,
		Dispatcher:  disp,
		Permissions: perms,
		Transport:   &stubTransport{text: "hello from architect"},
		Tools:       tools,
		PlanModel:   "anthropic:claude-sonnet-4-6",
		EditorModel: "anthropic:claude-haiku-4-5",
	})

	graph := decisiongraph.New(store)
	aggregator := telemetry.NewAggregator(bus, nil)

	httpCfg := DefaultHTTPConfig()
	httpCfg.Directory = t.TempDir()

	srv := New(httpCfg, Deps{
		Store:       store,
		Bus:         bus,
		Manager:     mgr,
		Architect:   pipeline,
		Graph:       graph,
		Permissions: perms,
		Aggregator:  aggregator,
	})
	t.Cleanup(func() {
		aggregator.Close()
		bus.Close()
	})
	return srv, store
}

func createTestSession(t *testing.T, store *memstore.Store) *types.Session {
	t.Helper()
	sess, err := store.CreateSession(context.Background(), persistence.SessionAttrs{
		Model:       "anthropic:claude-sonnet-4-6",
		ProjectPath: t.TempDir(),
		Title:       "test session",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess.AutoApprove = true
	if err := store.UpdateSession(context.Background(), sess); err != nil {
		t.Fatalf("update session: %v", err)
	}
	return sess
}
