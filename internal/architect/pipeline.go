package architect

import (
	"context"
	"fmt"

	"github.com/loomlabs/loom/internal/dispatcher"
	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/permission"
	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/internal/telemetry"
	"github.com/loomlabs/loom/internal/tool"
	"github.com/loomlabs/loom/internal/transport"
	"github.com/loomlabs/loom/pkg/types"
)

// Config is everything a Pipeline run needs. PlanModel and EditorModel
// correspond to spec.md §6's [model] architect and editor config keys
// respectively.
type Config struct {
	Store       persistence.Store
	Bus         *event.Bus
	Tracer      *telemetry.Tracer
	Dispatcher  *dispatcher.Dispatcher
	Permissions *permission.Manager
	Transport   transport.LLMTransport
	Tools       *tool.Registry

	PlanModel   string
	EditorModel string
}

// Pipeline runs the two-phase plan→execute flow for one session. Unlike
// session.Engine it owns no goroutine and serialises nothing itself — a
// Run call is expected to be driven the same way a single send_message
// call is, one at a time per session, by its caller.
type Pipeline struct {
	cfg Config
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Run executes the full plan→execute flow for text against sess, returning
// the final aggregated summary. Every persisted message and broadcast
// event happens on sess.ID's topic, interleaved with session.Engine
// traffic the same way any other SessionEngine turn would be.
func (p *Pipeline) Run(ctx context.Context, sess *types.Session, text string) (string, error) {
	plan, err := p.plan(ctx, sess, text)
	if err != nil {
		return "", err
	}

	summary, err := p.execute(ctx, sess, plan)
	if err != nil {
		return "", err
	}
	return summary, nil
}

func (p *Pipeline) persistMessage(ctx context.Context, sess *types.Session, attrs persistence.MessageAttrs) (*types.Message, error) {
	msg, err := p.cfg.Store.SaveMessage(ctx, attrs)
	if err != nil {
		return nil, fmt.Errorf("architect: persist message: %w", err)
	}
	p.publish(sess.ID, event.NewMessagePayload{ID: sess.ID, Message: msg})
	if p.cfg.Tracer != nil {
		p.cfg.Tracer.EmitSessionMessage(sess.ID, msg.Role)
	}
	return msg, nil
}

func (p *Pipeline) publish(sessionID string, payload any) {
	if p.cfg.Bus == nil {
		return
	}
	p.cfg.Bus.PublishSync(event.Event{Topic: event.Session(sessionID), Payload: payload})
}
