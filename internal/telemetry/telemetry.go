// Package telemetry wraps LLM and tool calls in timed spans, publishes
// start/stop events on the EventBus, and aggregates per-session,
// per-model, and per-tool counters for the UI to read. It also mirrors the
// aggregate counters into a prometheus registry, the idiomatic way this
// corpus exposes runtime metrics (github.com/prometheus/client_golang).
package telemetry

import (
	"time"

	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/pkg/types"
)

// Tracer wraps computations in start/stop spans published on bus.
type Tracer struct {
	bus *event.Bus
}

// New creates a Tracer publishing span events on bus.
func New(bus *event.Bus) *Tracer {
	return &Tracer{bus: bus}
}

// SpanResult is what a traced function returns: either a success value
// (ok=true) or a failure (ok=false). Tool/LLM callers produce this from
// their own richer result; the tracer never inspects payload content.
type SpanResult struct {
	OK    bool
	Value any
}

// SpanLLMRequest runs fn, timing it and classifying the outcome.
func (t *Tracer) SpanLLMRequest(meta map[string]any, fn func() (SpanResult, error)) (SpanResult, error) {
	return t.span(event.SpanLLMRequest, meta, fn)
}

// SpanToolExecute runs fn, timing it and classifying the outcome.
func (t *Tracer) SpanToolExecute(meta map[string]any, fn func() (SpanResult, error)) (SpanResult, error) {
	return t.span(event.SpanToolExecute, meta, fn)
}

func (t *Tracer) span(kind event.SpanKind, meta map[string]any, fn func() (SpanResult, error)) (SpanResult, error) {
	start := time.Now()
	t.publish(event.SpanStartPayload{Kind: kind, At: start.UnixNano(), Metadata: meta})

	result, err := fn()
	dur := time.Since(start)

	success := err == nil && (result.OK)
	t.publish(event.SpanStopPayload{
		Kind:       kind,
		DurationNS: dur.Nanoseconds(),
		Success:    success,
		Error:      err != nil || !result.OK,
		Metadata:   meta,
	})

	return result, err
}

func (t *Tracer) publish(payload any) {
	if t.bus == nil {
		return
	}
	t.bus.PublishSync(event.Event{Topic: event.TopicTelemetry, Payload: payload})
	if teamID, ok := teamIDFromPayload(payload); ok {
		t.bus.PublishSync(event.Event{Topic: event.TelemetryTeam(teamID), Payload: payload})
	}
}

func teamIDFromPayload(payload any) (string, bool) {
	var meta map[string]any
	switch p := payload.(type) {
	case event.SpanStartPayload:
		meta = p.Metadata
	case event.SpanStopPayload:
		meta = p.Metadata
	default:
		return "", false
	}
	teamID, ok := meta["team_id"].(string)
	return teamID, ok && teamID != ""
}

// EmitSessionMessage publishes a non-span notification that a message of
// the given role was added to a session, for the aggregator's per-role
// message counts.
func (t *Tracer) EmitSessionMessage(sessionID string, role types.MessageRole) {
	t.publish(event.SessionMessagePayload{SessionID: sessionID, Role: role})
}

// EmitDecisionLogged publishes a non-span notification that a decision
// graph node was created.
func (t *Tracer) EmitDecisionLogged(sessionID, nodeID string) {
	t.publish(event.DecisionLoggedPayload{SessionID: sessionID, NodeID: nodeID})
}
