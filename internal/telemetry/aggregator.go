package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/pkg/types"
)

// SessionMetrics is the per-session aggregate the UI reads.
type SessionMetrics struct {
	InputTokens    int64
	OutputTokens   int64
	CostMicros     int64
	RequestCount   int64
	ToolCallCount  int64
	TotalLatencyNS int64
	DecisionCount  int64
	RoleCounts     map[types.MessageRole]int64
	LastActivity   time.Time
}

func newSessionMetrics() *SessionMetrics {
	return &SessionMetrics{RoleCounts: make(map[types.MessageRole]int64)}
}

func (m SessionMetrics) clone() SessionMetrics {
	cp := m
	cp.RoleCounts = make(map[types.MessageRole]int64, len(m.RoleCounts))
	for k, v := range m.RoleCounts {
		cp.RoleCounts[k] = v
	}
	return cp
}

// GlobalTotals aggregates across all sessions.
type GlobalTotals struct {
	TotalTokens   int64
	TotalCostMicros int64
	TotalRequests int64
}

// ToolStats is the per-tool aggregate.
type ToolStats struct {
	Count          int64
	TotalDurationNS int64
	Successes      int64
}

// Aggregator subscribes to the telemetry topic and maintains in-memory
// snapshots. Writes are serialised through a single mutex (the "single
// writer" in spec.md §4.2); reads take a read lock and return copies, so
// callers always observe a consistent, read-your-write snapshot.
type Aggregator struct {
	mu sync.RWMutex

	perSession  map[string]*SessionMetrics
	global      GlobalTotals
	perModel    map[string]int64
	perTool     map[string]*ToolStats

	promRequests   *prometheus.CounterVec
	promToolCalls  *prometheus.CounterVec
	promToolErrors *prometheus.CounterVec
	promLatency    *prometheus.HistogramVec

	unsubscribe func()
}

// NewAggregator creates an Aggregator and subscribes it to bus's telemetry
// topic. Call Close to unsubscribe.
func NewAggregator(bus *event.Bus, reg prometheus.Registerer) *Aggregator {
	a := &Aggregator{
		perSession: make(map[string]*SessionMetrics),
		perModel:   make(map[string]int64),
		perTool:    make(map[string]*ToolStats),
		promRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_llm_requests_total",
			Help: "Total LLM requests by model.",
		}, []string{"model"}),
		promToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_tool_calls_total",
			Help: "Total tool invocations by tool name.",
		}, []string{"tool"}),
		promToolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_tool_errors_total",
			Help: "Total failed tool invocations by tool name.",
		}, []string{"tool"}),
		promLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "loom_span_duration_seconds",
			Help: "Span duration by kind.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(a.promRequests, a.promToolCalls, a.promToolErrors, a.promLatency)
	}

	a.unsubscribe = bus.Subscribe(event.TopicTelemetry, a.handle)
	return a
}

// Close unsubscribes the aggregator from its bus.
func (a *Aggregator) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

func (a *Aggregator) handle(ev event.Event) {
	switch p := ev.Payload.(type) {
	case event.SpanStopPayload:
		a.handleSpanStop(p)
	case event.SessionMessagePayload:
		a.handleSessionMessage(p)
	case event.DecisionLoggedPayload:
		a.handleDecisionLogged(p)
	}
}

func (a *Aggregator) handleSpanStop(p event.SpanStopPayload) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch p.Kind {
	case event.SpanLLMRequest:
		sessionID, _ := p.Metadata["session_id"].(string)
		model, _ := p.Metadata["model"].(string)
		inputTokens, _ := p.Metadata["input_tokens"].(int)
		outputTokens, _ := p.Metadata["output_tokens"].(int)
		costMicros, _ := p.Metadata["cost_micros"].(int64)

		sm := a.sessionLocked(sessionID)
		sm.RequestCount++
		sm.InputTokens += int64(inputTokens)
		sm.OutputTokens += int64(outputTokens)
		sm.CostMicros += costMicros
		sm.TotalLatencyNS += p.DurationNS
		sm.LastActivity = time.Now()

		a.global.TotalRequests++
		a.global.TotalTokens += int64(inputTokens + outputTokens)
		a.global.TotalCostMicros += costMicros
		if model != "" {
			a.perModel[model]++
			a.promRequests.WithLabelValues(model).Inc()
		}
		a.promLatency.WithLabelValues(string(p.Kind)).Observe(time.Duration(p.DurationNS).Seconds())

	case event.SpanToolExecute:
		sessionID, _ := p.Metadata["session_id"].(string)
		tool, _ := p.Metadata["tool"].(string)

		sm := a.sessionLocked(sessionID)
		sm.ToolCallCount++
		sm.LastActivity = time.Now()

		if tool != "" {
			ts, ok := a.perTool[tool]
			if !ok {
				ts = &ToolStats{}
				a.perTool[tool] = ts
			}
			ts.Count++
			ts.TotalDurationNS += p.DurationNS
			if p.Success {
				ts.Successes++
			}
			a.promToolCalls.WithLabelValues(tool).Inc()
			if !p.Success {
				a.promToolErrors.WithLabelValues(tool).Inc()
			}
		}
		a.promLatency.WithLabelValues(string(p.Kind)).Observe(time.Duration(p.DurationNS).Seconds())
	}
}

func (a *Aggregator) handleSessionMessage(p event.SessionMessagePayload) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sm := a.sessionLocked(p.SessionID)
	sm.RoleCounts[p.Role]++
	sm.LastActivity = time.Now()
}

func (a *Aggregator) handleDecisionLogged(p event.DecisionLoggedPayload) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p.SessionID == "" {
		return
	}
	sm := a.sessionLocked(p.SessionID)
	sm.DecisionCount++
}

// sessionLocked returns (creating if needed) the metrics for sessionID.
// Caller must hold a.mu.
func (a *Aggregator) sessionLocked(sessionID string) *SessionMetrics {
	sm, ok := a.perSession[sessionID]
	if !ok {
		sm = newSessionMetrics()
		a.perSession[sessionID] = sm
	}
	return sm
}

// Session returns a snapshot of a single session's metrics.
func (a *Aggregator) Session(sessionID string) (SessionMetrics, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sm, ok := a.perSession[sessionID]
	if !ok {
		return SessionMetrics{}, false
	}
	return sm.clone(), true
}

// Global returns a snapshot of the global totals.
func (a *Aggregator) Global() GlobalTotals {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.global
}

// PerModel returns a snapshot of request counts keyed by model.
func (a *Aggregator) PerModel() map[string]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int64, len(a.perModel))
	for k, v := range a.perModel {
		out[k] = v
	}
	return out
}

// PerTool returns a snapshot of the per-tool stats.
func (a *Aggregator) PerTool() map[string]ToolStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]ToolStats, len(a.perTool))
	for k, v := range a.perTool {
		out[k] = *v
	}
	return out
}
