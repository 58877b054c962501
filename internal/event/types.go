package event

import "github.com/loomlabs/loom/pkg/types"

// Topic names used by the core. Session-scoped topics are formatted with
// Session(id); the other two are fixed strings.
const (
	topicSessionPrefix       = "session:"
	TopicTelemetry           = "telemetry:updates"
	topicTelemetryTeamPrefix = "telemetry:team:"
)

// Session returns the topic for a given session id.
func Session(id string) string { return topicSessionPrefix + id }

// TelemetryTeam returns the topic for a given team id.
func TelemetryTeam(teamID string) string { return topicTelemetryTeamPrefix + teamID }

// SessionStatusPayload is published on Session(id) when the engine's state
// machine transitions.
type SessionStatusPayload struct {
	ID     string              `json:"id"`
	Status types.SessionStatus `json:"status"`
}

// NewMessagePayload is published on Session(id) whenever a message is
// appended to the transcript, always after the corresponding persistence
// write has been accepted.
type NewMessagePayload struct {
	ID      string         `json:"id"`
	Message *types.Message `json:"message"`
}

// ToolExecutingPayload is published immediately before a tool call runs.
type ToolExecutingPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ToolCompletePayload is published immediately after a tool call's result
// has been normalised, before the resulting tool message is persisted.
type ToolCompletePayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ResultText string `json:"resultText"`
}

// ArchitectPhase enumerates the closed set of architect pipeline phases.
type ArchitectPhase string

const (
	PhasePlanning  ArchitectPhase = "planning"
	PhaseExecuting ArchitectPhase = "executing"
)

// ArchitectPhasePayload is published when the two-stage pipeline moves
// between planning and executing.
type ArchitectPhasePayload struct {
	Phase ArchitectPhase `json:"phase"`
}

// ArchitectPlanPayload carries the synthesised plan once planning completes.
type ArchitectPlanPayload struct {
	ID   string    `json:"id"`
	Plan PlanShape `json:"plan"`
}

// ArchitectStepPayload is published as each execution step completes.
type ArchitectStepPayload struct {
	ID   string    `json:"id"`
	Step StepShape `json:"step"`
}

// PlanShape mirrors the architect's structured-output plan schema.
type PlanShape struct {
	Summary string      `json:"summary"`
	Steps   []StepShape `json:"plan"`
}

// StepShape is one step in an architect plan.
type StepShape struct {
	File        string `json:"file"`
	Action      string `json:"action"` // "create" | "edit" | "delete"
	Description string `json:"description"`
	Details     string `json:"details,omitempty"`
}

// Telemetry span event payloads. Published on TopicTelemetry and, when a
// team id is available in span metadata, also on TelemetryTeam(teamID).

// SpanKind names the two span families defined in spec.md §4.2.
type SpanKind string

const (
	SpanLLMRequest  SpanKind = "llm_request"
	SpanToolExecute SpanKind = "tool_execute"
)

// SpanStartPayload is emitted when a span begins.
type SpanStartPayload struct {
	Kind     SpanKind       `json:"kind"`
	At       int64          `json:"at"` // monotonic nanoseconds
	Metadata map[string]any `json:"metadata"`
}

// SpanStopPayload is emitted when a span ends.
type SpanStopPayload struct {
	Kind       SpanKind       `json:"kind"`
	DurationNS int64          `json:"durationNS"`
	Success    bool           `json:"success"`
	Error      bool           `json:"error"`
	Metadata   map[string]any `json:"metadata"`
}

// SessionMessagePayload backs emit_session_message, a non-span telemetry
// notification keeping per-role message counts up to date.
type SessionMessagePayload struct {
	SessionID string            `json:"sessionID"`
	Role      types.MessageRole `json:"role"`
}

// DecisionLoggedPayload backs emit_decision_logged.
type DecisionLoggedPayload struct {
	SessionID string `json:"sessionID,omitempty"`
	NodeID    string `json:"nodeID"`
}
