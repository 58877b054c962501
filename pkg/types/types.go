// Package types holds the data model shared across the loom core: sessions,
// messages, tool calls, permission grants, and decision graph nodes/edges.
package types

import "time"

// SessionStatus is the lifecycle status of a Session.
type SessionStatus string

const (
	StatusIdle          SessionStatus = "idle"
	StatusThinking       SessionStatus = "thinking"
	StatusExecutingTool SessionStatus = "executing_tool"
	StatusStopped       SessionStatus = "stopped"
)

// Session is one conversation with the assistant.
type Session struct {
	ID          string        `json:"id"`
	Model       string        `json:"model"` // "provider:model_id"
	ProjectPath string        `json:"projectPath"`
	Title       string        `json:"title"`
	Status      SessionStatus `json:"status"`
	InputTokens int64         `json:"inputTokens"`
	OutputTokens int64        `json:"outputTokens"`
	// CostMicros is cumulative cost in millionths of a US dollar. Integer
	// arithmetic only — never accumulate cost in a float. See DESIGN.md.
	CostMicros  int64     `json:"costMicros"`
	AutoApprove bool      `json:"autoApprove"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CostUSD renders CostMicros as a float for display only; never use this
// for further arithmetic.
func (s Session) CostUSD() float64 {
	return float64(s.CostMicros) / 1_000_000
}

// MessageRole tags the variant of a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// ToolCall is a single tool invocation requested by the assistant.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one entry in a session's ordered transcript.
//
// Role determines which fields are meaningful: user/system carry Content
// only; assistant carries Content plus an optional ToolCalls list; tool
// carries Content (the result text) plus ToolCallID naming the call it
// answers.
type Message struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionID"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"toolCalls,omitempty"`
	ToolCallID string      `json:"toolCallID,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Usage is the token/cost accounting returned by an LLM transport call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalCostMicros int64
}

// PermissionGrant is a session-scoped record permitting one tool on one
// scope without re-asking.
type PermissionGrant struct {
	Tool      string    `json:"tool"`
	Scope     string    `json:"scope"` // "*", a literal path, a path glob, or a bash command pattern
	SessionID string    `json:"sessionID"`
	CreatedAt time.Time `json:"createdAt"`
}

// DecisionNodeKind enumerates the kinds of decision-graph nodes.
type DecisionNodeKind string

const (
	NodeGoal        DecisionNodeKind = "goal"
	NodeDecision    DecisionNodeKind = "decision"
	NodeOption      DecisionNodeKind = "option"
	NodeAction      DecisionNodeKind = "action"
	NodeOutcome     DecisionNodeKind = "outcome"
	NodeObservation DecisionNodeKind = "observation"
	NodeRevisit     DecisionNodeKind = "revisit"
)

// DecisionNodeStatus enumerates node lifecycle states.
type DecisionNodeStatus string

const (
	NodeActive     DecisionNodeStatus = "active"
	NodeSuperseded DecisionNodeStatus = "superseded"
	NodeResolved   DecisionNodeStatus = "resolved"
)

// DecisionNode is a typed artefact in the persistent decision graph.
type DecisionNode struct {
	ID          string             `json:"id"`
	Kind        DecisionNodeKind   `json:"kind"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Confidence  *int               `json:"confidence,omitempty"` // 0..100
	Status      DecisionNodeStatus `json:"status"`
	SessionID   string             `json:"sessionID,omitempty"`
	AgentName   string             `json:"agentName,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	ChangeID    string             `json:"changeID"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// DecisionEdgeKind enumerates edge kinds in the decision graph.
type DecisionEdgeKind string

const (
	EdgeLeadsTo   DecisionEdgeKind = "leads_to"
	EdgeChosen    DecisionEdgeKind = "chosen"
	EdgeRejected  DecisionEdgeKind = "rejected"
	EdgeRequires  DecisionEdgeKind = "requires"
	EdgeBlocks    DecisionEdgeKind = "blocks"
	EdgeEnables   DecisionEdgeKind = "enables"
	EdgeSupersedes DecisionEdgeKind = "supersedes"
)

// DecisionEdge is a directed edge between two DecisionNode IDs.
type DecisionEdge struct {
	ID        string           `json:"id"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Kind      DecisionEdgeKind `json:"kind"`
	Weight    *float64         `json:"weight,omitempty"` // (0,1]
	Rationale string           `json:"rationale,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
