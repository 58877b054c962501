// Package transport defines the LLMTransport interface the SessionEngine
// and ArchitectPipeline consume, plus a concrete adapter
// (internal/transport/eino.go) wiring cloudwego/eino and the
// anthropic-sdk-go/openai-go provider clients. internal/session and
// internal/architect depend only on the interface in this file — never on
// the concrete adapter — so the core's import graph stays free of any
// specific LLM SDK, per spec.md §1's scope boundary.
package transport

import (
	"context"

	"github.com/loomlabs/loom/pkg/types"
)

// ResponseType classifies a Transport response.
type ResponseType string

const (
	ResponseFinalAnswer ResponseType = "final_answer"
	ResponseToolCalls    ResponseType = "tool_calls"
	ResponseError        ResponseType = "error"
)

// ToolDef is a tool definition passed to the model so it knows what it can
// call.
type ToolDef struct {
	Name        string
	Description string
	Parameters  []ParamDef
}

// ParamDef describes one parameter of a ToolDef.
type ParamDef struct {
	Name     string
	Type     string // "string" | "integer" | "float" | "boolean" | "any"
	Required bool
	Doc      string
}

// GenerateOpts carries the optional arguments to GenerateText.
type GenerateOpts struct {
	Tools []ToolDef
}

// Response is the opaque result of a GenerateText call; callers use
// Classify and Usage rather than inspecting it directly.
type Response struct {
	Type      ResponseType
	Text      string
	ToolCalls []types.ToolCall
	Err       error
	Usage     types.Usage
}

// Classify extracts the (type, text, tool_calls) triple spec.md §6 asks
// for.
func (r Response) Classify() (ResponseType, string, []types.ToolCall) {
	return r.Type, r.Text, r.ToolCalls
}

// LLMTransport is the consumed LLM boundary. ModelSpec is "provider:model"
// (e.g. "anthropic:claude-sonnet-4-6"); the engine parses on ":", defaulting
// provider to "anthropic" if absent — see ParseModelSpec.
type LLMTransport interface {
	GenerateText(ctx context.Context, modelSpec string, messages []*types.Message, opts GenerateOpts) (Response, error)
}

// ParseModelSpec splits "provider:model_id" into its parts, defaulting
// provider to "anthropic" when spec carries no ":".
func ParseModelSpec(spec string) (provider, modelID string) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return spec[:i], spec[i+1:]
		}
	}
	return "anthropic", spec
}
