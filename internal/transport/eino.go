package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/loomlabs/loom/pkg/types"
)

// ProviderConfig is the per-provider configuration EinoTransport needs to
// lazily build a chat model. APIKey falls back to the provider's usual
// environment variable when empty, mirroring the teacher's
// NewAnthropicProvider/NewOpenAIProvider constructors.
type ProviderConfig struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// pricing is USD per million tokens, used only to populate Usage.TotalCostMicros
// for telemetry; it is not a billing source of truth. Figures mirror the
// teacher's anthropicModels()/openAIModels() price tables.
type pricing struct {
	inputPerMillion  float64
	outputPerMillion float64
}

var modelPricing = map[string]pricing{
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-opus-4-20250514":     {15.0, 75.0},
	"claude-3-5-sonnet-20241022": {3.0, 15.0},
	"claude-3-5-haiku-20241022":  {0.8, 4.0},
	"gpt-4o":                     {2.5, 10.0},
	"gpt-4o-mini":                {0.15, 0.6},
}

// EinoTransport implements LLMTransport over cloudwego/eino chat model
// clients, lazily constructing one ToolCallingChatModel per
// "provider:model_id" and reusing it for subsequent calls with the same
// spec. It folds the teacher's internal/provider package (Registry +
// Anthropic/OpenAI providers) directly behind the LLMTransport boundary:
// session and architect never see eino or provider-specific config.
type EinoTransport struct {
	anthropic ProviderConfig
	openai    ProviderConfig

	mu     sync.Mutex
	models map[string]model.ToolCallingChatModel
}

// NewEinoTransport builds a transport over the given per-provider configs.
// Either config may be the zero value; chat models for that provider are
// only constructed (and only then validated) on first use.
func NewEinoTransport(anthropic, openai ProviderConfig) *EinoTransport {
	return &EinoTransport{
		anthropic: anthropic,
		openai:    openai,
		models:    make(map[string]model.ToolCallingChatModel),
	}
}

func (t *EinoTransport) chatModel(ctx context.Context, providerID, modelID string) (model.ToolCallingChatModel, error) {
	key := providerID + ":" + modelID

	t.mu.Lock()
	defer t.mu.Unlock()

	if cm, ok := t.models[key]; ok {
		return cm, nil
	}

	cm, err := t.buildChatModel(ctx, providerID, modelID)
	if err != nil {
		return nil, err
	}
	t.models[key] = cm
	return cm, nil
}

func (t *EinoTransport) buildChatModel(ctx context.Context, providerID, modelID string) (model.ToolCallingChatModel, error) {
	switch providerID {
	case "anthropic":
		apiKey := t.anthropic.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("transport: ANTHROPIC_API_KEY not set")
		}
		maxTokens := t.anthropic.MaxTokens
		if maxTokens == 0 {
			maxTokens = 8192
		}
		cfg := &claude.Config{APIKey: apiKey, Model: modelID, MaxTokens: maxTokens}
		if t.anthropic.BaseURL != "" {
			cfg.BaseURL = &t.anthropic.BaseURL
		}
		return claude.NewChatModel(ctx, cfg)

	case "openai":
		apiKey := t.openai.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("transport: OPENAI_API_KEY not set")
		}
		maxTokens := t.openai.MaxTokens
		if maxTokens == 0 {
			maxTokens = 4096
		}
		cfg := &openai.ChatModelConfig{APIKey: apiKey, Model: modelID, MaxTokens: &maxTokens}
		if t.openai.BaseURL != "" {
			cfg.BaseURL = t.openai.BaseURL
		}
		return openai.NewChatModel(ctx, cfg)

	default:
		return nil, fmt.Errorf("transport: unknown provider %q", providerID)
	}
}

// GenerateText implements LLMTransport. It collapses the teacher's
// chunk-by-chunk stream accumulation (internal/session/stream.go) into a
// single blocking Generate call, since spec.md's transport boundary is
// request/reply, not streaming.
func (t *EinoTransport) GenerateText(ctx context.Context, modelSpec string, messages []*types.Message, opts GenerateOpts) (Response, error) {
	providerID, modelID := ParseModelSpec(modelSpec)

	cm, err := t.chatModel(ctx, providerID, modelID)
	if err != nil {
		return Response{}, err
	}

	if len(opts.Tools) > 0 {
		cm, err = cm.WithTools(convertTools(opts.Tools))
		if err != nil {
			return Response{}, fmt.Errorf("transport: bind tools: %w", err)
		}
	}

	msg, err := cm.Generate(ctx, convertMessages(messages))
	if err != nil {
		return Response{}, err
	}

	return toResponse(msg, modelID), nil
}

func convertMessages(messages []*types.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		em := &schema.Message{Content: m.Content}
		switch m.Role {
		case types.RoleUser:
			em.Role = schema.User
		case types.RoleSystem:
			em.Role = schema.System
		case types.RoleTool:
			em.Role = schema.Tool
			em.ToolCallID = m.ToolCallID
		default:
			em.Role = schema.Assistant
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			em.ToolCalls = append(em.ToolCalls, schema.ToolCall{
				ID: tc.ID,
				Function: schema.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, em)
	}
	return out
}

func convertTools(tools []ToolDef) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(tools))
	for _, td := range tools {
		params := make(map[string]*schema.ParameterInfo, len(td.Parameters))
		for _, p := range td.Parameters {
			params[p.Name] = &schema.ParameterInfo{
				Type:     schemaType(p.Type),
				Desc:     p.Doc,
				Required: p.Required,
			}
		}
		out = append(out, &schema.ToolInfo{
			Name:        td.Name,
			Desc:        td.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return out
}

func schemaType(t string) schema.DataType {
	switch t {
	case "integer":
		return schema.Integer
	case "float":
		return schema.Number
	case "boolean":
		return schema.Boolean
	default:
		return schema.String
	}
}

func toResponse(msg *schema.Message, modelID string) Response {
	resp := Response{}

	if len(msg.ToolCalls) > 0 {
		resp.Type = ResponseToolCalls
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
	} else {
		resp.Type = ResponseFinalAnswer
		resp.Text = msg.Content
	}

	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		input := msg.ResponseMeta.Usage.PromptTokens
		output := msg.ResponseMeta.Usage.CompletionTokens
		resp.Usage = types.Usage{
			InputTokens:     input,
			OutputTokens:    output,
			TotalCostMicros: costMicros(modelID, input, output),
		}
	}

	return resp
}

func costMicros(modelID string, inputTokens, outputTokens int) int64 {
	p, ok := modelPricing[modelID]
	if !ok {
		return 0
	}
	usd := float64(inputTokens)/1_000_000*p.inputPerMillion + float64(outputTokens)/1_000_000*p.outputPerMillion
	return int64(usd * 1_000_000)
}
