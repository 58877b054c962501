// Package contextwindow assembles the message list sent to the LLM transport
// on every SessionEngine turn: a synthesised system message followed by the
// longest newest-to-oldest suffix of prior messages that fits the model's
// token budget. Token estimation is a cheap deterministic heuristic, not a
// real tokenizer — it must never depend on which model is configured.
package contextwindow

import (
	"strings"

	"github.com/loomlabs/loom/pkg/types"
)

const (
	defaultModelLimit    = 128_000
	defaultReservedOutput = 4_096

	// messageOverheadTokens is the constant per-message overhead added to
	// the raw content estimate (role/formatting wrapper tokens).
	messageOverheadTokens = 4

	defaultMaxRepoMapTokens       = 2048
	defaultMaxDecisionContextTokens = 1024
)

// ModelSpec resolves per-model limits. A zero-value ModelSpec uses the
// package defaults.
type ModelSpec struct {
	ContextLimit   int
	ReservedOutput int
}

func (m ModelSpec) limit() int {
	if m.ContextLimit <= 0 {
		return defaultModelLimit
	}
	return m.ContextLimit
}

func (m ModelSpec) reservedOutput() int {
	if m.ReservedOutput <= 0 {
		return defaultReservedOutput
	}
	return m.ReservedOutput
}

// Intelligence carries the two optional bounded fragments injected into the
// system prompt when a session id and project path are both present.
type Intelligence struct {
	RepoMap         string
	DecisionContext string
}

// Input is everything Build needs to produce a context window.
type Input struct {
	Messages     []*types.Message
	SystemPrompt string
	Model        ModelSpec
	Intelligence *Intelligence // nil when session id / project path are absent
}

// EstimateTokens is the deterministic, model-independent token heuristic
// used uniformly across the core: floor(len(s)/4), with nil/empty content
// contributing 0.
func EstimateTokens(s string) int {
	return len(s) / 4
}

func messageTokens(m *types.Message) int {
	return EstimateTokens(m.Content) + messageOverheadTokens
}

// Build produces the ordered list sent to the transport: the system message
// first, then the longest suffix of Messages whose combined estimate fits
// within the model's available budget. The system message is never elided;
// prior messages are included whole or not at all.
func Build(in Input) []*types.Message {
	systemContent := in.SystemPrompt
	if in.Intelligence != nil {
		systemContent = injectIntelligence(systemContent, *in.Intelligence)
	}

	systemMsg := &types.Message{Role: types.RoleSystem, Content: systemContent}
	systemTokens := messageTokens(systemMsg)

	available := in.Model.limit() - systemTokens - in.Model.reservedOutput()
	if available < 0 {
		available = 0
	}

	suffix := selectSuffix(in.Messages, available)

	out := make([]*types.Message, 0, len(suffix)+1)
	out = append(out, systemMsg)
	out = append(out, suffix...)
	return out
}

// selectSuffix walks messages from newest to oldest, accumulating until the
// next message would overflow available, then reverses to restore
// conversational order.
func selectSuffix(messages []*types.Message, available int) []*types.Message {
	var acc []*types.Message
	used := 0

	for i := len(messages) - 1; i >= 0; i-- {
		cost := messageTokens(messages[i])
		if used+cost > available {
			break
		}
		acc = append(acc, messages[i])
		used += cost
	}

	for i, j := 0, len(acc)-1; i < j; i, j = i+1, j-1 {
		acc[i], acc[j] = acc[j], acc[i]
	}
	return acc
}

// injectIntelligence appends the repo-map and decision-context fragments to
// base, each truncated to its own token cap.
func injectIntelligence(base string, intel Intelligence) string {
	var b strings.Builder
	b.WriteString(base)

	if intel.RepoMap != "" {
		b.WriteString("\n\n")
		b.WriteString(truncateToTokenCap(intel.RepoMap, defaultMaxRepoMapTokens))
	}
	if intel.DecisionContext != "" {
		b.WriteString("\n\n")
		b.WriteString(truncateToTokenCap(intel.DecisionContext, defaultMaxDecisionContextTokens))
	}
	return b.String()
}

// truncateToTokenCap chops s at a whole paragraph boundary so its estimated
// token count fits within capTokens, appending "[truncated...]" when
// material was cut.
func truncateToTokenCap(s string, capTokens int) string {
	if EstimateTokens(s) <= capTokens {
		return s
	}

	maxChars := capTokens * 4
	paragraphs := strings.Split(s, "\n\n")

	var kept []string
	used := 0
	for _, p := range paragraphs {
		addLen := len(p)
		if len(kept) > 0 {
			addLen += 2 // the "\n\n" separator
		}
		if used+addLen > maxChars {
			break
		}
		kept = append(kept, p)
		used += addLen
	}

	if len(kept) == 0 {
		// A single paragraph already exceeds the cap; hard-cut it.
		cut := s[:maxChars]
		return cut + "\n[truncated...]"
	}

	return strings.Join(kept, "\n\n") + "\n[truncated...]"
}
