package architect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/internal/transport"
	"github.com/loomlabs/loom/pkg/types"
)

// planInstruction is appended to the user's request for the single
// structured-output plan call, per spec.md §4.10.
const planInstruction = `Respond with a single JSON object describing a plan to satisfy this request, of the exact shape:
{"summary": "<one sentence>", "plan": [{"file": "<path>", "action": "create|edit|delete", "description": "<what and why>", "details": "<optional extra context>"}]}
Return only the JSON, optionally inside a single fenced code block. Do not include any other commentary.`

// plan runs the plan stage: one call to cfg.PlanModel, decode, persist a
// formatted summary message, and broadcast the parsed plan.
func (p *Pipeline) plan(ctx context.Context, sess *types.Session, text string) (event.PlanShape, error) {
	p.publish(sess.ID, event.ArchitectPhasePayload{Phase: event.PhasePlanning})

	prompt := text + "\n\n" + planInstruction
	resp, err := p.cfg.Transport.GenerateText(ctx, p.cfg.PlanModel, []*types.Message{
		{Role: types.RoleUser, Content: prompt},
	}, transport.GenerateOpts{})
	if err != nil {
		return event.PlanShape{}, fmt.Errorf("architect: plan request: %w", err)
	}

	respType, respText, _ := resp.Classify()
	if respType == transport.ResponseError {
		return event.PlanShape{}, fmt.Errorf("architect: plan request: %w", resp.Err)
	}

	planShape, err := decodePlan(respText)
	if err != nil {
		return event.PlanShape{}, err
	}

	summary := formatPlanSummary(planShape)
	if _, err := p.persistMessage(ctx, sess, persistence.MessageAttrs{
		SessionID: sess.ID,
		Role:      types.RoleAssistant,
		Content:   summary,
	}); err != nil {
		return event.PlanShape{}, err
	}

	p.publish(sess.ID, event.ArchitectPlanPayload{ID: sess.ID, Plan: planShape})
	return planShape, nil
}

// decodePlan strips a markdown fence if present and deserialises the
// remainder into a PlanShape, synthesising a summary from the step count
// when the model omits one, per spec.md §4.10 and §9's Open Question
// decision ("use the first fenced block if present, else the full trimmed
// text; reject on parse error").
func decodePlan(raw string) (event.PlanShape, error) {
	body := stripFence(raw)

	var planShape event.PlanShape
	if err := json.Unmarshal([]byte(body), &planShape); err != nil {
		return event.PlanShape{}, &DecodeError{Raw: raw, Err: err}
	}
	if planShape.Summary == "" {
		planShape.Summary = fmt.Sprintf("%d-step plan", len(planShape.Steps))
	}
	return planShape, nil
}

// stripFence returns the contents of the first ``` fenced block in raw, or
// raw trimmed if there is no fence.
func stripFence(raw string) string {
	trimmed := strings.TrimSpace(raw)

	start := strings.Index(trimmed, "```")
	if start == -1 {
		return trimmed
	}
	rest := trimmed[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

func formatPlanSummary(planShape event.PlanShape) string {
	var b strings.Builder
	b.WriteString(planShape.Summary)
	for i, step := range planShape.Steps {
		fmt.Fprintf(&b, "\n%d. [%s] %s - %s", i+1, step.Action, step.File, step.Description)
	}
	return b.String()
}
