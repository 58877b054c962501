package architect

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomlabs/loom/internal/dispatcher"
	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/permission"
	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/internal/session"
	"github.com/loomlabs/loom/internal/tool"
	"github.com/loomlabs/loom/internal/transport"
	"github.com/loomlabs/loom/pkg/types"
)

// maxStepIterations bounds each step's own think/act loop — spec.md
// §4.10's "10-iteration inner cap", distinct from session.MaxIterations.
const maxStepIterations = 10

// restrictedToolIDs is the execute stage's tool set, spec.md §4.10's
// {file_read, file_edit, file_write, directory_list} mapped onto this
// registry's actual (lowercase) tool IDs.
var restrictedToolIDs = []string{"read", "edit", "write", "list"}

// execute runs every plan step through its own short loop and persists an
// aggregated final summary.
func (p *Pipeline) execute(ctx context.Context, sess *types.Session, planShape event.PlanShape) (string, error) {
	p.publish(sess.ID, event.ArchitectPhasePayload{Phase: event.PhaseExecuting})

	toolDefs := p.restrictedToolDefs()

	summaries := make([]string, 0, len(planShape.Steps))
	for _, step := range planShape.Steps {
		text, err := p.runStep(ctx, sess, step, toolDefs)
		if err != nil {
			return "", err
		}
		summaries = append(summaries, fmt.Sprintf("- %s (%s): %s", step.File, step.Action, text))
		p.publish(sess.ID, event.ArchitectStepPayload{ID: sess.ID, Step: step})
	}

	final := formatExecuteSummary(summaries)
	if _, err := p.persistMessage(ctx, sess, persistence.MessageAttrs{
		SessionID: sess.ID,
		Role:      types.RoleAssistant,
		Content:   final,
	}); err != nil {
		return "", err
	}
	return final, nil
}

// runStep drives one step's fresh think/act loop: a system+user seed,
// then tool_calls/final_answer rounds up to maxStepIterations, reusing
// §4.7 dispatch for every tool call.
func (p *Pipeline) runStep(ctx context.Context, sess *types.Session, step event.StepShape, toolDefs []transport.ToolDef) (string, error) {
	messages := []*types.Message{
		{Role: types.RoleSystem, Content: stepSystemPrompt()},
		{Role: types.RoleUser, Content: formatStepPrompt(step)},
	}

	for i := 0; i < maxStepIterations; i++ {
		resp, err := p.cfg.Transport.GenerateText(ctx, p.cfg.EditorModel, messages, transport.GenerateOpts{Tools: toolDefs})
		if err != nil {
			return "", fmt.Errorf("architect: step %s: %w", step.File, err)
		}

		respType, respText, toolCalls := resp.Classify()
		switch respType {
		case transport.ResponseFinalAnswer:
			return respText, nil

		case transport.ResponseToolCalls:
			messages = append(messages, &types.Message{Role: types.RoleAssistant, Content: respText, ToolCalls: toolCalls})
			for _, call := range toolCalls {
				resultText := p.runToolCall(ctx, sess, call)
				messages = append(messages, &types.Message{Role: types.RoleTool, Content: resultText, ToolCallID: call.ID})
			}

		default: // transport.ResponseError
			return "", fmt.Errorf("architect: step %s: %w", step.File, resp.Err)
		}
	}

	return "", fmt.Errorf("architect: step %s exceeded %d-iteration cap", step.File, maxStepIterations)
}

// runToolCall dispatches one tool call under the execute stage's
// restricted tool set and persists the paired tool-result message,
// reusing §4.8's persist-before-broadcast ordering.
func (p *Pipeline) runToolCall(ctx context.Context, sess *types.Session, call types.ToolCall) string {
	p.publish(sess.ID, event.ToolExecutingPayload{ID: sess.ID, Name: call.Name})

	resultText := p.dispatchRestricted(ctx, sess, call)

	p.publish(sess.ID, event.ToolCompletePayload{ID: sess.ID, Name: call.Name, ResultText: resultText})

	if _, err := p.persistMessage(ctx, sess, persistence.MessageAttrs{
		SessionID:  sess.ID,
		Role:       types.RoleTool,
		Content:    resultText,
		ToolCallID: call.ID,
	}); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return resultText
}

// dispatchRestricted checks permission and dispatches with
// dispatcher.SubagentTimeout, per the teacher's SubagentExecutor /
// spec.md §4.7. The execute stage runs unattended with no human in the
// loop to answer a prompt, so an Ask verdict resolves to Denied rather
// than blocking the pipeline — an Open Question decision recorded in
// DESIGN.md.
func (p *Pipeline) dispatchRestricted(ctx context.Context, sess *types.Session, call types.ToolCall) string {
	targetPath := ""
	for _, key := range []string{"filePath", "path"} {
		if v, ok := call.Arguments[key].(string); ok {
			targetPath = v
		}
	}

	if p.cfg.Permissions.Check(call.Name, targetPath, sess.ID) != permission.Allowed {
		return fmt.Sprintf("Permission denied for %s on %s", call.Name, targetPath)
	}

	toolCtx := &tool.Context{SessionID: sess.ID, CallID: call.ID, WorkDir: sess.ProjectPath}
	outcome := p.cfg.Dispatcher.Dispatch(ctx, call.Name, call.Arguments, toolCtx, dispatcher.SubagentTimeout)
	return outcome.Text
}

func (p *Pipeline) restrictedToolDefs() []transport.ToolDef {
	defs := make([]transport.ToolDef, 0, len(restrictedToolIDs))
	for _, id := range restrictedToolIDs {
		t, ok := p.cfg.Tools.Get(id)
		if !ok {
			continue
		}
		defs = append(defs, transport.ToolDef{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  session.ParamDefsFromSchema(t.Parameters()),
		})
	}
	return defs
}

func stepSystemPrompt() string {
	return "You are executing one step of a larger plan. Use only the provided tools to read, edit, or write files, or list a directory. Reply with a short final summary once the step is complete; do not ask clarifying questions."
}

func formatStepPrompt(step event.StepShape) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step: %s %s\n", step.Action, step.File)
	b.WriteString(step.Description)
	if step.Details != "" {
		b.WriteString("\n\n")
		b.WriteString(step.Details)
	}
	return b.String()
}

func formatExecuteSummary(stepSummaries []string) string {
	var b strings.Builder
	b.WriteString("Execution complete.")
	for _, s := range stepSummaries {
		b.WriteString("\n")
		b.WriteString(s)
	}
	return b.String()
}
