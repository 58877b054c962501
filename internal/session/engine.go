// Package session implements the SessionEngine of spec.md §4.8: a
// reason/act loop owning one session's state, run on a single dedicated
// goroutine per live Engine (spec.md §5's "owned object fed by a bounded
// request queue"), grounded on the teacher's mutex-guarded
// Processor.Process + runLoop but upgraded to Go's actor idiom — one
// goroutine owns all mutable state, callers communicate only through
// request/reply channels, so there is no lock held across an await.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loomlabs/loom/internal/contextwindow"
	"github.com/loomlabs/loom/internal/dispatcher"
	"github.com/loomlabs/loom/internal/event"
	"github.com/loomlabs/loom/internal/permission"
	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/internal/telemetry"
	"github.com/loomlabs/loom/internal/tool"
	"github.com/loomlabs/loom/internal/transport"
	"github.com/loomlabs/loom/pkg/types"
)

// MaxIterations is the hard ceiling on tool-call rounds per send_message,
// overriding the teacher's soft MaxSteps = 50 default — spec.md §4.8
// REDESIGN, see DESIGN.md.
const MaxIterations = 25

// Prompter resolves an "ask" permission verdict for one tool call into an
// allow/deny decision, optionally recording a grant. The default
// (DefaultPrompter) auto-approves when the session's AutoApprove flag is
// set and denies otherwise — spec.md §9 Open Questions decision.
type Prompter func(perms *permission.Manager, sess *types.Session, toolName, targetPath string) bool

// DefaultPrompter auto-approves and records a wildcard grant when sess.AutoApprove
// is set; otherwise it denies.
func DefaultPrompter(perms *permission.Manager, sess *types.Session, toolName, targetPath string) bool {
	if !sess.AutoApprove {
		return false
	}
	perms.Grant(types.PermissionGrant{
		Tool:      toolName,
		Scope:     "*",
		SessionID: sess.ID,
		CreatedAt: time.Now(),
	})
	return true
}

// Config is everything an Engine needs beyond the session record itself.
type Config struct {
	Store       persistence.Store
	Bus         *event.Bus
	Tracer      *telemetry.Tracer
	Dispatcher  *dispatcher.Dispatcher
	Permissions *permission.Manager
	Prompter    Prompter // nil -> DefaultPrompter
	Transport   transport.LLMTransport
	Tools       *tool.Registry
	Model       contextwindow.ModelSpec // zero value -> contextwindow package defaults

	// DoomLoop, if set, aborts a tool call without dispatching it once the
	// same tool+input has repeated DoomLoopThreshold times in a row for the
	// session — grounded on the teacher's permission.DoomLoopDetector. Nil
	// disables the check.
	DoomLoop *permission.DoomLoopDetector
}

type reqKind int

const (
	reqSendMessage reqKind = iota
	reqGetHistory
	reqGetStatus
)

type engineRequest struct {
	kind  reqKind
	text  string
	reply chan engineReply
}

type engineReply struct {
	text     string
	err      error
	messages []*types.Message
	status   types.SessionStatus
}

// Engine is one live session: its state (the session record, the ordered
// message list, the current status) is owned exclusively by the goroutine
// started in NewEngine. Every public method enqueues a request and blocks
// for the one-shot reply, giving the single-flight serialization spec.md
// §4.8 requires without any lock on session state.
type Engine struct {
	cfg Config

	reqCh  chan *engineRequest
	stopCh chan struct{}
	stopOnce sync.Once

	// Owned exclusively by loop(); never touched from another goroutine.
	session  *types.Session
	messages []*types.Message
	status   types.SessionStatus
}

// NewEngine constructs an Engine for sess, rehydrating its message list
// from cfg.Store (spec.md §4.9 recovery: "in-memory message list is
// re-hydrated from load_messages"), and starts its owning goroutine.
func NewEngine(ctx context.Context, sess *types.Session, cfg Config) (*Engine, error) {
	if cfg.Prompter == nil {
		cfg.Prompter = DefaultPrompter
	}

	messages, err := cfg.Store.LoadMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("session: rehydrate %s: %w", sess.ID, err)
	}

	e := &Engine{
		cfg:      cfg,
		reqCh:    make(chan *engineRequest),
		stopCh:   make(chan struct{}),
		session:  sess,
		messages: messages,
		status:   sess.Status,
	}

	go e.loop()
	return e, nil
}

// Stop terminates the engine's goroutine. It does not abort an in-flight
// send_message; callers that need that should cancel the ctx passed to
// SendMessage instead.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// SendMessage submits text to the engine and blocks for the final answer
// or error, per spec.md §4.8's public API. Concurrent calls on the same
// Engine queue behind the single request channel; there is no
// interleaving.
func (e *Engine) SendMessage(ctx context.Context, text string) (string, error) {
	reply, err := e.do(ctx, reqSendMessage, text)
	if err != nil {
		return "", err
	}
	return reply.text, reply.err
}

// GetHistory returns a snapshot of the session's in-memory message list,
// which always equals the persisted list at the moment the request is
// served.
func (e *Engine) GetHistory(ctx context.Context) ([]*types.Message, error) {
	reply, err := e.do(ctx, reqGetHistory, "")
	if err != nil {
		return nil, err
	}
	return reply.messages, nil
}

// GetStatus returns the engine's current lifecycle status.
func (e *Engine) GetStatus(ctx context.Context) (types.SessionStatus, error) {
	reply, err := e.do(ctx, reqGetStatus, "")
	if err != nil {
		return "", err
	}
	return reply.status, nil
}

func (e *Engine) do(ctx context.Context, kind reqKind, text string) (engineReply, error) {
	req := &engineRequest{kind: kind, text: text, reply: make(chan engineReply, 1)}

	select {
	case e.reqCh <- req:
	case <-e.stopCh:
		return engineReply{}, fmt.Errorf("session %s: engine stopped", e.session.ID)
	case <-ctx.Done():
		return engineReply{}, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply, nil
	case <-ctx.Done():
		return engineReply{}, ctx.Err()
	}
}

func (e *Engine) loop() {
	for {
		select {
		case req := <-e.reqCh:
			e.handle(req)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) handle(req *engineRequest) {
	ctx := context.Background()
	switch req.kind {
	case reqSendMessage:
		text, err := e.runSendMessage(ctx, req.text)
		req.reply <- engineReply{text: text, err: err}
	case reqGetHistory:
		out := make([]*types.Message, len(e.messages))
		copy(out, e.messages)
		req.reply <- engineReply{messages: out}
	case reqGetStatus:
		req.reply <- engineReply{status: e.status}
	}
}

// runSendMessage is the reason/act loop body of spec.md §4.8: persist the
// user turn, then iterate think -> (tool_calls -> act)* -> final_answer,
// up to MaxIterations rounds.
func (e *Engine) runSendMessage(ctx context.Context, text string) (string, error) {
	if err := e.setStatus(ctx, types.StatusThinking); err != nil {
		return "", err
	}
	if _, err := e.persistMessage(ctx, persistence.MessageAttrs{
		SessionID: e.session.ID,
		Role:      types.RoleUser,
		Content:   text,
	}); err != nil {
		return "", err
	}

	for iteration := 0; iteration < MaxIterations; iteration++ {
		if iteration > 0 {
			if err := e.setStatus(ctx, types.StatusThinking); err != nil {
				return "", err
			}
		}

		resp, err := e.generate(ctx)
		if err != nil {
			_ = e.setStatus(ctx, types.StatusIdle)
			return "", &TransportError{SessionID: e.session.ID, Err: err}
		}

		e.applyUsage(ctx, resp.Usage)

		respType, respText, toolCalls := resp.Classify()
		switch respType {
		case transport.ResponseFinalAnswer:
			if _, err := e.persistMessage(ctx, persistence.MessageAttrs{
				SessionID: e.session.ID,
				Role:      types.RoleAssistant,
				Content:   respText,
			}); err != nil {
				return "", err
			}
			if err := e.setStatus(ctx, types.StatusIdle); err != nil {
				return "", err
			}
			return respText, nil

		case transport.ResponseToolCalls:
			if err := e.setStatus(ctx, types.StatusExecutingTool); err != nil {
				return "", err
			}
			if _, err := e.persistMessage(ctx, persistence.MessageAttrs{
				SessionID: e.session.ID,
				Role:      types.RoleAssistant,
				Content:   respText,
				ToolCalls: toolCalls,
			}); err != nil {
				return "", err
			}

			for _, call := range toolCalls {
				if err := e.runToolCall(ctx, call); err != nil {
					return "", err
				}
			}
			// Loop continues into the next iteration's "thinking" status.

		default: // transport.ResponseError
			_ = e.setStatus(ctx, types.StatusIdle)
			return "", &TransportError{SessionID: e.session.ID, Err: resp.Err}
		}
	}

	_ = e.setStatus(ctx, types.StatusIdle)
	return "", &IterationCapExceededError{SessionID: e.session.ID}
}

// generate assembles the context window and calls the transport, retrying
// transient failures with exponential backoff — grounded on the teacher's
// newRetryBackoff in loop.go.
func (e *Engine) generate(ctx context.Context) (transport.Response, error) {
	windowed := contextwindow.Build(contextwindow.Input{
		Messages:     e.messages,
		SystemPrompt: buildSystemPrompt(e.session),
		Model:        e.cfg.Model,
	})
	toolDefs := toolDefsFrom(e.cfg.Tools)

	var resp transport.Response
	op := func() error {
		r, err := e.cfg.Transport.GenerateText(ctx, e.session.Model, windowed, transport.GenerateOpts{Tools: toolDefs})
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newRetryBackoff(), ctx)); err != nil {
		return transport.Response{}, err
	}
	return resp, nil
}

// newRetryBackoff mirrors the teacher's loop.go retry policy: exponential
// with jitter, capped total elapsed time so a persistently failing
// transport still returns control to the caller.
func newRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

// runToolCall resolves permission, dispatches the tool, and persists the
// paired tool-result message. It always returns nil unless persistence
// itself fails — a denied or failing tool call still produces a tool
// message, per spec.md §4.7's "dispatch always produces rendered text"
// and §4.8's tool-call-completeness invariant.
func (e *Engine) runToolCall(ctx context.Context, call types.ToolCall) error {
	e.publish(event.ToolExecutingPayload{ID: e.session.ID, Name: call.Name})

	var resultText string
	if e.cfg.DoomLoop != nil && e.cfg.DoomLoop.Check(e.session.ID, call.Name, call.Arguments) {
		resultText = fmt.Sprintf("Error: %s has been called with identical arguments %d times in a row; refusing to repeat it", call.Name, permission.DoomLoopThreshold)
	} else {
		targetPath := targetPathFor(call)
		resultText = e.dispatchToolCall(ctx, call, targetPath)
	}

	e.publish(event.ToolCompletePayload{ID: e.session.ID, Name: call.Name, ResultText: resultText})

	_, err := e.persistMessage(ctx, persistence.MessageAttrs{
		SessionID:  e.session.ID,
		Role:       types.RoleTool,
		Content:    resultText,
		ToolCallID: call.ID,
	})
	return err
}

func (e *Engine) dispatchToolCall(ctx context.Context, call types.ToolCall, targetPath string) string {
	decision := e.cfg.Permissions.Check(call.Name, targetPath, e.session.ID)
	if decision == permission.Allowed && call.Name == "bash" && bashCommandIsDangerous(call.Arguments) {
		// An auto-approved bash scope still re-asks for a command the
		// parser flags as destructive (rm -rf, git reset --hard, ...) —
		// grounded on the teacher's IsDangerousCommand escalation.
		decision = permission.Ask
	}
	if decision == permission.Ask {
		if e.cfg.Prompter(e.cfg.Permissions, e.session, call.Name, targetPath) {
			decision = permission.Allowed
		} else {
			decision = permission.Denied
		}
	}

	if decision == permission.Denied {
		return fmt.Sprintf("Permission denied for %s on %s", call.Name, targetPath)
	}

	toolCtx := &tool.Context{
		SessionID: e.session.ID,
		CallID:    call.ID,
		WorkDir:   e.session.ProjectPath,
	}
	outcome := e.cfg.Dispatcher.Dispatch(ctx, call.Name, call.Arguments, toolCtx, dispatcher.MainLoopTimeout)
	return outcome.Text
}

// targetPathFor extracts the scope a permission check should evaluate
// against. File tools use their path argument directly; bash is scoped by
// a command pattern ("git commit *") computed with the teacher's
// bash_parser/wildcard pair rather than a filesystem path, since a shell
// command has no single path argument.
func targetPathFor(call types.ToolCall) string {
	if call.Name == "bash" {
		return bashScopePattern(call.Arguments)
	}
	for _, key := range []string{"filePath", "path"} {
		if v, ok := call.Arguments[key].(string); ok {
			return v
		}
	}
	return ""
}

// bashScopePattern parses the "command" argument and returns the most
// general pattern (e.g. "git commit *") BuildPattern derives for its
// first parsed command, or "*" if parsing fails or yields nothing.
func bashScopePattern(args map[string]any) string {
	cmdStr, ok := args["command"].(string)
	if !ok {
		return "*"
	}
	cmds, err := permission.ParseBashCommand(cmdStr)
	if err != nil || len(cmds) == 0 {
		return "*"
	}
	return permission.BuildPattern(cmds[0])
}

// bashCommandIsDangerous reports whether any command parsed out of the
// bash tool's "command" argument is in the teacher's dangerous-command
// table (rm, git reset --hard, etc.).
func bashCommandIsDangerous(args map[string]any) bool {
	cmdStr, ok := args["command"].(string)
	if !ok {
		return false
	}
	cmds, err := permission.ParseBashCommand(cmdStr)
	if err != nil {
		return false
	}
	for _, c := range cmds {
		if permission.IsDangerousCommand(c.Name) {
			return true
		}
	}
	return false
}

func (e *Engine) persistMessage(ctx context.Context, attrs persistence.MessageAttrs) (*types.Message, error) {
	msg, err := e.cfg.Store.SaveMessage(ctx, attrs)
	if err != nil {
		return nil, err
	}
	e.messages = append(e.messages, msg)
	e.publish(event.NewMessagePayload{ID: e.session.ID, Message: msg})
	if e.cfg.Tracer != nil {
		e.cfg.Tracer.EmitSessionMessage(e.session.ID, msg.Role)
	}
	return msg, nil
}

func (e *Engine) setStatus(ctx context.Context, status types.SessionStatus) error {
	e.session.Status = status
	e.session.UpdatedAt = time.Now()
	if err := e.cfg.Store.UpdateSession(ctx, e.session); err != nil {
		return err
	}
	e.status = status
	e.publish(event.SessionStatusPayload{ID: e.session.ID, Status: status})
	return nil
}

func (e *Engine) applyUsage(ctx context.Context, usage types.Usage) {
	if usage.InputTokens == 0 && usage.OutputTokens == 0 && usage.TotalCostMicros == 0 {
		return
	}
	_ = e.cfg.Store.UpdateCosts(ctx, e.session.ID, usage.InputTokens, usage.OutputTokens, usage.TotalCostMicros)
	e.session.InputTokens += int64(usage.InputTokens)
	e.session.OutputTokens += int64(usage.OutputTokens)
	e.session.CostMicros += usage.TotalCostMicros
}

// publish is persist-before-broadcast safe only when called after the
// corresponding store write has already been accepted by the caller, as
// persistMessage/setStatus do. runToolCall also calls it for the
// ToolExecuting/ToolComplete events, which have no store write of their own.
func (e *Engine) publish(payload any) {
	if e.cfg.Bus == nil {
		return
	}
	e.cfg.Bus.PublishSync(event.Event{Topic: event.Session(e.session.ID), Payload: payload})
}

// toolDefsFrom adapts the registry's tools to the transport's ToolDef
// shape, parsing each tool's JSON-Schema Parameters() into ParamDef
// entries.
func toolDefsFrom(reg *tool.Registry) []transport.ToolDef {
	if reg == nil {
		return nil
	}
	tools := reg.List()
	defs := make([]transport.ToolDef, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, transport.ToolDef{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  ParamDefsFromSchema(t.Parameters()),
		})
	}
	return defs
}
