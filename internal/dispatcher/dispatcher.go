// Package dispatcher is the ToolDispatcher of spec.md §4.7: a registry
// lookup, argument-key normalization, a per-call wall-clock timeout, a
// telemetry span, and the fixed result-normalization table that turns any
// tool outcome (success, typed error, or panic) into rendered text.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomlabs/loom/internal/telemetry"
	"github.com/loomlabs/loom/internal/tool"
)

const (
	// MainLoopTimeout bounds a tool call issued from the primary
	// SessionEngine loop.
	MainLoopTimeout = 60 * time.Second
	// SubagentTimeout bounds a tool call issued from the ArchitectPipeline
	// or a subagent executor.
	SubagentTimeout = 30 * time.Second
)

// Registry looks tools up by name.
type Registry interface {
	Lookup(name string) (tool.Tool, bool)
}

// MapRegistry is the simplest Registry: a name -> Tool map.
type MapRegistry map[string]tool.Tool

func (r MapRegistry) Lookup(name string) (tool.Tool, bool) {
	t, ok := r[name]
	return t, ok
}

// Dispatcher looks up and invokes tools, normalizing every outcome to a
// rendered text result.
type Dispatcher struct {
	registry Registry
	tracer   *telemetry.Tracer
}

// New creates a Dispatcher over registry, publishing spans through tracer.
// tracer may be nil, in which case spans are skipped.
func New(registry Registry, tracer *telemetry.Tracer) *Dispatcher {
	return &Dispatcher{registry: registry, tracer: tracer}
}

// Outcome is the rendered result of one dispatched tool call.
type Outcome struct {
	Text     string
	Metadata map[string]any
	IsError  bool
}

// Dispatch looks up name, normalizes args (symbolic keys first, else
// string keys), and runs the tool under a wall-clock timeout wrapped in a
// span_tool_execute span. A missing tool produces a synthetic error
// outcome rather than propagating a Go error — per spec.md §4.7 dispatch
// always produces rendered text, even on failure.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, rawArgs map[string]any, toolCtx *tool.Context, timeout time.Duration) Outcome {
	t, ok := d.registry.Lookup(name)
	if !ok {
		return Outcome{Text: fmt.Sprintf("Error: unknown tool %q", name), IsError: true}
	}

	args := normalizeArgKeys(rawArgs, t.Parameters())
	inputJSON, err := json.Marshal(args)
	if err != nil {
		return Outcome{Text: fmt.Sprintf("Error: %s", err), IsError: true}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	meta := map[string]any{"tool": name, "session_id": toolCtx.SessionID}

	run := func() (res tool.Result, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%v", r)
			}
		}()
		result, runErr := t.Execute(callCtx, inputJSON, toolCtx)
		if result != nil {
			res = *result
		}
		return res, runErr
	}

	var result tool.Result
	var runErr error

	if d.tracer != nil {
		spanResult, spanErr := d.tracer.SpanToolExecute(meta, func() (telemetry.SpanResult, error) {
			res, err := run()
			return telemetry.SpanResult{OK: err == nil, Value: res}, err
		})
		runErr = spanErr
		if value, ok := spanResult.Value.(tool.Result); ok {
			result = value
		}
	} else {
		result, runErr = run()
	}

	return normalize(result, runErr)
}

// normalize renders a tool's outcome to text per spec.md §4.7's result
// table. A nil error with non-empty Output renders the output verbatim; a
// non-nil error (including a recovered panic) renders as "Error: <msg>".
func normalize(result tool.Result, err error) Outcome {
	if err != nil {
		return Outcome{Text: "Error: " + err.Error(), Metadata: result.Metadata, IsError: true}
	}
	if result.Error != nil {
		return Outcome{Text: "Error: " + result.Error.Error(), Metadata: result.Metadata, IsError: true}
	}
	return Outcome{Text: result.Output, Metadata: result.Metadata}
}

// normalizeArgKeys models spec.md's "try the symbolic key first, then the
// string key" argument resolution. Go has no symbol/string key duality —
// every map key here is already a string — so the only normalization that
// survives the translation is a defensive copy plus a nil-safe default;
// schemaJSON is accepted (and otherwise unused) to keep the call site
// symmetric with a future schema-driven coercion if one proves necessary.
func normalizeArgKeys(rawArgs map[string]any, schemaJSON json.RawMessage) map[string]any {
	if rawArgs == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(rawArgs))
	for k, v := range rawArgs {
		out[k] = v
	}
	return out
}
