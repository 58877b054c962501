package session

import (
	"fmt"
	"strings"

	"github.com/loomlabs/loom/pkg/types"
)

// buildSystemPrompt composes the identity blurb + project path + model +
// guidelines system message spec.md §4.8 step 1 describes, grounded on the
// teacher's SystemPrompt.Build (provider header + model prompt + tool
// instructions), collapsed to the single static paragraph the simplified
// core needs — git-branch detection, project-type sniffing, and
// custom-rule file loading are teacher UI niceties outside spec.md scope.
func buildSystemPrompt(sess *types.Session) string {
	var b strings.Builder

	b.WriteString("You are loom, an autonomous coding assistant operating directly on a local project checkout.\n\n")
	fmt.Fprintf(&b, "Project path: %s\n", sess.ProjectPath)
	fmt.Fprintf(&b, "Model: %s\n\n", sess.Model)
	b.WriteString(guidelines)

	return b.String()
}

const guidelines = `Guidelines:
- Use the available tools to read and modify files; never claim a change was made without calling the corresponding tool.
- Prefer the smallest change that satisfies the request.
- When a task is ambiguous, state your assumption and proceed rather than stalling.
- Reply with a final answer once the requested work is complete; do not keep calling tools after the goal is satisfied.`
