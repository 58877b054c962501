// Package permission is the three-rule allow/deny/ask gate every tool call
// passes through before it runs, grounded on the teacher's
// internal/permission.Checker (session-scoped approval state) but
// simplified to the flat decision table of spec.md §4.6: the core never
// sees why a decision was made, only the verdict.
package permission

import (
	"path"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/loomlabs/loom/pkg/types"
)

// Decision is the three-way verdict returned by Check.
type Decision string

const (
	Allowed Decision = "allowed"
	Denied  Decision = "denied"
	Ask     Decision = "ask"
)

// Class is a static, UI-only classification of a tool's effect. The core
// never branches on Class when deciding allow/deny/ask.
type Class string

const (
	ClassRead    Class = "read"
	ClassWrite   Class = "write"
	ClassExecute Class = "execute"
	ClassUnknown Class = "unknown"
)

// defaultClassification is the fixed tool-name -> Class table.
var defaultClassification = map[string]Class{
	"read":     ClassRead,
	"grep":     ClassRead,
	"glob":     ClassRead,
	"webfetch": ClassRead,
	"write":    ClassWrite,
	"edit":     ClassWrite,
	"bash":     ClassExecute,
}

// ClassifyTool returns the static classification for toolName, or
// ClassUnknown if it is not in the fixed table.
func ClassifyTool(toolName string) Class {
	if c, ok := defaultClassification[toolName]; ok {
		return c
	}
	return ClassUnknown
}

// Manager decides allow/deny/ask for tool invocations and holds the
// session-scoped grants that make that decision. It is the only mutator of
// grant state — Grant is the sole write path.
type Manager struct {
	mu sync.RWMutex

	autoApprove map[string]bool                    // tool name -> always-allowed
	grants      map[string][]types.PermissionGrant // sessionID -> grants
}

// NewManager creates a Manager with the given auto-approve tool-name list.
func NewManager(autoApproveTools []string) *Manager {
	m := &Manager{
		autoApprove: make(map[string]bool, len(autoApproveTools)),
		grants:      make(map[string][]types.PermissionGrant),
	}
	for _, name := range autoApproveTools {
		m.autoApprove[name] = true
	}
	return m
}

// Check returns the decision for invoking tool on targetPath within
// sessionID. Rules, in order: auto-approve list -> matching session grant
// -> ask.
func (m *Manager) Check(tool, targetPath, sessionID string) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.autoApprove[tool] {
		return Allowed
	}

	for _, grant := range m.grants[sessionID] {
		if grant.Tool != tool {
			continue
		}
		if grant.Scope == "*" || grant.Scope == targetPath || scopeMatches(grant.Scope, targetPath) {
			return Allowed
		}
	}

	return Ask
}

// scopeMatches supports doublestar glob scopes ("/repo/**/*.go") in
// addition to the exact-path and "*" cases handled in Check.
func scopeMatches(scope, targetPath string) bool {
	if scope == targetPath {
		return true
	}
	ok, err := doublestar.Match(scope, targetPath)
	if err == nil && ok {
		return true
	}
	// Fall back to a plain filepath pattern for scopes without "**".
	matched, err := path.Match(scope, targetPath)
	return err == nil && matched
}

// Grant records a new session-scoped permission grant. It is the only
// mutator of grant state.
func (m *Manager) Grant(grant types.PermissionGrant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[grant.SessionID] = append(m.grants[grant.SessionID], grant)
}

// ClearSession discards all grants for sessionID (used on session
// deletion/archival).
func (m *Manager) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants, sessionID)
}

// GrantsFor returns a copy of sessionID's current grants, for inspection.
func (m *Manager) GrantsFor(sessionID string) []types.PermissionGrant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.grants[sessionID]
	out := make([]types.PermissionGrant, len(src))
	copy(out, src)
	return out
}
