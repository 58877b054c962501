package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomlabs/loom/pkg/types"
)

func TestManager_AutoApproveListAllowsWithoutGrant(t *testing.T) {
	m := NewManager([]string{"read"})
	assert.Equal(t, Allowed, m.Check("read", "/repo/a.go", "s1"))
}

func TestManager_NoGrantNoAutoApproveAsks(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, Ask, m.Check("write", "/repo/a.go", "s1"))
}

func TestManager_GrantWithWildcardScopeAllows(t *testing.T) {
	m := NewManager(nil)
	m.Grant(types.PermissionGrant{Tool: "write", Scope: "*", SessionID: "s1"})
	assert.Equal(t, Allowed, m.Check("write", "/repo/anything.go", "s1"))
}

func TestManager_GrantWithExactScopeOnlyMatchesThatPath(t *testing.T) {
	m := NewManager(nil)
	m.Grant(types.PermissionGrant{Tool: "write", Scope: "/repo/a.go", SessionID: "s1"})
	assert.Equal(t, Allowed, m.Check("write", "/repo/a.go", "s1"))
	assert.Equal(t, Ask, m.Check("write", "/repo/b.go", "s1"))
}

func TestManager_GrantIsScopedToSession(t *testing.T) {
	m := NewManager(nil)
	m.Grant(types.PermissionGrant{Tool: "write", Scope: "*", SessionID: "s1"})
	assert.Equal(t, Ask, m.Check("write", "/repo/a.go", "s2"))
}

func TestManager_GrantGlobScope(t *testing.T) {
	m := NewManager(nil)
	m.Grant(types.PermissionGrant{Tool: "edit", Scope: "/repo/**/*.go", SessionID: "s1"})
	assert.Equal(t, Allowed, m.Check("edit", "/repo/internal/foo.go", "s1"))
	assert.Equal(t, Ask, m.Check("edit", "/repo/internal/foo.md", "s1"))
}

func TestManager_ClearSessionRemovesGrants(t *testing.T) {
	m := NewManager(nil)
	m.Grant(types.PermissionGrant{Tool: "write", Scope: "*", SessionID: "s1"})
	m.ClearSession("s1")
	assert.Equal(t, Ask, m.Check("write", "/repo/a.go", "s1"))
}

func TestClassifyTool(t *testing.T) {
	assert.Equal(t, ClassRead, ClassifyTool("read"))
	assert.Equal(t, ClassWrite, ClassifyTool("edit"))
	assert.Equal(t, ClassExecute, ClassifyTool("bash"))
	assert.Equal(t, ClassUnknown, ClassifyTool("nonexistent"))
}

func TestManager_GrantsForReturnsIndependentCopy(t *testing.T) {
	m := NewManager(nil)
	m.Grant(types.PermissionGrant{Tool: "write", Scope: "*", SessionID: "s1"})

	grants := m.GrantsFor("s1")
	grants[0].Tool = "mutated"

	original := m.GrantsFor("s1")
	assert.Equal(t, "write", original[0].Tool)
}
