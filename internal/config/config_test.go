package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	oldXDGConfig := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("HOME", tmpDir)
	os.Unsetenv("XDG_CONFIG_HOME")
	t.Cleanup(func() {
		os.Setenv("HOME", oldHome)
		os.Setenv("XDG_CONFIG_HOME", oldXDGConfig)
	})
	return tmpDir
}

func TestLoad_DefaultsWhenNoFilesPresent(t *testing.T) {
	isolateHome(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "anthropic:claude-sonnet-4-6", cfg.Model.Default)
	assert.Equal(t, "anthropic:claude-haiku-4-5", cfg.Model.Weak)
	assert.Equal(t, 4096, cfg.Context.ReservedOutputTokens)
	assert.Equal(t, 2048, cfg.Context.MaxRepoMapTokens)
	assert.Equal(t, 1024, cfg.Context.MaxDecisionContextTokens)
	assert.ElementsMatch(t, []string{"read", "glob", "grep", "list"}, cfg.Permissions.AutoApprove)
	require.NotNil(t, cfg.Decisions.Enabled)
	assert.True(t, *cfg.Decisions.Enabled)
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	isolateHome(t)
	projectDir := t.TempDir()

	contents := `
[model]
default = "anthropic:claude-opus-4-6"

[permissions]
auto_approve = ["file_read", "bash"]

[context]
reserved_output_tokens = 8192

[decisions]
enforce_pre_edit = true
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".loom.toml"), []byte(contents), 0o644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic:claude-opus-4-6", cfg.Model.Default)
	// weak/architect/editor are untouched by the project file, so defaults stand
	assert.Equal(t, "anthropic:claude-haiku-4-5", cfg.Model.Weak)
	assert.ElementsMatch(t, []string{"read", "bash"}, cfg.Permissions.AutoApprove)
	assert.Equal(t, 8192, cfg.Context.ReservedOutputTokens)
	assert.Equal(t, 2048, cfg.Context.MaxRepoMapTokens)
	require.NotNil(t, cfg.Decisions.EnforcePreEdit)
	assert.True(t, *cfg.Decisions.EnforcePreEdit)
	require.NotNil(t, cfg.Decisions.Enabled)
	assert.True(t, *cfg.Decisions.Enabled) // unset by project file, default stands
}

func TestLoad_EnvOverridesModel(t *testing.T) {
	isolateHome(t)

	oldModel := os.Getenv("LOOM_MODEL")
	os.Setenv("LOOM_MODEL", "openai:gpt-5")
	t.Cleanup(func() { os.Setenv("LOOM_MODEL", oldModel) })

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-5", cfg.Model.Default)
}

func TestLoad_MalformedProjectFileSurfacesError(t *testing.T) {
	isolateHome(t)
	projectDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".loom.toml"), []byte("not = [valid toml"), 0o644))

	_, err := Load(projectDir)
	assert.Error(t, err)
}

func TestLoad_UnknownSectionIgnored(t *testing.T) {
	isolateHome(t)
	projectDir := t.TempDir()

	contents := `
[nonsense]
whatever = "value"

[model]
weak = "anthropic:claude-haiku-4-5"
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".loom.toml"), []byte(contents), 0o644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-haiku-4-5", cfg.Model.Weak)
}

func TestStoragePath_EnvOverride(t *testing.T) {
	paths := &Paths{Data: "/var/lib/loom"}

	oldDBPath := os.Getenv("LOOM_DB_PATH")
	t.Cleanup(func() { os.Setenv("LOOM_DB_PATH", oldDBPath) })

	os.Unsetenv("LOOM_DB_PATH")
	assert.Equal(t, filepath.Join("/var/lib/loom", "loom.db"), StoragePath(paths))

	os.Setenv("LOOM_DB_PATH", "/custom/path.db")
	assert.Equal(t, "/custom/path.db", StoragePath(paths))
}
