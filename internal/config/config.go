package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the deep-merged .loom.toml configuration, spec.md §6. Field
// tags are the exact recognised keys; go-toml/v2's Unmarshal silently
// ignores any other key, satisfying "unknown sections are ignored"
// without extra work.
type Config struct {
	Model       ModelConfig       `toml:"model"`
	Permissions PermissionsConfig `toml:"permissions"`
	Context     ContextConfig     `toml:"context"`
	Decisions   DecisionsConfig   `toml:"decisions"`
}

// ModelConfig names the model specs ("provider:model_id") for each role
// the core calls out to.
type ModelConfig struct {
	Default   string `toml:"default"`
	Weak      string `toml:"weak"`
	Architect string `toml:"architect"`
	Editor    string `toml:"editor"`
}

// PermissionsConfig seeds permission.Manager's auto-approve list.
// AutoApprove entries are this registry's tool IDs (read, write, edit,
// bash, glob, grep, list, webfetch, batch) — see toolNameAliases for the
// spec's illustrative file_read/file_search/content_search/directory_list
// names and how they map onto them.
type PermissionsConfig struct {
	AutoApprove []string `toml:"auto_approve"`
}

// ContextConfig seeds contextwindow.ModelSpec and the decision-graph
// context budgets.
type ContextConfig struct {
	MaxRepoMapTokens         int `toml:"max_repo_map_tokens"`
	MaxDecisionContextTokens int `toml:"max_decision_context_tokens"`
	ReservedOutputTokens     int `toml:"reserved_output_tokens"`
}

// DecisionsConfig gates the decision-graph ambient features. Fields are
// pointers so mergeConfig can tell "absent from this file" apart from
// "explicitly set to false" — spec.md never states defaults for these
// three keys beyond their existence, so Default() picks the conservative
// reading (decisions on, enforcement and auto-logging off) and a project
// file can override any subset.
type DecisionsConfig struct {
	Enabled        *bool `toml:"enabled"`
	EnforcePreEdit *bool `toml:"enforce_pre_edit"`
	AutoLogCommits *bool `toml:"auto_log_commits"`
}

func boolPtr(b bool) *bool { return &b }

// toolNameAliases maps spec.md §6's illustrative tool names onto this
// registry's actual (lowercase) tool IDs, so a .loom.toml written against
// the spec's vocabulary still resolves to real permission.Manager entries.
var toolNameAliases = map[string]string{
	"file_read":      "read",
	"file_edit":      "edit",
	"file_write":     "write",
	"directory_list": "list",
	"file_search":    "glob",
	"content_search": "grep",
}

// resolveToolNames rewrites any spec-vocabulary alias in names to its
// concrete tool ID, leaving already-concrete names untouched.
func resolveToolNames(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		if alias, ok := toolNameAliases[name]; ok {
			out[i] = alias
		} else {
			out[i] = name
		}
	}
	return out
}

// Default returns the built-in defaults spec.md §6 specifies.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Default:   "anthropic:claude-sonnet-4-6",
			Weak:      "anthropic:claude-haiku-4-5",
			Architect: "anthropic:claude-sonnet-4-6",
			Editor:    "anthropic:claude-haiku-4-5",
		},
		Permissions: PermissionsConfig{
			AutoApprove: resolveToolNames([]string{"file_read", "file_search", "content_search", "directory_list"}),
		},
		Context: ContextConfig{
			MaxRepoMapTokens:         2048,
			MaxDecisionContextTokens: 1024,
			ReservedOutputTokens:     4096,
		},
		Decisions: DecisionsConfig{
			Enabled:        boolPtr(true),
			EnforcePreEdit: boolPtr(false),
			AutoLogCommits: boolPtr(false),
		},
	}
}

// Load builds the effective Config for directory: built-in defaults,
// deep-merged with the global config (XDG config dir), deep-merged with
// the project's .loom.toml, then environment overrides — spec.md §6's
// global→project→env precedence, grounded on the teacher's Load/
// mergeConfig discipline (internal/config/config.go, pre-rewrite).
func Load(directory string) (*Config, error) {
	cfg := Default()

	paths := GetPaths()
	if err := mergeTOMLFile(filepath.Join(paths.Config, "loom.toml"), cfg); err != nil {
		return nil, err
	}

	if directory != "" {
		if err := mergeTOMLFile(ProjectConfigPath(directory), cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// mergeTOMLFile reads and deep-merges one .loom.toml into target. A
// missing file is not an error (defaults stand); a malformed one is, per
// spec.md §7's ValidationError on config parsing.
func mergeTOMLFile(path string, target *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fileCfg Config
	if err := toml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	mergeConfig(target, &fileCfg)
	return nil
}

// mergeConfig overwrites target's fields with source's wherever source
// carries an explicit value, mirroring the teacher's mergeConfig
// overwrite-scalars-when-present discipline. Scalar strings/ints treat
// the TOML zero value as "absent" (no key in this config ever needs to be
// explicitly set to "" or 0); Decisions' bool pointers distinguish
// "absent" from "explicitly false" directly.
func mergeConfig(target, source *Config) {
	if source.Model.Default != "" {
		target.Model.Default = source.Model.Default
	}
	if source.Model.Weak != "" {
		target.Model.Weak = source.Model.Weak
	}
	if source.Model.Architect != "" {
		target.Model.Architect = source.Model.Architect
	}
	if source.Model.Editor != "" {
		target.Model.Editor = source.Model.Editor
	}

	if source.Permissions.AutoApprove != nil {
		target.Permissions.AutoApprove = resolveToolNames(source.Permissions.AutoApprove)
	}

	if source.Context.MaxRepoMapTokens != 0 {
		target.Context.MaxRepoMapTokens = source.Context.MaxRepoMapTokens
	}
	if source.Context.MaxDecisionContextTokens != 0 {
		target.Context.MaxDecisionContextTokens = source.Context.MaxDecisionContextTokens
	}
	if source.Context.ReservedOutputTokens != 0 {
		target.Context.ReservedOutputTokens = source.Context.ReservedOutputTokens
	}

	if source.Decisions.Enabled != nil {
		target.Decisions.Enabled = source.Decisions.Enabled
	}
	if source.Decisions.EnforcePreEdit != nil {
		target.Decisions.EnforcePreEdit = source.Decisions.EnforcePreEdit
	}
	if source.Decisions.AutoLogCommits != nil {
		target.Decisions.AutoLogCommits = source.Decisions.AutoLogCommits
	}
}

// applyEnvOverrides applies spec.md §6's two environment overrides.
// LOOM_DB_PATH is handled separately by StoragePath, since storage
// location is not part of the recognised .loom.toml schema.
func applyEnvOverrides(cfg *Config) {
	if model := os.Getenv("LOOM_MODEL"); model != "" {
		cfg.Model.Default = model
	}
}

// StoragePath resolves the sqlite storage path: LOOM_DB_PATH overrides
// paths.StoragePath(), per spec.md §6.
func StoragePath(paths *Paths) string {
	if p := os.Getenv("LOOM_DB_PATH"); p != "" {
		return p
	}
	return paths.StoragePath()
}

// Save writes cfg as TOML to path, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
