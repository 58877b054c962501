// Package config implements spec.md §6's configuration contract: a
// .loom.toml deep-merged over built-in defaults.
//
// Load resolves, in precedence order, built-in defaults (Default), the
// global config at the XDG config dir (loom.toml), the project's
// .loom.toml, then the LOOM_MODEL environment override — grounded on the
// teacher's Load/mergeConfig global→project→env discipline
// (internal/config/config.go, pre-rewrite), rebuilt on
// github.com/pelletier/go-toml/v2 instead of JSON/JSONC since spec.md §6
// calls for TOML.
//
// Recognised keys are exactly [model] default/weak/architect/editor,
// [permissions] auto_approve, [context] max_repo_map_tokens/
// max_decision_context_tokens/reserved_output_tokens, and [decisions]
// enabled/enforce_pre_edit/auto_log_commits; any other section or key is
// silently ignored by go-toml/v2's Unmarshal. auto_approve entries may use
// either this registry's concrete tool IDs or spec.md's illustrative
// file_read/file_search/content_search/directory_list names — see
// toolNameAliases.
package config
