// Package permission is the allow/deny/ask gate every tool invocation
// passes through before it runs.
//
// # Overview
//
// Manager decides one of three verdicts for a (tool, target path, session
// id) triple: Allowed, Denied is never returned by the flat decision table
// itself (callers that want hard denial enforce it above Manager), Ask.
// Rules apply in order: the tool's auto-approve list, then a matching
// session grant, else Ask.
//
//	mgr := permission.NewManager([]string{"read", "grep", "glob"})
//	switch mgr.Check("write", "/repo/main.go", sessionID) {
//	case permission.Allowed:
//		// run the tool
//	case permission.Ask:
//		// prompt the user, then mgr.Grant(...) on approval
//	}
//
// Grant is the only mutator of grant state; it is called once the caller
// above Manager has obtained consent (once or for the session).
//
// # Bash command parsing
//
// ParseBashCommand extracts structured commands from a shell command line
// so the session engine can compute a bash call's scope pattern
// ("git commit *") instead of
// matching on the literal command string:
//
//	commands, err := ParseBashCommand("git commit -m 'fix bug'")
//	// commands[0] == BashCommand{Name: "git", Subcommand: "commit", Args: [...]}
//
// MatchBashPattern finds the most specific configured scope for a parsed
// command, and BuildPattern/BuildPatterns derive a scope to Grant from one.
//
// # Doom loop detection
//
// DoomLoopDetector tracks repeated identical tool calls per session and
// flags the SessionEngine's loop when the same call repeats
// DoomLoopThreshold times in a row, independent of and in addition to the
// fixed iteration cap.
//
// # Thread safety
//
// Manager and DoomLoopDetector are safe for concurrent use across sessions.
package permission
