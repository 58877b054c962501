// Package architect implements spec.md §4.10's ArchitectPipeline: a
// two-phase plan→execute variant of the session reason/act loop that
// reuses §4.7 dispatch and §4.8 persistence-ordering/broadcast rules
// without going through a SessionEngine.
//
// Plan sends the user's request plus a structured-output instruction to a
// strong model once, deserialises the response into a
// {summary, plan: [{file, action, description, details}]} shape (stripping
// a markdown fence around the JSON if present), and persists a formatted
// summary as an assistant message.
//
// Execute runs each plan step through its own short think/act loop against
// a fast model with a restricted tool set (read, edit, write, list — the
// file_read/file_edit/file_write/directory_list of spec.md §4.10), capped
// at 10 iterations per step, then persists an aggregated final summary.
//
// Grounded on the teacher's internal/executor.SubagentExecutor (the
// fresh-child-loop shape, before it was dropped for depending on deleted
// types — see DESIGN.md) and internal/session.Engine's dispatch/persist
// helpers, reimplemented here rather than shared because the execute
// stage has no single owning goroutine or long-lived status machine to
// serialize through.
package architect
