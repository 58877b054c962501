/*
Package session implements spec.md §4.8-4.9: the SessionEngine reason/act
loop and the SessionManager that supervises a registry of live engines.

Engine owns one session's state on a dedicated goroutine (spec.md §5's
"owned object fed by a bounded request queue"), grounded on the teacher's
mutex-guarded Processor.Process + runLoop (internal/session/loop.go,
processor.go in the original opencode tree) but reshaped into Go's actor
idiom: SendMessage/GetHistory/GetStatus enqueue a request and block for a
one-shot reply, so there is never a lock held across a blocking call.

Manager is the supervising registry (spec.md §4.9), modeled on the
teacher's Service: Start/Stop/Find/List over a map keyed by session id,
with Recover rehydrating a crashed engine's message list from the
persistence.Store.

Every iteration of Engine's loop composes a system prompt, builds a
token-budgeted context window (internal/contextwindow), calls the
LLMTransport, classifies the result, and either returns a final answer or
executes each requested tool through PermissionManager -> ToolDispatcher,
persisting and broadcasting every state transition before continuing —
see spec.md §4.8 for the exact state machine and ordering invariants.
*/
package session
