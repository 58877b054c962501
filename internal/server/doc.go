// Package server exposes loom's core (SessionManager, ArchitectPipeline,
// DecisionGraph, Config, EventBus) over a chi HTTP API, with Server-Sent
// Events for the live event stream and a Prometheus /metrics endpoint.
//
// It is a thin front-end in the sense spec.md §1 describes the core as
// consumed, not owned, by transports: no loop/permission/persistence logic
// lives here, only request parsing, dispatch into the core, and response
// encoding.
//
// Grounded on the teacher's internal/server (server.go's chi + middleware +
// graceful-shutdown shape, response.go's JSON envelope helpers, sse.go's
// custom SSE writer) — rewritten against this module's
// session.Manager/architect.Pipeline/decisiongraph.Graph/event.Bus instead
// of the teacher's session.Service/storage.Storage/provider.Registry, which
// were dropped (see DESIGN.md).
package server
