package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomlabs/loom/pkg/types"
)

// engineStatus is the supervision-level status SPEC_FULL.md §4.9 pairs
// with each registry entry, distinct from the session's own lifecycle
// Status.
type engineStatus string

const (
	engineRunning engineStatus = "running"
	engineStopped engineStatus = "stopped"
)

// entry is one row of the Manager's registry.
type entry struct {
	engine *Engine
	status engineStatus
}

// ActiveEngine is the {id, ref, status} triple List returns.
type ActiveEngine struct {
	ID     string
	Engine *Engine
	Status string
}

// Manager is the SessionManager of spec.md §4.9: a unique-key registry of
// live Engines keyed by session id, modeled on the teacher's Service plus
// the supervising-root note in spec.md §9. It does not itself implement
// persistence — every Engine it starts is handed the same Config, which
// carries the shared Store/Bus/Dispatcher/etc.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	engines map[string]*entry
}

// NewManager creates a Manager that starts every Engine with cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, engines: make(map[string]*entry)}
}

// Start creates or resumes an engine for sess under the registry. A
// duplicate start for a session id already running returns the existing
// engine rather than creating a second one, per spec.md §4.9.
func (m *Manager) Start(ctx context.Context, sess *types.Session) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.engines[sess.ID]; ok && e.status == engineRunning {
		return e.engine, nil
	}

	eng, err := NewEngine(ctx, sess, m.cfg)
	if err != nil {
		return nil, fmt.Errorf("session: start %s: %w", sess.ID, err)
	}
	m.engines[sess.ID] = &entry{engine: eng, status: engineRunning}
	return eng, nil
}

// Stop terminates the engine for id, if running.
func (m *Manager) Stop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.engines[id]
	if !ok || e.status != engineRunning {
		return
	}
	e.engine.Stop()
	e.status = engineStopped
}

// Find returns the live engine for id, or false if none is registered and
// running.
func (m *Manager) Find(id string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.engines[id]
	if !ok || e.status != engineRunning {
		return nil, false
	}
	return e.engine, true
}

// List returns every registry entry, running or stopped.
func (m *Manager) List() []ActiveEngine {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ActiveEngine, 0, len(m.engines))
	for id, e := range m.engines {
		out = append(out, ActiveEngine{ID: id, Engine: e.engine, Status: string(e.status)})
	}
	return out
}

// Recover restarts a crashed engine for sess, rehydrating its in-memory
// message list from cfg.Store.LoadMessages (spec.md §4.9's recovery
// clause). It is equivalent to Start but always replaces any existing
// stopped registry entry.
func (m *Manager) Recover(ctx context.Context, sess *types.Session) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.engines[sess.ID]; ok && e.status == engineRunning {
		return e.engine, nil
	}

	eng, err := NewEngine(ctx, sess, m.cfg)
	if err != nil {
		return nil, fmt.Errorf("session: recover %s: %w", sess.ID, err)
	}
	m.engines[sess.ID] = &entry{engine: eng, status: engineRunning}
	return eng, nil
}
