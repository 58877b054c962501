// Package sqlstore is the sqlite-backed persistence.Store implementation,
// grounded on the teacher's internal/storage.Storage (atomic, lock-guarded
// writes) but against a real relational schema instead of one JSON file per
// record. It uses modernc.org/sqlite, a pure-Go sqlite driver, so the
// resulting binary stays cgo-free like the rest of this corpus favors.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loomlabs/loom/internal/persistence"
	"github.com/loomlabs/loom/pkg/types"
)

// Store is a *sql.DB-backed persistence.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if necessary) a sqlite database at path and applies
// pending migrations. path may be ":memory:" for ephemeral use in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateSession(ctx context.Context, attrs persistence.SessionAttrs) (*types.Session, error) {
	now := s.now()
	session := &types.Session{
		ID:          uuid.NewString(),
		Model:       attrs.Model,
		ProjectPath: attrs.ProjectPath,
		Title:       attrs.Title,
		Status:      types.StatusIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, model, project_path, title, status, input_tokens, output_tokens, cost_micros, auto_approve, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0, 0, ?, ?)`,
		session.ID, session.Model, session.ProjectPath, session.Title, session.Status,
		formatTime(session.CreatedAt), formatTime(session.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: create session: %w", err)
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, model, project_path, title, status, input_tokens, output_tokens, cost_micros, auto_approve, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Store) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]*types.Session, error) {
	query := `SELECT id, model, project_path, title, status, input_tokens, output_tokens, cost_micros, auto_approve, created_at, updated_at FROM sessions WHERE 1=1`
	var args []any
	if filter.ProjectPath != "" {
		query += ` AND project_path = ?`
		args = append(args, filter.ProjectPath)
	}
	if !filter.IncludeArchived {
		query += ` AND status != ?`
		args = append(args, types.StatusStopped)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSession(ctx context.Context, session *types.Session) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET model=?, project_path=?, title=?, status=?, input_tokens=?, output_tokens=?, cost_micros=?, auto_approve=?, updated_at=?
		WHERE id=?`,
		session.Model, session.ProjectPath, session.Title, session.Status,
		session.InputTokens, session.OutputTokens, session.CostMicros, session.AutoApprove,
		formatTime(now), session.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update session: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *Store) ArchiveSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET status=?, updated_at=? WHERE id=?`,
		types.StatusStopped, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("sqlstore: archive session: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *Store) SaveMessage(ctx context.Context, attrs persistence.MessageAttrs) (*types.Message, error) {
	toolCallsJSON, err := json.Marshal(attrs.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: marshal tool calls: %w", err)
	}

	msg := &types.Message{
		ID:         uuid.NewString(),
		SessionID:  attrs.SessionID,
		Role:       attrs.Role,
		Content:    attrs.Content,
		ToolCalls:  attrs.ToolCalls,
		ToolCallID: attrs.ToolCallID,
		CreatedAt:  s.now(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, string(toolCallsJSON), msg.ToolCallID, formatTime(msg.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: save message: %w", err)
	}
	return msg, nil
}

func (s *Store) LoadMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_calls, tool_call_id, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load messages: %w", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var msg types.Message
		var toolCallsJSON, toolCallID sql.NullString
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &toolCallsJSON, &toolCallID, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan message: %w", err)
		}
		msg.ToolCallID = toolCallID.String
		msg.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		if toolCallsJSON.Valid && toolCallsJSON.String != "" && toolCallsJSON.String != "null" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("sqlstore: unmarshal tool calls: %w", err)
			}
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCosts(ctx context.Context, sessionID string, inputDelta, outputDelta int, costDeltaMicros int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET input_tokens = input_tokens + ?, output_tokens = output_tokens + ?, cost_micros = cost_micros + ?, updated_at = ?
		WHERE id = ?`,
		inputDelta, outputDelta, costDeltaMicros, formatTime(s.now()), sessionID)
	if err != nil {
		return fmt.Errorf("sqlstore: update costs: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *Store) AddNode(ctx context.Context, attrs persistence.NodeAttrs) (*types.DecisionNode, error) {
	if attrs.Title == "" {
		return nil, fmt.Errorf("sqlstore: add node: title is required")
	}
	if attrs.Confidence != nil && (*attrs.Confidence < 0 || *attrs.Confidence > 100) {
		return nil, fmt.Errorf("sqlstore: add node: confidence %d out of [0,100]", *attrs.Confidence)
	}
	status := attrs.Status
	if status == "" {
		status = types.NodeActive
	}

	metaJSON, err := json.Marshal(attrs.Metadata)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: marshal node metadata: %w", err)
	}

	now := s.now()
	node := &types.DecisionNode{
		ID:          uuid.NewString(),
		Kind:        attrs.Kind,
		Title:       attrs.Title,
		Description: attrs.Description,
		Confidence:  attrs.Confidence,
		Status:      status,
		SessionID:   attrs.SessionID,
		AgentName:   attrs.AgentName,
		Metadata:    attrs.Metadata,
		ChangeID:    uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_nodes (id, kind, title, description, confidence, status, session_id, agent_name, metadata, change_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.Kind, node.Title, node.Description, node.Confidence, node.Status,
		node.SessionID, node.AgentName, string(metaJSON), node.ChangeID, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: add node: %w", err)
	}
	return node, nil
}

func (s *Store) GetNode(ctx context.Context, id string) (*types.DecisionNode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, title, description, confidence, status, session_id, agent_name, metadata, change_id, created_at, updated_at
		FROM decision_nodes WHERE id = ?`, id)
	return scanNode(row)
}

func (s *Store) ListNodes(ctx context.Context, filter persistence.NodeFilter) ([]*types.DecisionNode, error) {
	query := `SELECT id, kind, title, description, confidence, status, session_id, agent_name, metadata, change_id, created_at, updated_at FROM decision_nodes WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list nodes: %w", err)
	}
	defer rows.Close()

	var out []*types.DecisionNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

func (s *Store) UpdateNode(ctx context.Context, node *types.DecisionNode) error {
	metaJSON, err := json.Marshal(node.Metadata)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal node metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE decision_nodes SET kind=?, title=?, description=?, confidence=?, status=?, session_id=?, agent_name=?, metadata=?, updated_at=?
		WHERE id=?`,
		node.Kind, node.Title, node.Description, node.Confidence, node.Status,
		node.SessionID, node.AgentName, string(metaJSON), formatTime(s.now()), node.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update node: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *Store) DeleteNode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decision_nodes WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete node: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *Store) AddEdge(ctx context.Context, from, to string, kind types.DecisionEdgeKind, opts persistence.EdgeOpts) (*types.DecisionEdge, error) {
	edge := &types.DecisionEdge{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Kind:      kind,
		Weight:    opts.Weight,
		Rationale: opts.Rationale,
		CreatedAt: s.now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_edges (id, from_id, to_id, kind, weight, rationale, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		edge.ID, edge.From, edge.To, edge.Kind, edge.Weight, edge.Rationale, formatTime(edge.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: add edge: %w", err)
	}
	return edge, nil
}

func (s *Store) ListEdges(ctx context.Context, filter persistence.EdgeFilter) ([]*types.DecisionEdge, error) {
	query := `SELECT id, from_id, to_id, kind, weight, rationale, created_at FROM decision_edges WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if filter.From != "" {
		query += ` AND from_id = ?`
		args = append(args, filter.From)
	}
	if filter.To != "" {
		query += ` AND to_id = ?`
		args = append(args, filter.To)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list edges: %w", err)
	}
	defer rows.Close()

	var out []*types.DecisionEdge
	for rows.Next() {
		var edge types.DecisionEdge
		var createdAt string
		if err := rows.Scan(&edge.ID, &edge.From, &edge.To, &edge.Kind, &edge.Weight, &edge.Rationale, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan edge: %w", err)
		}
		edge.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, &edge)
	}
	return out, rows.Err()
}

// Supersede runs both effects inside one transaction: they commit together
// or neither does.
func (s *Store) Supersede(ctx context.Context, oldID, newID, rationale string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: supersede: begin tx: %w", err)
	}
	defer tx.Rollback()

	edgeID := uuid.NewString()
	now := s.now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decision_edges (id, from_id, to_id, kind, weight, rationale, created_at)
		VALUES (?, ?, ?, ?, NULL, ?, ?)`,
		edgeID, newID, oldID, types.EdgeSupersedes, rationale, formatTime(now)); err != nil {
		return fmt.Errorf("sqlstore: supersede: insert edge: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE decision_nodes SET status=?, updated_at=? WHERE id=?`,
		types.NodeSuperseded, formatTime(now), oldID)
	if err != nil {
		return fmt.Errorf("sqlstore: supersede: update node: %w", err)
	}
	if err := checkRowsAffected(res); err != nil {
		return err
	}

	return tx.Commit()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*types.Session, error) {
	var session types.Session
	var createdAt, updatedAt string
	err := row.Scan(&session.ID, &session.Model, &session.ProjectPath, &session.Title, &session.Status,
		&session.InputTokens, &session.OutputTokens, &session.CostMicros, &session.AutoApprove,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan session: %w", err)
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

func scanNode(row scannable) (*types.DecisionNode, error) {
	var node types.DecisionNode
	var description, sessionID, agentName, metaJSON sql.NullString
	var confidence sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(&node.ID, &node.Kind, &node.Title, &description, &confidence, &node.Status,
		&sessionID, &agentName, &metaJSON, &node.ChangeID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan node: %w", err)
	}

	node.Description = description.String
	node.SessionID = sessionID.String
	node.AgentName = agentName.String
	if confidence.Valid {
		v := int(confidence.Int64)
		node.Confidence = &v
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &node.Metadata); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshal node metadata: %w", err)
		}
	}
	if node.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if node.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &node, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlstore: parse timestamp %q: %w", s, err)
	}
	return t, nil
}
