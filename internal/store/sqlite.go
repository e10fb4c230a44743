package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agenthub/hub/internal/model"
)

// SQLiteStore is the reference Store implementation backing cmd/hub and the
// store tests. Production deployments may swap in a different Store behind
// the same interface; the core depends only on the Store interface, never
// on SQLiteStore.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (creating if needed) a SQLite-backed Store at dsn.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection, running PRAGMA optimize first.
func (s *SQLiteStore) Close() error {
	_, _ = s.db.Exec("PRAGMA optimize")
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	metadata_version INTEGER NOT NULL DEFAULT 0,
	agent_state_version INTEGER NOT NULL DEFAULT 0,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	agent_state_json TEXT NOT NULL DEFAULT '{}',
	todos_json TEXT NOT NULL DEFAULT '[]',
	todos_updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	local_id TEXT,
	created_at DATETIME NOT NULL,
	content_json TEXT NOT NULL,
	UNIQUE(session_id, local_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);
`

func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, sessionID, namespace string) (model.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, sessionID)
	if err == nil {
		return row.toModel()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("store: get session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, namespace, active, metadata_json, agent_state_json, todos_json)
		 VALUES (?, ?, 1, '{}', '{"requests":{},"completedRequests":{}}', '[]')`,
		sessionID, namespace)
	if err != nil {
		return model.Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return model.Session{
		ID:        sessionID,
		Namespace: namespace,
		Active:    true,
		AgentState: model.AgentState{
			Requests:          map[string]model.PermissionRequest{},
			CompletedRequests: map[string]model.CompletedRequest{},
		},
	}, nil
}

func (s *SQLiteStore) UpdateSessionMetadata(ctx context.Context, sessionID string, expectedVersion int64, opts UpdateMetadataOptions) model.VersionResult {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.VersionResult{Err: err}
	}
	defer tx.Rollback()

	var row sessionRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, sessionID); err != nil {
		return model.VersionResult{Err: err}
	}
	if row.MetadataVersion != expectedVersion {
		return model.VersionResult{Conflict: true, Version: row.MetadataVersion, Value: row.Metadata()}
	}

	meta := row.Metadata()
	if opts.Path != nil {
		meta.Path = *opts.Path
	}
	if opts.Flavor != nil {
		meta.Flavor = *opts.Flavor
	}
	if opts.ResumeToken != nil {
		meta.ResumeToken = *opts.ResumeToken
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return model.VersionResult{Err: err}
	}

	newVersion := expectedVersion + 1
	active := row.Active
	if opts.Active != nil {
		active = boolToInt(*opts.Active)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET metadata_json = ?, metadata_version = ?, active = ? WHERE id = ?`,
		metaJSON, newVersion, active, sessionID)
	if err != nil {
		return model.VersionResult{Err: err}
	}
	if err := tx.Commit(); err != nil {
		return model.VersionResult{Err: err}
	}
	return model.VersionResult{Success: true, Version: newVersion, Value: meta}
}

func (s *SQLiteStore) UpdateSessionAgentState(ctx context.Context, sessionID string, expectedVersion int64, state model.AgentState) model.VersionResult {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.VersionResult{Err: err}
	}
	defer tx.Rollback()

	var current int64
	if err := tx.GetContext(ctx, &current, `SELECT agent_state_version FROM sessions WHERE id = ?`, sessionID); err != nil {
		return model.VersionResult{Err: err}
	}
	if current != expectedVersion {
		return model.VersionResult{Conflict: true, Version: current}
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return model.VersionResult{Err: err}
	}
	newVersion := expectedVersion + 1
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET agent_state_json = ?, agent_state_version = ? WHERE id = ?`,
		stateJSON, newVersion, sessionID); err != nil {
		return model.VersionResult{Err: err}
	}
	if err := tx.Commit(); err != nil {
		return model.VersionResult{Err: err}
	}
	return model.VersionResult{Success: true, Version: newVersion, Value: state}
}

func (s *SQLiteStore) SetSessionTodos(ctx context.Context, sessionID string, todos []model.Todo) error {
	data, err := json.Marshal(todos)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET todos_json = ?, todos_updated_at = ? WHERE id = ?`,
		data, time.Now().UTC(), sessionID)
	return err
}

func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID string, content any, localID string) (model.Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Message{}, err
	}
	defer tx.Rollback()

	if localID != "" {
		var existing messageRow
		err := tx.GetContext(ctx, &existing,
			`SELECT * FROM messages WHERE session_id = ? AND local_id = ?`, sessionID, localID)
		if err == nil {
			return existing.toModel(), nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, err
		}
	}

	var maxSeq sql.NullInt64
	if err := tx.GetContext(ctx, &maxSeq, `SELECT MAX(seq) FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return model.Message{}, err
	}
	nextSeq := int64(1)
	if maxSeq.Valid {
		nextSeq = maxSeq.Int64 + 1
	}

	contentJSON, err := json.Marshal(content)
	if err != nil {
		return model.Message{}, err
	}

	id := fmt.Sprintf("%s-%d", sessionID, nextSeq)
	createdAt := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, seq, local_id, created_at, content_json) VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)`,
		id, sessionID, nextSeq, localID, createdAt, contentJSON)
	if err != nil {
		return model.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Message{}, err
	}

	return model.Message{ID: id, Seq: nextSeq, LocalID: localID, CreatedAt: createdAt, Content: content}, nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int64, beforeSeq *int64) ([]model.Message, error) {
	if limit <= 0 || limit > MaxMessagesLimit {
		limit = MaxMessagesLimit
	}
	query := `SELECT * FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if beforeSeq != nil {
		query += ` AND seq < ?`
		args = append(args, *beforeSeq)
	}
	query += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, limit)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLiteStore) MergeSessionMessages(ctx context.Context, fromSessionID, toSessionID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.GetContext(ctx, &maxSeq, `SELECT MAX(seq) FROM messages WHERE session_id = ?`, toSessionID); err != nil {
		return err
	}
	offset := int64(0)
	if maxSeq.Valid {
		offset = maxSeq.Int64
	}

	var rows []messageRow
	if err := tx.SelectContext(ctx, &rows, `SELECT * FROM messages WHERE session_id = ? ORDER BY seq ASC`, fromSessionID); err != nil {
		return err
	}
	for _, r := range rows {
		newID := fmt.Sprintf("%s-%d", toSessionID, offset+r.Seq)
		// Clear local_id on merge: a collision in the destination session
		// must not silently dedup an unrelated message.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, seq, local_id, created_at, content_json) VALUES (?, ?, ?, NULL, ?, ?)`,
			newID, toSessionID, offset+r.Seq, r.CreatedAt, r.ContentJSON); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, fromSessionID); err != nil {
		return err
	}
	return tx.Commit()
}

type sessionRow struct {
	ID                string    `db:"id"`
	Namespace         string    `db:"namespace"`
	Active            int       `db:"active"`
	MetadataVersion   int64     `db:"metadata_version"`
	AgentStateVersion int64     `db:"agent_state_version"`
	MetadataJSON      string    `db:"metadata_json"`
	AgentStateJSON    string    `db:"agent_state_json"`
	TodosJSON         string    `db:"todos_json"`
	TodosUpdatedAt    *time.Time `db:"todos_updated_at"`
}

func (r sessionRow) Metadata() model.SessionMetadata {
	var m model.SessionMetadata
	_ = json.Unmarshal([]byte(r.MetadataJSON), &m)
	return m
}

func (r sessionRow) toModel() (model.Session, error) {
	var state model.AgentState
	if err := json.Unmarshal([]byte(r.AgentStateJSON), &state); err != nil {
		return model.Session{}, err
	}
	var todos []model.Todo
	if err := json.Unmarshal([]byte(r.TodosJSON), &todos); err != nil {
		return model.Session{}, err
	}
	s := model.Session{
		ID:                r.ID,
		Namespace:         r.Namespace,
		Active:            r.Active != 0,
		MetadataVersion:   r.MetadataVersion,
		AgentStateVersion: r.AgentStateVersion,
		Metadata:          r.Metadata(),
		AgentState:        state,
		Todos:             todos,
	}
	if r.TodosUpdatedAt != nil {
		s.TodosUpdatedAt = *r.TodosUpdatedAt
	}
	return s, nil
}

type messageRow struct {
	ID          string    `db:"id"`
	SessionID   string    `db:"session_id"`
	Seq         int64     `db:"seq"`
	LocalID     *string   `db:"local_id"`
	CreatedAt   time.Time `db:"created_at"`
	ContentJSON string    `db:"content_json"`
}

func (r messageRow) toModel() model.Message {
	var content any
	_ = json.Unmarshal([]byte(r.ContentJSON), &content)
	localID := ""
	if r.LocalID != nil {
		localID = *r.LocalID
	}
	return model.Message{ID: r.ID, Seq: r.Seq, LocalID: localID, CreatedAt: r.CreatedAt, Content: content}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
