package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/execution"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	session_id TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_scope
	ON checkpoints (agent_id, session_id, created_at);
`

// SQLiteStore persists checkpoints in an embedded SQLite database. Data is
// stored as JSON, so values must be JSON-serializable.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite checkpoint database
// at path. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, execution.NewError(execution.CodeExecution, "SQLiteStore", "open",
			fmt.Sprintf("failed to open checkpoint database at %s", path), err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, execution.NewError(execution.CodeExecution, "SQLiteStore", "open", "failed to create schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, agentID, sessionID string, data map[string]any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", execution.NewError(execution.CodeValidation, "SQLiteStore", "SaveCheckpoint",
			"checkpoint data is not JSON-serializable", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, agent_id, session_id, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, agentID, sessionID, string(payload), time.Now().UTC())
	if err != nil {
		return "", execution.NewError(execution.CodeExecution, "SQLiteStore", "SaveCheckpoint", "insert failed", err)
	}
	return id, nil
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, agentID, sessionID, checkpointID string) (map[string]any, error) {
	var row *sql.Row
	if checkpointID == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT data FROM checkpoints WHERE agent_id = ? AND session_id = ?
			 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
			agentID, sessionID)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT data FROM checkpoints WHERE agent_id = ? AND session_id = ? AND id = ?`,
			agentID, sessionID, checkpointID)
	}

	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound(agentID, sessionID, checkpointID)
		}
		return nil, execution.NewError(execution.CodeExecution, "SQLiteStore", "LoadCheckpoint", "query failed", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, execution.NewError(execution.CodeExecution, "SQLiteStore", "LoadCheckpoint", "corrupt checkpoint payload", err)
	}
	return data, nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, agentID, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM checkpoints WHERE agent_id = ? AND session_id = ?
		 ORDER BY created_at ASC, rowid ASC`,
		agentID, sessionID)
	if err != nil {
		return nil, execution.NewError(execution.CodeExecution, "SQLiteStore", "ListCheckpoints", "query failed", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, execution.NewError(execution.CodeExecution, "SQLiteStore", "ListCheckpoints", "scan failed", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ErrNotFound builds the typed not-found error shared by all stores.
func ErrNotFound(agentID, sessionID, checkpointID string) error {
	msg := fmt.Sprintf("no checkpoint for agent %s session %s", agentID, sessionID)
	if checkpointID != "" {
		msg = fmt.Sprintf("checkpoint %s not found for agent %s session %s", checkpointID, agentID, sessionID)
	}
	return execution.NewError(execution.CodeValidation, "Checkpointer", "LoadCheckpoint", msg, nil)
}
