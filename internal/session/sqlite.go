package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samsaffron/agentrun/internal/llm"
	_ "modernc.org/sqlite"
)

// schema is the full current schema: sessions keyed by key, messages
// append-only and indexed by (session_key, id).
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    key TEXT PRIMARY KEY,
    agent TEXT NOT NULL,
    model TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL,
    total_tokens INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_key TEXT NOT NULL REFERENCES sessions(key) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant', 'tool')),
    content TEXT,
    reasoning_content TEXT,
    tool_calls_json TEXT,
    tool_call_id TEXT,
    timestamp_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session_key_id ON messages(session_key, id);
CREATE INDEX IF NOT EXISTS idx_sessions_agent_updated ON sessions(agent, updated_at_ms DESC);
`

// SQLiteStore is the embedded single-file implementation of Store: one
// database file under a per-agent data directory, WAL mode, busy
// retries on contention. The pure-Go driver keeps the binary free of
// cgo.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path (":memory:" is
// accepted for tests). Directories are created as needed.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("session: create data directory: %w", err)
		}
	}

	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func nowMs() int64 { return time.Now().UnixMilli() }

func (s *SQLiteStore) CreateSession(ctx context.Context, key, agent, model string) error {
	return retryOnBusy(ctx, func() error {
		now := nowMs()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (key, agent, model, created_at_ms, updated_at_ms, total_tokens)
			VALUES (?, ?, ?, ?, ?, 0)
			ON CONFLICT(key) DO NOTHING`,
			key, agent, model, now, now)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
}

// AppendMessage totally orders msg within key via AUTOINCREMENT id
// and updates the session's last-modified timestamp.
func (s *SQLiteStore) AppendMessage(ctx context.Context, key string, msg StoredMessage) error {
	if msg.TimestampMs == 0 {
		msg.TimestampMs = nowMs()
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (session_key, role, content, reasoning_content, tool_calls_json, tool_call_id, timestamp_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			key, string(msg.Role), nullString(msg.Content), nullString(msg.Reasoning),
			nullString(msg.ToolCallsJSON), nullString(msg.ToolCallID), msg.TimestampMs)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at_ms = ? WHERE key = ?", nowMs(), key); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) AddTokens(ctx context.Context, key string, n int64) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET total_tokens = total_tokens + ?, updated_at_ms = ? WHERE key = ?`,
			n, nowMs(), key)
		return err
	})
}

// LoadMessages returns the full ordered history: replaying yields the
// exact insertion order, since id strictly increases with it.
func (s *SQLiteStore) LoadMessages(ctx context.Context, key string) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, role, content, reasoning_content, tool_calls_json, tool_call_id, timestamp_ms
		FROM messages WHERE session_key = ? ORDER BY id ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var role string
		var content, reasoning, toolCallsJSON, toolCallID sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionKey, &role, &content, &reasoning, &toolCallsJSON, &toolCallID, &m.TimestampMs); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = llm.Role(role)
		m.Content = content.String
		m.Reasoning = reasoning.String
		m.ToolCallsJSON = toolCallsJSON.String
		m.ToolCallID = toolCallID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListSessions returns recent sessions for agent, newest first. An
// empty agent matches every agent.
func (s *SQLiteStore) ListSessions(ctx context.Context, agent string, limit int) ([]Info, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT s.key, s.agent, s.model, s.created_at_ms, s.updated_at_ms, s.total_tokens,
		       (SELECT COUNT(*) FROM messages WHERE session_key = s.key)
		FROM sessions s WHERE 1=1`
	args := []any{}
	if agent != "" {
		query += " AND s.agent = ?"
		args = append(args, agent)
	}
	query += " ORDER BY s.updated_at_ms DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.Key, &info.Agent, &info.Model, &info.CreatedAtMs, &info.UpdatedAtMs, &info.TotalTokens, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// LatestSessionKey supports "continue where you left off".
func (s *SQLiteStore) LatestSessionKey(ctx context.Context, agent string) (string, bool, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `
		SELECT key FROM sessions WHERE agent = ? ORDER BY updated_at_ms DESC LIMIT 1`, agent).Scan(&key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("latest session: %w", err)
	}
	return key, true, nil
}

// DeleteSession removes the session record; ON DELETE CASCADE removes
// its messages. Returns the number of sessions deleted (0 or 1).
func (s *SQLiteStore) DeleteSession(ctx context.Context, key string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE key = ?", key)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneOldSessions bulk-deletes sessions not updated within maxAgeDays.
func (s *SQLiteStore) PruneOldSessions(ctx context.Context, maxAgeDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at_ms < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked")
}

// retryOnBusy retries op with exponential backoff on SQLITE_BUSY, a
// second resilience layer beyond the busy_timeout pragma.
func retryOnBusy(ctx context.Context, op func() error) error {
	var err error
	for i := 0; i < 5; i++ {
		err = op()
		if err == nil || !isBusyError(err) {
			return err
		}
		d := time.Duration(10*(1<<i)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return err
}
