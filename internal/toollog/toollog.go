// Package toollog records every MCP tool invocation in a local SQLite
// database: which tool ran, a digest of its parameters, how long it
// took, how many results it returned, and how it failed if it did. The
// log is an operational audit trail, never consulted on the hot path.
package toollog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default audit log location.
const DefaultDBPath = "~/.gtmbrain/toollog.db"

const schema = `
CREATE TABLE IF NOT EXISTS tool_invocations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tool TEXT NOT NULL,
	params_digest TEXT NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL,
	error TEXT,
	invoked_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_tool ON tool_invocations(tool);
CREATE INDEX IF NOT EXISTS idx_invocations_invoked_at ON tool_invocations(invoked_at);
`

// Entry is one recorded invocation.
type Entry struct {
	ID          int64
	Tool        string
	ParamsHash  string
	ResultCount int
	Duration    time.Duration
	Error       string
	InvokedAt   time.Time
}

// Log is the SQLite-backed invocation log.
type Log struct {
	db *sql.DB
}

// Open creates (or opens) the audit database at path, expanding a
// leading ~ and creating parent directories.
func Open(path string) (*Log, error) {
	if path == "" {
		path = DefaultDBPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	db, err := sql.Open("sqlite", expanded)
	if err != nil {
		return nil, fmt.Errorf("open tool log: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap tool log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the database handle.
func (l *Log) Close() error { return l.db.Close() }

// Record writes one invocation row. params are digested, not stored:
// they may contain prospect data that does not belong in a local log.
func (l *Log) Record(ctx context.Context, tool string, params any, resultCount int, duration time.Duration, invokeErr error) error {
	errText := sql.NullString{}
	if invokeErr != nil {
		errText = sql.NullString{String: invokeErr.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO tool_invocations (tool, params_digest, result_count, duration_ms, error, invoked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tool, digest(params), resultCount, duration.Milliseconds(), errText,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, tool, params_digest, result_count, duration_ms, error, invoked_at
		 FROM tool_invocations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			durationMS int64
			errText    sql.NullString
			invokedAt  string
		)
		if err := rows.Scan(&e.ID, &e.Tool, &e.ParamsHash, &e.ResultCount, &durationMS, &errText, &invokedAt); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.Error = errText.String
		e.InvokedAt, _ = time.Parse(time.RFC3339, invokedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByTool returns per-tool invocation counts.
func (l *Log) CountByTool(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT tool, COUNT(*) FROM tool_invocations GROUP BY tool`)
	if err != nil {
		return nil, fmt.Errorf("count invocations: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var tool string
		var n int
		if err := rows.Scan(&tool, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[tool] = n
	}
	return out, rows.Err()
}

func digest(params any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(fmt.Sprint(params))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

func expandPath(path string) (string, error) {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
