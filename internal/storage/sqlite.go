package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection, not just the
	// one a plain Exec happens to run on.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates tables/indexes if missing.
//
// Timestamps that only feed display or audit paths are RFC3339 text, the
// same convention the rest of the schema uses. The rate-limit window
// columns are integer unix milliseconds instead: the admit decision is a
// single conditional UPDATE and needs arithmetic comparisons inside SQL.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
  id                      TEXT PRIMARY KEY,
  workspace_id            TEXT NOT NULL,
  hashed_key              TEXT NOT NULL UNIQUE,
  kind                    TEXT NOT NULL DEFAULT 'standard',
  scopes                  JSON NOT NULL DEFAULT '[]',
  enabled                 INTEGER NOT NULL DEFAULT 1,
  expires_at              TEXT,
  rate_limit_window_ms    INTEGER,
  rate_limit_max          INTEGER,
  window_started_at_ms    INTEGER,
  request_count_in_window INTEGER NOT NULL DEFAULT 0,
  last_used_at            TEXT,
  created_at              TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS webhook_endpoints (
  id                TEXT PRIMARY KEY,
  workspace_id      TEXT NOT NULL,
  url               TEXT NOT NULL,
  secret            TEXT NOT NULL,
  format            TEXT NOT NULL DEFAULT 'json',
  subscribed_events JSON NOT NULL DEFAULT '[]',
  enabled           INTEGER NOT NULL DEFAULT 1,
  created_at        TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS usage_events (
  id           TEXT PRIMARY KEY,
  type         TEXT NOT NULL,
  workspace_id TEXT NOT NULL,
  meta         JSON,
  created_at   TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS api_keys_workspace_idx ON api_keys(workspace_id);`,
		`CREATE INDEX IF NOT EXISTS webhook_endpoints_workspace_enabled_idx ON webhook_endpoints(workspace_id, enabled);`,
		`CREATE INDEX IF NOT EXISTS usage_events_workspace_type_idx ON usage_events(workspace_id, type, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
