package apikey

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists API key records in sqlite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create mints a new key. The returned raw key is shown once and never
// persisted; only its hash lands in the table.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Record, string, error) {
	if req.WorkspaceID == "" {
		return nil, "", fmt.Errorf("workspace_id is empty")
	}
	kind := req.Kind
	if kind == "" {
		kind = KindStandard
	}
	if (req.RateLimitWindow > 0) != (req.RateLimitMax > 0) {
		return nil, "", fmt.Errorf("rate limit window and max must be set together")
	}

	raw, err := GenerateRawKey()
	if err != nil {
		return nil, "", err
	}

	rec := &Record{
		ID:              uuid.NewString(),
		WorkspaceID:     req.WorkspaceID,
		HashedKey:       HashKey(raw),
		Kind:            kind,
		Scopes:          req.Scopes,
		Enabled:         true,
		ExpiresAt:       req.ExpiresAt,
		RateLimitWindow: req.RateLimitWindow,
		RateLimitMax:    req.RateLimitMax,
		CreatedAt:       time.Now().UTC(),
	}

	scopesJSON, err := json.Marshal(rec.Scopes)
	if err != nil {
		return nil, "", fmt.Errorf("marshal scopes: %w", err)
	}

	var windowMs, limitMax any
	if rec.Limited() {
		windowMs = rec.RateLimitWindow.Milliseconds()
		limitMax = rec.RateLimitMax
	}
	var expiresAt any
	if rec.ExpiresAt != nil {
		expiresAt = rec.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO api_keys(
  id, workspace_id, hashed_key, kind, scopes, enabled, expires_at,
  rate_limit_window_ms, rate_limit_max, created_at
)
VALUES(?, ?, ?, ?, ?, 1, ?, ?, ?, ?);
`, rec.ID, rec.WorkspaceID, rec.HashedKey, rec.Kind, string(scopesJSON), expiresAt,
		windowMs, limitMax, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}
	return rec, raw, nil
}

// FindByHash looks up a record by its hashed key. Returns ErrNotFound when
// no key matches.
func (s *Store) FindByHash(ctx context.Context, hash string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, workspace_id, hashed_key, kind, scopes, enabled, expires_at,
       rate_limit_window_ms, rate_limit_max, window_started_at_ms,
       request_count_in_window, last_used_at, created_at
FROM api_keys
WHERE hashed_key = ?;
`, hash)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find api key: %w", err)
	}
	return rec, nil
}

// ListByWorkspace returns all keys of a workspace, newest first.
func (s *Store) ListByWorkspace(ctx context.Context, workspaceID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, workspace_id, hashed_key, kind, scopes, enabled, expires_at,
       rate_limit_window_ms, rate_limit_max, window_started_at_ms,
       request_count_in_window, last_used_at, created_at
FROM api_keys
WHERE workspace_id = ?
ORDER BY created_at DESC;
`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetEnabled flips the enabled flag on a key.
func (s *Store) SetEnabled(ctx context.Context, keyID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET enabled = ? WHERE id = ?;`, enabled, keyID)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementInWindow performs the in-window admit: one conditional UPDATE
// that increments the counter only while the window is open and below its
// cap. The count check and the mutation happen in the same statement, so
// two concurrent requests at max-1 cannot both be admitted.
func (s *Store) IncrementInWindow(ctx context.Context, keyID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE api_keys
SET request_count_in_window = request_count_in_window + 1,
    last_used_at = ?
WHERE id = ?
  AND window_started_at_ms IS NOT NULL
  AND ? < window_started_at_ms + rate_limit_window_ms
  AND request_count_in_window < rate_limit_max;
`, now.UTC().Format(time.RFC3339Nano), keyID, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("increment window: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment window: %w", err)
	}
	return n == 1, nil
}

// StartWindow opens a fresh window anchored at now, but only if no window
// is open or the current one has elapsed.
func (s *Store) StartWindow(ctx context.Context, keyID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE api_keys
SET window_started_at_ms = ?,
    request_count_in_window = 1,
    last_used_at = ?
WHERE id = ?
  AND (window_started_at_ms IS NULL
       OR ? >= window_started_at_ms + rate_limit_window_ms);
`, now.UnixMilli(), now.UTC().Format(time.RFC3339Nano), keyID, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("start window: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("start window: %w", err)
	}
	return n == 1, nil
}

// TouchLastUsed records use of an unlimited key.
func (s *Store) TouchLastUsed(ctx context.Context, keyID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?;`,
		now.UTC().Format(time.RFC3339Nano), keyID)
	if err != nil {
		return fmt.Errorf("touch last_used_at: %w", err)
	}
	return nil
}

// WindowState reads the current window snapshot. open is false when the
// key has no open window.
func (s *Store) WindowState(ctx context.Context, keyID string) (win Window, open bool, err error) {
	var start, window, count, limit sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
SELECT window_started_at_ms, rate_limit_window_ms, request_count_in_window, rate_limit_max
FROM api_keys WHERE id = ?;
`, keyID)
	if err := row.Scan(&start, &window, &count, &limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Window{}, false, ErrNotFound
		}
		return Window{}, false, fmt.Errorf("read window state: %w", err)
	}
	if !start.Valid || !window.Valid {
		return Window{}, false, nil
	}
	return Window{
		StartMs:  start.Int64,
		WindowMs: window.Int64,
		Count:    int(count.Int64),
		Max:      int(limit.Int64),
	}, true, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r          Record
		scopesJSON string
		enabled    int
		expiresAtS sql.NullString
		windowMs   sql.NullInt64
		limitMax   sql.NullInt64
		startMs    sql.NullInt64
		lastUsedS  sql.NullString
		createdS   string
	)
	err := sc.Scan(
		&r.ID, &r.WorkspaceID, &r.HashedKey, &r.Kind, &scopesJSON, &enabled, &expiresAtS,
		&windowMs, &limitMax, &startMs, &r.RequestCountInWindow, &lastUsedS, &createdS,
	)
	if err != nil {
		return nil, err
	}

	r.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(scopesJSON), &r.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	if expiresAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, expiresAtS.String); err == nil {
			r.ExpiresAt = &t
		}
	}
	if windowMs.Valid {
		r.RateLimitWindow = time.Duration(windowMs.Int64) * time.Millisecond
	}
	if limitMax.Valid {
		r.RateLimitMax = int(limitMax.Int64)
	}
	if startMs.Valid {
		t := time.UnixMilli(startMs.Int64).UTC()
		r.WindowStartedAt = &t
	}
	if lastUsedS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastUsedS.String); err == nil {
			r.LastUsedAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
		r.CreatedAt = t
	}
	return &r, nil
}
