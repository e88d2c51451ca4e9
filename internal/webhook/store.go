package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an endpoint lookup matches nothing.
var ErrNotFound = errors.New("webhook endpoint not found")

// Store persists registered endpoints in sqlite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create registers a new endpoint.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Endpoint, error) {
	if req.WorkspaceID == "" {
		return nil, fmt.Errorf("workspace_id is empty")
	}
	u, err := url.Parse(req.URL)
	if err != nil || u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("endpoint url %q is not a valid http(s) URL", req.URL)
	}
	if req.Secret == "" && req.Format == FormatJSON {
		return nil, fmt.Errorf("json-format endpoints require a signing secret")
	}
	format := req.Format
	if format == "" {
		format = FormatJSON
	}
	if len(req.SubscribedEvents) == 0 {
		return nil, fmt.Errorf("endpoint must subscribe to at least one event")
	}

	ep := &Endpoint{
		ID:               uuid.NewString(),
		WorkspaceID:      req.WorkspaceID,
		URL:              req.URL,
		Secret:           req.Secret,
		Format:           format,
		SubscribedEvents: req.SubscribedEvents,
		Enabled:          true,
		CreatedAt:        time.Now().UTC(),
	}

	eventsJSON, err := json.Marshal(ep.SubscribedEvents)
	if err != nil {
		return nil, fmt.Errorf("marshal subscribed events: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO webhook_endpoints(id, workspace_id, url, secret, format, subscribed_events, enabled, created_at)
VALUES(?, ?, ?, ?, ?, ?, 1, ?);
`, ep.ID, ep.WorkspaceID, ep.URL, ep.Secret, string(ep.Format), string(eventsJSON),
		ep.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return ep, nil
}

// FindEnabled returns all enabled endpoints of a workspace. Subscription
// filtering happens in the registry; this is the store's half of the
// collaborator contract.
func (s *Store) FindEnabled(ctx context.Context, workspaceID string) ([]*Endpoint, error) {
	return s.query(ctx, `
SELECT id, workspace_id, url, secret, format, subscribed_events, enabled, created_at
FROM webhook_endpoints
WHERE workspace_id = ? AND enabled = 1
ORDER BY created_at ASC;
`, workspaceID)
}

// ListByWorkspace returns all endpoints of a workspace, enabled or not.
func (s *Store) ListByWorkspace(ctx context.Context, workspaceID string) ([]*Endpoint, error) {
	return s.query(ctx, `
SELECT id, workspace_id, url, secret, format, subscribed_events, enabled, created_at
FROM webhook_endpoints
WHERE workspace_id = ?
ORDER BY created_at ASC;
`, workspaceID)
}

// SetEnabled flips an endpoint's enabled flag.
func (s *Store) SetEnabled(ctx context.Context, endpointID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE webhook_endpoints SET enabled = ? WHERE id = ?;`, enabled, endpointID)
	if err != nil {
		return fmt.Errorf("set endpoint enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set endpoint enabled: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoints: %w", err)
	}
	defer rows.Close()

	var out []*Endpoint
	for rows.Next() {
		var (
			ep         Endpoint
			formatS    string
			eventsJSON string
			enabled    int
			createdS   string
		)
		if err := rows.Scan(&ep.ID, &ep.WorkspaceID, &ep.URL, &ep.Secret, &formatS, &eventsJSON, &enabled, &createdS); err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		ep.Format = Format(formatS)
		ep.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(eventsJSON), &ep.SubscribedEvents); err != nil {
			return nil, fmt.Errorf("unmarshal subscribed events: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
			ep.CreatedAt = t
		}
		out = append(out, &ep)
	}
	return out, rows.Err()
}
