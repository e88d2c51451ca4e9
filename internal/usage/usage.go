// Package usage appends billing/analytics rows for gated actions. Rows are
// append-only and order-insensitive; readers live outside this service.
package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tracked occurrence types.
const (
	TypeAPIRequest      = "api_request"
	TypeWebhookDelivery = "webhook_delivery"
	TypeMediaUpload     = "media_upload"
)

// Event is one recorded occurrence.
type Event struct {
	ID          string
	Type        string
	WorkspaceID string
	Meta        map[string]any
	CreatedAt   time.Time
}

type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Append writes one usage row.
func (r *Recorder) Append(ctx context.Context, typ, workspaceID string, meta map[string]any) error {
	if typ == "" {
		return fmt.Errorf("usage type is empty")
	}
	if workspaceID == "" {
		return fmt.Errorf("workspace_id is empty")
	}

	var metaJSON any
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal usage meta: %w", err)
		}
		metaJSON = string(b)
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO usage_events(id, type, workspace_id, meta, created_at)
VALUES(?, ?, ?, ?, ?);
`, uuid.NewString(), typ, workspaceID, metaJSON, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	return nil
}

// Recent returns the newest rows for a workspace, optionally filtered by
// type. Used by tests and operator tooling; billing reads the table
// directly.
func (r *Recorder) Recent(ctx context.Context, workspaceID, typ string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, type, workspace_id, meta, created_at
FROM usage_events
WHERE workspace_id = ? AND (? = '' OR type = ?)
ORDER BY created_at DESC
LIMIT ?;
`, workspaceID, typ, typ, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev       Event
			metaS    sql.NullString
			createdS string
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.WorkspaceID, &metaS, &createdS); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		if metaS.Valid {
			_ = json.Unmarshal([]byte(metaS.String), &ev.Meta)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
			ev.CreatedAt = t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
