// Package event defines the content-mutation event that flows from the CMS
// into webhook dispatch. Events are ephemeral: they exist for the duration
// of one dispatch and are never persisted.
package event

import (
	"fmt"
	"strings"
	"time"
)

// Well-known event names. The set is extensible; these are the names the
// CMS emits today.
const (
	PostPublished = "post.published"
	PostUpdated   = "post.updated"
	PostDeleted   = "post.deleted"
	MediaUploaded = "media.uploaded"
)

// Event is one logical content mutation to fan out.
type Event struct {
	Name        string         `json:"name"`
	WorkspaceID string         `json:"workspace_id"`
	Payload     map[string]any `json:"payload"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Validate rejects events a dispatch cannot act on. Names follow the
// "entity.action" convention.
func (e *Event) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("event name is empty")
	}
	if !strings.Contains(e.Name, ".") {
		return fmt.Errorf("event name %q is not of the form entity.action", e.Name)
	}
	if e.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is empty")
	}
	return nil
}
