package webhook

import "time"

// Format selects the wire shape a delivery target expects.
type Format string

const (
	// FormatJSON is the generic envelope; the only format whose body is
	// HMAC-signed, since platform formats have no signature slot.
	FormatJSON    Format = "json"
	FormatDiscord Format = "discord"
	FormatSlack   Format = "slack"
)

// Endpoint is one externally registered delivery target. Read-only to the
// dispatch path; workspace owners manage them elsewhere.
type Endpoint struct {
	ID               string
	WorkspaceID      string
	URL              string
	Secret           string
	Format           Format
	SubscribedEvents []string
	Enabled          bool
	CreatedAt        time.Time
}

// SubscribedTo reports whether the endpoint wants the named event.
func (e *Endpoint) SubscribedTo(eventName string) bool {
	for _, ev := range e.SubscribedEvents {
		if ev == eventName {
			return true
		}
	}
	return false
}

// CreateRequest carries the operator-set fields for a new endpoint.
type CreateRequest struct {
	WorkspaceID      string
	URL              string
	Secret           string
	Format           Format
	SubscribedEvents []string
}
