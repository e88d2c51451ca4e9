package server

// ErrorResponse is the JSON error body for non-gateway failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// EmitEventRequest is the body of POST /v1/events: the CMS reporting one
// content mutation. Workspace identity comes from the authenticated key,
// never from the body.
type EmitEventRequest struct {
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt string         `json:"occurred_at,omitempty"`
}

// EmitEventResponse acknowledges an accepted event. Delivery outcomes are
// intentionally absent: dispatch is fire-and-forget.
type EmitEventResponse struct {
	Accepted bool   `json:"accepted"`
	Event    string `json:"event"`
}

// WebhookSummary is one endpoint as listed to its owning workspace.
// Secrets are write-only and never leave the store through this surface.
type WebhookSummary struct {
	ID               string   `json:"id"`
	URL              string   `json:"url"`
	Format           string   `json:"format"`
	SubscribedEvents []string `json:"subscribed_events"`
	Enabled          bool     `json:"enabled"`
}

// KeySelfResponse is the introspection body for the authenticated key.
type KeySelfResponse struct {
	KeyID       string   `json:"key_id"`
	WorkspaceID string   `json:"workspace_id"`
	Kind        string   `json:"kind"`
	Scopes      []string `json:"scopes"`
}
