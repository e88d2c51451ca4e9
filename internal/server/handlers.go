package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/loomcms/gatehouse/internal/event"
	"github.com/loomcms/gatehouse/internal/gateway"
)

const defaultMaxEventBody = 256 * 1024

func (s *Server) maxEventBody() int64 {
	if s.config.MaxEventBody > 0 {
		return s.config.MaxEventBody
	}
	return defaultMaxEventBody
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleEmitEvent accepts one content mutation from the CMS and hands it
// to the dispatcher. The 202 goes out before any delivery happens; the
// caller never waits on, or learns about, webhook outcomes.
func (s *Server) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	principal, ok := gateway.PrincipalFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "missing_credential", "no authenticated principal")
		return
	}

	limit := s.maxEventBody()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "read_failed", "failed to read request body")
		return
	}
	if int64(len(body)) > limit {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "event payload too large")
		return
	}

	var req EmitEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid_timestamp", "occurred_at is not RFC3339")
			return
		}
		occurredAt = t.UTC()
	}

	ev := event.Event{
		Name:        req.Event,
		WorkspaceID: principal.WorkspaceID,
		Payload:     req.Payload,
		OccurredAt:  occurredAt,
	}
	if err := ev.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}

	s.dispatcher.Dispatch(ev)
	s.respondJSON(w, http.StatusAccepted, EmitEventResponse{Accepted: true, Event: ev.Name})
}

// handleListWebhooks lists the authenticated workspace's endpoints with
// secrets redacted.
func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	principal, ok := gateway.PrincipalFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "missing_credential", "no authenticated principal")
		return
	}

	endpoints, err := s.endpoints.ListByWorkspace(r.Context(), principal.WorkspaceID)
	if err != nil {
		s.logger.Error("failed to list webhooks", "workspace_id", principal.WorkspaceID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal_error", "failed to list webhooks")
		return
	}

	out := make([]WebhookSummary, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, WebhookSummary{
			ID:               ep.ID,
			URL:              ep.URL,
			Format:           string(ep.Format),
			SubscribedEvents: ep.SubscribedEvents,
			Enabled:          ep.Enabled,
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleKeySelf introspects the authenticated key. No key material is
// available here to leak.
func (s *Server) handleKeySelf(w http.ResponseWriter, r *http.Request) {
	principal, ok := gateway.PrincipalFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "missing_credential", "no authenticated principal")
		return
	}

	scopes := make([]string, 0, len(principal.Scopes))
	for sc := range principal.Scopes {
		scopes = append(scopes, sc)
	}
	sort.Strings(scopes)

	s.respondJSON(w, http.StatusOK, KeySelfResponse{
		KeyID:       principal.KeyID,
		WorkspaceID: principal.WorkspaceID,
		Kind:        principal.Kind,
		Scopes:      scopes,
	})
}
