package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loomcms/gatehouse/internal/metrics"
	"github.com/loomcms/gatehouse/internal/usage"
)

// UsageRecorder is the billing side effect: one row per admitted request.
type UsageRecorder interface {
	Append(ctx context.Context, typ, workspaceID string, meta map[string]any) error
}

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Middleware is the composed inbound gate: credential extraction,
// authentication, rate limiting, principal attachment, usage recording.
type Middleware struct {
	auth   *Authenticator
	usage  UsageRecorder
	logger *slog.Logger
}

func NewMiddleware(auth *Authenticator, rec UsageRecorder, logger *slog.Logger) *Middleware {
	return &Middleware{auth: auth, usage: rec, logger: logger}
}

// Handler gates the wrapped handler. Failures short-circuit with the
// documented status codes; success attaches the Principal to the request
// context and records an api_request usage row.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.auth.Authenticate(r.Context(), ExtractCredential(r), time.Now())
		if err != nil {
			m.reject(w, r, err)
			return
		}

		metrics.GatedRequestsTotal.WithLabelValues("admitted").Inc()
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))

		// The gate admitted the request; that is the billable action,
		// independent of what the business handler returned.
		if m.usage != nil {
			meta := map[string]any{
				"key_id": principal.KeyID,
				"kind":   principal.Kind,
				"method": r.Method,
				"path":   r.URL.Path,
			}
			if err := m.usage.Append(r.Context(), usage.TypeAPIRequest, principal.WorkspaceID, meta); err != nil {
				m.logger.Error("failed to record api_request usage",
					"workspace_id", principal.WorkspaceID, "error", err)
			}
		}
	})
}

// RequireScopes guards a route with scope checks against the attached
// principal. Mount inside Handler.
func (m *Middleware) RequireScopes(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorResponse{
					Error:   string(ReasonMissingCredential),
					Message: "no authenticated principal",
				})
				return
			}
			if !HasAnyScope(p, required...) {
				writeJSON(w, http.StatusForbidden, errorResponse{
					Error:   "insufficient_scope",
					Message: "API key does not grant access to this resource",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		metrics.GatedRequestsTotal.WithLabelValues("error").Inc()
		m.logger.Error("gateway internal error", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "internal_error",
			Message: "authentication could not be completed",
		})
		return
	}

	metrics.GatedRequestsTotal.WithLabelValues("rejected").Inc()
	metrics.AuthFailuresTotal.WithLabelValues(string(authErr.Reason)).Inc()
	// Reason only; the credential itself is never logged.
	m.logger.Warn("request rejected at gateway",
		"method", r.Method, "path", r.URL.Path, "reason", string(authErr.Reason))

	resp := errorResponse{Error: string(authErr.Reason), Message: authErr.Message()}
	if authErr.Reason == ReasonRateLimited {
		resp.RetryAfter = authErr.RetryAfterSeconds
		w.Header().Set("Retry-After", strconv.Itoa(authErr.RetryAfterSeconds))
	}
	writeJSON(w, authErr.HTTPStatus(), resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
