package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loomcms/gatehouse/internal/apikey"
	"github.com/loomcms/gatehouse/internal/ratelimit"
)

// KeyFinder is the credential-store lookup the authenticator depends on.
type KeyFinder interface {
	FindByHash(ctx context.Context, hash string) (*apikey.Record, error)
}

// ExtractCredential pulls the raw key from the request: the Authorization
// Bearer header first, then the "key" query parameter. Returns "" when
// neither is present; the caller rejects before any store lookup.
func ExtractCredential(r *http.Request) string {
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, prefix) {
			if key := strings.TrimSpace(strings.TrimPrefix(auth, prefix)); key != "" {
				return key
			}
		}
		return ""
	}
	return r.URL.Query().Get("key")
}

// Authenticator validates raw credentials against the key store and runs
// the rate limiter before declaring success: a rate-limited key is not a
// usable credential for this request.
type Authenticator struct {
	keys    KeyFinder
	limiter *ratelimit.Limiter
}

func NewAuthenticator(keys KeyFinder, limiter *ratelimit.Limiter) *Authenticator {
	return &Authenticator{keys: keys, limiter: limiter}
}

// Authenticate resolves a raw key to a Principal or a typed *AuthError.
// Any other error is an internal store failure. The raw key and its hash
// stay out of every returned error and log line.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string, now time.Time) (Principal, error) {
	if rawKey == "" {
		return Principal{}, &AuthError{Reason: ReasonMissingCredential}
	}

	rec, err := a.keys.FindByHash(ctx, apikey.HashKey(rawKey))
	if errors.Is(err, apikey.ErrNotFound) {
		return Principal{}, &AuthError{Reason: ReasonInvalidCredential}
	}
	if err != nil {
		return Principal{}, fmt.Errorf("key lookup: %w", err)
	}

	if !rec.Enabled {
		return Principal{}, &AuthError{Reason: ReasonDisabled}
	}
	if rec.Expired(now) {
		return Principal{}, &AuthError{Reason: ReasonExpired}
	}

	decision, err := a.limiter.Admit(ctx, rec, now)
	if err != nil {
		return Principal{}, fmt.Errorf("rate limit: %w", err)
	}
	if !decision.Allowed {
		return Principal{}, &AuthError{
			Reason:            ReasonRateLimited,
			RetryAfterSeconds: decision.RetryAfterSeconds,
		}
	}

	return Principal{
		WorkspaceID: rec.WorkspaceID,
		KeyID:       rec.ID,
		Kind:        rec.Kind,
		Scopes:      normalizeScopes(rec.Scopes),
	}, nil
}
