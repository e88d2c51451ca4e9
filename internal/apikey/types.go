package apikey

import (
	"errors"
	"time"
)

// Kind categorizes an issued credential.
const (
	KindStandard = "standard"
	KindServer   = "server"
	KindContent  = "content"
)

// ErrNotFound is returned when no key matches a lookup hash.
var ErrNotFound = errors.New("api key not found")

// Record is one issued credential. The raw key is never stored; HashedKey
// is the deterministic lookup form.
type Record struct {
	ID          string
	WorkspaceID string
	HashedKey   string
	Kind        string
	Scopes      []string
	Enabled     bool
	ExpiresAt   *time.Time

	// Rate-limit configuration. A zero RateLimitWindow or RateLimitMax
	// means the key is unlimited.
	RateLimitWindow time.Duration
	RateLimitMax    int

	// Current window state, mutated only through the window store ops.
	WindowStartedAt      *time.Time
	RequestCountInWindow int

	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Limited reports whether the record carries rate-limit configuration.
func (r *Record) Limited() bool {
	return r.RateLimitWindow > 0 && r.RateLimitMax > 0
}

// Expired reports whether the record has an expiry in the past.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Window is a point-in-time snapshot of a key's open rate-limit window,
// read for retry-after computation and full-window checks.
type Window struct {
	StartMs  int64
	WindowMs int64
	Count    int
	Max      int
}

// Full reports whether the window has no room left.
func (w Window) Full() bool {
	return w.Count >= w.Max
}

// CreateRequest carries the fields an operator sets when minting a key.
type CreateRequest struct {
	WorkspaceID     string
	Kind            string
	Scopes          []string
	ExpiresAt       *time.Time
	RateLimitWindow time.Duration
	RateLimitMax    int
}
