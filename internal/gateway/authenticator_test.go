package gateway

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loomcms/gatehouse/internal/apikey"
	"github.com/loomcms/gatehouse/internal/ratelimit"
)

// fakeKeyFinder serves records by hashed key and counts lookups.
type fakeKeyFinder struct {
	records map[string]*apikey.Record
	lookups int
	err     error
}

func (f *fakeKeyFinder) FindByHash(_ context.Context, hash string) (*apikey.Record, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[hash]
	if !ok {
		return nil, apikey.ErrNotFound
	}
	return rec, nil
}

// fakeWindowStore is an in-memory window, no concurrency concerns here.
type fakeWindowStore struct {
	startMs  int64
	windowMs int64
	count    int
	max      int
	touched  int
}

func (f *fakeWindowStore) IncrementInWindow(_ context.Context, _ string, now time.Time) (bool, error) {
	if f.startMs == 0 || now.UnixMilli() >= f.startMs+f.windowMs || f.count >= f.max {
		return false, nil
	}
	f.count++
	return true, nil
}

func (f *fakeWindowStore) StartWindow(_ context.Context, _ string, now time.Time) (bool, error) {
	if f.startMs != 0 && now.UnixMilli() < f.startMs+f.windowMs {
		return false, nil
	}
	f.startMs = now.UnixMilli()
	f.count = 1
	return true, nil
}

func (f *fakeWindowStore) TouchLastUsed(_ context.Context, _ string, _ time.Time) error {
	f.touched++
	return nil
}

func (f *fakeWindowStore) WindowState(_ context.Context, _ string) (apikey.Window, bool, error) {
	if f.startMs == 0 {
		return apikey.Window{}, false, nil
	}
	return apikey.Window{
		StartMs:  f.startMs,
		WindowMs: f.windowMs,
		Count:    f.count,
		Max:      f.max,
	}, true, nil
}

func newTestAuthenticator(keys *fakeKeyFinder, windows *fakeWindowStore) *Authenticator {
	if windows == nil {
		windows = &fakeWindowStore{windowMs: time.Minute.Milliseconds(), max: 1000}
	}
	return NewAuthenticator(keys, ratelimit.New(windows))
}

func keyFinderWith(rec *apikey.Record, raw string) *fakeKeyFinder {
	return &fakeKeyFinder{records: map[string]*apikey.Record{apikey.HashKey(raw): rec}}
}

func validRecord() *apikey.Record {
	return &apikey.Record{
		ID:          "key-1",
		WorkspaceID: "ws-1",
		Kind:        apikey.KindStandard,
		Scopes:      []string{"events:rw"},
		Enabled:     true,
	}
}

func TestAuthenticateMissingCredentialSkipsLookup(t *testing.T) {
	keys := &fakeKeyFinder{}
	auth := newTestAuthenticator(keys, nil)

	_, err := auth.Authenticate(context.Background(), "", time.Now())
	assertAuthReason(t, err, ReasonMissingCredential)
	if keys.lookups != 0 {
		t.Errorf("store was consulted %d times for an empty credential", keys.lookups)
	}
}

func TestAuthenticateUnknownKey(t *testing.T) {
	auth := newTestAuthenticator(&fakeKeyFinder{}, nil)
	_, err := auth.Authenticate(context.Background(), "gh_unknown", time.Now())
	assertAuthReason(t, err, ReasonInvalidCredential)
}

func TestAuthenticateDisabledKey(t *testing.T) {
	rec := validRecord()
	rec.Enabled = false
	auth := newTestAuthenticator(keyFinderWith(rec, "gh_raw"), nil)

	_, err := auth.Authenticate(context.Background(), "gh_raw", time.Now())
	assertAuthReason(t, err, ReasonDisabled)
}

func TestAuthenticateExpiredKey(t *testing.T) {
	rec := validRecord()
	past := time.Now().Add(-time.Hour)
	rec.ExpiresAt = &past
	auth := newTestAuthenticator(keyFinderWith(rec, "gh_raw"), nil)

	_, err := auth.Authenticate(context.Background(), "gh_raw", time.Now())
	assertAuthReason(t, err, ReasonExpired)
}

func TestAuthenticateRateLimited(t *testing.T) {
	rec := validRecord()
	rec.RateLimitWindow = time.Minute
	rec.RateLimitMax = 1
	windows := &fakeWindowStore{windowMs: time.Minute.Milliseconds(), max: 1}
	auth := newTestAuthenticator(keyFinderWith(rec, "gh_raw"), windows)

	now := time.Now()
	if _, err := auth.Authenticate(context.Background(), "gh_raw", now); err != nil {
		t.Fatalf("first request: %v", err)
	}

	_, err := auth.Authenticate(context.Background(), "gh_raw", now.Add(time.Second))
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Reason != ReasonRateLimited {
		t.Errorf("reason = %s, want %s", authErr.Reason, ReasonRateLimited)
	}
	if authErr.RetryAfterSeconds <= 0 {
		t.Errorf("retry-after not set: %d", authErr.RetryAfterSeconds)
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	auth := newTestAuthenticator(keyFinderWith(validRecord(), "gh_raw"), nil)

	p, err := auth.Authenticate(context.Background(), "gh_raw", time.Now())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.WorkspaceID != "ws-1" || p.KeyID != "key-1" {
		t.Errorf("unexpected principal: %+v", p)
	}
	// events:rw implies events:ro.
	if _, ok := p.Scopes["events:ro"]; !ok {
		t.Error("rw scope did not imply ro")
	}
}

func TestAuthenticateStoreFailureIsNotAuthError(t *testing.T) {
	keys := &fakeKeyFinder{err: errors.New("disk on fire")}
	auth := newTestAuthenticator(keys, nil)

	_, err := auth.Authenticate(context.Background(), "gh_raw", time.Now())
	var authErr *AuthError
	if errors.As(err, &authErr) {
		t.Fatalf("store failure surfaced as auth failure: %v", err)
	}
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestExtractCredential(t *testing.T) {
	cases := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer gh_abc", "", "gh_abc"},
		{"header wins over query", "Bearer gh_abc", "gh_other", "gh_abc"},
		{"malformed header blocks query fallback", "Basic dXNlcg==", "gh_other", ""},
		{"empty bearer", "Bearer ", "", ""},
		{"query fallback", "", "gh_q", "gh_q"},
		{"nothing", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := "/v1/events"
			if tc.query != "" {
				url += "?key=" + tc.query
			}
			r := httptest.NewRequest("GET", url, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if got := ExtractCredential(r); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func assertAuthReason(t *testing.T, err error, want Reason) {
	t.Helper()
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Reason != want {
		t.Errorf("reason = %s, want %s", authErr.Reason, want)
	}
}
