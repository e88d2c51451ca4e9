// Package ratelimit enforces the per-key request window: a fixed window
// anchored at the first request after the previous one elapsed, with the
// counter reset wholesale on rollover.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/loomcms/gatehouse/internal/apikey"
)

// Decision is the outcome of one admit check.
type Decision struct {
	Allowed bool
	// RetryAfterSeconds is the remaining window time rounded up, set only
	// on rejection.
	RetryAfterSeconds int
}

// WindowStore provides atomic window mutations. Each operation must apply
// its guard condition and its write in a single atomic step; the limiter
// never does a read-then-write on the counter.
type WindowStore interface {
	// IncrementInWindow admits into an open, non-full window.
	IncrementInWindow(ctx context.Context, keyID string, now time.Time) (bool, error)
	// StartWindow opens a fresh window when none is open or the current
	// one has elapsed.
	StartWindow(ctx context.Context, keyID string, now time.Time) (bool, error)
	// TouchLastUsed records use of an unlimited key.
	TouchLastUsed(ctx context.Context, keyID string, now time.Time) error
	// WindowState reads the open window snapshot, for retry-after
	// computation and full-window checks.
	WindowState(ctx context.Context, keyID string) (win apikey.Window, open bool, err error)
}

type Limiter struct {
	store WindowStore
}

func New(store WindowStore) *Limiter {
	return &Limiter{store: store}
}

// Admit decides whether a request on the given key proceeds, updating the
// window state as a side effect. Keys without limit configuration are
// always admitted but still get last_used_at updated.
func (l *Limiter) Admit(ctx context.Context, rec *apikey.Record, now time.Time) (Decision, error) {
	if !rec.Limited() {
		if err := l.store.TouchLastUsed(ctx, rec.ID, now); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true}, nil
	}

	// The two conditional writes are not one transaction, so a
	// concurrent request can mutate the window between them: our
	// increment fails on an elapsed window, the other request wins the
	// fresh-window claim, and our own claim fails too. Rejecting there
	// would 429 against a window holding one request. Reject only once
	// the snapshot shows an open, unelapsed window that is actually
	// full; anything else takes another pass at the increment.
	for attempt := 0; attempt < 3; attempt++ {
		ok, err := l.store.IncrementInWindow(ctx, rec.ID, now)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Decision{Allowed: true}, nil
		}

		ok, err = l.store.StartWindow(ctx, rec.ID, now)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Decision{Allowed: true}, nil
		}

		win, open, err := l.store.WindowState(ctx, rec.ID)
		if err != nil {
			return Decision{}, err
		}
		if !open {
			continue
		}
		remaining := win.StartMs + win.WindowMs - now.UnixMilli()
		if remaining <= 0 {
			continue
		}
		if !win.Full() {
			continue
		}
		return Decision{RetryAfterSeconds: ceilSeconds(remaining)}, nil
	}
	return Decision{}, fmt.Errorf("rate limit window for key did not settle")
}

// ceilSeconds converts remaining milliseconds to whole seconds, rounding
// up so a client that honors Retry-After lands past the window end.
func ceilSeconds(ms int64) int {
	return int((ms + 999) / 1000)
}
