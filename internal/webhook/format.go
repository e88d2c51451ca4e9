package webhook

import (
	"fmt"
	"sync"

	"github.com/loomcms/gatehouse/internal/event"
)

// Adapter translates a generic content event into the wire body one
// integration expects.
type Adapter interface {
	// Adapt serializes the event into the target's body shape.
	Adapt(ev event.Event) ([]byte, error)
	// SignatureRequired reports whether deliveries in this format carry
	// an HMAC signature header. Platform-native formats (Discord, Slack)
	// have a fixed payload shape with no signature slot.
	SignatureRequired() bool
}

// AdapterRegistry maps formats to adapters. New integrations register
// here; dispatch code never branches on format names.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[Format]Adapter
}

// NewAdapterRegistry returns a registry with the built-in formats.
func NewAdapterRegistry() *AdapterRegistry {
	r := &AdapterRegistry{adapters: make(map[Format]Adapter)}
	r.Register(FormatJSON, jsonAdapter{})
	r.Register(FormatDiscord, discordAdapter{})
	r.Register(FormatSlack, slackAdapter{})
	return r
}

// Register adds or replaces the adapter for a format.
func (r *AdapterRegistry) Register(f Format, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[f] = a
}

// Get returns the adapter for a format.
func (r *AdapterRegistry) Get(f Format) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[f]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for format %q", f)
	}
	return a, nil
}

// Formats returns the registered format names, for validation messages.
func (r *AdapterRegistry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, 0, len(r.adapters))
	for f := range r.adapters {
		out = append(out, f)
	}
	return out
}
