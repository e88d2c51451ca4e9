package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomcms/gatehouse/internal/event"
	"github.com/loomcms/gatehouse/internal/events"
	"github.com/loomcms/gatehouse/internal/usage"
	"github.com/loomcms/gatehouse/internal/webhook"
)

type staticRegistry struct {
	endpoints []*webhook.Endpoint
	err       error
}

func (s *staticRegistry) EndpointsFor(_ context.Context, workspaceID, eventName string) ([]*webhook.Endpoint, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*webhook.Endpoint
	for _, ep := range s.endpoints {
		if ep.WorkspaceID == workspaceID && ep.SubscribedTo(eventName) {
			out = append(out, ep)
		}
	}
	return out, nil
}

type sentDelivery struct {
	url     string
	body    []byte
	headers http.Header
}

// fakeSender records deliveries; URLs containing "fail" get a 500.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentDelivery
}

func (f *fakeSender) Send(_ context.Context, url string, body []byte, headers http.Header) webhook.Result {
	f.mu.Lock()
	f.sent = append(f.sent, sentDelivery{url: url, body: body, headers: headers})
	f.mu.Unlock()
	if strings.Contains(url, "fail") {
		return webhook.Result{StatusCode: 500, Err: errors.New("endpoint returned status 500")}
	}
	return webhook.Result{OK: true, StatusCode: 200}
}

func (f *fakeSender) deliveries() []sentDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDelivery(nil), f.sent...)
}

type memUsage struct {
	mu   sync.Mutex
	rows []map[string]any
}

func (m *memUsage) Append(_ context.Context, typ, workspaceID string, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := map[string]any{"type": typ, "workspace_id": workspaceID}
	for k, v := range meta {
		row[k] = v
	}
	m.rows = append(m.rows, row)
	return nil
}

func endpoint(id, url string, format webhook.Format, eventNames ...string) *webhook.Endpoint {
	return &webhook.Endpoint{
		ID:               id,
		WorkspaceID:      "ws-1",
		URL:              url,
		Secret:           "hook-secret",
		Format:           format,
		SubscribedEvents: eventNames,
		Enabled:          true,
	}
}

func testEvent() event.Event {
	return event.Event{
		Name:        event.PostPublished,
		WorkspaceID: "ws-1",
		Payload:     map[string]any{"post_id": "42"},
		OccurredAt:  time.Now().UTC(),
	}
}

func dispatchAndDrain(t *testing.T, d *Dispatcher, ev event.Event) {
	t.Helper()
	d.Dispatch(ev)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Drain(ctx))
}

func TestDispatchDeliversToAllSubscribers(t *testing.T) {
	sender := &fakeSender{}
	reg := &staticRegistry{endpoints: []*webhook.Endpoint{
		endpoint("e1", "https://a.example.com", webhook.FormatJSON, "post.published"),
		endpoint("e2", "https://b.example.com", webhook.FormatDiscord, "post.published"),
		endpoint("e3", "https://c.example.com", webhook.FormatJSON, "media.uploaded"),
	}}
	d := New(reg, webhook.NewAdapterRegistry(), sender, nil, nil, Config{})

	dispatchAndDrain(t, d, testEvent())

	sent := sender.deliveries()
	require.Len(t, sent, 2)
	urls := map[string]bool{}
	for _, s := range sent {
		urls[s.url] = true
	}
	require.True(t, urls["https://a.example.com"])
	require.True(t, urls["https://b.example.com"])
}

func TestDispatchSignsOnlyJSONFormat(t *testing.T) {
	sender := &fakeSender{}
	reg := &staticRegistry{endpoints: []*webhook.Endpoint{
		endpoint("e1", "https://json.example.com", webhook.FormatJSON, "post.published"),
		endpoint("e2", "https://discord.example.com", webhook.FormatDiscord, "post.published"),
	}}
	d := New(reg, webhook.NewAdapterRegistry(), sender, nil, nil, Config{})

	dispatchAndDrain(t, d, testEvent())

	for _, s := range sender.deliveries() {
		sig := s.headers.Get("X-Gatehouse-Signature")
		switch s.url {
		case "https://json.example.com":
			require.NotEmpty(t, sig)
			// The signature verifies against the exact delivered bytes.
			require.NoError(t, webhook.VerifySignature(s.body, sig, "hook-secret"))
		case "https://discord.example.com":
			require.Empty(t, sig)
		}
	}
}

func TestDispatchOneFailureDoesNotBlockSiblings(t *testing.T) {
	sender := &fakeSender{}
	reg := &staticRegistry{endpoints: []*webhook.Endpoint{
		endpoint("e1", "https://a.example.com", webhook.FormatJSON, "post.published"),
		endpoint("e2", "https://fail.example.com", webhook.FormatJSON, "post.published"),
		endpoint("e3", "https://c.example.com", webhook.FormatJSON, "post.published"),
	}}
	rec := &memUsage{}
	d := New(reg, webhook.NewAdapterRegistry(), sender, rec, nil, Config{})

	dispatchAndDrain(t, d, testEvent())

	// All three got an attempt despite one failing.
	require.Len(t, sender.deliveries(), 3)

	// One usage row per attempt, with the outcome recorded.
	require.Len(t, rec.rows, 3)
	okCount, failCount := 0, 0
	for _, row := range rec.rows {
		require.Equal(t, usage.TypeWebhookDelivery, row["type"])
		require.Equal(t, "ws-1", row["workspace_id"])
		if row["ok"] == true {
			okCount++
		} else {
			failCount++
		}
	}
	require.Equal(t, 2, okCount)
	require.Equal(t, 1, failCount)
}

func TestDispatchNoSubscribersIsANoOp(t *testing.T) {
	sender := &fakeSender{}
	rec := &memUsage{}
	d := New(&staticRegistry{}, webhook.NewAdapterRegistry(), sender, rec, nil, Config{})

	dispatchAndDrain(t, d, testEvent())

	require.Empty(t, sender.deliveries())
	require.Empty(t, rec.rows)
}

func TestDispatchRegistryFailureIsContained(t *testing.T) {
	d := New(&staticRegistry{err: errors.New("db gone")}, webhook.NewAdapterRegistry(), &fakeSender{}, nil, nil, Config{})
	// Must not panic or propagate anywhere.
	dispatchAndDrain(t, d, testEvent())
}

func TestDispatchUnknownFormatFailsOnlyThatEndpoint(t *testing.T) {
	sender := &fakeSender{}
	rec := &memUsage{}
	reg := &staticRegistry{endpoints: []*webhook.Endpoint{
		endpoint("e1", "https://a.example.com", webhook.FormatJSON, "post.published"),
		endpoint("e2", "https://b.example.com", webhook.Format("teams"), "post.published"),
	}}
	d := New(reg, webhook.NewAdapterRegistry(), sender, rec, nil, Config{})

	dispatchAndDrain(t, d, testEvent())

	// The unknown format never reaches the sender but still records a
	// failed attempt.
	require.Len(t, sender.deliveries(), 1)
	require.Len(t, rec.rows, 2)
}

func TestDispatchPublishesHubEvents(t *testing.T) {
	hub := events.NewHub(16)
	sender := &fakeSender{}
	reg := &staticRegistry{endpoints: []*webhook.Endpoint{
		endpoint("e1", "https://a.example.com", webhook.FormatJSON, "post.published"),
		endpoint("e2", "https://fail.example.com", webhook.FormatJSON, "post.published"),
	}}
	d := New(reg, webhook.NewAdapterRegistry(), sender, nil, hub, Config{})

	dispatchAndDrain(t, d, testEvent())

	byType := map[string]int{}
	for _, ev := range hub.SnapshotSince(0) {
		byType[ev.Type]++
	}
	// An attempt event precedes every outcome event.
	require.Equal(t, 2, byType[HubDeliveryAttempt])
	require.Equal(t, 1, byType[HubDeliveryOK])
	require.Equal(t, 1, byType[HubDeliveryFailed])
	require.Equal(t, 1, byType[HubDispatchDone])
}

func TestDrainTimesOut(t *testing.T) {
	block := make(chan struct{})
	sender := &blockingSender{release: block}
	reg := &staticRegistry{endpoints: []*webhook.Endpoint{
		endpoint("e1", "https://a.example.com", webhook.FormatJSON, "post.published"),
	}}
	d := New(reg, webhook.NewAdapterRegistry(), sender, nil, nil, Config{AttemptTimeout: time.Minute})

	d.Dispatch(testEvent())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, d.Drain(ctx))

	close(block)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.NoError(t, d.Drain(ctx2))
}

type blockingSender struct {
	release chan struct{}
}

func (b *blockingSender) Send(ctx context.Context, _ string, _ []byte, _ http.Header) webhook.Result {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return webhook.Result{OK: true, StatusCode: 200}
}
