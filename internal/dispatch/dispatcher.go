// Package dispatch fans content events out to registered webhook
// endpoints. Dispatch is fire-and-forget relative to the request that
// produced the event: the caller returns immediately and delivery runs to
// completion on detached goroutines.
package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/loomcms/gatehouse/internal/event"
	"github.com/loomcms/gatehouse/internal/events"
	"github.com/loomcms/gatehouse/internal/log"
	"github.com/loomcms/gatehouse/internal/metrics"
	"github.com/loomcms/gatehouse/internal/usage"
	"github.com/loomcms/gatehouse/internal/webhook"
)

// Hub event types published for the admin stream and watch TUI.
const (
	HubDeliveryAttempt = "delivery.attempt"
	HubDeliveryOK      = "delivery.ok"
	HubDeliveryFailed  = "delivery.failed"
	HubDispatchDone    = "dispatch.done"
)

// EndpointRegistry answers which endpoints receive an event.
type EndpointRegistry interface {
	EndpointsFor(ctx context.Context, workspaceID, eventName string) ([]*webhook.Endpoint, error)
}

// Sender performs one outbound delivery attempt.
type Sender interface {
	Send(ctx context.Context, url string, body []byte, headers http.Header) webhook.Result
}

// UsageRecorder receives one webhook_delivery row per attempt.
type UsageRecorder interface {
	Append(ctx context.Context, typ, workspaceID string, meta map[string]any) error
}

// Config carries the dispatch tunables.
type Config struct {
	// SignatureHeader names the HMAC header on signed deliveries.
	SignatureHeader string
	// AttemptTimeout bounds one delivery attempt.
	AttemptTimeout time.Duration
}

// Dispatcher orchestrates registry, format adaptation, signing and
// delivery for one event across all matching endpoints.
type Dispatcher struct {
	registry EndpointRegistry
	adapters *webhook.AdapterRegistry
	client   Sender
	usage    UsageRecorder
	hub      *events.Hub
	cfg      Config
	logger   *slog.Logger

	wg sync.WaitGroup
}

func New(registry EndpointRegistry, adapters *webhook.AdapterRegistry, client Sender, rec UsageRecorder, hub *events.Hub, cfg Config) *Dispatcher {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Gatehouse-Signature"
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		adapters: adapters,
		client:   client,
		usage:    rec,
		hub:      hub,
		cfg:      cfg,
		logger:   log.WithComponent("dispatch"),
	}
}

// Dispatch starts delivery of one event and returns immediately. The work
// runs on a background context, so it completes even after the HTTP
// response that triggered it has been sent. All failures are contained
// here; nothing propagates to the caller.
func (d *Dispatcher) Dispatch(ev event.Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("dispatch panicked", "event", ev.Name, "panic", r)
			}
		}()
		d.run(context.Background(), ev)
	}()
}

// Drain waits for in-flight dispatches, up to ctx. Used at shutdown and in
// tests.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context, ev event.Event) {
	logger := log.WithWorkspace(ev.WorkspaceID)
	endpoints, err := d.registry.EndpointsFor(ctx, ev.WorkspaceID, ev.Name)
	if err != nil {
		logger.Error("failed to load endpoints", "event", ev.Name, "error", err)
		return
	}
	metrics.DispatchFanout.Observe(float64(len(endpoints)))
	if len(endpoints) == 0 {
		logger.Debug("no endpoints subscribed", "event", ev.Name)
		return
	}

	// Endpoints deliver concurrently: a slow or unreachable target must
	// not delay its siblings.
	var wg sync.WaitGroup
	var okCount, failCount int
	var mu sync.Mutex
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep *webhook.Endpoint) {
			defer wg.Done()
			ok := d.deliver(ctx, ev, ep)
			mu.Lock()
			if ok {
				okCount++
			} else {
				failCount++
			}
			mu.Unlock()
		}(ep)
	}
	wg.Wait()

	if d.hub != nil {
		d.hub.Publish(HubDispatchDone, map[string]any{
			"event":        ev.Name,
			"workspace_id": ev.WorkspaceID,
			"endpoints":    len(endpoints),
			"delivered":    okCount,
			"failed":       failCount,
		})
	}
	logger.Info("dispatch complete",
		"event", ev.Name, "endpoints", len(endpoints),
		"delivered", okCount, "failed", failCount)
}

// deliver runs adapter, signer and client for one endpoint. Every
// imaginable failure stays inside this frame.
func (d *Dispatcher) deliver(ctx context.Context, ev event.Event, ep *webhook.Endpoint) (delivered bool) {
	logger := log.WithEndpoint(ep.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("delivery panicked", "event", ev.Name, "panic", r)
			delivered = false
		}
	}()

	if d.hub != nil {
		d.hub.Publish(HubDeliveryAttempt, map[string]any{
			"endpoint_id":  ep.ID,
			"workspace_id": ep.WorkspaceID,
			"event":        ev.Name,
			"format":       string(ep.Format),
		})
	}

	start := time.Now()
	result := d.attempt(ctx, ev, ep)
	elapsed := time.Since(start)

	outcome := "ok"
	if !result.OK {
		outcome = "failed"
	}
	metrics.DeliveriesTotal.WithLabelValues(string(ep.Format), outcome).Inc()
	metrics.DeliveryDuration.WithLabelValues(string(ep.Format)).Observe(elapsed.Seconds())

	meta := map[string]any{
		"endpoint_id": ep.ID,
		"event":       ev.Name,
		"format":      string(ep.Format),
		"ok":          result.OK,
	}
	if result.StatusCode != 0 {
		meta["status"] = result.StatusCode
	}
	if d.usage != nil {
		if err := d.usage.Append(ctx, usage.TypeWebhookDelivery, ep.WorkspaceID, meta); err != nil {
			logger.Error("failed to record webhook_delivery usage", "error", err)
		}
	}

	hubData := map[string]any{
		"endpoint_id":  ep.ID,
		"workspace_id": ep.WorkspaceID,
		"event":        ev.Name,
		"format":       string(ep.Format),
		"status":       result.StatusCode,
		"duration_ms":  elapsed.Milliseconds(),
	}
	if result.OK {
		if d.hub != nil {
			d.hub.Publish(HubDeliveryOK, hubData)
		}
		logger.Info("delivery succeeded",
			"event", ev.Name, "status", result.StatusCode,
			"duration_ms", elapsed.Milliseconds())
		return true
	}

	if result.Err != nil {
		hubData["error"] = result.Err.Error()
	}
	if d.hub != nil {
		d.hub.Publish(HubDeliveryFailed, hubData)
	}
	logger.Warn("delivery failed",
		"event", ev.Name, "status", result.StatusCode,
		"duration_ms", elapsed.Milliseconds(), "error", result.Err)
	return false
}

func (d *Dispatcher) attempt(ctx context.Context, ev event.Event, ep *webhook.Endpoint) webhook.Result {
	adapter, err := d.adapters.Get(ep.Format)
	if err != nil {
		return webhook.Result{Err: err}
	}

	body, err := adapter.Adapt(ev)
	if err != nil {
		return webhook.Result{Err: err}
	}

	headers := make(http.Header)
	if adapter.SignatureRequired() {
		headers.Set(d.cfg.SignatureHeader, webhook.Sign(ep.Secret, body))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()
	return d.client.Send(attemptCtx, ep.URL, body, headers)
}
