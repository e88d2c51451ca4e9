// Package metrics defines the prometheus instrumentation for the gateway
// and delivery paths on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

// Delivery latency buckets in seconds; the upper ones straddle the
// delivery timeout so timeouts are visible in the histogram.
var deliveryBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15}

var (
	// GatedRequestsTotal counts requests through the API-key gateway.
	GatedRequestsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_gated_requests_total",
			Help: "Requests through the API-key gateway by outcome",
		},
		[]string{"outcome"}, // admitted, rejected, error
	)

	// AuthFailuresTotal counts gate rejections by reason.
	AuthFailuresTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_auth_failures_total",
			Help: "Gateway rejections by failure reason",
		},
		[]string{"reason"},
	)

	// DeliveriesTotal counts webhook delivery attempts.
	DeliveriesTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_webhook_deliveries_total",
			Help: "Webhook delivery attempts by format and outcome",
		},
		[]string{"format", "outcome"}, // ok, failed
	)

	// DeliveryDuration observes one delivery attempt end to end.
	DeliveryDuration = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatehouse_webhook_delivery_seconds",
			Help:    "Webhook delivery attempt duration in seconds",
			Buckets: deliveryBuckets,
		},
		[]string{"format"},
	)

	// DispatchFanout observes how many endpoints one event fanned out to.
	DispatchFanout = promauto.With(registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatehouse_dispatch_fanout",
			Help:    "Number of endpoints matched per dispatched event",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves the private registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
