package telemetry

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"copyforge/internal/types"
)

// Prometheus records metrics on its own registry and serves them over HTTP.
type Prometheus struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reservations    *prometheus.CounterVec
	billingEvents   *prometheus.CounterVec
}

// NewPrometheus registers the copyforge metrics, plus Go runtime and process
// collectors, under namespace.
func NewPrometheus(namespace string) *Prometheus {
	ns := strings.ToLower(namespace)
	reg := prometheus.NewRegistry()

	p := &Prometheus{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				// Generation requests wait on the model, so the tail is long.
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 45},
			},
			[]string{"method", "route"},
		),
		reservations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "credit_reservations_total",
				Help:      "Credit reservation attempts by outcome",
			},
			[]string{"outcome"},
		),
		billingEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "billing_events_total",
				Help:      "Billing webhook events by kind and reconcile outcome",
			},
			[]string{"kind", "outcome"},
		),
	}

	reg.MustRegister(
		p.requestsTotal,
		p.requestDuration,
		p.reservations,
		p.billingEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) RecordRequest(method, route, status string, duration time.Duration) {
	p.requestsTotal.WithLabelValues(method, route, status).Inc()
	p.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (p *Prometheus) RecordReservation(outcome types.ReservationOutcome) {
	p.reservations.WithLabelValues(string(outcome)).Inc()
}

func (p *Prometheus) RecordBillingEvent(kind types.BillingEventKind, outcome types.ReconcileOutcome) {
	p.billingEvents.WithLabelValues(string(kind), string(outcome)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
