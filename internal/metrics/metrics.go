package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "care_allocation"

const (
	LabelRoute   = "route"
	LabelMethod  = "method"
	LabelStatus  = "status"
	LabelOutcome = "outcome"
)

// LatencyBuckets are request latencies in seconds.
var LatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	Bookings        *prometheus.CounterVec
	Offers          prometheus.Counter
	OfferOutcomes   *prometheus.CounterVec
	WaitlistActive  prometheus.Gauge
	FairnessScore   prometheus.Gauge
	PublishFailures prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{LabelRoute, LabelMethod, LabelStatus}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   LatencyBuckets,
		}, []string{LabelRoute, LabelMethod}),
		Bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome (booked, rejected, busy, error).",
		}, []string{LabelOutcome}),
		Offers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "waitlist",
			Name:      "offers_total",
			Help:      "Slot offers made to waitlist entries.",
		}),
		OfferOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "waitlist",
			Name:      "offer_outcomes_total",
			Help:      "Offer outcomes (accepted, declined, rejected_expired, retried, expired).",
		}, []string{LabelOutcome}),
		WaitlistActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "waitlist",
			Name:      "active_entries",
			Help:      "ACTIVE waitlist entries at the last fairness computation.",
		}),
		FairnessScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "waitlist",
			Name:      "fairness_score",
			Help:      "Last computed waitlist fairness score (0-100).",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "publish_failures_total",
			Help:      "Slot offers that could not be handed to the notification channel.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.Bookings,
		m.Offers,
		m.OfferOutcomes,
		m.WaitlistActive,
		m.FairnessScore,
		m.PublishFailures,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
