package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adgallery_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adgallery_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// quotes issued, labelled by tier
	QuoteCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adgallery_quotes_total",
			Help: "Total price quotes issued",
		},
		[]string{"tier"},
	)

	// lost compare-and-increment races on the sale counter
	ReservationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adgallery_reservation_conflicts_total",
			Help: "Total sale reservation conflicts that required a retry",
		},
	)

	// checkout sessions labelled by outcome
	CheckoutCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adgallery_checkout_sessions_total",
			Help: "Total checkout sessions opened",
		},
		[]string{"outcome"},
	)

	// webhook deliveries labelled by event type and outcome
	WebhookCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adgallery_webhook_events_total",
			Help: "Total payment webhook deliveries",
		},
		[]string{"type", "outcome"},
	)

	// publication transitions labelled by trigger and outcome
	TransitionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adgallery_publication_transitions_total",
			Help: "Total publication state transitions attempted",
		},
		[]string{"trigger", "outcome"},
	)

	// number of ad reports submitted
	ReportCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adgallery_reports_total",
			Help: "Total ad reports submitted",
		},
	)

	// report resolutions labelled by decision
	ResolutionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adgallery_report_resolutions_total",
			Help: "Total report resolutions",
		},
		[]string{"decision"},
	)

	// report rate limit hits
	ReportRateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adgallery_report_ratelimit_hits_total",
			Help: "Total reports rejected by the per-reporter rate limit",
		},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		QuoteCount,
		ReservationConflicts,
		CheckoutCount,
		WebhookCount,
		TransitionCount,
		ReportCount,
		ResolutionCount,
		ReportRateLimitHits,
	)
}
