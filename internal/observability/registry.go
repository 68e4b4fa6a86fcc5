package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Pricing metrics
	IncrementQuotes(tier string)
	IncrementReservationConflicts()

	// Payment metrics
	IncrementCheckoutSessions(outcome string)
	IncrementWebhookEvents(eventType, outcome string)

	// Publication metrics
	IncrementTransitions(trigger, outcome string)

	// Moderation metrics
	IncrementReports()
	IncrementResolutions(decision string)
	IncrementReportRateLimitHits()
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Pricing metrics
func (r *PrometheusRegistry) IncrementQuotes(tier string) {
	QuoteCount.WithLabelValues(tier).Inc()
}

func (r *PrometheusRegistry) IncrementReservationConflicts() {
	ReservationConflicts.Inc()
}

// Payment metrics
func (r *PrometheusRegistry) IncrementCheckoutSessions(outcome string) {
	CheckoutCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementWebhookEvents(eventType, outcome string) {
	WebhookCount.WithLabelValues(eventType, outcome).Inc()
}

// Publication metrics
func (r *PrometheusRegistry) IncrementTransitions(trigger, outcome string) {
	TransitionCount.WithLabelValues(trigger, outcome).Inc()
}

// Moderation metrics
func (r *PrometheusRegistry) IncrementReports() {
	ReportCount.Inc()
}

func (r *PrometheusRegistry) IncrementResolutions(decision string) {
	ResolutionCount.WithLabelValues(decision).Inc()
}

func (r *PrometheusRegistry) IncrementReportRateLimitHits() {
	ReportRateLimitHits.Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementQuotes(tier string)                                          {}
func (r *NoOpRegistry) IncrementReservationConflicts()                                       {}
func (r *NoOpRegistry) IncrementCheckoutSessions(outcome string)                             {}
func (r *NoOpRegistry) IncrementWebhookEvents(eventType, outcome string)                     {}
func (r *NoOpRegistry) IncrementTransitions(trigger, outcome string)                         {}
func (r *NoOpRegistry) IncrementReports()                                                    {}
func (r *NoOpRegistry) IncrementResolutions(decision string)                                 {}
func (r *NoOpRegistry) IncrementReportRateLimitHits()                                        {}
