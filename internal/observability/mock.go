package observability

import (
	"strings"
	"sync"
	"time"
)

// MockMetricsRegistry is a MetricsRegistry that counts calls so tests can
// assert that side effects happened exactly once.
type MockMetricsRegistry struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMockMetricsRegistry creates an empty counting registry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{counts: make(map[string]int)}
}

func (m *MockMetricsRegistry) inc(parts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[strings.Join(parts, ":")]++
}

// Count returns how many times the metric identified by parts was
// incremented, e.g. Count("transitions", "payment_completed", "applied").
func (m *MockMetricsRegistry) Count(parts ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[strings.Join(parts, ":")]
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.inc("requests", endpoint, method, status)
}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (m *MockMetricsRegistry) IncrementQuotes(tier string)                                          { m.inc("quotes", tier) }
func (m *MockMetricsRegistry) IncrementReservationConflicts()                                       { m.inc("reservation_conflicts") }
func (m *MockMetricsRegistry) IncrementCheckoutSessions(outcome string) {
	m.inc("checkout", outcome)
}
func (m *MockMetricsRegistry) IncrementWebhookEvents(eventType, outcome string) {
	m.inc("webhook", eventType, outcome)
}
func (m *MockMetricsRegistry) IncrementTransitions(trigger, outcome string) {
	m.inc("transitions", trigger, outcome)
}
func (m *MockMetricsRegistry) IncrementReports()                     { m.inc("reports") }
func (m *MockMetricsRegistry) IncrementResolutions(decision string) { m.inc("resolutions", decision) }
func (m *MockMetricsRegistry) IncrementReportRateLimitHits()        { m.inc("report_ratelimit") }
