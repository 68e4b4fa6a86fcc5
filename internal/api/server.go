// Package api exposes the gallery, payment and moderation operations over
// HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/clientinfo"
	"github.com/patrickwarner/adgallery/internal/middleware"
	"github.com/patrickwarner/adgallery/internal/moderation"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/observability"
	"github.com/patrickwarner/adgallery/internal/payments"
	"github.com/patrickwarner/adgallery/internal/publication"
)

// PricingReader reports the current offer without reserving anything.
type PricingReader interface {
	Snapshot(ctx context.Context) (models.PricingSnapshot, error)
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger      *zap.Logger
	Metrics     observability.MetricsRegistry
	Auth        *middleware.Authenticator
	Catalog     *publication.Catalog
	Coordinator *publication.Coordinator
	Pricing     PricingReader
	Checkout    *payments.CheckoutManager
	Webhooks    *payments.WebhookProcessor
	Moderation  *moderation.Workflow
	Clients     *clientinfo.Resolver
	// Checks are pinged by /health; a failure reports 503.
	Checks map[string]Pinger
}

// Routes builds the router with every endpoint registered.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))

	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	// provider callbacks carry their own signature instead of a bearer token
	r.Handle("/api/payments/webhook", s.instrument("webhook", s.WebhookHandler)).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.Auth.Identify)
	api.Handle("/pricing", s.instrument("pricing", s.PricingHandler)).Methods("GET")
	api.Handle("/report-reasons", s.instrument("report_reasons", s.ReportReasonsHandler)).Methods("GET")

	api.Handle("/ads", s.instrument("create_ad", s.CreateAdHandler)).Methods("POST")
	api.Handle("/ads", s.instrument("list_ads", s.ListAdsHandler)).Methods("GET")
	api.Handle("/ads/{id}", s.instrument("get_ad", s.GetAdHandler)).Methods("GET")
	api.Handle("/ads/{id}", s.instrument("delete_ad", s.DeleteAdHandler)).Methods("DELETE")
	api.Handle("/ads/{id}/status", s.instrument("ad_status", s.UpdateStatusHandler)).Methods("PATCH")
	api.Handle("/ads/{id}/report", s.instrument("file_report", s.FileReportHandler)).Methods("POST")

	api.Handle("/payments/checkout", s.instrument("checkout", s.CheckoutHandler)).Methods("POST")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Handle("/reports", s.instrument("list_reports", s.ListReportsHandler)).Methods("GET")
	admin.Handle("/reports/{id}", s.instrument("get_report", s.GetReportHandler)).Methods("GET")
	admin.Handle("/reports/{id}", s.instrument("resolve_report", s.ResolveReportHandler)).Methods("PATCH")
	admin.Handle("/ads/{id}/reinstate", s.instrument("reinstate", s.ReinstateHandler)).Methods("POST")

	return r
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency for endpoint.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(sr, r)
		s.Metrics.IncrementRequests(endpoint, r.Method, strconv.Itoa(sr.status))
		s.Metrics.RecordRequestLatency(endpoint, r.Method, time.Since(start))
	})
}
