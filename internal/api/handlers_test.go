package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/clientinfo"
	"github.com/patrickwarner/adgallery/internal/events"
	"github.com/patrickwarner/adgallery/internal/middleware"
	"github.com/patrickwarner/adgallery/internal/moderation"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/observability"
	"github.com/patrickwarner/adgallery/internal/payments"
	"github.com/patrickwarner/adgallery/internal/pricing"
	"github.com/patrickwarner/adgallery/internal/publication"
	"github.com/patrickwarner/adgallery/internal/ratelimit"
)

const webhookSecret = "whsec_test"

type testEnv struct {
	store    *models.MemoryStore
	auth     *middleware.Authenticator
	recorder *events.Recorder
	handler  http.Handler
}

func newTestEnv(t *testing.T, saleCapacity int64) *testEnv {
	t.Helper()
	store := models.NewTestStore(saleCapacity)
	rec := &events.Recorder{}
	metrics := observability.NewNoOpRegistry()
	logger := zap.NewNop()

	allocator := pricing.NewAllocator(store, pricing.Config{
		Currency: "jpy", SalePrice: 500, RegularPrice: 5000, MaxRetries: 3, InitialBackoff: time.Millisecond,
	}, metrics, logger)
	provider := payments.NewSandboxProvider(webhookSecret, "http://gallery.test")
	coordinator := publication.NewCoordinator(store, store, rec, metrics, logger)
	auth := middleware.NewAuthenticator("jwt-secret")

	srv := &Server{
		Logger:      logger,
		Metrics:     metrics,
		Auth:        auth,
		Catalog:     publication.NewCatalog(store, rec, logger),
		Coordinator: coordinator,
		Pricing:     allocator,
		Checkout:    payments.NewCheckoutManager(store, store, allocator, provider, rec, metrics, logger),
		Webhooks:    payments.NewWebhookProcessor(provider, store, coordinator, nil, rec, metrics, logger),
		Moderation: moderation.NewWorkflow(store, store, coordinator,
			ratelimit.NewKeyedLimiter(ratelimit.Config{Capacity: 5, RefillRate: 1, Enabled: true}), rec, metrics, logger),
		Clients: clientinfo.NewResolver(nil),
	}
	return &testEnv{store: store, auth: auth, recorder: rec, handler: srv.Routes()}
}

func (e *testEnv) token(t *testing.T, c models.Caller) string {
	t.Helper()
	tok, err := e.auth.Issue(c, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, caller *models.Caller, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, *caller))
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) webhook(t *testing.T, eventID string, typ payments.EventType, sessionID string, meta map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := payments.SandboxEvent(eventID, typ, sessionID, meta)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", payments.SignPayload(payload, webhookSecret, time.Now()))
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	return decode[errorBody](t, rr).Code
}

var (
	owner    = models.Caller{UserID: "owner"}
	reporter = models.Caller{UserID: "reporter"}
	admin    = models.Caller{UserID: "admin", IsAdmin: true}
)

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t, 1)

	// upload
	rr := env.do(t, http.MethodPost, "/api/ads", &owner, map[string]string{"title": "Vintage bike"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	ad := decode[models.Ad](t, rr)
	assert.Equal(t, models.StatePendingReview, ad.State)

	// owner cannot publish before paying
	publish := true
	rr = env.do(t, http.MethodPatch, "/api/ads/"+ad.ID+"/status", &owner, StatusRequest{Publish: &publish})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "pending_review", errorCode(t, rr))

	// pricing shows the sale
	rr = env.do(t, http.MethodGet, "/api/pricing", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[models.PricingSnapshot](t, rr)
	assert.True(t, snap.IsSale)
	assert.Equal(t, int64(500), snap.CurrentPrice)

	// checkout
	rr = env.do(t, http.MethodPost, "/api/payments/checkout", &owner, CheckoutRequest{AdID: ad.ID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	co := decode[payments.Checkout](t, rr)
	assert.True(t, co.IsDiscounted)
	assert.Equal(t, int64(500), co.Amount)

	// still not public before the webhook arrives
	rr = env.do(t, http.MethodGet, "/api/ads/"+ad.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	meta := map[string]string{payments.MetaAdID: ad.ID, payments.MetaUserID: "owner", payments.MetaTier: "sale"}
	rr = env.webhook(t, "evt_1", payments.EventCheckoutCompleted, co.SessionID, meta)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/ads", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct{ Ads []models.Ad }](t, rr)
	require.Len(t, list.Ads, 1)
	assert.Equal(t, ad.ID, list.Ads[0].ID)

	// paying twice is refused
	rr = env.do(t, http.MethodPost, "/api/payments/checkout", &owner, CheckoutRequest{AdID: ad.ID})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "already_paid", errorCode(t, rr))

	// report and approve
	rr = env.do(t, http.MethodPost, "/api/ads/"+ad.ID+"/report", &reporter, ReportRequest{Reason: "spam", Detail: "scam"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	reportID := decode[map[string]string](t, rr)["report_id"]

	rr = env.do(t, http.MethodGet, "/api/admin/reports", &admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[struct{ Reports []models.AdReport }](t, rr).Reports, 1)

	rr = env.do(t, http.MethodPatch, "/api/admin/reports/"+reportID, &admin, ResolveRequest{Status: models.ReportApproved, Note: "scam"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPatch, "/api/admin/reports/"+reportID, &admin, ResolveRequest{Status: models.ReportRejected})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "report_resolved", errorCode(t, rr))

	// the owner cannot bring it back, a redelivered payment cannot either
	rr = env.do(t, http.MethodPatch, "/api/ads/"+ad.ID+"/status", &owner, StatusRequest{Publish: &publish})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "moderation_locked", errorCode(t, rr))

	rr = env.webhook(t, "evt_2", payments.EventCheckoutCompleted, co.SessionID, meta)
	assert.Equal(t, http.StatusOK, rr.Code)
	stored, err := env.store.GetAd(context.Background(), ad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateHidden, stored.State)

	// only an administrator can
	rr = env.do(t, http.MethodPost, "/api/admin/ads/"+ad.ID+"/reinstate", &owner, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(t, http.MethodPost, "/api/admin/ads/"+ad.ID+"/reinstate", &admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StatePublished, decode[models.Ad](t, rr).State)
}

func TestAuthenticationRequired(t *testing.T) {
	env := newTestEnv(t, 1)
	models.SeedAd(env.store, "a1", "owner", models.StatePublished)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/ads", map[string]string{"title": "x"}},
		{http.MethodPost, "/api/payments/checkout", CheckoutRequest{AdID: "a1"}},
		{http.MethodPost, "/api/ads/a1/report", ReportRequest{Reason: "spam"}},
		{http.MethodDelete, "/api/ads/a1", nil},
	} {
		rr := env.do(t, tc.method, tc.path, nil, tc.body)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, tc.path)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ads", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	env := newTestEnv(t, 1)
	rr := env.do(t, http.MethodGet, "/api/admin/reports", &owner, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "admin_required", errorCode(t, rr))

	rr = env.do(t, http.MethodGet, "/api/admin/reports?status=bogus", &admin, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/admin/reports?status=all", &admin, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t, 1)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader([]byte(`{"id":"evt"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_signature", errorCode(t, rr))

	req = httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader([]byte(`{}`)))
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookUnknownSessionIsRetried(t *testing.T) {
	env := newTestEnv(t, 1)
	rr := env.webhook(t, "evt_1", payments.EventCheckoutCompleted, "cs_missing", map[string]string{})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = env.webhook(t, "evt_2", payments.EventCheckoutExpired, "cs_missing", map[string]string{})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusValidation(t *testing.T) {
	env := newTestEnv(t, 1)
	models.SeedAd(env.store, "a1", "owner", models.StatePublished)

	rr := env.do(t, http.MethodPatch, "/api/ads/a1/status", &owner, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	unpublish := false
	rr = env.do(t, http.MethodPatch, "/api/ads/a1/status", &reporter, StatusRequest{Publish: &unpublish})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPatch, "/api/ads/a1/status", &owner, StatusRequest{Publish: &unpublish})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StateHidden, decode[models.Ad](t, rr).State)

	// hidden ads disappear from the public view but the owner still sees them
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/ads/a1", nil, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/ads/a1", &owner, nil).Code)

	rr = env.do(t, http.MethodGet, "/api/ads?mine=true", &owner, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[struct{ Ads []models.Ad }](t, rr).Ads, 1)

	rr = env.do(t, http.MethodGet, "/api/ads?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReportRateLimitAndReasons(t *testing.T) {
	env := newTestEnv(t, 1)
	models.SeedAd(env.store, "a1", "owner", models.StatePublished)

	rr := env.do(t, http.MethodGet, "/api/report-reasons", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[struct{ Reasons []models.ReportReason }](t, rr).Reasons, len(models.DefaultReportReasons))

	rr = env.do(t, http.MethodPost, "/api/ads/a1/report", &reporter, ReportRequest{Reason: "boring"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	for i := 0; i < 5; i++ {
		rr = env.do(t, http.MethodPost, "/api/ads/a1/report", &reporter, ReportRequest{Reason: "spam"})
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/api/ads/a1/report", &reporter, ReportRequest{Reason: "spam"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	srv := &Server{
		Logger:  zap.NewNop(),
		Metrics: observability.NewNoOpRegistry(),
		Checks:  map[string]Pinger{"postgres": fakePinger{}},
	}
	rr := httptest.NewRecorder()
	srv.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	srv.Checks["redis"] = fakePinger{err: errors.New("down")}
	rr = httptest.NewRecorder()
	srv.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"redis":"down"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusFor(models.ErrUnauthorized))
	assert.Equal(t, http.StatusForbidden, statusFor(models.ErrForbidden))
	assert.Equal(t, http.StatusBadRequest, statusFor(models.Invalid("x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(models.ErrInvalidSignature))
	assert.Equal(t, http.StatusNotFound, statusFor(models.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(models.ErrAlreadyPaid))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(models.ErrProviderUnavailable.Wrap(errors.New("x"))))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(models.ErrReportRateLimit))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
