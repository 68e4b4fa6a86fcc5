package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/analytics"
	"github.com/patrickwarner/adgallery/internal/events"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/moderation"
	"github.com/patrickwarner/adgallery/internal/observability"
	"github.com/patrickwarner/adgallery/internal/pricing"
	"github.com/patrickwarner/adgallery/internal/publication"
)

func newTestServer(t *testing.T) (*ModerationServer, *models.MemoryStore) {
	t.Helper()
	store := models.NewTestStore(3)
	metrics := observability.NewNoOpRegistry()
	logger := zap.NewNop()
	coordinator := publication.NewCoordinator(store, store, nil, metrics, logger)
	return &ModerationServer{
		pricing: pricing.NewAllocator(store, pricing.Config{
			Currency: "jpy", SalePrice: 500, RegularPrice: 5000, MaxRetries: 1, InitialBackoff: time.Millisecond,
		}, metrics, logger),
		workflow:    moderation.NewWorkflow(store, store, coordinator, nil, nil, metrics, logger),
		coordinator: coordinator,
		operator:    models.Caller{UserID: "op", IsAdmin: true},
		logger:      logger,
	}, store
}

func TestModerationTools(t *testing.T) {
	ctx := context.Background()
	srv, store := newTestServer(t)
	models.SeedAd(store, "a1", "owner", models.StatePublished)

	_, snap, err := srv.GetPricing(ctx, nil, GetPricingInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.MaxSaleCount)
	assert.True(t, snap.IsSale)

	reportID, err := srv.workflow.FileReport(ctx, moderation.ReportInput{
		AdID: "a1", Reporter: models.Caller{UserID: "u1"}, Reason: "spam",
	})
	require.NoError(t, err)

	_, list, err := srv.ListReports(ctx, nil, ListReportsInput{})
	require.NoError(t, err)
	require.Len(t, list.Reports, 1)
	assert.Equal(t, reportID, list.Reports[0].ID)

	_, r, err := srv.ResolveReport(ctx, nil, ResolveReportInput{ReportID: reportID, Decision: "approved", Note: "scam"})
	require.NoError(t, err)
	assert.Equal(t, "approved", r.Status)
	assert.Equal(t, "op", r.ReviewerID)

	ad, err := store.GetAd(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ad.ModerationLocked)

	_, out, err := srv.ReinstateAd(ctx, nil, AdInput{AdID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, string(models.StatePublished), out.State)
	assert.False(t, out.ModerationLocked)

	_, list, err = srv.ListReports(ctx, nil, ListReportsInput{})
	require.NoError(t, err)
	assert.Empty(t, list.Reports)
	_, list, err = srv.ListReports(ctx, nil, ListReportsInput{Status: "all"})
	require.NoError(t, err)
	assert.Len(t, list.Reports, 1)
}

func TestResolveReportRejectsBadDecision(t *testing.T) {
	srv, store := newTestServer(t)
	models.SeedAd(store, "a1", "owner", models.StatePublished)
	_, _, err := srv.ResolveReport(context.Background(), nil, ResolveReportInput{ReportID: "x", Decision: "maybe"})
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestAdHistoryWithoutClickHouse(t *testing.T) {
	srv, _ := newTestServer(t)
	_, _, err := srv.AdHistory(context.Background(), nil, AdInput{AdID: "a1"})
	assert.True(t, errors.Is(err, analytics.ErrUnavailable))
}

type fakeHistory []events.Event

func (h fakeHistory) EventsForAd(_ context.Context, adID string, _ int) ([]events.Event, error) {
	var out []events.Event
	for _, ev := range h {
		if ev.AdID == adID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestAdHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	srv.history = fakeHistory{
		{Type: events.AdCreated, AdID: "a1", ActorID: "owner", OccurredAt: at},
		{Type: events.PaymentCompleted, AdID: "a1", Tier: "sale", Amount: 500, OccurredAt: at.Add(time.Minute)},
		{Type: events.AdCreated, AdID: "other", OccurredAt: at},
	}

	_, out, err := srv.AdHistory(context.Background(), nil, AdInput{AdID: "a1"})
	require.NoError(t, err)
	require.Len(t, out.Events, 2)
	assert.Equal(t, "ad.created", out.Events[0].Type)
	assert.Equal(t, "2025-03-01T09:00:00Z", out.Events[0].OccurredAt)
	assert.Equal(t, int64(500), out.Events[1].Amount)
}
