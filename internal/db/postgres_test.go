package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adgallery/internal/models"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(nil))

	assert.Equal(t, activePaymentIndex, violatedConstraint(fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: activePaymentIndex})))
	assert.Empty(t, violatedConstraint(errors.New("boom")))
}

// newTestPostgres connects to the database named by POSTGRES_TEST_DSN.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	pg, err := InitPostgres(dsn, 10, 5, time.Minute, time.Minute)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	return pg
}

func TestPostgresAdLifecycle(t *testing.T) {
	ctx := context.Background()
	pg := newTestPostgres(t)

	now := time.Now().UTC()
	ad := &models.Ad{ID: uuid.NewString(), OwnerID: "owner", Title: "bike", State: models.StatePendingReview, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, pg.InsertAd(ctx, ad))
	assert.Equal(t, models.KindValidation, models.KindOf(pg.InsertAd(ctx, ad)))

	pending := models.AdState{State: models.StatePendingReview}
	live := models.AdState{State: models.StatePublished}
	ok, err := pg.CompareAndSetAdState(ctx, ad.ID, pending, live)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pg.CompareAndSetAdState(ctx, ad.ID, pending, live)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = pg.CompareAndSetAdState(ctx, "missing", pending, live)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	got, err := pg.GetAd(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePublished, got.State)

	require.NoError(t, pg.DeleteAd(ctx, ad.ID))
	assert.True(t, errors.Is(pg.DeleteAd(ctx, ad.ID), models.ErrNotFound))
	_, err = pg.GetAd(ctx, ad.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestPostgresPaymentTerminalOnce(t *testing.T) {
	ctx := context.Background()
	pg := newTestPostgres(t)
	require.NoError(t, pg.EnsurePricingTiers(ctx, 100))

	rec := models.PaymentRecord{
		SessionID: "cs_" + uuid.NewString(), AdID: uuid.NewString(), UserID: "u1",
		Tier: models.TierRegular, Amount: 5000, Currency: "jpy",
		Status: models.PaymentPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, pg.InsertPayment(ctx, rec))

	ok, err := pg.TerminalizePayment(ctx, rec.SessionID, models.PaymentCompleted, "pi_1", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pg.TerminalizePayment(ctx, rec.SessionID, models.PaymentCancelled, "", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := pg.GetPayment(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, got.Status)
	assert.Equal(t, "pi_1", got.PaymentIntentID)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.CancelledAt)

	active, err := pg.ActivePayment(ctx, rec.AdID)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, active.SessionID)
}

func TestPostgresOneActivePaymentPerAd(t *testing.T) {
	ctx := context.Background()
	pg := newTestPostgres(t)
	require.NoError(t, pg.EnsurePricingTiers(ctx, 100))

	adID := uuid.NewString()
	newRec := func() models.PaymentRecord {
		id := "cs_" + uuid.NewString()
		return models.PaymentRecord{
			SessionID: id, AdID: adID, UserID: "u1",
			Tier: models.TierRegular, Amount: 5000, Currency: "jpy",
			Status: models.PaymentPending, CheckoutURL: "https://pay.test/" + id, CreatedAt: time.Now().UTC(),
		}
	}

	first := newRec()
	require.NoError(t, pg.InsertPayment(ctx, first))

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = pg.InsertPayment(ctx, newRec())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.True(t, errors.Is(err, models.ErrCheckoutOpen), "%v", err)
	}

	active, err := pg.ActivePayment(ctx, adID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, active.SessionID)
	assert.Equal(t, first.CheckoutURL, active.CheckoutURL)

	ok, err := pg.TerminalizePayment(ctx, first.SessionID, models.PaymentCancelled, "", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)
	_, err = pg.ActivePayment(ctx, adID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	require.NoError(t, pg.InsertPayment(ctx, newRec()))
}

func TestPostgresTierNeverOversells(t *testing.T) {
	ctx := context.Background()
	pg := newTestPostgres(t)
	require.NoError(t, pg.EnsurePricingTiers(ctx, 0))
	tier, err := pg.GetTier(ctx, models.TierSale)
	require.NoError(t, err)
	// raise capacity by three above what is already reserved
	require.NoError(t, pg.EnsurePricingTiers(ctx, tier.ReservedCount+3))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cur, err := pg.GetTier(ctx, models.TierSale)
				if !assert.NoError(t, err) || cur.Remaining() == 0 {
					return
				}
				ok, err := pg.CompareAndIncrementTier(ctx, models.TierSale, cur.ReservedCount)
				if !assert.NoError(t, err) {
					return
				}
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, wins)

	after, err := pg.GetTier(ctx, models.TierSale)
	require.NoError(t, err)
	assert.Equal(t, after.Capacity, after.ReservedCount)
}

func TestPostgresReportResolvedOnce(t *testing.T) {
	ctx := context.Background()
	pg := newTestPostgres(t)

	r := &models.AdReport{
		ID: uuid.NewString(), AdID: uuid.NewString(), ReporterID: "u1", Reason: "spam",
		Status: models.ReportPending, CreatedAt: time.Now().UTC(), IPAddress: "203.0.113.9",
	}
	require.NoError(t, pg.InsertReport(ctx, r))

	ok, err := pg.ResolveReport(ctx, r.ID, models.ReportApproved, "admin", "scam", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = pg.ResolveReport(ctx, r.ID, models.ReportRejected, "admin2", "", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := pg.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportApproved, got.Status)
	assert.Equal(t, "admin", got.ReviewerID)
	assert.Equal(t, "203.0.113.9", got.IPAddress)

	approved, err := pg.HasApprovedReport(ctx, r.AdID)
	require.NoError(t, err)
	assert.True(t, approved)
	approved, err = pg.HasApprovedReport(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, approved)

	reasons, err := pg.ListReportReasons(ctx)
	require.NoError(t, err)
	assert.Len(t, reasons, len(models.DefaultReportReasons))
}
