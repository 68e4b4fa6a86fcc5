package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/events"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/observability"
)

var tracer = otel.Tracer("adgallery/payments")

// Quoter prices a posting.
type Quoter interface {
	Quote(ctx context.Context) (models.Quote, error)
	Regular() models.Quote
}

// Checkout is what the client needs to redirect to the hosted page.
type Checkout struct {
	SessionID    string `json:"session_id"`
	URL          string `json:"url"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	IsDiscounted bool   `json:"is_discounted"`
}

// CheckoutManager opens checkout sessions for unpaid ads.
type CheckoutManager struct {
	ads      models.AdStore
	payments models.PaymentStore
	quoter   Quoter
	provider Provider
	events   events.Publisher
	metrics  observability.MetricsRegistry
	logger   *zap.Logger
	now      func() time.Time
}

// NewCheckoutManager wires a checkout manager. pub may be nil.
func NewCheckoutManager(ads models.AdStore, payments models.PaymentStore, quoter Quoter, provider Provider, pub events.Publisher, metrics observability.MetricsRegistry, logger *zap.Logger) *CheckoutManager {
	return &CheckoutManager{
		ads:      ads,
		payments: payments,
		quoter:   quoter,
		provider: provider,
		events:   pub,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OpenSession prices the ad, opens a provider session and records it as a
// pending payment. While a session for the ad is still pending the same
// session is returned again, so an ad never has two payable sessions. It
// never changes the ad itself.
func (m *CheckoutManager) OpenSession(ctx context.Context, adID, userID string) (Checkout, error) {
	ctx, span := tracer.Start(ctx, "payments.OpenSession")
	defer span.End()
	span.SetAttributes(attribute.String("ad.id", adID))

	if userID == "" {
		return Checkout{}, models.ErrUnauthorized
	}
	if adID == "" {
		return Checkout{}, models.Invalid("ad_id is required")
	}
	ad, err := m.ads.GetAd(ctx, adID)
	if err != nil {
		return Checkout{}, err
	}
	if ad.OwnerID != userID {
		return Checkout{}, models.ErrForbidden
	}
	if co, ok, err := m.resume(ctx, adID); ok || err != nil {
		return co, err
	}

	quote, err := m.quoter.Quote(ctx)
	if err != nil {
		if models.KindOf(err) != models.KindTransient {
			return Checkout{}, err
		}
		m.logger.Warn("sale reservation unavailable, charging regular price",
			zap.String("ad_id", adID),
			zap.Error(err))
		quote = m.quoter.Regular()
	}
	span.SetAttributes(attribute.String("pricing.tier", string(quote.Tier)))

	sess, err := m.provider.CreateSession(ctx, SessionRequest{
		AdID:    adID,
		UserID:  userID,
		AdTitle: ad.Title,
		Quote:   quote,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider unavailable")
		m.metrics.IncrementCheckoutSessions("provider_error")
		m.logger.Error("create checkout session",
			zap.String("ad_id", adID),
			zap.String("tier", string(quote.Tier)),
			zap.Error(err))
		return Checkout{}, models.ErrProviderUnavailable.Wrap(err)
	}

	rec := models.PaymentRecord{
		SessionID:   sess.ID,
		AdID:        adID,
		UserID:      userID,
		Tier:        quote.Tier,
		Amount:      quote.Amount,
		Currency:    quote.Currency,
		Status:      models.PaymentPending,
		CheckoutURL: sess.URL,
		CreatedAt:   m.now(),
	}
	if err := m.payments.InsertPayment(ctx, rec); err != nil {
		if errors.Is(err, models.ErrCheckoutOpen) {
			// a concurrent request recorded its session first; ours is
			// never handed out
			m.logger.Info("checkout raced, discarding session",
				zap.String("ad_id", adID),
				zap.String("session_id", sess.ID),
				zap.String("tier", string(quote.Tier)))
			if co, ok, err := m.resume(ctx, adID); ok || err != nil {
				return co, err
			}
			return Checkout{}, models.ErrStateContention
		}
		m.metrics.IncrementCheckoutSessions("persist_error")
		m.logger.Error("record checkout session",
			zap.String("ad_id", adID),
			zap.String("session_id", sess.ID),
			zap.Error(err))
		return Checkout{}, fmt.Errorf("record payment %s: %w", sess.ID, err)
	}

	m.metrics.IncrementCheckoutSessions("opened")
	m.logger.Info("checkout session opened",
		zap.String("ad_id", adID),
		zap.String("session_id", sess.ID),
		zap.String("tier", string(quote.Tier)),
		zap.Int64("amount", quote.Amount))
	events.Emit(ctx, m.events, m.logger, events.Event{
		Type:      events.CheckoutOpened,
		AdID:      adID,
		ActorID:   userID,
		SessionID: sess.ID,
		Tier:      string(quote.Tier),
		Amount:    quote.Amount,
		Currency:  quote.Currency,
	})

	return Checkout{
		SessionID:    sess.ID,
		URL:          sess.URL,
		Amount:       quote.Amount,
		Currency:     quote.Currency,
		IsDiscounted: quote.Discounted,
	}, nil
}

// resume reports the ad's existing checkout. It fails with ErrAlreadyPaid
// when the ad has been paid for and returns ok=false when nothing is open.
func (m *CheckoutManager) resume(ctx context.Context, adID string) (Checkout, bool, error) {
	rec, err := m.payments.ActivePayment(ctx, adID)
	if errors.Is(err, models.ErrNotFound) {
		return Checkout{}, false, nil
	}
	if err != nil {
		return Checkout{}, false, fmt.Errorf("check existing payment: %w", err)
	}
	if rec.Status == models.PaymentCompleted {
		m.metrics.IncrementCheckoutSessions("already_paid")
		return Checkout{}, false, models.ErrAlreadyPaid
	}
	m.metrics.IncrementCheckoutSessions("resumed")
	m.logger.Debug("resuming open checkout",
		zap.String("ad_id", adID),
		zap.String("session_id", rec.SessionID))
	return Checkout{
		SessionID:    rec.SessionID,
		URL:          rec.CheckoutURL,
		Amount:       rec.Amount,
		Currency:     rec.Currency,
		IsDiscounted: rec.Tier == models.TierSale,
	}, true, nil
}
