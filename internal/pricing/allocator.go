// Package pricing assigns a price to a posting. The first Capacity postings
// get the sale price; reservation of a sale slot is a compare-and-increment
// on the shared tier counter, retried with bounded exponential backoff.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/observability"
)

var tracer = otel.Tracer("adgallery/pricing")

// errContended is returned from a reservation attempt that lost the race.
var errContended = errors.New("sale counter changed concurrently")

// Config holds the price list and retry bounds.
type Config struct {
	Currency     string
	SalePrice    int64
	RegularPrice int64
	// MaxRetries bounds how many lost races are retried before giving up.
	MaxRetries int
	// InitialBackoff is the first wait after a lost race. Zero uses 10ms.
	InitialBackoff time.Duration
}

// Allocator hands out quotes against the sale tier counter.
type Allocator struct {
	tiers   models.TierStore
	cfg     Config
	metrics observability.MetricsRegistry
	logger  *zap.Logger
}

// NewAllocator creates an allocator backed by tiers.
func NewAllocator(tiers models.TierStore, cfg Config, metrics observability.MetricsRegistry, logger *zap.Logger) *Allocator {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Allocator{tiers: tiers, cfg: cfg, metrics: metrics, logger: logger}
}

// Quote reserves a sale slot if one is left and returns the matching price.
// When the sale tier is full it returns the regular price without touching
// the counter. If the counter stays contended for every retry, it returns
// ErrReservationUnavailable and reserves nothing.
func (a *Allocator) Quote(ctx context.Context) (models.Quote, error) {
	ctx, span := tracer.Start(ctx, "pricing.Quote")
	defer span.End()

	var quote models.Quote
	attempts := 0
	op := func() error {
		attempts++
		tier, err := a.tiers.GetTier(ctx, models.TierSale)
		if errors.Is(err, models.ErrNotFound) {
			quote = a.Regular()
			return nil
		}
		if err != nil {
			return fmt.Errorf("get sale tier: %w", err)
		}
		if tier.Remaining() == 0 {
			quote = a.Regular()
			return nil
		}
		ok, err := a.tiers.CompareAndIncrementTier(ctx, models.TierSale, tier.ReservedCount)
		if err != nil {
			return fmt.Errorf("reserve sale slot: %w", err)
		}
		if !ok {
			a.metrics.IncrementReservationConflicts()
			return errContended
		}
		quote = a.sale()
		return nil
	}

	if err := backoff.Retry(op, a.newBackOff(ctx)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reservation unavailable")
		a.logger.Warn("sale reservation gave up",
			zap.Int("attempts", attempts),
			zap.Error(err))
		return models.Quote{}, models.ErrReservationUnavailable.Wrap(err)
	}

	span.SetAttributes(
		attribute.String("pricing.tier", string(quote.Tier)),
		attribute.Int("pricing.attempts", attempts),
	)
	a.metrics.IncrementQuotes(string(quote.Tier))
	return quote, nil
}

// Regular returns the full-price quote. It never reserves anything.
func (a *Allocator) Regular() models.Quote {
	return models.Quote{Amount: a.cfg.RegularPrice, Currency: a.cfg.Currency, Tier: models.TierRegular}
}

func (a *Allocator) sale() models.Quote {
	return models.Quote{Amount: a.cfg.SalePrice, Currency: a.cfg.Currency, Tier: models.TierSale, Discounted: true}
}

// Snapshot reports the current offer without reserving a slot. The answer
// can be stale by the time a checkout calls Quote.
func (a *Allocator) Snapshot(ctx context.Context) (models.PricingSnapshot, error) {
	tier, err := a.tiers.GetTier(ctx, models.TierSale)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return models.PricingSnapshot{}, fmt.Errorf("get sale tier: %w", err)
	}
	snap := models.PricingSnapshot{
		CurrentPrice: a.cfg.RegularPrice,
		Currency:     a.cfg.Currency,
		SaleCount:    tier.ReservedCount,
		MaxSaleCount: tier.Capacity,
	}
	if tier.Remaining() > 0 {
		snap.CurrentPrice = a.cfg.SalePrice
		snap.IsSale = true
	}
	return snap, nil
}

func (a *Allocator) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.cfg.InitialBackoff
	exp.MaxInterval = 20 * a.cfg.InitialBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(a.cfg.MaxRetries)), ctx)
}
