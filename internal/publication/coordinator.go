package publication

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/events"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/observability"
)

var tracer = otel.Tracer("adgallery/publication")

// defaultMaxAttempts bounds re-evaluation after a lost compare-and-set.
const defaultMaxAttempts = 5

// Coordinator serializes publication state changes per ad.
type Coordinator struct {
	ads         models.AdStore
	payments    models.PaymentStore
	events      events.Publisher
	metrics     observability.MetricsRegistry
	logger      *zap.Logger
	maxAttempts int
}

// NewCoordinator creates a coordinator. pub may be nil.
func NewCoordinator(ads models.AdStore, payments models.PaymentStore, pub events.Publisher, metrics observability.MetricsRegistry, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		ads:         ads,
		payments:    payments,
		events:      pub,
		metrics:     metrics,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
}

// MarkPaid publishes a pending ad once its payment has settled. The session
// must have a completed payment record for adID; no other path reaches
// published from pending_review.
func (c *Coordinator) MarkPaid(ctx context.Context, adID, sessionID string) (models.Ad, error) {
	rec, err := c.payments.GetPayment(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Ad{}, models.ErrPaymentNotSettled
	}
	if err != nil {
		return models.Ad{}, fmt.Errorf("get payment %s: %w", sessionID, err)
	}
	if rec.AdID != adID || rec.Status != models.PaymentCompleted {
		return models.Ad{}, models.ErrPaymentNotSettled
	}
	return c.apply(ctx, adID, TriggerPaymentCompleted, rec.UserID)
}

// OwnerToggle publishes or unpublishes an ad on behalf of its owner.
func (c *Coordinator) OwnerToggle(ctx context.Context, adID string, caller models.Caller, publish bool) (models.Ad, error) {
	if !caller.Authenticated() {
		return models.Ad{}, models.ErrUnauthorized
	}
	ad, err := c.ads.GetAd(ctx, adID)
	if err != nil {
		return models.Ad{}, err
	}
	if ad.OwnerID != caller.UserID {
		return models.Ad{}, models.ErrForbidden
	}
	trig := TriggerOwnerUnpublish
	if publish {
		trig = TriggerOwnerPublish
	}
	return c.apply(ctx, adID, trig, caller.UserID)
}

// ModerationHide hides an ad and locks it against owner republishing. It
// also returns the state the hide started from.
func (c *Coordinator) ModerationHide(ctx context.Context, adID, reviewerID string) (models.Ad, models.AdState, error) {
	return c.transition(ctx, adID, TriggerModerationHide, reviewerID)
}

// RevertModerationHide puts an ad back into prev, undoing a hide whose
// decision was never recorded. The ad is left alone unless it is still
// hidden and locked. It reports whether the ad changed.
func (c *Coordinator) RevertModerationHide(ctx context.Context, adID string, prev models.AdState, actorID string) (bool, error) {
	moderated := models.AdState{State: models.StateHidden, Locked: true}
	if prev == moderated {
		return false, nil
	}
	ok, err := c.ads.CompareAndSetAdState(ctx, adID, moderated, prev)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revert ad %s state: %w", adID, err)
	}
	if !ok {
		c.metrics.IncrementTransitions(revertTrigger, "noop")
		c.logger.Info("moderated ad changed since the hide, not reverting",
			zap.String("ad_id", adID))
		return false, nil
	}

	c.metrics.IncrementTransitions(revertTrigger, "applied")
	c.logger.Warn("moderation hide reverted",
		zap.String("ad_id", adID),
		zap.String("to", string(prev.State)),
		zap.Bool("locked", prev.Locked))
	events.Emit(ctx, c.events, c.logger, events.Event{
		Type:      events.AdReinstated,
		AdID:      adID,
		ActorID:   actorID,
		FromState: string(models.StateHidden),
		ToState:   string(prev.State),
	})
	return true, nil
}

// AdminReinstate lifts a moderation lock and publishes the ad again.
func (c *Coordinator) AdminReinstate(ctx context.Context, adID string, caller models.Caller) (models.Ad, error) {
	if !caller.IsAdmin {
		return models.Ad{}, models.ErrAdminRequired
	}
	return c.apply(ctx, adID, TriggerAdminReinstate, caller.UserID)
}

// revertTrigger labels reverted hides in transition metrics.
const revertTrigger = "moderation_revert"

func (c *Coordinator) apply(ctx context.Context, adID string, trig Trigger, actorID string) (models.Ad, error) {
	ad, _, err := c.transition(ctx, adID, trig, actorID)
	return ad, err
}

// transition evaluates trig against the stored state and swaps it in with
// a compare-and-set, re-reading on conflict. It returns the ad along with
// the state the winning evaluation started from.
func (c *Coordinator) transition(ctx context.Context, adID string, trig Trigger, actorID string) (models.Ad, models.AdState, error) {
	ctx, span := tracer.Start(ctx, "publication.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("ad.id", adID),
		attribute.String("publication.trigger", string(trig)),
	)

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		ad, err := c.ads.GetAd(ctx, adID)
		if err != nil {
			return models.Ad{}, models.AdState{}, err
		}
		from := ad.StateOf()

		to, changed, err := next(from, trig)
		if err != nil {
			c.metrics.IncrementTransitions(string(trig), "rejected")
			if errors.Is(err, models.ErrInvalidTransition) {
				c.logger.Warn("publication transition rejected",
					zap.String("ad_id", adID),
					zap.String("trigger", string(trig)),
					zap.String("state", string(from.State)),
					zap.Bool("locked", from.Locked))
			}
			return ad, from, err
		}
		if !changed {
			c.metrics.IncrementTransitions(string(trig), "noop")
			return ad, from, nil
		}

		if trig == TriggerModerationHide && from.State == models.StatePendingReview {
			c.logger.Warn("moderation hid an ad that was never published",
				zap.String("ad_id", adID),
				zap.Bool("anomaly", true))
		}

		ok, err := c.ads.CompareAndSetAdState(ctx, adID, from, to)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "state write failed")
			return models.Ad{}, from, fmt.Errorf("set ad %s state: %w", adID, err)
		}
		if !ok {
			c.logger.Debug("publication state changed concurrently, re-evaluating",
				zap.String("ad_id", adID),
				zap.Int("attempt", attempt))
			continue
		}

		ad.State, ad.ModerationLocked = to.State, to.Locked
		c.metrics.IncrementTransitions(string(trig), "applied")
		c.logger.Info("publication state changed",
			zap.String("ad_id", adID),
			zap.String("trigger", string(trig)),
			zap.String("from", string(from.State)),
			zap.String("to", string(to.State)))
		events.Emit(ctx, c.events, c.logger, events.Event{
			Type:      eventFor(trig),
			AdID:      adID,
			ActorID:   actorID,
			FromState: string(from.State),
			ToState:   string(to.State),
		})
		return ad, from, nil
	}

	span.SetStatus(codes.Error, "contended")
	return models.Ad{}, models.AdState{}, models.ErrStateContention
}

func eventFor(trig Trigger) events.Type {
	switch trig {
	case TriggerOwnerUnpublish:
		return events.AdHidden
	case TriggerModerationHide:
		return events.AdModerated
	case TriggerAdminReinstate:
		return events.AdReinstated
	default:
		return events.AdPublished
	}
}
