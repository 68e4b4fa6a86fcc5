package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/events"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/observability"
)

// PaidMarker publishes an ad whose payment has settled.
type PaidMarker interface {
	MarkPaid(ctx context.Context, adID, sessionID string) (models.Ad, error)
}

// EventMarker remembers provider event ids that were fully processed.
type EventMarker interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
}

// Webhook outcomes, used as metric labels.
const (
	outcomeApplied          = "applied"
	outcomeDuplicate        = "duplicate"
	outcomeIgnored          = "ignored"
	outcomeInvalidSignature = "invalid_signature"
	outcomeUnknownSession   = "unknown_session"
	outcomeMismatch         = "metadata_mismatch"
	outcomeRejected         = "rejected_transition"
	outcomeError            = "error"
)

// WebhookProcessor applies provider callbacks. Deliveries are at least once
// and unordered; every effect is keyed by session id so replays are no-ops.
// A returned error means the provider should retry.
type WebhookProcessor struct {
	provider Provider
	payments models.PaymentStore
	paid     PaidMarker
	markers  EventMarker
	events   events.Publisher
	metrics  observability.MetricsRegistry
	logger   *zap.Logger
	now      func() time.Time
}

// NewWebhookProcessor wires a processor. markers and pub may be nil.
func NewWebhookProcessor(provider Provider, payments models.PaymentStore, paid PaidMarker, markers EventMarker, pub events.Publisher, metrics observability.MetricsRegistry, logger *zap.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		provider: provider,
		payments: payments,
		paid:     paid,
		markers:  markers,
		events:   pub,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent verifies and applies one delivery.
func (p *WebhookProcessor) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	ctx, span := tracer.Start(ctx, "payments.HandleEvent")
	defer span.End()

	ev, err := p.provider.ParseEvent(payload, signature)
	if err != nil {
		span.SetStatus(codes.Error, "rejected")
		if errors.Is(err, models.ErrInvalidSignature) {
			p.metrics.IncrementWebhookEvents("unknown", outcomeInvalidSignature)
			p.logger.Warn("webhook signature rejected", zap.Int("payload_bytes", len(payload)), zap.Error(err))
		}
		return err
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.type", string(ev.Type)),
		attribute.String("payment.session_id", ev.SessionID),
	)
	logger := p.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("session_id", ev.SessionID))

	if ev.Type != EventCheckoutCompleted && ev.Type != EventCheckoutExpired {
		p.metrics.IncrementWebhookEvents(string(ev.Type), outcomeIgnored)
		logger.Debug("ignoring webhook event")
		return nil
	}

	if p.alreadyProcessed(ctx, ev.ID, logger) {
		p.metrics.IncrementWebhookEvents(string(ev.Type), outcomeDuplicate)
		return nil
	}

	outcome, err := p.apply(ctx, ev, logger)
	p.metrics.IncrementWebhookEvents(string(ev.Type), outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return err
	}
	p.markProcessed(ctx, ev.ID, logger)
	return nil
}

func (p *WebhookProcessor) apply(ctx context.Context, ev Event, logger *zap.Logger) (string, error) {
	rec, err := p.payments.GetPayment(ctx, ev.SessionID)
	if errors.Is(err, models.ErrNotFound) {
		if ev.Type == EventCheckoutCompleted {
			// the checkout may not have committed its record yet
			logger.Warn("completed event for unknown session, asking provider to retry")
			return outcomeUnknownSession, models.ErrUnknownSession
		}
		logger.Info("expired event for unknown session")
		return outcomeUnknownSession, nil
	}
	if err != nil {
		return outcomeError, fmt.Errorf("get payment %s: %w", ev.SessionID, err)
	}

	if field := metadataMismatch(ev.Metadata, rec); field != "" {
		logger.Warn("webhook metadata does not match payment record",
			zap.String("field", field),
			zap.String("ad_id", rec.AdID))
		return outcomeMismatch, models.Invalid("event metadata does not match payment record")
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		return p.complete(ctx, ev, rec, logger)
	default:
		return p.expire(ctx, rec, logger)
	}
}

func (p *WebhookProcessor) complete(ctx context.Context, ev Event, rec models.PaymentRecord, logger *zap.Logger) (string, error) {
	switch rec.Status {
	case models.PaymentCancelled:
		logger.Warn("completed event for cancelled session", zap.String("ad_id", rec.AdID))
		return outcomeDuplicate, nil
	case models.PaymentCompleted:
		// a previous delivery may have failed between the two writes
		return outcomeDuplicate, p.publish(ctx, rec, logger)
	}

	applied, err := p.payments.TerminalizePayment(ctx, rec.SessionID, models.PaymentCompleted, ev.PaymentIntentID, p.now())
	if err != nil {
		return outcomeError, fmt.Errorf("complete payment %s: %w", rec.SessionID, err)
	}
	if err := p.publish(ctx, rec, logger); err != nil {
		return outcomeError, err
	}
	if !applied {
		return outcomeDuplicate, nil
	}

	logger.Info("payment completed",
		zap.String("ad_id", rec.AdID),
		zap.String("tier", string(rec.Tier)),
		zap.Int64("amount", rec.Amount))
	events.Emit(ctx, p.events, p.logger, events.Event{
		Type:      events.PaymentCompleted,
		AdID:      rec.AdID,
		ActorID:   rec.UserID,
		SessionID: rec.SessionID,
		Tier:      string(rec.Tier),
		Amount:    rec.Amount,
		Currency:  rec.Currency,
	})
	return outcomeApplied, nil
}

// publish asks the coordinator to publish the ad. Transitions the table
// rejects are logged and acknowledged; storage failures are retried.
func (p *WebhookProcessor) publish(ctx context.Context, rec models.PaymentRecord, logger *zap.Logger) error {
	ad, err := p.paid.MarkPaid(ctx, rec.AdID, rec.SessionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrInvalidTransition):
		logger.Warn("paid ad cannot be published from its current state",
			zap.String("ad_id", rec.AdID),
			zap.String("state", string(ad.State)),
			zap.Bool("locked", ad.ModerationLocked))
		return nil
	case errors.Is(err, models.ErrNotFound):
		logger.Info("paid ad no longer exists", zap.String("ad_id", rec.AdID))
		return nil
	default:
		return fmt.Errorf("publish ad %s: %w", rec.AdID, err)
	}
}

func (p *WebhookProcessor) expire(ctx context.Context, rec models.PaymentRecord, logger *zap.Logger) (string, error) {
	if rec.Status.Terminal() {
		return outcomeDuplicate, nil
	}
	applied, err := p.payments.TerminalizePayment(ctx, rec.SessionID, models.PaymentCancelled, "", p.now())
	if err != nil {
		return outcomeError, fmt.Errorf("cancel payment %s: %w", rec.SessionID, err)
	}
	if !applied {
		return outcomeDuplicate, nil
	}
	logger.Info("checkout session expired", zap.String("ad_id", rec.AdID))
	events.Emit(ctx, p.events, p.logger, events.Event{
		Type:      events.PaymentCancelled,
		AdID:      rec.AdID,
		ActorID:   rec.UserID,
		SessionID: rec.SessionID,
		Tier:      string(rec.Tier),
	})
	return outcomeApplied, nil
}

func (p *WebhookProcessor) alreadyProcessed(ctx context.Context, eventID string, logger *zap.Logger) bool {
	if p.markers == nil || eventID == "" {
		return false
	}
	done, err := p.markers.IsEventProcessed(ctx, eventID)
	if err != nil {
		logger.Warn("event marker lookup failed", zap.Error(err))
		return false
	}
	return done
}

func (p *WebhookProcessor) markProcessed(ctx context.Context, eventID string, logger *zap.Logger) {
	if p.markers == nil || eventID == "" {
		return
	}
	if err := p.markers.MarkEventProcessed(ctx, eventID); err != nil {
		logger.Warn("event marker write failed", zap.Error(err))
	}
}

// metadataMismatch returns the first metadata field that disagrees with the
// stored record, or "" when they match.
func metadataMismatch(meta map[string]string, rec models.PaymentRecord) string {
	switch {
	case meta[MetaAdID] != rec.AdID:
		return MetaAdID
	case meta[MetaUserID] != rec.UserID:
		return MetaUserID
	case meta[MetaTier] != string(rec.Tier):
		return MetaTier
	}
	return ""
}
