// Package events emits lifecycle events for ads, payments and reports to
// downstream consumers. Delivery is best effort: a failed publish is logged
// and never fails the state change that produced it.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names a lifecycle event.
type Type string

const (
	AdCreated        Type = "ad.created"
	AdPublished      Type = "ad.published"
	AdHidden         Type = "ad.hidden"
	AdModerated      Type = "ad.moderated"
	AdReinstated     Type = "ad.reinstated"
	AdDeleted        Type = "ad.deleted"
	CheckoutOpened   Type = "checkout.opened"
	PaymentCompleted Type = "payment.completed"
	PaymentCancelled Type = "payment.cancelled"
	ReportFiled      Type = "report.filed"
	ReportResolved   Type = "report.resolved"
)

// Event is a single lifecycle fact.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	AdID       string    `json:"ad_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	ReportID   string    `json:"report_id,omitempty"`
	FromState  string    `json:"from_state,omitempty"`
	ToState    string    `json:"to_state,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Emit fills in the id and timestamp, publishes ev and logs any failure.
// A nil publisher is allowed.
func Emit(ctx context.Context, pub Publisher, logger *zap.Logger, ev Event) {
	if pub == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := pub.Publish(ctx, ev); err != nil {
		logger.Error("publish lifecycle event",
			zap.String("type", string(ev.Type)),
			zap.String("ad_id", ev.AdID),
			zap.Error(err))
	}
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Fanout publishes every event to all of its sinks.
type Fanout []Publisher

// Publish delivers to every sink and joins their errors.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
