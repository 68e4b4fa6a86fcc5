// Package payments opens hosted checkout sessions and applies the
// provider's asynchronous confirmations.
package payments

import (
	"context"

	"github.com/patrickwarner/adgallery/internal/models"
)

// Metadata keys attached to every checkout session.
const (
	MetaAdID   = "ad_id"
	MetaUserID = "user_id"
	MetaTier   = "pricing_tier"
)

// EventType is a provider event name.
type EventType string

const (
	EventCheckoutCompleted EventType = "checkout.session.completed"
	EventCheckoutExpired   EventType = "checkout.session.expired"
)

// SessionRequest describes the checkout to open.
type SessionRequest struct {
	AdID    string
	UserID  string
	AdTitle string
	Quote   models.Quote
}

// Metadata returns the key/value pairs sent along with the session.
func (r SessionRequest) Metadata() map[string]string {
	return map[string]string{
		MetaAdID:   r.AdID,
		MetaUserID: r.UserID,
		MetaTier:   string(r.Quote.Tier),
	}
}

// Session is a hosted checkout session.
type Session struct {
	ID  string
	URL string
}

// Event is a verified provider callback.
type Event struct {
	ID              string
	Type            EventType
	SessionID       string
	PaymentIntentID string
	Metadata        map[string]string
}

// Provider is the external payment processor.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	// ParseEvent verifies signature over payload and decodes the event. A
	// bad signature yields models.ErrInvalidSignature.
	ParseEvent(payload []byte, signature string) (Event, error)
}
