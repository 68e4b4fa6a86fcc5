package models

import "time"

// PaymentStatus is the lifecycle of a checkout session on our side.
// Transitions are one-way out of PaymentPending.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Active reports whether the record blocks a new checkout for its ad.
// At most one active record exists per ad.
func (s PaymentStatus) Active() bool {
	return s == PaymentPending || s == PaymentCompleted
}

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentCancelled
}

// PaymentRecord tracks one externally hosted checkout session for an ad.
type PaymentRecord struct {
	SessionID string        `json:"session_id"`
	AdID      string        `json:"ad_id"`
	UserID    string        `json:"user_id"`
	Tier      TierName      `json:"tier"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Status    PaymentStatus `json:"status"`
	// CheckoutURL is the hosted page, kept so an open session can be resumed.
	CheckoutURL string `json:"checkout_url,omitempty"`
	// PaymentIntentID is filled from the provider on completion.
	PaymentIntentID string     `json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}
