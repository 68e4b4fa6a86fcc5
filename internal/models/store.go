package models

import (
	"context"
	"time"
)

// AdStore persists ads. CompareAndSetAdState is the only way the
// publication state changes after creation.
type AdStore interface {
	InsertAd(ctx context.Context, ad *Ad) error
	GetAd(ctx context.Context, id string) (Ad, error)
	ListAdsByState(ctx context.Context, state PublicationState, limit, offset int) ([]Ad, error)
	ListAdsByOwner(ctx context.Context, ownerID string) ([]Ad, error)
	// CompareAndSetAdState swaps the lifecycle state only if the stored
	// state equals from. It returns false without error when the row no
	// longer matches.
	CompareAndSetAdState(ctx context.Context, id string, from, to AdState) (bool, error)
	DeleteAd(ctx context.Context, id string) error
}

// PaymentStore persists checkout sessions.
type PaymentStore interface {
	// InsertPayment fails with ErrCheckoutOpen when the ad already has a
	// pending or completed record.
	InsertPayment(ctx context.Context, rec PaymentRecord) error
	GetPayment(ctx context.Context, sessionID string) (PaymentRecord, error)
	// ActivePayment returns the ad's pending or completed record, or
	// ErrNotFound.
	ActivePayment(ctx context.Context, adID string) (PaymentRecord, error)
	// TerminalizePayment moves a pending record to a terminal status. It
	// returns false when the record was not pending anymore.
	TerminalizePayment(ctx context.Context, sessionID string, to PaymentStatus, paymentIntentID string, at time.Time) (bool, error)
}

// TierStore persists the pricing tier counters.
type TierStore interface {
	GetTier(ctx context.Context, name TierName) (PricingTier, error)
	// CompareAndIncrementTier increments reserved_count by one only if it
	// still equals expected and stays within capacity.
	CompareAndIncrementTier(ctx context.Context, name TierName, expected int64) (bool, error)
}

// ReportStore persists moderation reports.
type ReportStore interface {
	InsertReport(ctx context.Context, r *AdReport) error
	GetReport(ctx context.Context, id string) (AdReport, error)
	// ListReports returns reports newest first. An empty status lists all.
	ListReports(ctx context.Context, status ReportStatus, limit int) ([]AdReport, error)
	// ResolveReport records a decision only if the report is still pending.
	ResolveReport(ctx context.Context, id string, status ReportStatus, reviewerID, note string, at time.Time) (bool, error)
	// HasApprovedReport reports whether any report against the ad was
	// approved.
	HasApprovedReport(ctx context.Context, adID string) (bool, error)
}
