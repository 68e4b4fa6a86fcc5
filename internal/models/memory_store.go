package models

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements AdStore, PaymentStore, TierStore and ReportStore in
// process memory. It backs tests and local runs without Postgres; every
// conditional write has the same semantics as the SQL version.
type MemoryStore struct {
	mu       sync.RWMutex
	ads      map[string]Ad
	payments map[string]PaymentRecord
	tiers    map[TierName]PricingTier
	reports  map[string]AdReport
}

// NewMemoryStore creates an empty store with the given sale capacity.
func NewMemoryStore(saleCapacity int64) *MemoryStore {
	return &MemoryStore{
		ads:      make(map[string]Ad),
		payments: make(map[string]PaymentRecord),
		tiers: map[TierName]PricingTier{
			TierSale:    {Name: TierSale, Capacity: saleCapacity},
			TierRegular: {Name: TierRegular},
		},
		reports: make(map[string]AdReport),
	}
}

// ===== Ads =====

func (s *MemoryStore) InsertAd(_ context.Context, ad *Ad) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ads[ad.ID]; ok {
		return Invalid("ad %s already exists", ad.ID)
	}
	s.ads[ad.ID] = *ad
	return nil
}

func (s *MemoryStore) GetAd(_ context.Context, id string) (Ad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ad, ok := s.ads[id]
	if !ok {
		return Ad{}, ErrNotFound
	}
	return ad, nil
}

func (s *MemoryStore) ListAdsByState(_ context.Context, state PublicationState, limit, offset int) ([]Ad, error) {
	s.mu.RLock()
	var out []Ad
	for _, ad := range s.ads {
		if ad.State == state {
			out = append(out, ad)
		}
	}
	s.mu.RUnlock()
	sortAds(out)
	return page(out, limit, offset), nil
}

func (s *MemoryStore) ListAdsByOwner(_ context.Context, ownerID string) ([]Ad, error) {
	s.mu.RLock()
	var out []Ad
	for _, ad := range s.ads {
		if ad.OwnerID == ownerID {
			out = append(out, ad)
		}
	}
	s.mu.RUnlock()
	sortAds(out)
	return out, nil
}

func (s *MemoryStore) CompareAndSetAdState(_ context.Context, id string, from, to AdState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.ads[id]
	if !ok {
		return false, ErrNotFound
	}
	if ad.StateOf() != from {
		return false, nil
	}
	ad.State = to.State
	ad.ModerationLocked = to.Locked
	ad.UpdatedAt = time.Now().UTC()
	s.ads[id] = ad
	return true, nil
}

func (s *MemoryStore) DeleteAd(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ads[id]; !ok {
		return ErrNotFound
	}
	delete(s.ads, id)
	return nil
}

// ===== Payments =====

func (s *MemoryStore) InsertPayment(_ context.Context, rec PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[rec.SessionID]; ok {
		return Invalid("payment session %s already recorded", rec.SessionID)
	}
	if rec.Status.Active() {
		for _, other := range s.payments {
			if other.AdID == rec.AdID && other.Status.Active() {
				return ErrCheckoutOpen
			}
		}
	}
	s.payments[rec.SessionID] = rec
	return nil
}

func (s *MemoryStore) GetPayment(_ context.Context, sessionID string) (PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.payments[sessionID]
	if !ok {
		return PaymentRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ActivePayment(_ context.Context, adID string) (PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.payments {
		if rec.AdID == adID && rec.Status.Active() {
			return rec, nil
		}
	}
	return PaymentRecord{}, ErrNotFound
}

func (s *MemoryStore) TerminalizePayment(_ context.Context, sessionID string, to PaymentStatus, paymentIntentID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Status != PaymentPending {
		return false, nil
	}
	rec.Status = to
	switch to {
	case PaymentCompleted:
		rec.PaymentIntentID = paymentIntentID
		rec.CompletedAt = &at
	case PaymentCancelled:
		rec.CancelledAt = &at
	}
	s.payments[sessionID] = rec
	return true, nil
}

// Payments returns a copy of every payment record. Used by tests.
func (s *MemoryStore) Payments() []PaymentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PaymentRecord, 0, len(s.payments))
	for _, rec := range s.payments {
		out = append(out, rec)
	}
	return out
}

// ===== Pricing tiers =====

func (s *MemoryStore) GetTier(_ context.Context, name TierName) (PricingTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tiers[name]
	if !ok {
		return PricingTier{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) CompareAndIncrementTier(_ context.Context, name TierName, expected int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[name]
	if !ok {
		return false, ErrNotFound
	}
	if t.ReservedCount != expected || t.ReservedCount >= t.Capacity {
		return false, nil
	}
	t.ReservedCount++
	s.tiers[name] = t
	return true, nil
}

// ===== Reports =====

func (s *MemoryStore) InsertReport(_ context.Context, r *AdReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; ok {
		return Invalid("report %s already exists", r.ID)
	}
	s.reports[r.ID] = *r
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, id string) (AdReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return AdReport{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListReports(_ context.Context, status ReportStatus, limit int) ([]AdReport, error) {
	s.mu.RLock()
	var out []AdReport
	for _, r := range s.reports {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (s *MemoryStore) ResolveReport(_ context.Context, id string, status ReportStatus, reviewerID, note string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != ReportPending {
		return false, nil
	}
	r.Status = status
	r.ReviewerID = reviewerID
	r.AdminNote = note
	r.ResolvedAt = &at
	s.reports[id] = r
	return true, nil
}

func (s *MemoryStore) HasApprovedReport(_ context.Context, adID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reports {
		if r.AdID == adID && r.Status == ReportApproved {
			return true, nil
		}
	}
	return false, nil
}

func sortAds(ads []Ad) {
	sort.Slice(ads, func(i, j int) bool { return ads[i].CreatedAt.After(ads[j].CreatedAt) })
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
