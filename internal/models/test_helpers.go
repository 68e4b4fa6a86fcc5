package models

import (
	"context"
	"time"
)

// NewTestStore creates a memory store for tests with the given sale capacity.
func NewTestStore(saleCapacity int64) *MemoryStore {
	return NewMemoryStore(saleCapacity)
}

// SeedAd inserts an ad with the given id, owner and state into store and
// returns it. It panics on error since it is only used to set up tests.
func SeedAd(store AdStore, id, ownerID string, state PublicationState) Ad {
	now := time.Now().UTC()
	ad := Ad{
		ID:        id,
		OwnerID:   ownerID,
		Title:     "ad " + id,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.InsertAd(context.Background(), &ad); err != nil {
		panic(err)
	}
	return ad
}
