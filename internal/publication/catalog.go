package publication

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/events"
	"github.com/patrickwarner/adgallery/internal/models"
)

// Field limits for uploaded ads.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	defaultPageSize      = 50
	maxPageSize          = 200
)

// NewAd is the owner-supplied content of an upload.
type NewAd struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

// Catalog creates, reads and deletes ads. It never changes the
// publication state; that belongs to the Coordinator.
type Catalog struct {
	ads    models.AdStore
	events events.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewCatalog creates a catalog. pub may be nil.
func NewCatalog(ads models.AdStore, pub events.Publisher, logger *zap.Logger) *Catalog {
	return &Catalog{
		ads:    ads,
		events: pub,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new ad in pending_review owned by caller.
func (c *Catalog) Create(ctx context.Context, caller models.Caller, in NewAd) (models.Ad, error) {
	if !caller.Authenticated() {
		return models.Ad{}, models.ErrUnauthorized
	}
	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		return models.Ad{}, models.Invalid("title is required")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return models.Ad{}, models.Invalid("title must be at most %d characters", MaxTitleLength)
	case utf8.RuneCountInString(in.Description) > MaxDescriptionLength:
		return models.Ad{}, models.Invalid("description must be at most %d characters", MaxDescriptionLength)
	}

	now := c.now()
	ad := models.Ad{
		ID:          uuid.NewString(),
		OwnerID:     caller.UserID,
		Title:       title,
		Description: in.Description,
		ImageURL:    strings.TrimSpace(in.ImageURL),
		State:       models.StatePendingReview,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.ads.InsertAd(ctx, &ad); err != nil {
		return models.Ad{}, fmt.Errorf("insert ad: %w", err)
	}
	c.logger.Info("ad created", zap.String("ad_id", ad.ID), zap.String("owner_id", ad.OwnerID))
	events.Emit(ctx, c.events, c.logger, events.Event{
		Type:    events.AdCreated,
		AdID:    ad.ID,
		ActorID: ad.OwnerID,
		ToState: string(ad.State),
	})
	return ad, nil
}

// Get returns an ad visible to caller. Unpublished ads are only visible to
// their owner and administrators; to anyone else they do not exist.
func (c *Catalog) Get(ctx context.Context, caller models.Caller, id string) (models.Ad, error) {
	ad, err := c.ads.GetAd(ctx, id)
	if err != nil {
		return models.Ad{}, err
	}
	if ad.State != models.StatePublished && !caller.IsAdmin && ad.OwnerID != caller.UserID {
		return models.Ad{}, models.ErrNotFound
	}
	return ad, nil
}

// ListPublished returns one page of the public gallery, newest first.
func (c *Catalog) ListPublished(ctx context.Context, limit, offset int) ([]models.Ad, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return c.ads.ListAdsByState(ctx, models.StatePublished, limit, offset)
}

// ListMine returns every ad owned by caller regardless of state.
func (c *Catalog) ListMine(ctx context.Context, caller models.Caller) ([]models.Ad, error) {
	if !caller.Authenticated() {
		return nil, models.ErrUnauthorized
	}
	return c.ads.ListAdsByOwner(ctx, caller.UserID)
}

// Delete removes an ad on request of its owner or an administrator.
// Reports and payments referencing it are kept.
func (c *Catalog) Delete(ctx context.Context, caller models.Caller, id string) error {
	if !caller.Authenticated() {
		return models.ErrUnauthorized
	}
	ad, err := c.ads.GetAd(ctx, id)
	if err != nil {
		return err
	}
	if ad.OwnerID != caller.UserID && !caller.IsAdmin {
		return models.ErrForbidden
	}
	if err := c.ads.DeleteAd(ctx, id); err != nil {
		return err
	}
	c.logger.Info("ad deleted",
		zap.String("ad_id", id),
		zap.String("actor_id", caller.UserID),
		zap.Bool("admin", caller.IsAdmin && ad.OwnerID != caller.UserID))
	events.Emit(ctx, c.events, c.logger, events.Event{
		Type:      events.AdDeleted,
		AdID:      id,
		ActorID:   caller.UserID,
		FromState: string(ad.State),
	})
	return nil
}
