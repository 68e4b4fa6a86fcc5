package api

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/middleware"
	"github.com/patrickwarner/adgallery/internal/models"
)

// maxWebhookBytes bounds provider callback payloads.
const maxWebhookBytes = 64 << 10

// CheckoutRequest is the payload of POST /api/payments/checkout.
type CheckoutRequest struct {
	AdID string `json:"ad_id"`
}

// PricingHandler returns the current offer.
func (s *Server) PricingHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Pricing.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CheckoutHandler opens a hosted checkout session for one of the caller's
// ads.
func (s *Server) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	co, err := s.Checkout.OpenSession(r.Context(), req.AdID, caller.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, co)
}

// WebhookHandler verifies and applies a provider callback. Any non-2xx
// response makes the provider deliver the event again.
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		logger.Warn("read webhook body", zap.Error(err))
		s.writeError(w, r, models.Invalid("unreadable body"))
		return
	}
	if len(payload) > maxWebhookBytes {
		s.writeError(w, r, models.Invalid("payload too large"))
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		s.writeError(w, r, models.ErrInvalidSignature.Wrap(errors.New("missing signature header")))
		return
	}
	if err := s.Webhooks.HandleEvent(r.Context(), payload, sig); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
