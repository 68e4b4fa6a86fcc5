package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/patrickwarner/adgallery/internal/models"
)

// StripeProvider opens Stripe Checkout sessions and verifies Stripe webhooks.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	siteURL       string
}

// NewStripeProvider creates a provider using secretKey for API calls and
// webhookSecret for signature checks. siteURL is where Checkout returns to.
func NewStripeProvider(secretKey, webhookSecret, siteURL string) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProvider{api: api, webhookSecret: webhookSecret, siteURL: siteURL}
}

func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	name := "Ad posting"
	if req.Quote.Discounted {
		name = "Ad posting (launch price)"
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Quote.Currency),
				UnitAmount: stripe.Int64(req.Quote.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(name),
					Description: stripe.String(req.AdTitle),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(p.siteURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(p.siteURL + "/payment/cancel?ad_id=" + req.AdID),
		ClientReferenceID: stripe.String(req.AdID),
	}
	params.Context = ctx
	for k, v := range req.Metadata() {
		params.AddMetadata(k, v)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return Session{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProvider) ParseEvent(payload []byte, signature string) (Event, error) {
	return parseSignedEvent(payload, signature, p.webhookSecret)
}

// parseSignedEvent checks a Stripe-Signature header ("t=...,v1=...") and
// decodes checkout session events.
func parseSignedEvent(payload []byte, signature, secret string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, models.ErrInvalidSignature.Wrap(err)
	}

	out := Event{ID: ev.ID, Type: EventType(ev.Type)}
	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutExpired:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return Event{}, models.Invalid("malformed checkout session payload")
		}
		out.SessionID = cs.ID
		out.Metadata = cs.Metadata
		if cs.PaymentIntent != nil {
			out.PaymentIntentID = cs.PaymentIntent.ID
		}
	}
	return out, nil
}
