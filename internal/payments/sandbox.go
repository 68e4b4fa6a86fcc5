package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// SandboxSessionPrefix marks sessions created without a real provider.
const SandboxSessionPrefix = "test-session-"

// SandboxProvider stands in for Stripe in development. Sessions are never
// completed automatically; a signed webhook has to be delivered the same
// way Stripe would.
type SandboxProvider struct {
	webhookSecret string
	siteURL       string
}

// NewSandboxProvider creates a sandbox provider.
func NewSandboxProvider(webhookSecret, siteURL string) *SandboxProvider {
	return &SandboxProvider{webhookSecret: webhookSecret, siteURL: siteURL}
}

func (p *SandboxProvider) CreateSession(_ context.Context, req SessionRequest) (Session, error) {
	id := SandboxSessionPrefix + uuid.NewString()
	return Session{
		ID:  id,
		URL: fmt.Sprintf("%s/payment/success?session_id=%s&sandbox=1", p.siteURL, url.QueryEscape(id)),
	}, nil
}

func (p *SandboxProvider) ParseEvent(payload []byte, signature string) (Event, error) {
	return parseSignedEvent(payload, signature, p.webhookSecret)
}

// SignPayload returns a Stripe-Signature header value for payload signed
// with secret at time at.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// SandboxEvent builds a provider event body for a checkout session in the
// shape Stripe delivers it.
func SandboxEvent(eventID string, typ EventType, sessionID string, meta map[string]string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        string(typ),
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":             sessionID,
				"object":         "checkout.session",
				"metadata":       meta,
				"payment_intent": "pi_" + eventID,
			},
		},
	})
}
