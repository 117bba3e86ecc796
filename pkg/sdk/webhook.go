package sdk

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// WebhookEvent is the payload the platform POSTs to webhook subscribers.
type WebhookEvent struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	TenantID      string                 `json:"tenantId"`
	UserID        string                 `json:"userId,omitempty"`
	OccurredAt    time.Time              `json:"occurredAt"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlationId,omitempty"`
}

// VerifySignature checks the X-Signature header (hex HMAC-SHA256 of the raw
// body) against the subscription secret. Consumers must verify before
// trusting the payload.
func VerifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseWebhook verifies the signature and decodes the event in one step.
func ParseWebhook(body []byte, signature, secret string) (*WebhookEvent, bool) {
	if !VerifySignature(body, signature, secret) {
		return nil, false
	}
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, false
	}
	return &event, true
}
