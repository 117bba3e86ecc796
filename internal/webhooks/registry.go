// Package webhooks delivers domain events to external HTTP subscribers with
// HMAC-signed payloads and exponential backoff.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/albion/platform/internal/platform/apperr"
)

// Subscription is a registered webhook endpoint. EventTypes supports a
// trailing wildcard segment ("bonus.*") and the match-all "*".
type Subscription struct {
	ID         string            `bson:"_id" json:"id"`
	TenantID   string            `bson:"tenant_id" json:"tenantId"`
	URL        string            `bson:"url" json:"url"`
	EventTypes []string          `bson:"event_types" json:"eventTypes"`
	Secret     string            `bson:"secret" json:"-"`
	Active     bool              `bson:"active" json:"active"`
	Headers    map[string]string `bson:"headers,omitempty" json:"headers,omitempty"`
	FailCount  int               `bson:"fail_count" json:"failCount"`
	CreatedAt  time.Time         `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time         `bson:"updated_at" json:"updatedAt"`
}

// Matches reports whether the subscription wants the event type.
func (s *Subscription) Matches(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == "*" || t == eventType {
			return true
		}
		if len(t) > 2 && t[len(t)-2:] == ".*" && len(eventType) >= len(t)-1 &&
			eventType[:len(t)-1] == t[:len(t)-1] {
			return true
		}
	}
	return false
}

// Registry stores webhook subscriptions and resolves subscribers per
// (tenant, event type).
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]*Subscription
}

// NewRegistry creates an empty registry. Persistent deployments hydrate it
// from the subscription collection at startup.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]*Subscription)}
}

// Register adds a subscription.
func (r *Registry) Register(sub *Subscription) error {
	if sub.URL == "" {
		return apperr.Validation("WebhookURLRequired", "webhook URL is required")
	}
	if len(sub.EventTypes) == 0 {
		return apperr.Validation("WebhookEventsRequired", "at least one event type is required")
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sub.Active = true
	sub.CreatedAt = now
	sub.UpdatedAt = now

	r.mu.Lock()
	r.hooks[sub.ID] = sub
	r.mu.Unlock()
	return nil
}

// Unregister removes a subscription.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return apperr.NotFound("WebhookNotFound", "webhook "+id+" not found")
	}
	delete(r.hooks, id)
	return nil
}

// Subscribers returns the active subscriptions for a tenant and event type.
func (r *Registry) Subscribers(tenantID, eventType string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscription
	for _, sub := range r.hooks {
		if sub.Active && sub.TenantID == tenantID && sub.Matches(eventType) {
			out = append(out, sub)
		}
	}
	return out
}

// MarkFailed increments a subscription's failure count and disables it after
// 10 consecutive exhausted deliveries.
func (r *Registry) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.hooks[id]
	if !ok {
		return
	}
	sub.FailCount++
	if sub.FailCount >= 10 {
		sub.Active = false
	}
}

// MarkDelivered resets a subscription's failure count.
func (r *Registry) MarkDelivered(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.hooks[id]; ok {
		sub.FailCount = 0
	}
}

// ListAll returns every registered subscription.
func (r *Registry) ListAll() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.hooks))
	for _, sub := range r.hooks {
		out = append(out, sub)
	}
	return out
}

// SignPayload creates the hex HMAC-SHA256 signature carried in X-Signature.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
