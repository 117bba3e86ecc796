// Package events normalizes internal domain events and drives the fan-out:
// an audit row, Redis pub/sub for cross-pod distribution, webhook deliveries,
// and the realtime SSE/WebSocket channels.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/albion/platform/internal/platform/jsonval"
)

// Well-known event types emitted by the core.
const (
	TypeDepositCompleted = "wallet.deposit.completed"
	TypeDepositReversed  = "wallet.deposit.reversed"
	TypeWithdrawal       = "wallet.withdrawal.completed"
	TypeBonusAwarded     = "bonus.awarded"
	TypeBonusConverted   = "bonus.converted"
	TypeBonusForfeited   = "bonus.forfeited"
	TypeBonusExpired     = "bonus.expired"
	TypeBonusPending     = "bonus.pending_approval"
)

// criticalTypes are not dropped when the dispatcher's publisher queue or the
// webhook delivery queue is full: enqueueing blocks until there is room.
// There is no persistent retry store behind them.
var criticalTypes = map[string]bool{
	TypeBonusAwarded:     true,
	TypeDepositCompleted: true,
}

// IsCritical reports whether an event type must survive backpressure.
func IsCritical(eventType string) bool {
	return criticalTypes[eventType]
}

// Event is a normalized domain event. (Type, ID) is unique; consumers use it
// for idempotent processing.
type Event struct {
	ID            string      `bson:"_id" json:"id"`
	Type          string      `bson:"type" json:"type"`
	TenantID      string      `bson:"tenant_id" json:"tenantId"`
	UserID        string      `bson:"user_id,omitempty" json:"userId,omitempty"`
	OccurredAt    time.Time   `bson:"occurred_at" json:"occurredAt"`
	Payload       jsonval.Map `bson:"payload" json:"payload"`
	CorrelationID string      `bson:"correlation_id,omitempty" json:"correlationId,omitempty"`
}

// JSON serializes the event.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// SSEFormat renders the event in Server-Sent Events framing.
func (e *Event) SSEFormat() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", e.Type, data, e.ID)), nil
}

// TypePrefix returns the first dotted segment, used for channel routing
// ("bonus.awarded" -> "bonus").
func (e *Event) TypePrefix() string {
	for i := 0; i < len(e.Type); i++ {
		if e.Type[i] == '.' {
			return e.Type[:i]
		}
	}
	return e.Type
}
