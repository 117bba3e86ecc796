// Package ledger is the authoritative money model: double-entry accounts,
// postings, holds, and reconciliation invariants. All amounts are integer
// minor units of their currency; the sum of balances per currency is zero
// across the whole ledger at all times.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/albion/platform/internal/platform/jsonval"
)

// OwnerType classifies who owns a ledger account.
type OwnerType string

const (
	OwnerUser     OwnerType = "user"
	OwnerSystem   OwnerType = "system"
	OwnerPool     OwnerType = "pool"
	OwnerProvider OwnerType = "provider"
)

// Well-known account subtypes.
const (
	SubtypeMain      = "main"
	SubtypeBonus     = "bonus"
	SubtypeBonusPool = "bonus-pool"
	SubtypeFees      = "fees"
	SubtypeFloat     = "float"
)

// Account is a double-entry ledger account. The id is deterministic from
// (ownerType, ownerId, subtype, currency): re-deriving it always addresses
// the same account.
type Account struct {
	ID            string    `bson:"_id" json:"id"`
	OwnerID       string    `bson:"owner_id" json:"ownerId"`
	OwnerType     OwnerType `bson:"owner_type" json:"ownerType"`
	Subtype       string    `bson:"subtype" json:"subtype"`
	Currency      string    `bson:"currency" json:"currency"`
	Balance       int64     `bson:"balance" json:"balance"`
	AllowNegative bool      `bson:"allow_negative" json:"allowNegative"`
	CreditLimit   int64     `bson:"credit_limit,omitempty" json:"creditLimit,omitempty"`
	TenantID      string    `bson:"tenant_id" json:"tenantId"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updatedAt"`
}

// AccountID derives the deterministic account id.
func AccountID(ownerType OwnerType, ownerID, subtype, currency string) string {
	sum := sha256.Sum256([]byte(string(ownerType) + "|" + ownerID + "|" + subtype + "|" + currency))
	return hex.EncodeToString(sum[:16])
}

// TransactionStatus enumerates posting lifecycle states. Reversed
// transactions are never deleted.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCommitted TransactionStatus = "committed"
	StatusReversed  TransactionStatus = "reversed"
)

// Transaction is one committed double-entry posting: exactly one debit and
// one credit summing to zero per currency. Cross-currency postings carry
// both sides and the applied rate.
type Transaction struct {
	ID            string            `bson:"_id" json:"id"`
	Type          string            `bson:"type" json:"type"`
	FromAccountID string            `bson:"from_account_id" json:"fromAccountId"`
	ToAccountID   string            `bson:"to_account_id" json:"toAccountId"`
	Amount        int64             `bson:"amount" json:"amount"`
	Currency      string            `bson:"currency" json:"currency"`
	FromCurrency  string            `bson:"from_currency,omitempty" json:"fromCurrency,omitempty"`
	ToCurrency    string            `bson:"to_currency,omitempty" json:"toCurrency,omitempty"`
	CreditAmount  int64             `bson:"credit_amount,omitempty" json:"creditAmount,omitempty"`
	ExchangeRate  string            `bson:"exchange_rate,omitempty" json:"exchangeRate,omitempty"`
	Description   string            `bson:"description,omitempty" json:"description,omitempty"`
	ExternalRef   string            `bson:"external_ref,omitempty" json:"externalRef,omitempty"`
	Status        TransactionStatus `bson:"status" json:"status"`
	ReversesID    string            `bson:"reverses_id,omitempty" json:"reversesId,omitempty"`
	ReversedByID  string            `bson:"reversed_by_id,omitempty" json:"reversedById,omitempty"`
	Metadata      jsonval.Map       `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt     time.Time         `bson:"created_at" json:"createdAt"`
}

// HoldStatus enumerates hold lifecycle states.
type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldReleased HoldStatus = "released"
	HoldCaptured HoldStatus = "captured"
)

// Hold reserves funds: it reduces the account's available balance but not
// its balance until capture. Every hold must expire to avoid leaks.
type Hold struct {
	ID        string     `bson:"_id" json:"id"`
	AccountID string     `bson:"account_id" json:"accountId"`
	Amount    int64      `bson:"amount" json:"amount"`
	Currency  string     `bson:"currency" json:"currency"`
	Reason    string     `bson:"reason,omitempty" json:"reason,omitempty"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty" json:"expiresAt,omitempty"`
	Status    HoldStatus `bson:"status" json:"status"`
	CreatedAt time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updatedAt"`
}

// Balance is the computed view over an account's materialized balance and
// its active holds. AvailableBalance is always <= Balance.
type Balance struct {
	Balance          int64 `json:"balance"`
	AvailableBalance int64 `json:"availableBalance"`
	PendingIn        int64 `json:"pendingIn"`
	PendingOut       int64 `json:"pendingOut"`
}
