// Package pending implements the pending-operation store: short-lived signed
// tokens carrying opaque operation payloads. Used for OTP issuance, KYC
// approval, and high-value bonus approvals.
//
// Two interchangeable backends share one contract: a stateless JWT backend
// whose token is the entire signed payload, and a Redis backend whose token
// is a random id keyed under {prefix}{opType}:{token}.
package pending

import (
	"context"
	"time"

	"github.com/albion/platform/internal/platform/jsonval"
)

// Operation is a verified pending operation as returned by Verify.
type Operation struct {
	OperationType string      `json:"operationType"`
	Data          jsonval.Map `json:"data"`
	Metadata      jsonval.Map `json:"metadata,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	ExpiresAt     time.Time   `json:"expiresAt"`
}

// CreateOptions controls token creation.
type CreateOptions struct {
	ExpiresIn time.Duration
	Metadata  jsonval.Map
}

// RawData is the admin inspection view of a stored token.
type RawData struct {
	Operation *Operation    `json:"operation"`
	TTL       time.Duration `json:"ttl"`
}

// Store is the pending-operation contract.
//
// Verify is side-effect-free; callers enforce single-use by pairing Verify
// with Delete inside one logical operation. Delete's boolean result is the
// "we won the race" signal: exactly one concurrent caller observes true.
type Store interface {
	// Create stores a payload and returns the opaque token.
	Create(ctx context.Context, opType string, data jsonval.Map, opts CreateOptions) (string, error)

	// Verify checks the token against the expected operation type and
	// returns the stored operation, or nil when invalid or expired.
	Verify(ctx context.Context, token, opType string) (*Operation, error)

	// Delete consumes a token. Returns true only for the caller that
	// actually removed it.
	Delete(ctx context.Context, token, opType string) (bool, error)

	// List iterates stored operations of a type. Stateless backends return
	// an empty list.
	List(ctx context.Context, opType string) ([]*Operation, error)

	// GetRawData returns the stored payload and remaining TTL for admin
	// inspection.
	GetRawData(ctx context.Context, token, opType string) (*RawData, error)
}

// defaultExpiry applies when CreateOptions.ExpiresIn is zero. The JWT backend
// signs a negative ExpiresIn as an already-expired token; the memory and
// Redis backends apply the default to negative values as well.
const defaultExpiry = 15 * time.Minute
