package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/albion/platform/internal/platform/apperr"
)

// Store is the ledger persistence interface. InsertTransaction must enforce
// externalRef uniqueness and report duplicates as apperr.KindConflict.
type Store interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	UpsertAccount(ctx context.Context, a *Account) error
	ApplyBalanceDelta(ctx context.Context, accountID string, delta int64, at time.Time) error
	ListAccounts(ctx context.Context) ([]*Account, error)

	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	GetTransactionByExternalRef(ctx context.Context, ref string) (*Transaction, error)
	InsertTransaction(ctx context.Context, tx *Transaction) error
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	ListCommittedTransactions(ctx context.Context) ([]*Transaction, error)

	InsertHold(ctx context.Context, h *Hold) error
	GetHold(ctx context.Context, id string) (*Hold, error)
	UpdateHold(ctx context.Context, h *Hold) error
	SumActiveHolds(ctx context.Context, accountID string) (int64, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*Hold, error)
}

// =============================================================================
// In-memory store
// =============================================================================

// MemoryStore implements Store in process memory with the same contract as
// the Mongo store, including externalRef uniqueness. Used by tests and the
// property suites.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*Account
	transactions map[string]*Transaction
	byRef        map[string]string // externalRef -> txID
	holds        map[string]*Hold
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*Account),
		transactions: make(map[string]*Transaction),
		byRef:        make(map[string]string),
		holds:        make(map[string]*Hold),
	}
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) UpsertAccount(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *a
	s.accounts[a.ID] = &copied
	return nil
}

func (s *MemoryStore) ApplyBalanceDelta(_ context.Context, accountID string, delta int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return apperr.NotFound("AccountNotFound", "account "+accountID+" not found")
	}
	a.Balance += delta
	a.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tx, ok := s.transactions[id]; ok {
		copied := *tx
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetTransactionByExternalRef(_ context.Context, ref string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byRef[ref]; ok {
		copied := *s.transactions[id]
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ExternalRef != "" {
		if _, exists := s.byRef[tx.ExternalRef]; exists {
			return apperr.Conflict("DuplicateExternalRef", "externalRef already posted")
		}
	}
	copied := *tx
	s.transactions[tx.ID] = &copied
	if tx.ExternalRef != "" {
		s.byRef[tx.ExternalRef] = tx.ID
	}
	return nil
}

func (s *MemoryStore) UpdateTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; !ok {
		return apperr.NotFound("TransactionNotFound", "transaction "+tx.ID+" not found")
	}
	copied := *tx
	s.transactions[tx.ID] = &copied
	return nil
}

func (s *MemoryStore) ListCommittedTransactions(_ context.Context) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, tx := range s.transactions {
		if tx.Status == StatusCommitted || tx.Status == StatusReversed {
			copied := *tx
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) InsertHold(_ context.Context, h *Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *h
	s.holds[h.ID] = &copied
	return nil
}

func (s *MemoryStore) GetHold(_ context.Context, id string) (*Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.holds[id]; ok {
		copied := *h
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) UpdateHold(_ context.Context, h *Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holds[h.ID]; !ok {
		return apperr.NotFound("HoldNotFound", "hold "+h.ID+" not found")
	}
	copied := *h
	s.holds[h.ID] = &copied
	return nil
}

func (s *MemoryStore) SumActiveHolds(_ context.Context, accountID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, h := range s.holds {
		if h.AccountID == accountID && h.Status == HoldActive {
			sum += h.Amount
		}
	}
	return sum, nil
}

func (s *MemoryStore) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]*Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Hold
	for _, h := range s.holds {
		if h.Status == HoldActive && h.ExpiresAt != nil && h.ExpiresAt.Before(now) {
			copied := *h
			out = append(out, &copied)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
