package bonus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/albion/platform/internal/platform/apperr"
)

// TemplateStore persists bonus templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, tenantID, id string) (*Template, error)
	GetTemplateByCode(ctx context.Context, tenantID, code string) (*Template, error)
	// FindActiveByType returns live templates of a type ordered by priority
	// (highest first).
	FindActiveByType(ctx context.Context, tenantID string, typ Type, now time.Time) ([]*Template, error)
	UpsertTemplate(ctx context.Context, t *Template) error
	// IncrementUses bumps current_uses_total and fails the guard when the
	// total cap is already reached.
	IncrementUses(ctx context.Context, templateID string) error
}

// UserBonusStore persists user bonus instances.
type UserBonusStore interface {
	GetUserBonus(ctx context.Context, tenantID, id string) (*UserBonus, error)
	InsertUserBonus(ctx context.Context, ub *UserBonus) error
	UpdateUserBonus(ctx context.Context, ub *UserBonus) error
	ListUserBonuses(ctx context.Context, tenantID, userID string) ([]*UserBonus, error)
	CountUserBonusesByTemplate(ctx context.Context, tenantID, userID, templateID string) (int64, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*UserBonus, error)
}

// TransactionStore persists bonus audit transactions.
type TransactionStore interface {
	InsertBonusTransaction(ctx context.Context, tx *Transaction) error
	ListBonusTransactions(ctx context.Context, userBonusID string) ([]*Transaction, error)
}

// =============================================================================
// In-memory stores
// =============================================================================

// MemoryStore implements every bonus store interface in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*Template
	bonuses   map[string]*UserBonus
	txs       []*Transaction
}

// NewMemoryStore creates empty in-memory bonus stores.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]*Template),
		bonuses:   make(map[string]*UserBonus),
	}
}

func (s *MemoryStore) GetTemplate(_ context.Context, tenantID, id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.templates[id]; ok && t.TenantID == tenantID {
		copied := *t
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetTemplateByCode(_ context.Context, tenantID, code string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.templates {
		if t.TenantID == tenantID && t.Code == code {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindActiveByType(_ context.Context, tenantID string, typ Type, now time.Time) ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Template
	for _, t := range s.templates {
		if t.TenantID == tenantID && t.Type == typ && t.ActiveAt(now) {
			copied := *t
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (s *MemoryStore) UpsertTemplate(_ context.Context, t *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *t
	s.templates[t.ID] = &copied
	return nil
}

func (s *MemoryStore) IncrementUses(_ context.Context, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[templateID]
	if !ok {
		return apperr.NotFound("TemplateNotFound", "template "+templateID+" not found")
	}
	if t.MaxUsesTotal > 0 && t.CurrentUsesTotal >= t.MaxUsesTotal {
		return apperr.Precondition("TemplateExhausted", "template total uses reached")
	}
	t.CurrentUsesTotal++
	return nil
}

func (s *MemoryStore) GetUserBonus(_ context.Context, tenantID, id string) (*UserBonus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ub, ok := s.bonuses[id]; ok && ub.TenantID == tenantID {
		copied := *ub
		copied.History = append([]HistoryEntry{}, ub.History...)
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) InsertUserBonus(_ context.Context, ub *UserBonus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bonuses[ub.ID]; exists {
		return apperr.Conflict("UserBonusExists", "user bonus already persisted")
	}
	copied := *ub
	copied.History = append([]HistoryEntry{}, ub.History...)
	s.bonuses[ub.ID] = &copied
	return nil
}

func (s *MemoryStore) UpdateUserBonus(_ context.Context, ub *UserBonus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bonuses[ub.ID]; !ok {
		return apperr.NotFound("UserBonusNotFound", "user bonus "+ub.ID+" not found")
	}
	copied := *ub
	copied.History = append([]HistoryEntry{}, ub.History...)
	s.bonuses[ub.ID] = &copied
	return nil
}

func (s *MemoryStore) ListUserBonuses(_ context.Context, tenantID, userID string) ([]*UserBonus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*UserBonus
	for _, ub := range s.bonuses {
		if ub.TenantID == tenantID && ub.UserID == userID {
			copied := *ub
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedAt.Before(out[j].QualifiedAt) })
	return out, nil
}

func (s *MemoryStore) CountUserBonusesByTemplate(_ context.Context, tenantID, userID, templateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, ub := range s.bonuses {
		if ub.TenantID == tenantID && ub.UserID == userID && ub.TemplateID == templateID &&
			ub.Status != StatusCancelled {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]*UserBonus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*UserBonus
	for _, ub := range s.bonuses {
		switch ub.Status {
		case StatusActive, StatusInProgress, StatusRequirementsMet:
			if !ub.ExpiresAt.IsZero() && ub.ExpiresAt.Before(now) {
				copied := *ub
				out = append(out, &copied)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertBonusTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tx
	s.txs = append(s.txs, &copied)
	return nil
}

func (s *MemoryStore) ListBonusTransactions(_ context.Context, userBonusID string) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, tx := range s.txs {
		if tx.UserBonusID == userBonusID {
			copied := *tx
			out = append(out, &copied)
		}
	}
	return out, nil
}
