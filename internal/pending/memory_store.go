package pending

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/albion/platform/internal/platform/jsonval"
)

// MemoryStore implements the pending contract in process memory. Used by
// tests and single-node development; semantics mirror the Redis backend,
// including the Delete race-winner signal.
type MemoryStore struct {
	mu  sync.Mutex
	ops map[string]*Operation
}

// NewMemoryStore creates an empty in-memory pending store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]*Operation)}
}

func (s *MemoryStore) Create(_ context.Context, opType string, data jsonval.Map, opts CreateOptions) (string, error) {
	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiry
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pending token: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := time.Now().UTC()
	s.mu.Lock()
	s.ops[opType+":"+token] = &Operation{
		OperationType: opType,
		Data:          data,
		Metadata:      opts.Metadata,
		CreatedAt:     now,
		ExpiresAt:     now.Add(expiresIn),
	}
	s.mu.Unlock()
	return token, nil
}

func (s *MemoryStore) Verify(_ context.Context, token, opType string) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[opType+":"+token]
	if !ok || time.Now().After(op.ExpiresAt) {
		return nil, nil
	}
	copied := *op
	return &copied, nil
}

func (s *MemoryStore) Delete(_ context.Context, token, opType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := opType + ":" + token
	if _, ok := s.ops[key]; !ok {
		return false, nil
	}
	delete(s.ops, key)
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, opType string) ([]*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Operation
	now := time.Now()
	for _, op := range s.ops {
		if op.OperationType == opType && now.Before(op.ExpiresAt) {
			copied := *op
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetRawData(ctx context.Context, token, opType string) (*RawData, error) {
	op, err := s.Verify(ctx, token, opType)
	if err != nil || op == nil {
		return nil, err
	}
	return &RawData{Operation: op, TTL: time.Until(op.ExpiresAt)}, nil
}
