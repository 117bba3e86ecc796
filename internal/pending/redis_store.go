package pending

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/albion/platform/internal/platform/jsonval"
)

// RedisStore keys each token at {prefix}{opType}:{token} with a TTL equal to
// the operation's expiry. Tokens are 128-bit random hex ids.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed pending store.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pending:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

type storedOp struct {
	Op        string      `json:"op"`
	Data      jsonval.Map `json:"data"`
	Meta      jsonval.Map `json:"meta,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

func (s *RedisStore) key(opType, token string) string {
	return s.prefix + opType + ":" + token
}

func (s *RedisStore) Create(ctx context.Context, opType string, data jsonval.Map, opts CreateOptions) (string, error) {
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
	payload, err := json.Marshal(storedOp{
		Op:        opType,
		Data:      data,
		Meta:      opts.Metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
	})
	if err != nil {
		return "", err
	}

	if err := s.rdb.Set(ctx, s.key(opType, token), payload, expiresIn).Err(); err != nil {
		return "", fmt.Errorf("store pending op: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Verify(ctx context.Context, token, opType string) (*Operation, error) {
	raw, err := s.rdb.Get(ctx, s.key(opType, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var op storedOp
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, err
	}
	if op.Op != opType || time.Now().After(op.ExpiresAt) {
		return nil, nil
	}
	return &Operation{
		OperationType: op.Op,
		Data:          op.Data,
		Metadata:      op.Meta,
		CreatedAt:     op.CreatedAt,
		ExpiresAt:     op.ExpiresAt,
	}, nil
}

// Delete removes the token. DEL's reply is the race-winner signal: exactly
// one of N concurrent deleters observes a count of 1.
func (s *RedisStore) Delete(ctx context.Context, token, opType string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.key(opType, token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List scans stored operations of a type using SCAN, never KEYS.
func (s *RedisStore) List(ctx context.Context, opType string) ([]*Operation, error) {
	pattern := s.prefix + opType + ":*"
	var out []*Operation

	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, err
		}
		var op storedOp
		if err := json.Unmarshal(raw, &op); err != nil {
			continue
		}
		out = append(out, &Operation{
			OperationType: op.Op,
			Data:          op.Data,
			Metadata:      op.Meta,
			CreatedAt:     op.CreatedAt,
			ExpiresAt:     op.ExpiresAt,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) GetRawData(ctx context.Context, token, opType string) (*RawData, error) {
	op, err := s.Verify(ctx, token, opType)
	if err != nil || op == nil {
		return nil, err
	}
	ttl, err := s.rdb.TTL(ctx, s.key(opType, token)).Result()
	if err != nil {
		return nil, err
	}
	return &RawData{Operation: op, TTL: ttl}, nil
}
