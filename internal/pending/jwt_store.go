package pending

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/albion/platform/internal/platform/jsonval"
)

// JWTStore is the stateless backend: the token IS the signed payload. Delete
// is a no-op because there is nothing server-side to consume; callers needing
// single-use semantics should use the Redis backend.
type JWTStore struct {
	secret []byte
}

// NewJWTStore creates a JWT-backed pending store signing with HS256.
func NewJWTStore(secret string) *JWTStore {
	return &JWTStore{secret: []byte(secret)}
}

type pendingClaims struct {
	Op   string      `json:"op"`
	Data jsonval.Map `json:"data"`
	Meta jsonval.Map `json:"meta,omitempty"`
	jwt.RegisteredClaims
}

func (s *JWTStore) Create(_ context.Context, opType string, data jsonval.Map, opts CreateOptions) (string, error) {
	expiresIn := opts.ExpiresIn
	if expiresIn == 0 {
		expiresIn = defaultExpiry
	}
	now := time.Now().UTC()
	claims := &pendingClaims{
		Op:   opType,
		Data: data,
		Meta: opts.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *JWTStore) Verify(_ context.Context, token, opType string) (*Operation, error) {
	parsed, err := jwt.ParseWithClaims(token, &pendingClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, nil // invalid or expired tokens verify to nothing
	}
	claims, ok := parsed.Claims.(*pendingClaims)
	if !ok || claims.Op != opType {
		return nil, nil
	}
	return &Operation{
		OperationType: claims.Op,
		Data:          claims.Data,
		Metadata:      claims.Meta,
		CreatedAt:     claims.IssuedAt.Time,
		ExpiresAt:     claims.ExpiresAt.Time,
	}, nil
}

// Delete is a no-op for the stateless backend.
func (s *JWTStore) Delete(context.Context, string, string) (bool, error) {
	return false, nil
}

// List is unsupported for the stateless backend.
func (s *JWTStore) List(context.Context, string) ([]*Operation, error) {
	return nil, nil
}

func (s *JWTStore) GetRawData(ctx context.Context, token, opType string) (*RawData, error) {
	op, err := s.Verify(ctx, token, opType)
	if err != nil || op == nil {
		return nil, err
	}
	return &RawData{Operation: op, TTL: time.Until(op.ExpiresAt)}, nil
}
