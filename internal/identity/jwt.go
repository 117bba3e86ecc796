package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/albion/platform/internal/platform/apperr"
)

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the platform JWT claim set. `sub` is the user id and `tid` the
// tenant id.
type Claims struct {
	TenantID    string    `json:"tid"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	TokenType   TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair bundles an access token with its refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Issuer signs and verifies platform JWTs with HS256.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewIssuer creates a JWT issuer. TTLs of zero fall back to 1h / 7d.
func NewIssuer(secret string, accessTTL, refreshTTL time.Duration) *Issuer {
	if accessTTL == 0 {
		accessTTL = time.Hour
	}
	if refreshTTL == 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// IssuePair mints an access/refresh token pair for a user.
func (i *Issuer) IssuePair(userID, tenantID string, roles, permissions []string) (*TokenPair, error) {
	access, err := i.sign(userID, tenantID, roles, permissions, TokenAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}
	// Refresh tokens carry identity only; permissions are re-resolved on use.
	refresh, err := i.sign(userID, tenantID, nil, nil, TokenRefresh, i.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}, nil
}

// Verify parses a token and checks signature, expiry, and token type.
func (i *Issuer) Verify(tokenStr string, expected TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Unauthorized("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnauthorized, "InvalidToken", "token verification failed")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.Unauthorized("invalid token claims")
	}
	if claims.TokenType != expected {
		return nil, apperr.Unauthorized("wrong token type")
	}
	return claims, nil
}

func (i *Issuer) sign(userID, tenantID string, roles, permissions []string, typ TokenType, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		TenantID:    tenantID,
		Roles:       roles,
		Permissions: permissions,
		TokenType:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
