package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/jsonval"
)

// UserStore is the persistence interface for users. GetUser must accept both
// the canonical id and any native storage id form.
type UserStore interface {
	GetUser(ctx context.Context, tenantID, id string) (*User, error)
	GetUserByEmail(ctx context.Context, tenantID, email string) (*User, error)
	UpsertUser(ctx context.Context, u *User) error
}

// Users wraps the user store with normalization and credential handling.
type Users struct {
	store UserStore
}

// NewUsers creates the user service.
func NewUsers(store UserStore) *Users {
	return &Users{store: store}
}

// NormalizeEmail lowercases and trims an email for per-tenant uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create registers a user with a bcrypt password hash.
func (u *Users) Create(ctx context.Context, tenantID, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, apperr.Validation("EmailRequired", "email is required")
	}
	if existing, _ := u.store.GetUserByEmail(ctx, tenantID, email); existing != nil {
		return nil, apperr.Conflict("EmailTaken", "email already registered")
	}

	var hash string
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash = string(h)
	}

	now := time.Now().UTC()
	user := &User{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: hash,
		Metadata:     jsonval.Map{},
		Status:       UserActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.store.UpsertUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Get loads a user by canonical or native id.
func (u *Users) Get(ctx context.Context, tenantID, id string) (*User, error) {
	user, err := u.store.GetUser(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("UserNotFound", "user "+id+" not found")
	}
	return user, nil
}

// VerifyPassword checks a user's password.
func (u *Users) VerifyPassword(user *User, password string) error {
	if user.PasswordHash == "" {
		return apperr.Unauthorized("password login not enabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return apperr.Unauthorized("invalid credentials")
	}
	return nil
}

// SetMetadata writes a single metadata key and persists the user.
func (u *Users) SetMetadata(ctx context.Context, user *User, key string, value interface{}) error {
	if user.Metadata == nil {
		user.Metadata = jsonval.Map{}
	}
	user.Metadata[key] = value
	user.UpdatedAt = time.Now().UTC()
	return u.store.UpsertUser(ctx, user)
}

// Save persists user mutations made by callers (2FA enrollment, role grants).
func (u *Users) Save(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC()
	return u.store.UpsertUser(ctx, user)
}
