// Package reqctx carries per-request values (correlation id, tenant, user)
// through every public function as explicit context values. Library code must
// never stash these in globals; the gateway injects them once per request.
package reqctx

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	tenantIDKey      contextKey = "tenant_id"
	brandIDKey       contextKey = "brand_id"
	userIDKey        contextKey = "user_id"
	permissionsKey   contextKey = "permissions"
)

// ErrNoTenant is returned when a tenant-scoped operation runs without a
// tenant in context.
var ErrNoTenant = errors.New("tenant context missing")

// WithCorrelationID attaches a correlation id, generating one if empty.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the request correlation id, or "" if absent.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithTenant adds the tenant id to the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID extracts the tenant id; errors when missing.
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoTenant
	}
	return id, nil
}

// WithBrand adds the brand id to the context.
func WithBrand(ctx context.Context, brandID string) context.Context {
	return context.WithValue(ctx, brandIDKey, brandID)
}

// BrandID returns the brand id, or "" if absent.
func BrandID(ctx context.Context) string {
	id, _ := ctx.Value(brandIDKey).(string)
	return id
}

// WithUser adds the authenticated user id to the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user id, or "" if absent.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// WithPermissions attaches the caller's resolved permission set.
func WithPermissions(ctx context.Context, perms []string) context.Context {
	return context.WithValue(ctx, permissionsKey, perms)
}

// Permissions returns the caller's resolved permission set.
func Permissions(ctx context.Context) []string {
	perms, _ := ctx.Value(permissionsKey).([]string)
	return perms
}

// HasPermission reports whether the context carries the exact permission
// string. Wildcard evaluation happens in the auth package; this is the fast
// path for privilege flags like "allowNegative".
func HasPermission(ctx context.Context, perm string) bool {
	for _, p := range Permissions(ctx) {
		if p == perm {
			return true
		}
	}
	return false
}
