// Package identity provides the brand/tenant registry, the dynamic config
// store with per-service, per-brand, and per-tenant overrides, and JWT
// issuance for the platform core.
package identity

import (
	"time"

	"github.com/albion/platform/internal/platform/jsonval"
)

// Brand groups tenants commercially. Optional: tenants may exist without one.
type Brand struct {
	ID        string      `bson:"_id" json:"id"`
	Code      string      `bson:"code" json:"code"`
	Name      string      `bson:"name" json:"name"`
	Active    bool        `bson:"active" json:"active"`
	Metadata  jsonval.Map `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt time.Time   `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updatedAt"`
}

// Tenant is the unit of data isolation. Every entity in the platform is
// scoped by tenant id.
type Tenant struct {
	ID        string      `bson:"_id" json:"id"`
	Code      string      `bson:"code" json:"code"`
	Name      string      `bson:"name" json:"name"`
	BrandID   string      `bson:"brand_id,omitempty" json:"brandId,omitempty"`
	Active    bool        `bson:"active" json:"active"`
	Metadata  jsonval.Map `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt time.Time   `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updatedAt"`
}

// RoleAssignment binds a role to a user within an optional context.
type RoleAssignment struct {
	Role       string       `bson:"role" json:"role"`
	Context    *RoleContext `bson:"context,omitempty" json:"context,omitempty"`
	AssignedAt time.Time    `bson:"assigned_at" json:"assignedAt"`
	AssignedBy string       `bson:"assigned_by,omitempty" json:"assignedBy,omitempty"`
	ExpiresAt  *time.Time   `bson:"expires_at,omitempty" json:"expiresAt,omitempty"`
	Active     bool         `bson:"active" json:"active"`
}

// RoleContext narrows a role assignment to a brand, tenant, or resource.
type RoleContext struct {
	Brand    string `bson:"brand,omitempty" json:"brand,omitempty"`
	Tenant   string `bson:"tenant,omitempty" json:"tenant,omitempty"`
	Resource string `bson:"resource,omitempty" json:"resource,omitempty"`
}

// Role is a named permission bundle. Permissions are resource:action:scope
// tuples; "*" is a wildcard in any segment.
type Role struct {
	Name        string   `bson:"_id" json:"name"`
	DisplayName string   `bson:"display_name" json:"displayName"`
	Description string   `bson:"description,omitempty" json:"description,omitempty"`
	Permissions []string `bson:"permissions" json:"permissions"`
	Inherits    []string `bson:"inherits,omitempty" json:"inherits,omitempty"`
	Priority    int      `bson:"priority" json:"priority"`
	Active      bool     `bson:"active" json:"active"`
}

// UserStatus enumerates user lifecycle states.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserDeleted   UserStatus = "deleted"
)

// User is a tenant-scoped account. Email is normalized lowercase and unique
// per tenant.
type User struct {
	ID               string           `bson:"_id" json:"id"`
	TenantID         string           `bson:"tenant_id" json:"tenantId"`
	Email            string           `bson:"email" json:"email"`
	Phone            string           `bson:"phone,omitempty" json:"phone,omitempty"`
	PasswordHash     string           `bson:"password_hash,omitempty" json:"-"`
	Roles            []RoleAssignment `bson:"roles,omitempty" json:"roles,omitempty"`
	Permissions      []string         `bson:"permissions,omitempty" json:"permissions,omitempty"`
	TwoFactorSecret  string           `bson:"two_factor_secret,omitempty" json:"-"`
	TwoFactorEnabled bool             `bson:"two_factor_enabled" json:"twoFactorEnabled"`
	Metadata         jsonval.Map      `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Status           UserStatus       `bson:"status" json:"status"`
	CreatedAt        time.Time        `bson:"created_at" json:"createdAt"`
	UpdatedAt        time.Time        `bson:"updated_at" json:"updatedAt"`
}

// Metadata keys tracked on users by the payment and bonus pipelines.
const (
	MetaHasMadeFirstDeposit  = "hasMadeFirstDeposit"
	MetaHasMadeFirstPurchase = "hasMadeFirstPurchase"
	MetaBackupCodes          = "backupCodes"
)

// ConfigEntry is one dynamic configuration row. Precedence on read:
// (service,brand,tenant) > (service,tenant) > (service,brand) > (service) >
// registered defaults.
type ConfigEntry struct {
	ID             string      `bson:"_id,omitempty" json:"id,omitempty"`
	Service        string      `bson:"service" json:"service"`
	Brand          string      `bson:"brand,omitempty" json:"brand,omitempty"`
	Tenant         string      `bson:"tenant,omitempty" json:"tenant,omitempty"`
	Key            string      `bson:"key" json:"key"`
	Value          interface{} `bson:"value" json:"value"`
	SensitivePaths []string    `bson:"sensitive_paths,omitempty" json:"sensitivePaths,omitempty"`
	CreatedAt      time.Time   `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time   `bson:"updated_at" json:"updatedAt"`
}
