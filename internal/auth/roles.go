// Package auth provides OTP issuance and verification, TOTP two-factor
// enrollment, and hierarchical role-to-permission resolution.
package auth

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/albion/platform/internal/identity"
)

// RoleStore resolves role definitions by name.
type RoleStore interface {
	GetRole(ctx context.Context, name string) (*identity.Role, error)
}

// RequestContext narrows permission resolution to a brand, tenant, or
// resource.
type RequestContext struct {
	Brand    string
	Tenant   string
	Resource string
}

// RoleResolver computes effective permission sets from role assignments.
type RoleResolver struct {
	roles RoleStore
}

// NewRoleResolver creates a resolver over the given role store.
func NewRoleResolver(roles RoleStore) *RoleResolver {
	return &RoleResolver{roles: roles}
}

// ResolvePermissions produces the effective permission set for a user in a
// request context: applicable assignments expand through role inheritance,
// then union with the user's direct permissions. Denials are represented by
// absence; there are no explicit denies.
func (r *RoleResolver) ResolvePermissions(ctx context.Context, user *identity.User, rc RequestContext) ([]string, error) {
	permSet := make(map[string]bool)
	for _, p := range user.Permissions {
		permSet[p] = true
	}

	now := time.Now()
	visited := make(map[string]bool)
	for _, assignment := range user.Roles {
		if !assignmentApplies(assignment, rc, now) {
			continue
		}
		if err := r.collectRolePerms(ctx, assignment.Role, permSet, visited); err != nil {
			return nil, err
		}
	}

	perms := make([]string, 0, len(permSet))
	for p := range permSet {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms, nil
}

// collectRolePerms unions a role's permissions, walking inherits
// transitively. The visited set guards against inheritance cycles.
func (r *RoleResolver) collectRolePerms(ctx context.Context, roleName string, permSet map[string]bool, visited map[string]bool) error {
	if visited[roleName] {
		return nil
	}
	visited[roleName] = true

	role, err := r.roles.GetRole(ctx, roleName)
	if err != nil {
		return err
	}
	if role == nil || !role.Active {
		return nil
	}
	for _, p := range role.Permissions {
		permSet[p] = true
	}
	for _, parent := range role.Inherits {
		if err := r.collectRolePerms(ctx, parent, permSet, visited); err != nil {
			return err
		}
	}
	return nil
}

// assignmentApplies reports whether an assignment's context covers the
// request context: every field the assignment pins must match the request.
// An assignment without a context applies everywhere.
func assignmentApplies(a identity.RoleAssignment, rc RequestContext, now time.Time) bool {
	if !a.Active {
		return false
	}
	if a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
		return false
	}
	if a.Context == nil {
		return true
	}
	if a.Context.Brand != "" && a.Context.Brand != rc.Brand {
		return false
	}
	if a.Context.Tenant != "" && a.Context.Tenant != rc.Tenant {
		return false
	}
	if a.Context.Resource != "" && a.Context.Resource != rc.Resource {
		return false
	}
	return true
}

// MatchPermission evaluates a resource:action:scope pattern against a
// required permission. "*" matches any value in its segment.
func MatchPermission(pattern, required string) bool {
	patParts := strings.Split(pattern, ":")
	reqParts := strings.Split(required, ":")
	if len(patParts) != 3 || len(reqParts) != 3 {
		return pattern == required
	}
	for i := 0; i < 3; i++ {
		if patParts[i] != "*" && patParts[i] != reqParts[i] {
			return false
		}
	}
	return true
}

// HasPermission reports whether any granted permission matches the
// requirement, wildcards included.
func HasPermission(granted []string, required string) bool {
	for _, g := range granted {
		if MatchPermission(g, required) {
			return true
		}
	}
	return false
}
