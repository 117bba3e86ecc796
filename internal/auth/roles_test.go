package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/identity"
)

func TestMatchPermission_Wildcards(t *testing.T) {
	cases := []struct {
		pattern  string
		required string
		want     bool
	}{
		{"*:*:*", "users:read:own", true},
		{"*:*:*", "anything:at:all", true},
		{"users:*:own", "users:read:own", true},
		{"users:*:own", "users:delete:own", true},
		{"users:*:own", "users:read:any", false},
		{"users:read:own", "users:read:own", true},
		{"users:read:own", "users:write:own", false},
		{"wallet:*:*", "users:read:own", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchPermission(tc.pattern, tc.required),
			"%s vs %s", tc.pattern, tc.required)
	}
}

func seedRoles(t *testing.T) *MemoryRoleStore {
	t.Helper()
	store := NewMemoryRoleStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertRole(ctx, &identity.Role{
		Name: "viewer", Permissions: []string{"users:read:own", "wallet:read:own"}, Active: true,
	}))
	require.NoError(t, store.UpsertRole(ctx, &identity.Role{
		Name: "support", Permissions: []string{"users:read:any"},
		Inherits: []string{"viewer"}, Active: true,
	}))
	require.NoError(t, store.UpsertRole(ctx, &identity.Role{
		Name: "admin", Permissions: []string{"*:*:*"},
		Inherits: []string{"support"}, Active: true,
	}))
	return store
}

func activeAssignment(role string, rc *identity.RoleContext) identity.RoleAssignment {
	return identity.RoleAssignment{Role: role, Context: rc, Active: true, AssignedAt: time.Now()}
}

func TestResolvePermissions_TransitiveInheritance(t *testing.T) {
	resolver := NewRoleResolver(seedRoles(t))
	user := &identity.User{
		ID:    "u1",
		Roles: []identity.RoleAssignment{activeAssignment("support", nil)},
	}

	perms, err := resolver.ResolvePermissions(context.Background(), user, RequestContext{})
	require.NoError(t, err)
	assert.Contains(t, perms, "users:read:any", "own permission")
	assert.Contains(t, perms, "wallet:read:own", "inherited from viewer")
}

func TestResolvePermissions_UnionsUserLevelPermissions(t *testing.T) {
	resolver := NewRoleResolver(seedRoles(t))
	user := &identity.User{
		ID:          "u1",
		Permissions: []string{"reports:export:own"},
		Roles:       []identity.RoleAssignment{activeAssignment("viewer", nil)},
	}

	perms, err := resolver.ResolvePermissions(context.Background(), user, RequestContext{})
	require.NoError(t, err)
	assert.Contains(t, perms, "reports:export:own")
	assert.Contains(t, perms, "users:read:own")
}

func TestResolvePermissions_ContextFiltering(t *testing.T) {
	resolver := NewRoleResolver(seedRoles(t))
	user := &identity.User{
		ID: "u1",
		Roles: []identity.RoleAssignment{
			activeAssignment("admin", &identity.RoleContext{Tenant: "t1"}),
			activeAssignment("viewer", nil),
		},
	}
	ctx := context.Background()

	inTenant, err := resolver.ResolvePermissions(ctx, user, RequestContext{Tenant: "t1"})
	require.NoError(t, err)
	assert.Contains(t, inTenant, "*:*:*", "tenant-scoped admin applies in its tenant")

	elsewhere, err := resolver.ResolvePermissions(ctx, user, RequestContext{Tenant: "t2"})
	require.NoError(t, err)
	assert.NotContains(t, elsewhere, "*:*:*", "tenant-scoped admin does not leak")
	assert.Contains(t, elsewhere, "users:read:own", "unscoped viewer applies everywhere")
}

func TestResolvePermissions_ExpiredAndInactiveAssignments(t *testing.T) {
	resolver := NewRoleResolver(seedRoles(t))
	past := time.Now().Add(-time.Hour)
	user := &identity.User{
		ID: "u1",
		Roles: []identity.RoleAssignment{
			{Role: "admin", Active: true, ExpiresAt: &past},
			{Role: "support", Active: false},
		},
	}

	perms, err := resolver.ResolvePermissions(context.Background(), user, RequestContext{})
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestResolvePermissions_InheritanceCycleTerminates(t *testing.T) {
	store := NewMemoryRoleStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertRole(ctx, &identity.Role{
		Name: "a", Permissions: []string{"x:read:own"}, Inherits: []string{"b"}, Active: true,
	}))
	require.NoError(t, store.UpsertRole(ctx, &identity.Role{
		Name: "b", Permissions: []string{"y:read:own"}, Inherits: []string{"a"}, Active: true,
	}))

	resolver := NewRoleResolver(store)
	user := &identity.User{ID: "u1", Roles: []identity.RoleAssignment{activeAssignment("a", nil)}}

	perms, err := resolver.ResolvePermissions(ctx, user, RequestContext{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x:read:own", "y:read:own"}, perms)
}

func TestHasPermission(t *testing.T) {
	granted := []string{"users:*:own", "wallet:read:own"}
	assert.True(t, HasPermission(granted, "users:read:own"))
	assert.True(t, HasPermission(granted, "wallet:read:own"))
	assert.False(t, HasPermission(granted, "wallet:write:own"))
}
