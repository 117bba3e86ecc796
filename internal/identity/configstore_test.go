package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/platform/apperr"
)

func newConfigStore(t *testing.T) (*ConfigStore, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewConfigStore(store), store
}

func set(t *testing.T, cs *ConfigStore, service, brand, tenant, key string, value interface{}) {
	t.Helper()
	require.NoError(t, cs.Set(context.Background(), &ConfigEntry{
		Service: service,
		Brand:   brand,
		Tenant:  tenant,
		Key:     key,
		Value:   value,
	}))
}

func TestConfigStore_PrecedenceChain(t *testing.T) {
	cs, _ := newConfigStore(t)
	ctx := context.Background()

	set(t, cs, "payment-service", "", "", "limit", "service")
	set(t, cs, "payment-service", "brand1", "", "limit", "brand")
	set(t, cs, "payment-service", "", "tenant1", "limit", "tenant")
	set(t, cs, "payment-service", "brand1", "tenant1", "limit", "brand+tenant")

	v, err := cs.Get(ctx, "payment-service", "limit", ConfigScope{Brand: "brand1", Tenant: "tenant1"})
	require.NoError(t, err)
	assert.Equal(t, "brand+tenant", v)

	v, err = cs.Get(ctx, "payment-service", "limit", ConfigScope{Tenant: "tenant1"})
	require.NoError(t, err)
	assert.Equal(t, "tenant", v)

	v, err = cs.Get(ctx, "payment-service", "limit", ConfigScope{Brand: "brand1"})
	require.NoError(t, err)
	assert.Equal(t, "brand", v)

	v, err = cs.Get(ctx, "payment-service", "limit", ConfigScope{})
	require.NoError(t, err)
	assert.Equal(t, "service", v)
}

func TestConfigStore_TenantBeatsBrand(t *testing.T) {
	cs, _ := newConfigStore(t)

	set(t, cs, "svc", "brand1", "", "k", "brand")
	set(t, cs, "svc", "", "tenant1", "k", "tenant")

	v, err := cs.Get(context.Background(), "svc", "k", ConfigScope{Brand: "brand1", Tenant: "tenant1"})
	require.NoError(t, err)
	assert.Equal(t, "tenant", v, "(service, tenant) outranks (service, brand)")
}

func TestConfigStore_FallsBackToRegisteredDefault(t *testing.T) {
	cs, _ := newConfigStore(t)
	cs.RegisterDefaults("svc", map[string]interface{}{"retries": 3})

	v, err := cs.Get(context.Background(), "svc", "retries", ConfigScope{})
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestConfigStore_UnknownKeyFails(t *testing.T) {
	cs, _ := newConfigStore(t)

	_, err := cs.Get(context.Background(), "svc", "missing", ConfigScope{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "ConfigNotFound", apperr.CodeOf(err))
}

func TestConfigStore_SetInvalidatesCacheAndFiresHook(t *testing.T) {
	cs, _ := newConfigStore(t)
	ctx := context.Background()

	var hookService string
	cs.OnChange(func(service string) { hookService = service })

	set(t, cs, "svc", "", "", "k", "v1")
	v, err := cs.Get(ctx, "svc", "k", ConfigScope{})
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	set(t, cs, "svc", "", "", "k", "v2")
	assert.Equal(t, "svc", hookService)

	v, err = cs.Get(ctx, "svc", "k", ConfigScope{})
	require.NoError(t, err)
	assert.Equal(t, "v2", v, "cached resolution must drop on Set")
}

func TestConfigStore_SummaryRedactsSensitivePaths(t *testing.T) {
	cs, _ := newConfigStore(t)
	ctx := context.Background()

	require.NoError(t, cs.Set(ctx, &ConfigEntry{
		Service:        "svc",
		Key:            "smtp",
		Value:          map[string]interface{}{"host": "mail.local", "password": "hunter2"},
		SensitivePaths: []string{"password"},
	}))

	entries, err := cs.Summary(ctx, "svc")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	value, ok := entries[0].Value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "mail.local", value["host"])
	assert.Equal(t, "[redacted]", value["password"])
}

func TestRegistry_CacheServesByIDAndCode(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store)
	ctx := context.Background()

	created, err := reg.CreateTenant(ctx, "T1", "Tenant One", "")
	require.NoError(t, err)
	assert.Equal(t, "t1", created.Code, "codes normalize lowercase")

	byID, err := reg.GetTenant(ctx, created.ID)
	require.NoError(t, err)
	byCode, err := reg.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, byID.ID, byCode.ID)

	_, err = reg.CreateTenant(ctx, "t1", "Duplicate", "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestRegistry_DeactivationInvalidates(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store)
	ctx := context.Background()

	created, err := reg.CreateTenant(ctx, "t2", "Tenant Two", "")
	require.NoError(t, err)

	_, err = reg.RequireActiveTenant(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, reg.SetTenantActive(ctx, created.ID, false))
	_, err = reg.RequireActiveTenant(ctx, created.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}
