package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver() *Resolver {
	return NewResolver(NewClientManager(0, 0), "mongodb://localhost:27017")
}

func TestResolveTarget_Strategies(t *testing.T) {
	r := newResolver()

	cases := []struct {
		name     string
		cfg      StrategyConfig
		service  string
		brand    string
		tenant   string
		wantName string
	}{
		{"shared", StrategyConfig{Strategy: StrategyShared}, "payment-service", "", "", "core_service"},
		{"per-service", StrategyConfig{Strategy: StrategyPerService}, "payment-service", "", "", "payment_service"},
		{"per-brand", StrategyConfig{Strategy: StrategyPerBrand}, "payment-service", "acme", "", "brand_acme"},
		{"per-brand-service", StrategyConfig{Strategy: StrategyPerBrandService}, "payment-service", "acme", "", "brand_acme_payment_service"},
		{"per-tenant", StrategyConfig{Strategy: StrategyPerTenant}, "payment-service", "", "t7", "tenant_t7"},
		{"per-tenant-service", StrategyConfig{Strategy: StrategyPerTenantService}, "payment-service", "", "t7", "tenant_t7_payment_service"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, r.Configure(tc.service, tc.cfg))
			target, err := r.ResolveTarget(tc.service, tc.brand, tc.tenant)
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, target.DBName)
		})
	}
}

func TestResolveTarget_DeterministicAndCacheStable(t *testing.T) {
	r := newResolver()
	require.NoError(t, r.Configure("svc", StrategyConfig{Strategy: StrategyPerTenant}))

	first, err := r.ResolveTarget("svc", "", "t1")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := r.ResolveTarget("svc", "", "t1")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveTarget_PerShardPartitionsStably(t *testing.T) {
	r := newResolver()
	require.NoError(t, r.Configure("svc", StrategyConfig{Strategy: StrategyPerShard, NumShards: 4}))

	seen := map[string]string{}
	for _, tenant := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8"} {
		target, err := r.ResolveTarget("svc", "", tenant)
		require.NoError(t, err)
		assert.Regexp(t, `^svc_shard_[0-3]$`, target.DBName)
		seen[tenant] = target.DBName
	}
	// Re-resolving never moves a tenant.
	for tenant, want := range seen {
		r.Invalidate("svc")
		target, err := r.ResolveTarget("svc", "", tenant)
		require.NoError(t, err)
		assert.Equal(t, want, target.DBName)
	}
}

func TestResolveTarget_NameTemplate(t *testing.T) {
	r := newResolver()
	require.NoError(t, r.Configure("payment-service", StrategyConfig{
		Strategy:       StrategyPerTenant,
		DBNameTemplate: "tenant_{tenantId}_pay",
	}))

	target, err := r.ResolveTarget("payment-service", "", "t7")
	require.NoError(t, err)
	assert.Equal(t, "tenant_t7_pay", target.DBName)

	other, err := r.ResolveTarget("payment-service", "", "t8")
	require.NoError(t, err)
	assert.NotEqual(t, target.DBName, other.DBName, "tenants must not share a database")
}

func TestConfigure_MissingPlaceholderFailsAtStartup(t *testing.T) {
	r := newResolver()
	err := r.Configure("svc", StrategyConfig{
		Strategy:       StrategyPerTenant,
		DBNameTemplate: "static_name",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConfigurationError")
}

func TestConfigure_ValidatesBothTemplates(t *testing.T) {
	r := newResolver()

	// Valid name template, templated URI missing the tenant placeholder:
	// must still fail at startup, never at resolve time.
	err := r.Configure("svc", StrategyConfig{
		Strategy:       StrategyPerTenantService,
		DBNameTemplate: "tenant_{tenant}_{service}",
		URITemplate:    "mongodb://cluster-{brand}.internal:27017",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConfigurationError")

	// A static URI with a valid name template is legal: the database name
	// alone provides the separation.
	require.NoError(t, r.Configure("svc", StrategyConfig{
		Strategy:       StrategyPerTenantService,
		DBNameTemplate: "tenant_{tenant}_{service}",
		URITemplate:    "mongodb://shared-cluster.internal:27017",
	}))

	// Both templated and both complete.
	require.NoError(t, r.Configure("svc2", StrategyConfig{
		Strategy:       StrategyPerTenant,
		DBNameTemplate: "tenant_{tenant}",
		URITemplate:    "mongodb://tenant-{tenant}.internal:27017",
	}))
}

func TestResolveTarget_UnknownStrategyFallsBack(t *testing.T) {
	r := newResolver()
	require.NoError(t, r.Configure("some-svc", StrategyConfig{Strategy: "exotic"}))

	target, err := r.ResolveTarget("some-svc", "", "")
	require.NoError(t, err)
	assert.Equal(t, "some_svc", target.DBName, "unknown strategy behaves as per-service")
}

func TestResolveTarget_MissingQualifiersFail(t *testing.T) {
	r := newResolver()
	require.NoError(t, r.Configure("svc", StrategyConfig{Strategy: StrategyPerTenant}))
	_, err := r.ResolveTarget("svc", "", "")
	assert.Error(t, err)

	require.NoError(t, r.Configure("svc2", StrategyConfig{Strategy: StrategyPerBrand}))
	_, err = r.ResolveTarget("svc2", "", "t1")
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "payment_service", sanitize("Payment-Service"))
	assert.Equal(t, "t7", sanitize("t7"))
	assert.Equal(t, "evil", sanitize("ev;il"))
}
