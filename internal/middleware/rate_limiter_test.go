package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/identity"
)

type fixedLimits struct{ limits Limits }

func (f fixedLimits) Limits(context.Context, string) Limits { return f.limits }

func TestAllow_BurstThenExhaustion(t *testing.T) {
	rl := NewRateLimiter(fixedLimits{Limits{PerMinute: 60, Burst: 5}})
	limits := Limits{PerMinute: 60, Burst: 5}

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("t1:u1", limits), "request %d within burst", i+1)
	}
	assert.False(t, rl.Allow("t1:u1", limits), "burst exhausted")
	assert.Greater(t, rl.RetryAfter("t1:u1", limits), time.Duration(0))
}

func TestAllow_TokensRefillOverTime(t *testing.T) {
	rl := NewRateLimiter(nil)
	// 6000/min = 100 tokens per second, so a short sleep refills one.
	limits := Limits{PerMinute: 6000, Burst: 1}

	assert.True(t, rl.Allow("t1:u1", limits))
	assert.False(t, rl.Allow("t1:u1", limits))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.Allow("t1:u1", limits), "refilled after waiting")
}

func TestAllow_PrincipalsAreIsolated(t *testing.T) {
	rl := NewRateLimiter(nil)
	limits := Limits{PerMinute: 60, Burst: 1}

	assert.True(t, rl.Allow("t1:u1", limits))
	assert.False(t, rl.Allow("t1:u1", limits))
	assert.True(t, rl.Allow("t1:u2", limits), "another user in the same tenant has its own bucket")
	assert.True(t, rl.Allow("t2:u1", limits), "same user id in another tenant has its own bucket")
}

func TestAllow_UnlimitedTier(t *testing.T) {
	rl := NewRateLimiter(nil)
	for i := 0; i < 1000; i++ {
		require.True(t, rl.Allow("t1:vip", Limits{PerMinute: 0}))
	}
}

func TestConfigLimits_TenantOverrideFlowsThroughConfigStore(t *testing.T) {
	store := identity.NewConfigStore(identity.NewMemoryStore())
	ctx := context.Background()

	store.RegisterDefaults("core", map[string]interface{}{
		"rate_limits": map[string]interface{}{"perMinute": 120, "burst": 240},
	})
	require.NoError(t, store.Set(ctx, &identity.ConfigEntry{
		Service: "core",
		Tenant:  "gold-tier",
		Key:     "rate_limits",
		Value:   map[string]interface{}{"perMinute": float64(600), "burst": float64(1200)},
	}))

	source := &ConfigLimits{Store: store, Service: "core"}

	standard := source.Limits(ctx, "standard-tenant")
	assert.EqualValues(t, 120, standard.PerMinute, "registered default applies")
	assert.EqualValues(t, 240, standard.Burst)

	gold := source.Limits(ctx, "gold-tier")
	assert.EqualValues(t, 600, gold.PerMinute, "tenant tier override wins")
	assert.EqualValues(t, 1200, gold.Burst)
}

func TestConfigLimits_FallbackWithoutStore(t *testing.T) {
	source := &ConfigLimits{Service: "core"}
	limits := source.Limits(context.Background(), "t1")
	assert.EqualValues(t, 120, limits.PerMinute)
	assert.EqualValues(t, 240, limits.Burst)

	custom := &ConfigLimits{Service: "core", Fallback: Limits{PerMinute: 10, Burst: 5}}
	limits = custom.Limits(context.Background(), "t1")
	assert.EqualValues(t, 10, limits.PerMinute)
	assert.EqualValues(t, 10, limits.Burst, "burst is floored at the sustained rate")
}
