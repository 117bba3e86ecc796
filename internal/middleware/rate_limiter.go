package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/albion/platform/internal/identity"
	"github.com/albion/platform/internal/platform/jsonval"
	"github.com/albion/platform/internal/platform/reqctx"
)

// Limits is the effective rate policy for one tenant: a sustained
// per-minute rate plus a burst ceiling. Tenants buy different tiers, so the
// values come from the dynamic config store, not from constants.
type Limits struct {
	PerMinute int64
	Burst     int64
}

// LimitSource resolves the rate policy for a tenant. ConfigLimits is the
// production implementation; tests supply fixed policies.
type LimitSource interface {
	Limits(ctx context.Context, tenantID string) Limits
}

// ConfigLimits reads per-tenant rate policies from the dynamic config store
// under the service's "rate_limits" key, so a tenant override follows the
// same precedence chain as every other tunable. The config store caches
// resolutions; no second cache lives here.
type ConfigLimits struct {
	Store    *identity.ConfigStore
	Service  string
	Fallback Limits
}

// Limits resolves the tenant's policy, falling back to the registered
// default and then the baked-in fallback.
func (c *ConfigLimits) Limits(ctx context.Context, tenantID string) Limits {
	limits := c.Fallback
	if limits.PerMinute <= 0 {
		limits.PerMinute = 120
	}
	if limits.Burst <= 0 {
		limits.Burst = limits.PerMinute * 2
	}
	if limits.Burst < limits.PerMinute {
		limits.Burst = limits.PerMinute
	}
	if c.Store == nil {
		return limits
	}

	raw, err := c.Store.GetMap(ctx, c.Service, "rate_limits", identity.ConfigScope{Tenant: tenantID})
	if err != nil {
		return limits
	}
	applyLimitOverrides(&limits, raw)
	return limits
}

func applyLimitOverrides(limits *Limits, raw jsonval.Map) {
	if v, ok := raw.GetInt64("perMinute"); ok && v > 0 {
		limits.PerMinute = v
	}
	if v, ok := raw.GetInt64("burst"); ok && v > 0 {
		limits.Burst = v
	}
	if limits.Burst < limits.PerMinute {
		limits.Burst = limits.PerMinute
	}
}

// anonymousLimits throttles unauthenticated callers well below any tenant
// tier; they share one bucket per remote address.
var anonymousLimits = Limits{PerMinute: 30, Burst: 30}

// bucket is one principal's token bucket. Tokens refill continuously at the
// tenant's sustained rate and cap at the burst ceiling.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// RateLimiter enforces per-principal request budgets in front of the
// gateway. Buckets are swept inline during Allow rather than by a
// background goroutine, so an idle process holds no timers.
type RateLimiter struct {
	source LimitSource

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// bucketIdleTTL is how long an untouched bucket survives before the inline
// sweep reclaims it.
const bucketIdleTTL = 5 * time.Minute

// NewRateLimiter creates a limiter over the given policy source. A nil
// source applies the anonymous policy to everyone, which only makes sense
// in tests.
func NewRateLimiter(source LimitSource) *RateLimiter {
	return &RateLimiter{
		source:    source,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// Allow consumes one token from the principal's bucket under the tenant's
// policy. The first request for a principal starts with a full burst.
func (rl *RateLimiter) Allow(key string, limits Limits) bool {
	if limits.PerMinute <= 0 {
		return true // unlimited tier
	}
	ratePerSec := float64(limits.PerMinute) / 60.0
	burst := float64(limits.Burst)
	if burst < 1 {
		burst = 1
	}

	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepLocked(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: burst, lastRefill: now}
		rl.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastRefill).Seconds() * ratePerSec
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastRefill = now
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter estimates how long until the principal's next token, for the
// Retry-After header.
func (rl *RateLimiter) RetryAfter(key string, limits Limits) time.Duration {
	if limits.PerMinute <= 0 {
		return 0
	}
	ratePerSec := float64(limits.PerMinute) / 60.0

	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok || b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(missing / ratePerSec * float64(time.Second))
}

// sweepLocked drops buckets idle past the TTL. Runs at most once per TTL
// window; callers hold the mutex.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < bucketIdleTTL {
		return
	}
	rl.lastSweep = now
	dropped := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(rl.buckets, key)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Debug("Rate limiter swept idle buckets", "dropped", dropped, "remaining", len(rl.buckets))
	}
}

// Middleware enforces the tenant's policy per authenticated principal.
// Unauthenticated requests fall under the anonymous policy keyed by remote
// address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, _ := reqctx.TenantID(r.Context())
		userID := reqctx.UserID(r.Context())

		var key string
		var limits Limits
		if userID != "" && tenantID != "" {
			key = tenantID + ":" + userID
			if rl.source != nil {
				limits = rl.source.Limits(r.Context(), tenantID)
			} else {
				limits = anonymousLimits
			}
		} else {
			key = "anon:" + r.RemoteAddr
			limits = anonymousLimits
		}

		if !rl.Allow(key, limits) {
			retryAfter := rl.RetryAfter(key, limits)
			slog.Warn("Rate limit exceeded",
				"tenant_id", tenantID, "user_id", userID,
				"per_minute", limits.PerMinute, "retry_after", retryAfter.String())

			seconds := int64(retryAfter.Seconds()) + 1
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"errors":["RateLimited"],"retry_after_seconds":` + strconv.FormatInt(seconds, 10) + `}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
