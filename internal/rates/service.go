// Package rates resolves exchange rates for cross-currency ledger postings.
// Resolution order: persistent manual overrides, fresh cache, then the
// external provider behind a circuit breaker. When every source fails the
// lookup errors; the ledger then rejects the posting. There is never a
// silent fallback rate.
package rates

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/albion/platform/internal/circuitbreaker"
	"github.com/albion/platform/internal/platform/apperr"
)

// cacheWindow is the freshness window for provider rates.
const cacheWindow = 5 * time.Minute

// Provider fetches a rate from an external source.
type Provider interface {
	FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// OverrideStore persists manual rate overrides. Overrides take precedence
// over provider rates and never expire until removed.
type OverrideStore interface {
	GetOverride(ctx context.Context, from, to string) (*decimal.Decimal, error)
	SetOverride(ctx context.Context, from, to string, rate decimal.Decimal) error
	DeleteOverride(ctx context.Context, from, to string) error
}

type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Service resolves rates with caching, overrides, and breaker-protected
// provider calls. Implements ledger.RateSource.
type Service struct {
	provider  Provider
	overrides OverrideStore
	breaker   *circuitbreaker.CircuitBreaker

	mu    sync.RWMutex
	cache map[string]cachedRate
}

// NewService creates a rate service. provider and overrides may each be nil;
// a deployment with neither rejects every cross-currency posting.
func NewService(provider Provider, overrides OverrideStore) *Service {
	return &Service{
		provider:  provider,
		overrides: overrides,
		breaker:   circuitbreaker.New(circuitbreaker.DefaultConfig("exchange-rates")),
		cache:     make(map[string]cachedRate),
	}
}

// Rate resolves the rate for a currency pair. Identical currencies resolve
// to 1 without hitting any source.
func (s *Service) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	key := from + "/" + to

	// Manual overrides win over everything.
	if s.overrides != nil {
		override, err := s.overrides.GetOverride(ctx, from, to)
		if err == nil && override != nil {
			return *override, nil
		}
	}

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < cacheWindow {
		return cached.rate, nil
	}

	if s.provider == nil {
		return decimal.Zero, apperr.Precondition("RateUnavailable",
			"no rate provider configured and no manual override for "+key)
	}

	var rate decimal.Decimal
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		fetched, ferr := s.provider.FetchRate(ctx, from, to)
		if ferr != nil {
			return ferr
		}
		rate = fetched
		return nil
	})
	if err != nil {
		// A stale cache entry is still not a fallback: the freshness window
		// is the contract, so the posting fails.
		return decimal.Zero, apperr.Upstream("RateProviderUnavailable", err).WithDetails(
			map[string]interface{}{"pair": key, "breaker": s.breaker.State().String()})
	}
	if rate.Sign() <= 0 {
		return decimal.Zero, apperr.Precondition("InvalidRate", "provider returned a non-positive rate for "+key)
	}

	s.mu.Lock()
	s.cache[key] = cachedRate{rate: rate, fetchedAt: time.Now()}
	s.mu.Unlock()
	return rate, nil
}

// SetOverride stores a manual rate and drops the cached provider rate.
func (s *Service) SetOverride(ctx context.Context, from, to string, rate decimal.Decimal) error {
	if s.overrides == nil {
		return apperr.Precondition("OverridesUnavailable", "no override store configured")
	}
	if rate.Sign() <= 0 {
		return apperr.Validation("InvalidRate", "override rate must be positive")
	}
	if err := s.overrides.SetOverride(ctx, from, to, rate); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, from+"/"+to)
	s.mu.Unlock()
	return nil
}

// BreakerState exposes the provider breaker state for health checks.
func (s *Service) BreakerState() string {
	return s.breaker.State().String()
}
