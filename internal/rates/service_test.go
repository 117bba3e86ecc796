package rates

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/platform/apperr"
)

type stubProvider struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (p *stubProvider) FetchRate(context.Context, string, string) (decimal.Decimal, error) {
	p.calls++
	if p.err != nil {
		return decimal.Zero, p.err
	}
	return p.rate, nil
}

func TestRate_IdenticalCurrenciesAreUnity(t *testing.T) {
	svc := NewService(nil, nil)
	rate, err := svc.Rate(context.Background(), "EUR", "EUR")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestRate_ProviderResultIsCached(t *testing.T) {
	provider := &stubProvider{rate: decimal.RequireFromString("1.08")}
	svc := NewService(provider, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rate, err := svc.Rate(ctx, "EUR", "USD")
		require.NoError(t, err)
		assert.Equal(t, "1.08", rate.String())
	}
	assert.Equal(t, 1, provider.calls, "subsequent lookups hit the 5-minute cache")
}

func TestRate_OverrideBeatsProvider(t *testing.T) {
	provider := &stubProvider{rate: decimal.RequireFromString("1.08")}
	overrides := NewMemoryOverrides()
	svc := NewService(provider, overrides)
	ctx := context.Background()

	require.NoError(t, svc.SetOverride(ctx, "EUR", "USD", decimal.RequireFromString("1.20")))

	rate, err := svc.Rate(ctx, "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, "1.2", rate.String())
	assert.Zero(t, provider.calls, "override short-circuits the provider")
}

func TestRate_NoSourcesFailsLoudly(t *testing.T) {
	svc := NewService(nil, nil)

	_, err := svc.Rate(context.Background(), "EUR", "USD")
	require.Error(t, err)
	assert.Equal(t, "RateUnavailable", apperr.CodeOf(err))
}

func TestRate_ProviderFailureNeverGuesses(t *testing.T) {
	provider := &stubProvider{err: errors.New("provider down")}
	svc := NewService(provider, nil)

	_, err := svc.Rate(context.Background(), "EUR", "USD")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestRate_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	provider := &stubProvider{err: errors.New("provider down")}
	svc := NewService(provider, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = svc.Rate(ctx, "EUR", "USD")
	}
	assert.Equal(t, "OPEN", svc.BreakerState())

	callsBefore := provider.calls
	_, err := svc.Rate(ctx, "EUR", "USD")
	require.Error(t, err)
	assert.Equal(t, callsBefore, provider.calls, "open breaker blocks provider calls")
}

func TestRate_RejectsNonPositiveProviderRates(t *testing.T) {
	provider := &stubProvider{rate: decimal.Zero}
	svc := NewService(provider, nil)

	_, err := svc.Rate(context.Background(), "EUR", "USD")
	require.Error(t, err)
	assert.Equal(t, "InvalidRate", apperr.CodeOf(err))
}
