package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(ctx context.Context) error    { return errors.New("boom") }
func succeeding(ctx context.Context) error { return nil }

func testConfig(timeout time.Duration) *Config {
	return &Config{
		Name:        "test",
		MaxRequests: 2,
		Interval:    2 * time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(c Counts) bool { return c.TotalFailures >= 5 },
	}
}

func TestBreaker_OpensAfterFiveFailures(t *testing.T) {
	cb := New(testConfig(time.Minute))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.Error(t, cb.Execute(ctx, failing))
		assert.Equal(t, StateClosed, cb.State())
	}
	require.Error(t, cb.Execute(ctx, failing))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(ctx, succeeding)
	assert.ErrorIs(t, err, ErrCircuitOpen, "open breaker rejects without executing")
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cb := New(testConfig(20 * time.Millisecond))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, failing)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// MaxRequests consecutive successes close the breaker.
	require.NoError(t, cb.Execute(ctx, succeeding))
	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig(20 * time.Millisecond))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, failing)
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(ctx, failing)
	assert.Equal(t, StateOpen, cb.State())
}

func TestManager_SharesBreakersByName(t *testing.T) {
	m := NewManager(nil)
	a := m.Get("rates")
	b := m.Get("rates")
	assert.Same(t, a, b)

	c := m.Get("webhooks")
	assert.NotSame(t, a, c)

	states := m.States()
	assert.Len(t, states, 2)
	assert.Equal(t, "CLOSED", states["rates"])
}
