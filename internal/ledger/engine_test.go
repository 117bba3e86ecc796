package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/reqctx"
)

func userSpec(userID, currency string) AccountSpec {
	return AccountSpec{
		OwnerType: OwnerUser,
		OwnerID:   userID,
		Subtype:   SubtypeMain,
		Currency:  currency,
		TenantID:  "t1",
	}
}

func floatAccount(currency string) AccountSpec {
	return AccountSpec{
		OwnerType:     OwnerSystem,
		OwnerID:       "t1",
		Subtype:       SubtypeFloat,
		Currency:      currency,
		AllowNegative: true,
		TenantID:      "t1",
	}
}

// fund moves amount from the float into a user account.
func fund(t *testing.T, e *Engine, userID, currency string, amount int64) *Transaction {
	t.Helper()
	tx, err := e.Post(context.Background(), PostRequest{
		Type:     "deposit",
		From:     floatAccount(currency),
		To:       userSpec(userID, currency),
		Amount:   amount,
		Currency: currency,
	})
	require.NoError(t, err)
	return tx
}

// assertZeroSum checks invariant I2: balances per currency sum to zero.
func assertZeroSum(t *testing.T, store Store) {
	t.Helper()
	accounts, err := store.ListAccounts(context.Background())
	require.NoError(t, err)
	sums := map[string]int64{}
	for _, a := range accounts {
		sums[a.Currency] += a.Balance
	}
	for currency, sum := range sums {
		assert.Zerof(t, sum, "currency %s must sum to zero", currency)
	}
}

func TestAccountID_Deterministic(t *testing.T) {
	a := AccountID(OwnerUser, "u1", SubtypeMain, "EUR")
	b := AccountID(OwnerUser, "u1", SubtypeMain, "EUR")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, AccountID(OwnerUser, "u1", SubtypeBonus, "EUR"))
	assert.NotEqual(t, a, AccountID(OwnerUser, "u1", SubtypeMain, "USD"))
}

func TestPost_BalancesSumToZero(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store, nil)

	fund(t, e, "u1", "EUR", 10_000)
	fund(t, e, "u2", "EUR", 2_500)

	_, err := e.Post(context.Background(), PostRequest{
		Type:     "transfer",
		From:     userSpec("u1", "EUR"),
		To:       userSpec("u2", "EUR"),
		Amount:   4_000,
		Currency: "EUR",
	})
	require.NoError(t, err)

	assertZeroSum(t, store)

	balance, err := e.GetBalance(context.Background(), userSpec("u1", "EUR").ID())
	require.NoError(t, err)
	assert.EqualValues(t, 6_000, balance.Balance)
}

func TestPost_RejectsInvalidRequests(t *testing.T) {
	e := NewEngine(NewMemoryStore(), nil)
	ctx := context.Background()

	_, err := e.Post(ctx, PostRequest{
		From: userSpec("u1", "EUR"), To: userSpec("u2", "EUR"),
		Amount: 0, Currency: "EUR",
	})
	assert.Error(t, err, "zero amount")

	_, err = e.Post(ctx, PostRequest{
		From: userSpec("u1", "EUR"), To: userSpec("u1", "EUR"),
		Amount: 100, Currency: "EUR",
	})
	require.Error(t, err, "same account")
	assert.Equal(t, "SameAccount", apperr.CodeOf(err))
}

func TestPost_ExternalRefIdempotency(t *testing.T) {
	e := NewEngine(NewMemoryStore(), nil)
	fund(t, e, "u1", "EUR", 10_000)

	req := PostRequest{
		Type:        "payment",
		From:        userSpec("u1", "EUR"),
		To:          userSpec("u2", "EUR"),
		Amount:      1_000,
		Currency:    "EUR",
		ExternalRef: "saga-abc",
	}
	first, err := e.Post(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Post(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same externalRef returns the original transaction")

	balance, err := e.GetBalance(context.Background(), userSpec("u1", "EUR").ID())
	require.NoError(t, err)
	assert.EqualValues(t, 9_000, balance.Balance, "redelivery must not double-debit")
}

func TestPost_InsufficientFunds(t *testing.T) {
	e := NewEngine(NewMemoryStore(), nil)
	fund(t, e, "u1", "EUR", 500)

	_, err := e.Post(context.Background(), PostRequest{
		Type: "payment", From: userSpec("u1", "EUR"), To: userSpec("u2", "EUR"),
		Amount: 501, Currency: "EUR",
	})
	require.Error(t, err)
	assert.Equal(t, "InsufficientFunds", apperr.CodeOf(err))
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func TestPost_CreditLimitAllowsBoundedNegative(t *testing.T) {
	e := NewEngine(NewMemoryStore(), nil)
	ctx := context.Background()

	account := AccountSpec{
		OwnerType: OwnerUser, OwnerID: "u1", Subtype: SubtypeMain,
		Currency: "EUR", AllowNegative: true, CreditLimit: 1_000, TenantID: "t1",
	}
	_, err := e.Post(ctx, PostRequest{
		Type: "payment", From: account, To: userSpec("u2", "EUR"),
		Amount: 900, Currency: "EUR",
	})
	require.NoError(t, err, "within credit limit")

	_, err = e.Post(ctx, PostRequest{
		Type: "payment", From: account, To: userSpec("u2", "EUR"),
		Amount: 200, Currency: "EUR",
	})
	require.Error(t, err)
	assert.Equal(t, "CreditLimitExceeded", apperr.CodeOf(err))
}

func TestPost_PermissionOverridesBalanceCheck(t *testing.T) {
	e := NewEngine(NewMemoryStore(), nil)
	ctx := reqctx.WithPermissions(context.Background(), []string{PermAllowNegative})

	_, err := e.Post(ctx, PostRequest{
		Type: "adjustment", From: userSpec("u1", "EUR"), To: userSpec("u2", "EUR"),
		Amount: 5_000, Currency: "EUR",
	})
	assert.NoError(t, err, "allowNegative privilege bypasses the debit check")
}

func TestPost_CrossCurrencyWithoutRateFails(t *testing.T) {
	e := NewEngine(NewMemoryStore(), nil) // no rate source
	fund(t, e, "u1", "EUR", 10_000)

	_, err := e.Post(context.Background(), PostRequest{
		Type:       "exchange",
		From:       userSpec("u1", "EUR"),
		To:         userSpec("u1", "USD"),
		Amount:     1_000,
		Currency:   "EUR",
		ToCurrency: "USD",
	})
	require.Error(t, err, "no silent conversion, ever")
	assert.Equal(t, "RateUnavailable", apperr.CodeOf(err))
}

func TestPost_CrossCurrencyWithExplicitRate(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store, nil)
	fund(t, e, "u1", "EUR", 10_000)

	rate := decimal.RequireFromString("1.08")
	tx, err := e.Post(context.Background(), PostRequest{
		Type:       "exchange",
		From:       userSpec("u1", "EUR"),
		To:         userSpec("u1", "USD"),
		Amount:     1_000,
		Currency:   "EUR",
		ToCurrency: "USD",
		Rate:       &rate,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1_080, tx.CreditAmount)
	assert.Equal(t, "1.08", tx.ExchangeRate)

	usd, err := e.GetBalance(context.Background(), userSpec("u1", "USD").ID())
	require.NoError(t, err)
	assert.EqualValues(t, 1_080, usd.Balance)
}

func TestHold_ReducesAvailableNotBalance(t *testing.T) {
	e := NewEngine(NewMemoryStore(), nil)
	fund(t, e, "u1", "EUR", 10_000)
	ctx := context.Background()

	h, err := e.PlaceHold(ctx, HoldRequest{
		Account: userSpec("u1", "EUR"), Amount: 4_000, Currency: "EUR", Reason: "withdrawal",
	})
	require.NoError(t, err)

	balance, err := e.GetBalance(ctx, userSpec("u1", "EUR").ID())
	require.NoError(t, err)
	assert.EqualValues(t, 10_000, balance.Balance)
	assert.EqualValues(t, 6_000, balance.AvailableBalance)
	assert.EqualValues(t, 4_000, balance.PendingOut)
	assert.LessOrEqual(t, balance.AvailableBalance, balance.Balance, "I3")

	// Held funds cannot be spent.
	_, err = e.Post(ctx, PostRequest{
		Type: "payment", From: userSpec("u1", "EUR"), To: userSpec("u2", "EUR"),
		Amount: 7_000, Currency: "EUR",
	})
	require.Error(t, err)

	require.NoError(t, e.ReleaseHold(ctx, h.ID))
	balance, err = e.GetBalance(ctx, userSpec("u1", "EUR").ID())
	require.NoError(t, err)
	assert.EqualValues(t, 10_000, balance.AvailableBalance)
}

func TestHold_CaptureMovesFunds(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store, nil)
	fund(t, e, "u1", "EUR", 10_000)
	ctx := context.Background()

	h, err := e.PlaceHold(ctx, HoldRequest{
		Account: userSpec("u1", "EUR"), Amount: 4_000, Currency: "EUR", Reason: "withdrawal",
	})
	require.NoError(t, err)

	tx, err := e.CaptureHold(ctx, h.ID, floatAccount("EUR"), "withdrawal", "wd-1")
	require.NoError(t, err)
	assert.EqualValues(t, 4_000, tx.Amount)

	balance, err := e.GetBalance(ctx, userSpec("u1", "EUR").ID())
	require.NoError(t, err)
	assert.EqualValues(t, 6_000, balance.Balance)
	assert.EqualValues(t, 6_000, balance.AvailableBalance)
	assertZeroSum(t, store)

	// A captured hold cannot release or capture again.
	assert.Error(t, e.ReleaseHold(ctx, h.ID))
	_, err = e.CaptureHold(ctx, h.ID, floatAccount("EUR"), "withdrawal", "wd-2")
	assert.Error(t, err)
}

func TestSweepExpiredHolds(t *testing.T) {
	e := NewEngine(NewMemoryStore(), nil)
	fund(t, e, "u1", "EUR", 10_000)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, err := e.PlaceHold(ctx, HoldRequest{
		Account: userSpec("u1", "EUR"), Amount: 1_000, Currency: "EUR",
		Reason: "stale", ExpiresAt: &past,
	})
	require.NoError(t, err)

	released, err := e.SweepExpiredHolds(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	balance, err := e.GetBalance(ctx, userSpec("u1", "EUR").ID())
	require.NoError(t, err)
	assert.EqualValues(t, 10_000, balance.AvailableBalance)
}

func TestReverse_RetainsBothTransactions(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store, nil)
	ctx := context.Background()

	deposit := fund(t, e, "u1", "EUR", 10_000)

	rev, err := e.Reverse(ctx, deposit.ID, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, "reversal", rev.Type)
	assert.Equal(t, deposit.ID, rev.ReversesID)

	original, err := store.GetTransaction(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReversed, original.Status)
	assert.Equal(t, rev.ID, original.ReversedByID)

	balance, err := e.GetBalance(ctx, userSpec("u1", "EUR").ID())
	require.NoError(t, err)
	assert.Zero(t, balance.Balance, "balance returns to prior value")
	assertZeroSum(t, store)

	// Reversing twice is a precondition failure; the first reversal stands.
	_, err = e.Reverse(ctx, deposit.ID, "again")
	require.Error(t, err)
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func TestConcurrentPosts_SerializePerAccount(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store, nil)
	fund(t, e, "u1", "EUR", 100_000)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Transfers in both directions between the same two accounts:
			// sorted lock order keeps this deadlock-free.
			_, _ = e.Post(context.Background(), PostRequest{
				Type: "transfer", From: userSpec("u1", "EUR"), To: userSpec("u2", "EUR"),
				Amount: 100, Currency: "EUR",
			})
			_, _ = e.Post(context.Background(), PostRequest{
				Type: "transfer", From: userSpec("u2", "EUR"), To: userSpec("u1", "EUR"),
				Amount: 50, Currency: "EUR",
			})
		}()
	}
	wg.Wait()
	assertZeroSum(t, store)
}

func TestReconciler_DetectsDriftWithoutCorrecting(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store, nil)
	ctx := context.Background()

	fund(t, e, "u1", "EUR", 5_000)

	reconciler := NewReconciler(store)
	drift, err := reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift, "clean ledger reconciles clean")

	// Corrupt a materialized balance directly.
	require.NoError(t, store.ApplyBalanceDelta(ctx, userSpec("u1", "EUR").ID(), 123, time.Now()))

	drift, err = reconciler.Run(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.EqualValues(t, 123, drift[0].Difference)

	// The drift is reported, not corrected.
	account, err := store.GetAccount(ctx, userSpec("u1", "EUR").ID())
	require.NoError(t, err)
	assert.EqualValues(t, 5_123, account.Balance)
}
