package pending

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/platform/jsonval"
)

func TestMemoryStore_CreateVerifyRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	token, err := store.Create(ctx, "kyc_approval", jsonval.Map{"documentId": "doc-1"}, CreateOptions{
		ExpiresIn: time.Minute,
		Metadata:  jsonval.Map{"requestedBy": "admin-1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	op, err := store.Verify(ctx, token, "kyc_approval")
	require.NoError(t, err)
	require.NotNil(t, op)

	docID, ok := op.Data.GetString("documentId")
	require.True(t, ok)
	assert.Equal(t, "doc-1", docID)
	assert.WithinDuration(t, time.Now().Add(time.Minute), op.ExpiresAt, 2*time.Second)
}

func TestMemoryStore_VerifyIsSideEffectFree(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	token, err := store.Create(ctx, "op", jsonval.Map{"k": "v"}, CreateOptions{ExpiresIn: time.Minute})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		op, err := store.Verify(ctx, token, "op")
		require.NoError(t, err)
		require.NotNil(t, op, "verify must be repeatable until delete")
	}
}

func TestMemoryStore_WrongOpTypeVerifiesToNothing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	token, err := store.Create(ctx, "otp_verification", jsonval.Map{}, CreateOptions{ExpiresIn: time.Minute})
	require.NoError(t, err)

	op, err := store.Verify(ctx, token, "kyc_approval")
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestMemoryStore_SingleUseRace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	token, err := store.Create(ctx, "op", jsonval.Map{}, CreateOptions{ExpiresIn: time.Minute})
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.Delete(ctx, token, "op")
			require.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one deleter wins the race")

	op, err := store.Verify(ctx, token, "op")
	require.NoError(t, err)
	assert.Nil(t, op, "verify after delete returns nothing")
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	token, err := store.Create(ctx, "op", jsonval.Map{}, CreateOptions{ExpiresIn: 30 * time.Millisecond})
	require.NoError(t, err)

	op, err := store.Verify(ctx, token, "op")
	require.NoError(t, err)
	require.NotNil(t, op, "verifies within the window")

	time.Sleep(60 * time.Millisecond)
	op, err = store.Verify(ctx, token, "op")
	require.NoError(t, err)
	assert.Nil(t, op, "fails after expiry")
}

func TestJWTStore_RoundTrip(t *testing.T) {
	store := NewJWTStore("signing-secret")
	ctx := context.Background()

	token, err := store.Create(ctx, "bonus", jsonval.Map{"templateId": "tpl-1"}, CreateOptions{
		ExpiresIn: time.Minute,
	})
	require.NoError(t, err)

	op, err := store.Verify(ctx, token, "bonus")
	require.NoError(t, err)
	require.NotNil(t, op)
	templateID, _ := op.Data.GetString("templateId")
	assert.Equal(t, "tpl-1", templateID)

	// Wrong operation type.
	op, err = store.Verify(ctx, token, "otp_verification")
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestJWTStore_TamperedTokenFails(t *testing.T) {
	store := NewJWTStore("signing-secret")
	other := NewJWTStore("different-secret")
	ctx := context.Background()

	token, err := other.Create(ctx, "bonus", jsonval.Map{}, CreateOptions{ExpiresIn: time.Minute})
	require.NoError(t, err)

	op, err := store.Verify(ctx, token, "bonus")
	require.NoError(t, err)
	assert.Nil(t, op, "token signed with another secret must not verify")
}

func TestJWTStore_DeleteIsStatelessNoOp(t *testing.T) {
	store := NewJWTStore("signing-secret")
	ctx := context.Background()

	token, err := store.Create(ctx, "bonus", jsonval.Map{}, CreateOptions{ExpiresIn: time.Minute})
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, token, "bonus")
	require.NoError(t, err)
	assert.False(t, deleted, "jwt backend cannot consume tokens server-side")
}

func TestJWTStore_ExpiredTokenFails(t *testing.T) {
	store := NewJWTStore("signing-secret")
	ctx := context.Background()

	token, err := store.Create(ctx, "bonus", jsonval.Map{}, CreateOptions{ExpiresIn: -time.Minute})
	require.NoError(t, err)

	op, err := store.Verify(ctx, token, "bonus")
	require.NoError(t, err)
	assert.Nil(t, op)
}
