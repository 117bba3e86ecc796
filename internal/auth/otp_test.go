package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/pending"
	"github.com/albion/platform/internal/platform/apperr"
)

// recordingSender captures codes instead of delivering them.
type recordingSender struct {
	lastCode      string
	lastRecipient string
	sends         int
}

func (s *recordingSender) SendCode(_ context.Context, _ OTPChannel, recipient, code, _ string) error {
	s.lastCode = code
	s.lastRecipient = recipient
	s.sends++
	return nil
}

func newOTP(t *testing.T) (*OTPService, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	return NewOTPService(pending.NewMemoryStore(), sender, 6), sender
}

// Scenario S4: issue, verify, re-verify, wrong code.
func TestOTP_Lifecycle(t *testing.T) {
	svc, sender := newOTP(t)
	ctx := context.Background()

	issued, err := svc.Send(ctx, SendOTPRequest{
		TenantID:  "t1",
		Recipient: "user1@example.com",
		Channel:   ChannelEmail,
		Purpose:   "login",
		ExpiresIn: 10 * time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, issued.OTPToken)
	assert.EqualValues(t, 600, issued.ExpiresIn)
	require.Len(t, sender.lastCode, 6)
	assert.Equal(t, "user1@example.com", sender.lastRecipient)

	// Correct code within the window succeeds.
	require.NoError(t, svc.Verify(ctx, VerifyOTPRequest{
		OTPToken: issued.OTPToken, Code: sender.lastCode, TenantID: "t1",
	}))

	// The token is consumed: a second verify fails.
	err = svc.Verify(ctx, VerifyOTPRequest{
		OTPToken: issued.OTPToken, Code: sender.lastCode, TenantID: "t1",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestOTP_WrongCodeFailsWithoutConsuming(t *testing.T) {
	svc, sender := newOTP(t)
	ctx := context.Background()

	issued, err := svc.Send(ctx, SendOTPRequest{
		TenantID: "t1", Recipient: "x@example.com", Channel: ChannelEmail, Purpose: "login",
	})
	require.NoError(t, err)

	wrong := "000000"
	if sender.lastCode == wrong {
		wrong = "111111"
	}
	require.Error(t, svc.Verify(ctx, VerifyOTPRequest{
		OTPToken: issued.OTPToken, Code: wrong, TenantID: "t1",
	}))

	// The right code still works afterwards.
	require.NoError(t, svc.Verify(ctx, VerifyOTPRequest{
		OTPToken: issued.OTPToken, Code: sender.lastCode, TenantID: "t1",
	}))
}

func TestOTP_TenantMismatchFails(t *testing.T) {
	svc, sender := newOTP(t)
	ctx := context.Background()

	issued, err := svc.Send(ctx, SendOTPRequest{
		TenantID: "t1", Recipient: "x@example.com", Channel: ChannelSMS, Purpose: "login",
	})
	require.NoError(t, err)

	err = svc.Verify(ctx, VerifyOTPRequest{
		OTPToken: issued.OTPToken, Code: sender.lastCode, TenantID: "t2",
	})
	assert.Error(t, err)
}

func TestOTP_ExpiredTokenFails(t *testing.T) {
	svc, sender := newOTP(t)
	ctx := context.Background()

	issued, err := svc.Send(ctx, SendOTPRequest{
		TenantID: "t1", Recipient: "x@example.com", Channel: ChannelEmail,
		Purpose: "login", ExpiresIn: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	err = svc.Verify(ctx, VerifyOTPRequest{
		OTPToken: issued.OTPToken, Code: sender.lastCode, TenantID: "t1",
	})
	assert.Error(t, err, "OTP created with expiry T must fail after T")
}

func TestOTP_ResendEnforcesMinimumInterval(t *testing.T) {
	svc, _ := newOTP(t)
	ctx := context.Background()

	issued, err := svc.Send(ctx, SendOTPRequest{
		TenantID: "t1", Recipient: "x@example.com", Channel: ChannelEmail, Purpose: "login",
	})
	require.NoError(t, err)

	_, err = svc.Resend(ctx, issued.OTPToken, "t1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
}

func TestOTP_CodesAreRandom(t *testing.T) {
	svc, sender := newOTP(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		_, err := svc.Send(ctx, SendOTPRequest{
			TenantID: "t1", Recipient: "x@example.com", Channel: ChannelEmail, Purpose: "login",
		})
		require.NoError(t, err)
		seen[sender.lastCode] = true
	}
	assert.Greater(t, len(seen), 1, "codes must not be constant")
	assert.False(t, seen["000000"] && len(seen) == 1, "the hardcoded test code must never be the only output")
}
