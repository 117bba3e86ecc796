package auth

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/identity"
)

func newTwoFactor(t *testing.T) (*TwoFactorService, *identity.Users, *identity.User) {
	t.Helper()
	users := identity.NewUsers(identity.NewMemoryStore())
	user, err := users.Create(context.Background(), "t1", "user@example.com", "correct-horse")
	require.NoError(t, err)
	return NewTwoFactorService(users, "platform-test"), users, user
}

func liveCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)
	return code
}

func TestTwoFactor_EnrollmentFlow(t *testing.T) {
	svc, users, user := newTwoFactor(t)
	ctx := context.Background()

	enrollment, err := svc.Enable(ctx, "t1", user.ID, "correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.OTPAuthURL, "otpauth://")
	assert.Len(t, enrollment.BackupCodes, backupCodeCount)

	// Not active until the first verification proves the authenticator.
	stored, err := users.Get(ctx, "t1", user.ID)
	require.NoError(t, err)
	assert.False(t, stored.TwoFactorEnabled)

	require.NoError(t, svc.Verify(ctx, "t1", user.ID, liveCode(t, enrollment.Secret)))

	stored, err = users.Get(ctx, "t1", user.ID)
	require.NoError(t, err)
	assert.True(t, stored.TwoFactorEnabled)
}

func TestTwoFactor_EnableRejectsWrongPassword(t *testing.T) {
	svc, _, user := newTwoFactor(t)
	_, err := svc.Enable(context.Background(), "t1", user.ID, "wrong")
	assert.Error(t, err)
}

func TestTwoFactor_VerifyCodeAcceptsLiveTOTP(t *testing.T) {
	svc, _, user := newTwoFactor(t)
	ctx := context.Background()

	enrollment, err := svc.Enable(ctx, "t1", user.ID, "correct-horse")
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, "t1", user.ID, liveCode(t, enrollment.Secret)))

	assert.NoError(t, svc.VerifyCode(ctx, "t1", user.ID, liveCode(t, enrollment.Secret)))
	assert.Error(t, svc.VerifyCode(ctx, "t1", user.ID, "123456"))
}

func TestTwoFactor_BackupCodesConsumeOnUse(t *testing.T) {
	svc, _, user := newTwoFactor(t)
	ctx := context.Background()

	enrollment, err := svc.Enable(ctx, "t1", user.ID, "correct-horse")
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, "t1", user.ID, liveCode(t, enrollment.Secret)))

	backup := enrollment.BackupCodes[0]
	require.NoError(t, svc.VerifyCode(ctx, "t1", user.ID, backup))
	assert.Error(t, svc.VerifyCode(ctx, "t1", user.ID, backup), "backup codes are single use")

	// The remaining codes still work.
	require.NoError(t, svc.VerifyCode(ctx, "t1", user.ID, enrollment.BackupCodes[1]))
}
