package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuer_PairRoundTrip(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour, 7*24*time.Hour)

	pair, err := issuer.IssuePair("user-1", "tenant-1", []string{"player"}, []string{"wallet:read:own"})
	require.NoError(t, err)
	assert.EqualValues(t, 3600, pair.ExpiresIn)

	claims, err := issuer.Verify(pair.AccessToken, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, []string{"wallet:read:own"}, claims.Permissions)

	refresh, err := issuer.Verify(pair.RefreshToken, TokenRefresh)
	require.NoError(t, err)
	assert.Empty(t, refresh.Permissions, "refresh tokens carry identity only")
}

func TestIssuer_RejectsWrongTokenType(t *testing.T) {
	issuer := NewIssuer("test-secret", 0, 0)

	pair, err := issuer.IssuePair("user-1", "tenant-1", nil, nil)
	require.NoError(t, err)

	_, err = issuer.Verify(pair.RefreshToken, TokenAccess)
	assert.Error(t, err, "refresh token must not pass as access")
	_, err = issuer.Verify(pair.AccessToken, TokenRefresh)
	assert.Error(t, err, "access token must not pass as refresh")
}

func TestIssuer_RejectsForeignSignature(t *testing.T) {
	a := NewIssuer("secret-a", 0, 0)
	b := NewIssuer("secret-b", 0, 0)

	pair, err := a.IssuePair("user-1", "tenant-1", nil, nil)
	require.NoError(t, err)

	_, err = b.Verify(pair.AccessToken, TokenAccess)
	assert.Error(t, err)
}

func TestIssuer_ExpiredTokenFails(t *testing.T) {
	issuer := NewIssuer("test-secret", -time.Minute, 0)

	pair, err := issuer.IssuePair("user-1", "tenant-1", nil, nil)
	require.NoError(t, err)

	_, err = issuer.Verify(pair.AccessToken, TokenAccess)
	assert.Error(t, err)
}
