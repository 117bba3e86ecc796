package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/albion/platform/internal/identity"
	"github.com/albion/platform/internal/platform/apperr"
)

// backupCodeCount is how many one-time backup codes enrollment issues.
const backupCodeCount = 10

// TwoFactorService manages TOTP enrollment and verification. Backup codes
// are stored hashed in user metadata and consumed on use.
type TwoFactorService struct {
	users  *identity.Users
	issuer string
}

// NewTwoFactorService creates the 2FA service. issuer appears in the
// authenticator app next to the account.
func NewTwoFactorService(users *identity.Users, issuer string) *TwoFactorService {
	if issuer == "" {
		issuer = "platform"
	}
	return &TwoFactorService{users: users, issuer: issuer}
}

// EnrollResult carries the provisioning material for the authenticator app.
type EnrollResult struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpAuthUrl"`
	BackupCodes []string `json:"backupCodes"`
}

// Enable verifies the password, generates the TOTP secret and backup codes,
// and stores them. Two-factor stays inactive until the first successful
// Verify proves the authenticator works.
func (s *TwoFactorService) Enable(ctx context.Context, tenantID, userID, password string) (*EnrollResult, error) {
	user, err := s.users.Get(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.users.VerifyPassword(user, password); err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, apperr.Precondition("TwoFactorAlreadyEnabled", "two-factor is already active")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
		SecretSize:  32,
	})
	if err != nil {
		return nil, err
	}

	codes, hashes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	user.TwoFactorSecret = key.Secret()
	user.TwoFactorEnabled = false
	if err := s.users.SetMetadata(ctx, user, identity.MetaBackupCodes, hashes); err != nil {
		return nil, err
	}

	return &EnrollResult{
		Secret:      key.Secret(),
		OTPAuthURL:  key.URL(),
		BackupCodes: codes,
	}, nil
}

// Verify checks a live TOTP during enrollment and activates two-factor on
// the first success. The validation window is +/- 2 steps.
func (s *TwoFactorService) Verify(ctx context.Context, tenantID, userID, token string) error {
	user, err := s.users.Get(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorSecret == "" {
		return apperr.Precondition("TwoFactorNotEnrolled", "two-factor enrollment has not started")
	}

	if !validateTOTP(token, user.TwoFactorSecret) {
		return apperr.Unauthorized("totp token invalid")
	}

	if !user.TwoFactorEnabled {
		user.TwoFactorEnabled = true
		if err := s.users.Save(ctx, user); err != nil {
			return err
		}
	}
	return nil
}

// VerifyCode accepts either a live TOTP or a one-time backup code. Backup
// codes are consumed on use.
func (s *TwoFactorService) VerifyCode(ctx context.Context, tenantID, userID, code string) error {
	user, err := s.users.Get(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return apperr.Precondition("TwoFactorNotEnabled", "two-factor is not active")
	}

	if validateTOTP(code, user.TwoFactorSecret) {
		return nil
	}

	// Fall back to backup codes.
	raw, ok := user.Metadata["backupCodes"]
	if !ok {
		return apperr.Unauthorized("code invalid")
	}
	hashes, ok := toStringSlice(raw)
	if !ok {
		return apperr.Unauthorized("code invalid")
	}

	codeHash := hashBackupCode(code)
	for i, h := range hashes {
		if h == codeHash {
			remaining := append(append([]string{}, hashes[:i]...), hashes[i+1:]...)
			return s.users.SetMetadata(ctx, user, identity.MetaBackupCodes, remaining)
		}
	}
	return apperr.Unauthorized("code invalid")
}

// validateTOTP accepts a token within a +/- 2 step skew window.
func validateTOTP(token, secret string) bool {
	ok, err := totp.ValidateCustom(token, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      2,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func generateBackupCodes(n int) (codes []string, hashes []string, err error) {
	for i := 0; i < n; i++ {
		buf := make([]byte, 5)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, err
		}
		code := hex.EncodeToString(buf)
		codes = append(codes, code)
		hashes = append(hashes, hashBackupCode(code))
	}
	return codes, hashes, nil
}

func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func toStringSlice(v interface{}) ([]string, bool) {
	switch vals := v.(type) {
	case []string:
		return vals, true
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
