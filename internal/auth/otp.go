package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/albion/platform/internal/pending"
	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/jsonval"
)

// OpOTPVerification is the pending-operation type carrying OTP state.
const OpOTPVerification = "otp_verification"

// resendInterval is the minimum gap between sends for the same token.
const resendInterval = 60 * time.Second

// OTPChannel enumerates delivery channels.
type OTPChannel string

const (
	ChannelEmail    OTPChannel = "email"
	ChannelSMS      OTPChannel = "sms"
	ChannelWhatsApp OTPChannel = "whatsapp"
)

// OTPSender delivers the code out of band. Transport adapters (email, SMS)
// are external collaborators behind this interface.
type OTPSender interface {
	SendCode(ctx context.Context, channel OTPChannel, recipient, code string, purpose string) error
}

// SendOTPRequest describes an OTP issuance.
type SendOTPRequest struct {
	UserID    string
	TenantID  string
	Recipient string
	Channel   OTPChannel
	Purpose   string
	ExpiresIn time.Duration
}

// SendOTPResult carries the opaque token the client echoes back at verify.
type SendOTPResult struct {
	OTPToken  string `json:"otpToken"`
	ExpiresIn int64  `json:"expiresIn"`
}

// VerifyOTPRequest verifies a code against its token.
type VerifyOTPRequest struct {
	OTPToken string
	Code     string
	TenantID string
}

// OTPService issues and verifies one-time codes through the pending store.
// Codes are generated randomly, hashed with SHA-256, and never stored or
// logged in the clear.
type OTPService struct {
	store      pending.Store
	sender     OTPSender
	codeLength int
}

// NewOTPService creates the OTP service. codeLength of zero defaults to 6.
func NewOTPService(store pending.Store, sender OTPSender, codeLength int) *OTPService {
	if codeLength <= 0 {
		codeLength = 6
	}
	return &OTPService{store: store, sender: sender, codeLength: codeLength}
}

// Send generates a code, stores its hash in a pending operation, and
// delivers the code through the configured channel.
func (s *OTPService) Send(ctx context.Context, req SendOTPRequest) (*SendOTPResult, error) {
	if req.Recipient == "" {
		return nil, apperr.Validation("RecipientRequired", "recipient is required")
	}
	if req.ExpiresIn <= 0 {
		req.ExpiresIn = 10 * time.Minute
	}

	code, err := generateNumericCode(s.codeLength)
	if err != nil {
		return nil, err
	}

	token, err := s.store.Create(ctx, OpOTPVerification, jsonval.Map{
		"codeHash":  hashCode(code),
		"tenantId":  req.TenantID,
		"userId":    req.UserID,
		"recipient": req.Recipient,
		"channel":   string(req.Channel),
		"purpose":   req.Purpose,
		"lastSent":  time.Now().UTC().Format(time.RFC3339),
	}, pending.CreateOptions{ExpiresIn: req.ExpiresIn})
	if err != nil {
		return nil, err
	}

	if s.sender != nil {
		if err := s.sender.SendCode(ctx, req.Channel, req.Recipient, code, req.Purpose); err != nil {
			// Drop the unusable token so the recipient cannot be confused by
			// a code that never arrived.
			_, _ = s.store.Delete(ctx, token, OpOTPVerification)
			return nil, apperr.Upstream("OTPDeliveryFailed", err)
		}
	}

	return &SendOTPResult{OTPToken: token, ExpiresIn: int64(req.ExpiresIn.Seconds())}, nil
}

// Verify checks a code against its token. Success consumes the token: a
// second verify with the same token fails.
func (s *OTPService) Verify(ctx context.Context, req VerifyOTPRequest) error {
	op, err := s.store.Verify(ctx, req.OTPToken, OpOTPVerification)
	if err != nil {
		return err
	}
	if op == nil {
		return apperr.Unauthorized("otp token invalid or expired")
	}

	tenantID, _ := op.Data.GetString("tenantId")
	if tenantID != req.TenantID {
		return apperr.Unauthorized("otp token tenant mismatch")
	}

	storedHash, _ := op.Data.GetString("codeHash")
	if subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashCode(req.Code))) != 1 {
		return apperr.Unauthorized("otp code incorrect")
	}

	// Single use: the winning deleter consumes the token; a racing second
	// verify observes deleted=false and fails.
	deleted, err := s.store.Delete(ctx, req.OTPToken, OpOTPVerification)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.Unauthorized("otp already consumed")
	}
	return nil
}

// Resend re-delivers a fresh code for an existing token, enforcing the
// 60-second floor between sends. The old token is consumed and a replacement
// token carrying the new code and the remaining expiry is returned.
func (s *OTPService) Resend(ctx context.Context, otpToken, tenantID string) (*SendOTPResult, error) {
	op, err := s.store.Verify(ctx, otpToken, OpOTPVerification)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, apperr.Unauthorized("otp token invalid or expired")
	}
	if tid, _ := op.Data.GetString("tenantId"); tid != tenantID {
		return nil, apperr.Unauthorized("otp token tenant mismatch")
	}

	if lastSent, ok := op.Data.GetString("lastSent"); ok {
		if t, err := time.Parse(time.RFC3339, lastSent); err == nil {
			if since := time.Since(t); since < resendInterval {
				return nil, apperr.New(apperr.KindRateLimited, "OTPResendTooSoon",
					"wait before requesting another code").WithDetails(
					map[string]interface{}{"retryAfterSec": int64((resendInterval - since).Seconds())})
			}
		}
	}

	// Consume the old token and issue a replacement with the same shape.
	if _, err := s.store.Delete(ctx, otpToken, OpOTPVerification); err != nil {
		return nil, err
	}

	recipient, _ := op.Data.GetString("recipient")
	channel, _ := op.Data.GetString("channel")
	purpose, _ := op.Data.GetString("purpose")
	userID, _ := op.Data.GetString("userId")
	return s.Send(ctx, SendOTPRequest{
		UserID:    userID,
		TenantID:  tenantID,
		Recipient: recipient,
		Channel:   OTPChannel(channel),
		Purpose:   purpose,
		ExpiresIn: time.Until(op.ExpiresAt),
	})
}

// generateNumericCode draws a uniform random numeric code of the given
// length from crypto/rand.
func generateNumericCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
