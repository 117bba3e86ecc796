package gateway

import (
	"context"
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/albion/platform/internal/auth"
	"github.com/albion/platform/internal/bonus"
	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/reqctx"
	"github.com/albion/platform/internal/wallet"
)

// RootResolver is the gateway's resolver tree. Tenant and user come from the
// request context placed there by the auth middleware.
type RootResolver struct {
	wallets     *wallet.Service
	bonuses     *bonus.Engine
	bonusStore  bonus.UserBonusStore
	bonusTxs    bonus.TransactionStore
	otp         *auth.OTPService
	twoFactor   *auth.TwoFactorService
	serviceName string
	startedAt   time.Time
}

// NewRootResolver wires the resolver tree.
func NewRootResolver(
	wallets *wallet.Service,
	bonuses *bonus.Engine,
	bonusStore bonus.UserBonusStore,
	bonusTxs bonus.TransactionStore,
	otp *auth.OTPService,
	twoFactor *auth.TwoFactorService,
	serviceName string,
) *RootResolver {
	return &RootResolver{
		wallets:     wallets,
		bonuses:     bonuses,
		bonusStore:  bonusStore,
		bonusTxs:    bonusTxs,
		otp:         otp,
		twoFactor:   twoFactor,
		serviceName: serviceName,
		startedAt:   time.Now(),
	}
}

func principal(ctx context.Context) (tenantID, userID string, err error) {
	tenantID, err = reqctx.TenantID(ctx)
	if err != nil {
		return "", "", apperr.Unauthorized("tenant context missing")
	}
	userID = reqctx.UserID(ctx)
	if userID == "" {
		return "", "", apperr.Unauthorized("user context missing")
	}
	return tenantID, userID, nil
}

// =============================================================================
// QUERY
// =============================================================================

func (r *RootResolver) Wallet(ctx context.Context, args struct{ Currency string }) (*walletResolver, error) {
	tenantID, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	w, err := r.wallets.Get(ctx, tenantID, userID, args.Currency)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	return &walletResolver{w: w}, nil
}

func (r *RootResolver) UserBonuses(ctx context.Context, args PageArgs) (*userBonusConnectionResolver, error) {
	tenantID, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	all, err := r.bonusStore.ListUserBonuses(ctx, tenantID, userID)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}

	start, end, err := pageWindow(args, len(all))
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	return &userBonusConnectionResolver{all: all, start: start, end: end}, nil
}

func (r *RootResolver) BonusTransactions(ctx context.Context, args struct{ UserBonusID graphql.ID }) ([]*bonusTxResolver, error) {
	tenantID, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	ub, err := r.bonusStore.GetUserBonus(ctx, tenantID, string(args.UserBonusID))
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	if ub == nil || ub.UserID != userID {
		return nil, wrapErr(ctx, apperr.NotFound("UserBonusNotFound", "user bonus not found"))
	}

	txs, err := r.bonusTxs.ListBonusTransactions(ctx, ub.ID)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	out := make([]*bonusTxResolver, 0, len(txs))
	for _, tx := range txs {
		out = append(out, &bonusTxResolver{tx: tx})
	}
	return out, nil
}

func (r *RootResolver) Health() *healthResolver {
	return &healthResolver{service: r.serviceName, startedAt: r.startedAt}
}

// =============================================================================
// MUTATION — MONEY
// =============================================================================

type depositInput struct {
	Amount   Long
	Currency string
	SagaID   *graphql.ID
}

func (r *RootResolver) Deposit(ctx context.Context, args struct{ Input depositInput }) (*depositResultResolver, error) {
	tenantID, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}

	sagaID := ""
	if args.Input.SagaID != nil {
		sagaID = string(*args.Input.SagaID)
	}
	res, err := r.wallets.Deposit(ctx, wallet.DepositRequest{
		TenantID: tenantID,
		UserID:   userID,
		Amount:   int64(args.Input.Amount),
		Currency: args.Input.Currency,
		SagaID:   sagaID,
	})
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	return &depositResultResolver{res: res}, nil
}

func (r *RootResolver) Withdraw(ctx context.Context, args struct{ Input depositInput }) (*depositResultResolver, error) {
	tenantID, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}

	sagaID := ""
	if args.Input.SagaID != nil {
		sagaID = string(*args.Input.SagaID)
	}
	res, err := r.wallets.Withdraw(ctx, wallet.WithdrawRequest{
		TenantID: tenantID,
		UserID:   userID,
		Amount:   int64(args.Input.Amount),
		Currency: args.Input.Currency,
		SagaID:   sagaID,
	})
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	return &depositResultResolver{res: res}, nil
}

func (r *RootResolver) ReverseDeposit(ctx context.Context, args struct {
	TransactionID graphql.ID
	Reason        string
}) (*reversalResultResolver, error) {
	tenantID, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	rev, err := r.wallets.ReverseDeposit(ctx, tenantID, userID, string(args.TransactionID), args.Reason)
	if err != nil {
		return &reversalResultResolver{err: err}, nil
	}
	return &reversalResultResolver{txID: rev.ID}, nil
}

// =============================================================================
// MUTATION — BONUS
// =============================================================================

type bonusActivityInput struct {
	UserBonusID      graphql.ID
	Amount           Long
	Currency         string
	TransactionID    *graphql.ID
	ActivityCategory *string
}

func (r *RootResolver) RecordBonusActivity(ctx context.Context, args struct{ Input bonusActivityInput }) (*userBonusResultResolver, error) {
	tenantID, _, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}

	txID := ""
	if args.Input.TransactionID != nil {
		txID = string(*args.Input.TransactionID)
	}
	category := ""
	if args.Input.ActivityCategory != nil {
		category = *args.Input.ActivityCategory
	}
	ub, err := r.bonuses.RecordActivity(ctx, bonus.ActivityRequest{
		TenantID:         tenantID,
		UserBonusID:      string(args.Input.UserBonusID),
		Amount:           int64(args.Input.Amount),
		Currency:         args.Input.Currency,
		TransactionID:    txID,
		ActivityCategory: category,
	})
	if err != nil {
		return &userBonusResultResolver{err: err}, nil
	}
	return &userBonusResultResolver{ub: ub}, nil
}

func (r *RootResolver) ConvertBonus(ctx context.Context, args struct{ UserBonusID graphql.ID }) (*userBonusResultResolver, error) {
	tenantID, _, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	ub, err := r.bonuses.Convert(ctx, tenantID, string(args.UserBonusID))
	if err != nil {
		return &userBonusResultResolver{err: err}, nil
	}
	return &userBonusResultResolver{ub: ub}, nil
}

func (r *RootResolver) ApproveBonus(ctx context.Context, args struct{ Token string }) (*userBonusResultResolver, error) {
	_, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	ub, err := r.bonuses.Approve(ctx, args.Token, userID)
	if err != nil {
		return &userBonusResultResolver{err: err}, nil
	}
	return &userBonusResultResolver{ub: ub}, nil
}

func (r *RootResolver) RejectBonus(ctx context.Context, args struct {
	Token  string
	Reason string
}) (*sagaStatusResolver, error) {
	_, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	if err := r.bonuses.Reject(ctx, args.Token, userID, args.Reason); err != nil {
		return &sagaStatusResolver{err: err}, nil
	}
	return &sagaStatusResolver{}, nil
}

// =============================================================================
// MUTATION — OTP / 2FA
// =============================================================================

type sendOtpInput struct {
	Recipient    string
	Channel      string
	Purpose      string
	ExpiresInSec *int32
}

func (r *RootResolver) SendOtp(ctx context.Context, args struct{ Input sendOtpInput }) (*otpResultResolver, error) {
	tenantID, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}

	expiresIn := time.Duration(0)
	if args.Input.ExpiresInSec != nil {
		expiresIn = time.Duration(*args.Input.ExpiresInSec) * time.Second
	}
	res, err := r.otp.Send(ctx, auth.SendOTPRequest{
		UserID:    userID,
		TenantID:  tenantID,
		Recipient: args.Input.Recipient,
		Channel:   auth.OTPChannel(args.Input.Channel),
		Purpose:   args.Input.Purpose,
		ExpiresIn: expiresIn,
	})
	if err != nil {
		return &otpResultResolver{err: err}, nil
	}
	return &otpResultResolver{res: res}, nil
}

func (r *RootResolver) VerifyOtp(ctx context.Context, args struct {
	Input struct {
		OtpToken string
		Code     string
	}
}) (*sagaStatusResolver, error) {
	tenantID, _, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	if err := r.otp.Verify(ctx, auth.VerifyOTPRequest{
		OTPToken: args.Input.OtpToken,
		Code:     args.Input.Code,
		TenantID: tenantID,
	}); err != nil {
		return &sagaStatusResolver{err: err}, nil
	}
	return &sagaStatusResolver{}, nil
}

func (r *RootResolver) ResendOtp(ctx context.Context, args struct{ OtpToken string }) (*otpResultResolver, error) {
	tenantID, _, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	res, err := r.otp.Resend(ctx, args.OtpToken, tenantID)
	if err != nil {
		return &otpResultResolver{err: err}, nil
	}
	return &otpResultResolver{res: res}, nil
}

func (r *RootResolver) EnableTwoFactor(ctx context.Context, args struct{ Password string }) (*twoFactorResolver, error) {
	tenantID, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	res, err := r.twoFactor.Enable(ctx, tenantID, userID, args.Password)
	if err != nil {
		return &twoFactorResolver{err: err}, nil
	}
	return &twoFactorResolver{res: res}, nil
}

func (r *RootResolver) VerifyTwoFactor(ctx context.Context, args struct{ Token string }) (*sagaStatusResolver, error) {
	tenantID, userID, err := principal(ctx)
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	if err := r.twoFactor.Verify(ctx, tenantID, userID, args.Token); err != nil {
		return &sagaStatusResolver{err: err}, nil
	}
	return &sagaStatusResolver{}, nil
}
