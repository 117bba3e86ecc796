package gateway

import (
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/albion/platform/internal/auth"
	"github.com/albion/platform/internal/bonus"
	"github.com/albion/platform/internal/wallet"
)

// --- Wallet ---

type walletResolver struct{ w *wallet.Wallet }

func (r *walletResolver) ID() graphql.ID         { return graphql.ID(r.w.ID) }
func (r *walletResolver) UserID() graphql.ID     { return graphql.ID(r.w.UserID) }
func (r *walletResolver) Currency() string       { return r.w.Currency }
func (r *walletResolver) Balance() Long          { return Long(r.w.Balance) }
func (r *walletResolver) BonusBalance() Long     { return Long(r.w.BonusBalance) }
func (r *walletResolver) LockedBalance() Long    { return Long(r.w.LockedBalance) }
func (r *walletResolver) AvailableBalance() Long { return Long(r.w.AvailableBalance) }

// --- UserBonus ---

type userBonusResolver struct{ ub *bonus.UserBonus }

func (r *userBonusResolver) ID() graphql.ID         { return graphql.ID(r.ub.ID) }
func (r *userBonusResolver) TemplateCode() string   { return r.ub.TemplateCode }
func (r *userBonusResolver) Type() string           { return string(r.ub.Type) }
func (r *userBonusResolver) Status() string         { return string(r.ub.Status) }
func (r *userBonusResolver) Currency() string       { return r.ub.Currency }
func (r *userBonusResolver) OriginalValue() Long    { return Long(r.ub.OriginalValue) }
func (r *userBonusResolver) CurrentValue() Long     { return Long(r.ub.CurrentValue) }
func (r *userBonusResolver) TurnoverRequired() Long { return Long(r.ub.TurnoverRequired) }
func (r *userBonusResolver) TurnoverProgress() Long { return Long(r.ub.TurnoverProgress) }
func (r *userBonusResolver) ExpiresAt() graphql.Time {
	return graphql.Time{Time: r.ub.ExpiresAt}
}

// --- BonusTransaction ---

type bonusTxResolver struct{ tx *bonus.Transaction }

func (r *bonusTxResolver) ID() graphql.ID             { return graphql.ID(r.tx.ID) }
func (r *bonusTxResolver) Type() string               { return string(r.tx.Type) }
func (r *bonusTxResolver) Amount() Long               { return Long(r.tx.Amount) }
func (r *bonusTxResolver) TurnoverContribution() Long { return Long(r.tx.TurnoverContribution) }
func (r *bonusTxResolver) ActivityCategory() *string {
	if r.tx.ActivityCategory == "" {
		return nil
	}
	category := r.tx.ActivityCategory
	return &category
}
func (r *bonusTxResolver) CreatedAt() graphql.Time { return graphql.Time{Time: r.tx.CreatedAt} }

// --- DepositResult ---

type depositResultResolver struct{ res *wallet.DepositResult }

func (r *depositResultResolver) Success() bool      { return r.res.Success }
func (r *depositResultResolver) SagaID() graphql.ID { return graphql.ID(r.res.SagaID) }
func (r *depositResultResolver) Wallet() *walletResolver {
	if r.res.Wallet == nil {
		return nil
	}
	return &walletResolver{w: r.res.Wallet}
}
func (r *depositResultResolver) Bonus() *userBonusResolver {
	if r.res.Bonus == nil {
		return nil
	}
	return &userBonusResolver{ub: r.res.Bonus}
}
func (r *depositResultResolver) Errors() *[]string { return errStrings(r.res.Err) }
func (r *depositResultResolver) ExecutionTimeMs() int32 {
	return int32(r.res.ExecutionTime.Milliseconds())
}

// --- ReversalResult ---

type reversalResultResolver struct {
	txID string
	err  error
}

func (r *reversalResultResolver) Success() bool { return r.err == nil }
func (r *reversalResultResolver) TransactionID() *graphql.ID {
	if r.txID == "" {
		return nil
	}
	id := graphql.ID(r.txID)
	return &id
}
func (r *reversalResultResolver) Errors() *[]string { return errStrings(r.err) }

// --- UserBonusResult ---

type userBonusResultResolver struct {
	ub           *bonus.UserBonus
	pendingToken string
	err          error
}

func (r *userBonusResultResolver) Success() bool { return r.err == nil }
func (r *userBonusResultResolver) Bonus() *userBonusResolver {
	if r.ub == nil {
		return nil
	}
	return &userBonusResolver{ub: r.ub}
}
func (r *userBonusResultResolver) PendingToken() *string {
	if r.pendingToken == "" {
		return nil
	}
	token := r.pendingToken
	return &token
}
func (r *userBonusResultResolver) Errors() *[]string { return errStrings(r.err) }

// --- SagaStatus ---

type sagaStatusResolver struct{ err error }

func (r *sagaStatusResolver) Success() bool     { return r.err == nil }
func (r *sagaStatusResolver) Errors() *[]string { return errStrings(r.err) }

// --- OtpResult ---

type otpResultResolver struct {
	res *auth.SendOTPResult
	err error
}

func (r *otpResultResolver) Success() bool { return r.err == nil }
func (r *otpResultResolver) OtpToken() *string {
	if r.res == nil {
		return nil
	}
	token := r.res.OTPToken
	return &token
}
func (r *otpResultResolver) ExpiresIn() *int32 {
	if r.res == nil {
		return nil
	}
	expires := int32(r.res.ExpiresIn)
	return &expires
}
func (r *otpResultResolver) Errors() *[]string { return errStrings(r.err) }

// --- TwoFactorEnrollment ---

type twoFactorResolver struct {
	res *auth.EnrollResult
	err error
}

func (r *twoFactorResolver) Success() bool { return r.err == nil }
func (r *twoFactorResolver) Secret() *string {
	if r.res == nil {
		return nil
	}
	return &r.res.Secret
}
func (r *twoFactorResolver) OtpAuthUrl() *string {
	if r.res == nil {
		return nil
	}
	return &r.res.OTPAuthURL
}
func (r *twoFactorResolver) BackupCodes() *[]string {
	if r.res == nil {
		return nil
	}
	return &r.res.BackupCodes
}
func (r *twoFactorResolver) Errors() *[]string { return errStrings(r.err) }

// --- Connection ---

type userBonusConnectionResolver struct {
	all        []*bonus.UserBonus
	start, end int
}

func (r *userBonusConnectionResolver) Nodes() []*userBonusResolver {
	out := make([]*userBonusResolver, 0, r.end-r.start)
	for _, ub := range r.all[r.start:r.end] {
		out = append(out, &userBonusResolver{ub: ub})
	}
	return out
}

func (r *userBonusConnectionResolver) Edges() []*userBonusEdgeResolver {
	out := make([]*userBonusEdgeResolver, 0, r.end-r.start)
	for i, ub := range r.all[r.start:r.end] {
		out = append(out, &userBonusEdgeResolver{ub: ub, offset: r.start + i})
	}
	return out
}

func (r *userBonusConnectionResolver) PageInfo() *pageInfoResolver {
	info := &pageInfoResolver{
		hasNext: r.end < len(r.all),
		hasPrev: r.start > 0,
	}
	if r.end > r.start {
		start := encodeCursor(r.start)
		end := encodeCursor(r.end - 1)
		info.start = &start
		info.end = &end
	}
	return info
}

func (r *userBonusConnectionResolver) TotalCount() int32 { return int32(len(r.all)) }

type userBonusEdgeResolver struct {
	ub     *bonus.UserBonus
	offset int
}

func (r *userBonusEdgeResolver) Node() *userBonusResolver { return &userBonusResolver{ub: r.ub} }
func (r *userBonusEdgeResolver) Cursor() string           { return encodeCursor(r.offset) }

// --- Health ---

type healthResolver struct {
	service   string
	startedAt time.Time
}

func (r *healthResolver) Status() string   { return "ok" }
func (r *healthResolver) Service() string  { return r.service }
func (r *healthResolver) UptimeSec() int32 { return int32(time.Since(r.startedAt).Seconds()) }
