package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/albion/platform/internal/metrics"
	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/jsonval"
	"github.com/albion/platform/internal/platform/reqctx"
)

// PermAllowNegative is the caller privilege that overrides the debit-side
// balance check for a single posting.
const PermAllowNegative = "allowNegative"

// RateSource supplies exchange rates for cross-currency postings. The rate
// must be fresh within the source's window; a source that cannot resolve a
// rate errors, it never guesses.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// AccountSpec addresses a ledger account by its identity tuple. Accounts are
// opened lazily on first posting.
type AccountSpec struct {
	OwnerType     OwnerType
	OwnerID       string
	Subtype       string
	Currency      string
	AllowNegative bool
	CreditLimit   int64
	TenantID      string
}

// ID derives the deterministic account id for the spec.
func (s AccountSpec) ID() string {
	return AccountID(s.OwnerType, s.OwnerID, s.Subtype, s.Currency)
}

// PostRequest describes one posting. Cross-currency postings set ToCurrency;
// the rate comes from the engine's RateSource unless Rate is supplied.
type PostRequest struct {
	Type        string
	From        AccountSpec
	To          AccountSpec
	Amount      int64
	Currency    string
	ToCurrency  string
	Rate        *decimal.Decimal
	Description string
	ExternalRef string
	Metadata    jsonval.Map
}

// HoldRequest reserves funds on an account.
type HoldRequest struct {
	Account   AccountSpec
	Amount    int64
	Currency  string
	Reason    string
	ExpiresAt *time.Time
}

// Engine executes ledger operations. Concurrent postings on the same account
// are serialized by advisory locks acquired in sorted id order.
type Engine struct {
	store Store
	rates RateSource
	locks *accountLocks
}

// NewEngine creates a ledger engine. rates may be nil; cross-currency
// postings then require an explicit rate and otherwise fail.
func NewEngine(store Store, rates RateSource) *Engine {
	return &Engine{store: store, rates: rates, locks: newAccountLocks()}
}

// Post writes one double-entry transaction. A second call with the same
// externalRef returns the original transaction unchanged.
func (e *Engine) Post(ctx context.Context, req PostRequest) (*Transaction, error) {
	if req.Amount <= 0 {
		return nil, apperr.Validation("InvalidAmount", "amount must be positive")
	}
	if req.Currency == "" {
		req.Currency = req.From.Currency
	}
	if req.Currency != req.From.Currency {
		return nil, apperr.Validation("CurrencyMismatch", "posting currency does not match the from-account currency")
	}

	fromID, toID := req.From.ID(), req.To.ID()
	if fromID == toID {
		return nil, apperr.Validation("SameAccount", "from and to account are identical")
	}

	crossCurrency := req.ToCurrency != "" && req.ToCurrency != req.Currency
	if !crossCurrency && req.To.Currency != req.Currency {
		return nil, apperr.Validation("CurrencyMismatch", "single-currency posting onto a differently denominated account")
	}

	var rate decimal.Decimal
	creditAmount := req.Amount
	if crossCurrency {
		if req.To.Currency != req.ToCurrency {
			return nil, apperr.Validation("CurrencyMismatch", "toCurrency does not match the to-account currency")
		}
		var err error
		rate, err = e.resolveRate(ctx, req)
		if err != nil {
			return nil, err
		}
		creditAmount = decimal.NewFromInt(req.Amount).Mul(rate).Floor().IntPart()
		if creditAmount <= 0 {
			return nil, apperr.Validation("InvalidAmount", "converted amount rounds to zero")
		}
	}

	release := e.locks.Acquire(fromID, toID)
	defer release()

	// Idempotency: a redelivered saga returns the original posting.
	if req.ExternalRef != "" {
		existing, err := e.store.GetTransactionByExternalRef(ctx, req.ExternalRef)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	from, err := e.ensureAccount(ctx, req.From)
	if err != nil {
		return nil, err
	}
	if _, err := e.ensureAccount(ctx, req.To); err != nil {
		return nil, err
	}

	if err := e.authorizeDebit(ctx, from, req.Amount); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:            uuid.New().String(),
		Type:          req.Type,
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		ExternalRef:   req.ExternalRef,
		Status:        StatusCommitted,
		Metadata:      req.Metadata,
		CreatedAt:     now,
	}
	if crossCurrency {
		tx.FromCurrency = req.Currency
		tx.ToCurrency = req.ToCurrency
		tx.CreditAmount = creditAmount
		tx.ExchangeRate = rate.String()
	}

	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict && req.ExternalRef != "" {
			// Lost the uniqueness race: return the winner's transaction.
			existing, ferr := e.store.GetTransactionByExternalRef(ctx, req.ExternalRef)
			if ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := e.store.ApplyBalanceDelta(ctx, fromID, -req.Amount, now); err != nil {
		return nil, err
	}
	if err := e.store.ApplyBalanceDelta(ctx, toID, creditAmount, now); err != nil {
		return nil, err
	}

	metrics.LedgerPostings.WithLabelValues(req.Type).Inc()
	return tx, nil
}

// PlaceHold reserves funds against an account's available balance.
func (e *Engine) PlaceHold(ctx context.Context, req HoldRequest) (*Hold, error) {
	if req.Amount <= 0 {
		return nil, apperr.Validation("InvalidAmount", "hold amount must be positive")
	}
	if req.Currency != req.Account.Currency {
		return nil, apperr.Validation("CurrencyMismatch", "hold currency does not match the account")
	}

	accountID := req.Account.ID()
	release := e.locks.Acquire(accountID)
	defer release()

	account, err := e.ensureAccount(ctx, req.Account)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeDebit(ctx, account, req.Amount); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	h := &Hold{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reason:    req.Reason,
		ExpiresAt: req.ExpiresAt,
		Status:    HoldActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.InsertHold(ctx, h); err != nil {
		return nil, err
	}
	metrics.LedgerHolds.WithLabelValues("placed").Inc()
	return h, nil
}

// CaptureHold converts an active hold into a posting toward the target
// account supplied at capture time. The hold guaranteed availability when it
// was placed, so no further balance check applies.
func (e *Engine) CaptureHold(ctx context.Context, holdID string, to AccountSpec, txType, externalRef string) (*Transaction, error) {
	h, err := e.store.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, apperr.NotFound("HoldNotFound", "hold "+holdID+" not found")
	}

	toID := to.ID()
	release := e.locks.Acquire(h.AccountID, toID)
	defer release()

	// Re-read under the lock: a concurrent release or sweep may have won.
	h, err = e.store.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if h.Status != HoldActive {
		return nil, apperr.Precondition("HoldNotActive", "hold is "+string(h.Status))
	}

	from, err := e.store.GetAccount(ctx, h.AccountID)
	if err != nil {
		return nil, err
	}
	if from == nil {
		return nil, apperr.NotFound("AccountNotFound", "hold account missing")
	}
	if _, err := e.ensureAccount(ctx, to); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	h.Status = HoldCaptured
	h.UpdatedAt = now
	if err := e.store.UpdateHold(ctx, h); err != nil {
		return nil, err
	}

	tx := &Transaction{
		ID:            uuid.New().String(),
		Type:          txType,
		FromAccountID: h.AccountID,
		ToAccountID:   toID,
		Amount:        h.Amount,
		Currency:      h.Currency,
		Description:   "capture hold " + h.ID,
		ExternalRef:   externalRef,
		Status:        StatusCommitted,
		Metadata:      jsonval.Map{"holdId": h.ID},
		CreatedAt:     now,
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}
	if err := e.store.ApplyBalanceDelta(ctx, h.AccountID, -h.Amount, now); err != nil {
		return nil, err
	}
	if err := e.store.ApplyBalanceDelta(ctx, toID, h.Amount, now); err != nil {
		return nil, err
	}
	metrics.LedgerHolds.WithLabelValues("captured").Inc()
	return tx, nil
}

// ReleaseHold returns held funds to available.
func (e *Engine) ReleaseHold(ctx context.Context, holdID string) error {
	h, err := e.store.GetHold(ctx, holdID)
	if err != nil {
		return err
	}
	if h == nil {
		return apperr.NotFound("HoldNotFound", "hold "+holdID+" not found")
	}

	release := e.locks.Acquire(h.AccountID)
	defer release()

	h, err = e.store.GetHold(ctx, holdID)
	if err != nil {
		return err
	}
	if h.Status != HoldActive {
		return apperr.Precondition("HoldNotActive", "hold is "+string(h.Status))
	}

	h.Status = HoldReleased
	h.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateHold(ctx, h); err != nil {
		return err
	}
	metrics.LedgerHolds.WithLabelValues("released").Inc()
	return nil
}

// GetBalance returns the balance view for an account id.
func (e *Engine) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperr.NotFound("AccountNotFound", "account "+accountID+" not found")
	}
	held, err := e.store.SumActiveHolds(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		Balance:          account.Balance,
		AvailableBalance: account.Balance - held,
		PendingOut:       held,
	}, nil
}

// Reverse posts the opposing transaction for a committed posting. Both
// transactions are retained; reversing twice is a precondition failure.
func (e *Engine) Reverse(ctx context.Context, txID, reason string) (*Transaction, error) {
	orig, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, apperr.NotFound("TransactionNotFound", "transaction "+txID+" not found")
	}

	release := e.locks.Acquire(orig.FromAccountID, orig.ToAccountID)
	defer release()

	orig, err = e.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusCommitted {
		return nil, apperr.Precondition("NotReversible", "transaction is "+string(orig.Status))
	}

	// The credited side returns what it received, including cross-currency.
	returnAmount := orig.Amount
	returnCurrency := orig.Currency
	if orig.CreditAmount > 0 {
		returnAmount = orig.CreditAmount
		returnCurrency = orig.ToCurrency
	}

	now := time.Now().UTC()
	rev := &Transaction{
		ID:            uuid.New().String(),
		Type:          "reversal",
		FromAccountID: orig.ToAccountID,
		ToAccountID:   orig.FromAccountID,
		Amount:        returnAmount,
		Currency:      returnCurrency,
		Description:   reason,
		ExternalRef:   "reversal:" + orig.ID,
		Status:        StatusCommitted,
		ReversesID:    orig.ID,
		CreatedAt:     now,
	}
	if orig.CreditAmount > 0 {
		rev.FromCurrency = orig.ToCurrency
		rev.ToCurrency = orig.FromCurrency
		rev.CreditAmount = orig.Amount
		// Reversal restores the original amounts; no fresh rate is applied.
		rev.ExchangeRate = orig.ExchangeRate
	}

	if err := e.store.InsertTransaction(ctx, rev); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			existing, ferr := e.store.GetTransactionByExternalRef(ctx, rev.ExternalRef)
			if ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := e.store.ApplyBalanceDelta(ctx, orig.ToAccountID, -returnAmount, now); err != nil {
		return nil, err
	}
	if err := e.store.ApplyBalanceDelta(ctx, orig.FromAccountID, orig.Amount, now); err != nil {
		return nil, err
	}

	orig.Status = StatusReversed
	orig.ReversedByID = rev.ID
	if err := e.store.UpdateTransaction(ctx, orig); err != nil {
		return nil, err
	}

	metrics.LedgerPostings.WithLabelValues("reversal").Inc()
	return rev, nil
}

// RateFor exposes the engine's rate source for callers converting amounts
// outside a posting (bonus turnover contributions). Fails when no source is
// configured; never guesses.
func (e *Engine) RateFor(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if e.rates == nil {
		return decimal.Zero, apperr.Precondition("RateUnavailable", "no rate source configured")
	}
	return e.rates.Rate(ctx, from, to)
}

// Account returns the stored account for a spec, or nil when it was never
// posted to.
func (e *Engine) Account(ctx context.Context, spec AccountSpec) (*Account, error) {
	return e.store.GetAccount(ctx, spec.ID())
}

// --- internals ---

func (e *Engine) resolveRate(ctx context.Context, req PostRequest) (decimal.Decimal, error) {
	if req.Rate != nil {
		if req.Rate.Sign() <= 0 {
			return decimal.Zero, apperr.Validation("InvalidRate", "exchange rate must be positive")
		}
		return *req.Rate, nil
	}
	if e.rates == nil {
		return decimal.Zero, apperr.Precondition("RateUnavailable",
			"cross-currency posting without an explicit rate and no rate source configured")
	}
	rate, err := e.rates.Rate(ctx, req.Currency, req.ToCurrency)
	if err != nil {
		return decimal.Zero, err
	}
	return rate, nil
}

// authorizeDebit enforces the debit-side balance rules. The caller privilege
// PermAllowNegative overrides the default check for this posting.
func (e *Engine) authorizeDebit(ctx context.Context, from *Account, amount int64) error {
	if reqctx.HasPermission(ctx, PermAllowNegative) {
		return nil
	}

	held, err := e.store.SumActiveHolds(ctx, from.ID)
	if err != nil {
		return err
	}
	available := from.Balance - held

	switch {
	case !from.AllowNegative:
		if available-amount < 0 {
			return apperr.Precondition("InsufficientFunds", "available balance too low").WithDetails(
				map[string]interface{}{"available": available, "required": amount})
		}
	case from.CreditLimit > 0:
		if available-amount < -from.CreditLimit {
			return apperr.Precondition("CreditLimitExceeded", "posting exceeds the credit limit").WithDetails(
				map[string]interface{}{"available": available, "required": amount, "creditLimit": from.CreditLimit})
		}
	}
	return nil
}

func (e *Engine) ensureAccount(ctx context.Context, spec AccountSpec) (*Account, error) {
	id := spec.ID()
	account, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	now := time.Now().UTC()
	account = &Account{
		ID:            id,
		OwnerID:       spec.OwnerID,
		OwnerType:     spec.OwnerType,
		Subtype:       spec.Subtype,
		Currency:      spec.Currency,
		AllowNegative: spec.AllowNegative,
		CreditLimit:   spec.CreditLimit,
		TenantID:      spec.TenantID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.UpsertAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}
