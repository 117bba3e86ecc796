// Package wallet exposes the user-facing money surface as a projection over
// the ledger, and drives deposits, withdrawals, and reversals through the
// saga engine.
package wallet

import (
	"context"
	"time"

	"github.com/albion/platform/internal/ledger"
)

// Wallet is the domain projection over a user's ledger accounts.
// availableBalance = balance - lockedBalance (+ creditLimit if the account
// allows negative balances).
type Wallet struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	TenantID         string    `json:"tenantId"`
	Currency         string    `json:"currency"`
	Balance          int64     `json:"balance"`
	BonusBalance     int64     `json:"bonusBalance"`
	LockedBalance    int64     `json:"lockedBalance"`
	AvailableBalance int64     `json:"availableBalance"`
	AllowNegative    bool      `json:"allowNegative"`
	CreditLimit      int64     `json:"creditLimit,omitempty"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
}

// mainSpec addresses the user's main ledger account.
func mainSpec(tenantID, userID, currency string) ledger.AccountSpec {
	return ledger.AccountSpec{
		OwnerType: ledger.OwnerUser,
		OwnerID:   userID,
		Subtype:   ledger.SubtypeMain,
		Currency:  currency,
		TenantID:  tenantID,
	}
}

// bonusSpec addresses the user's bonus sub-account.
func bonusSpec(tenantID, userID, currency string) ledger.AccountSpec {
	return ledger.AccountSpec{
		OwnerType: ledger.OwnerUser,
		OwnerID:   userID,
		Subtype:   ledger.SubtypeBonus,
		Currency:  currency,
		TenantID:  tenantID,
	}
}

// floatSpec addresses the tenant's provider float account: the system-side
// source and destination of external money movements. It must allow
// negative balances so that the whole ledger sums to zero.
func floatSpec(tenantID, currency string) ledger.AccountSpec {
	return ledger.AccountSpec{
		OwnerType:     ledger.OwnerProvider,
		OwnerID:       tenantID,
		Subtype:       ledger.SubtypeFloat,
		Currency:      currency,
		AllowNegative: true,
		TenantID:      tenantID,
	}
}

// Get assembles the wallet projection for a user and currency.
func (s *Service) Get(ctx context.Context, tenantID, userID, currency string) (*Wallet, error) {
	main := mainSpec(tenantID, userID, currency)
	w := &Wallet{
		ID:       main.ID(),
		UserID:   userID,
		TenantID: tenantID,
		Currency: currency,
	}

	account, err := s.ledger.Account(ctx, main)
	if err != nil {
		return nil, err
	}
	if account != nil {
		balance, err := s.ledger.GetBalance(ctx, main.ID())
		if err != nil {
			return nil, err
		}
		w.Balance = balance.Balance
		w.LockedBalance = balance.PendingOut
		w.AvailableBalance = balance.AvailableBalance
		w.AllowNegative = account.AllowNegative
		w.CreditLimit = account.CreditLimit
		if account.AllowNegative && account.CreditLimit > 0 {
			w.AvailableBalance += account.CreditLimit
		}
		w.LastActivityAt = account.UpdatedAt
	}

	bonusAccount, err := s.ledger.Account(ctx, bonusSpec(tenantID, userID, currency))
	if err != nil {
		return nil, err
	}
	if bonusAccount != nil {
		w.BonusBalance = bonusAccount.Balance
	}
	return w, nil
}
