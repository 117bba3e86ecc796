package bonus

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/albion/platform/internal/events"
	"github.com/albion/platform/internal/ledger"
	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/jsonval"
)

// ActivityRequest records qualifying activity toward a bonus's turnover
// requirement.
type ActivityRequest struct {
	TenantID         string
	UserBonusID      string
	Amount           int64
	Currency         string
	TransactionID    string
	ActivityCategory string
}

// RecordActivity applies an activity's turnover contribution:
// amount x (category percent / 100), converted into the bonus currency when
// they differ. Meeting the requirement moves the bonus to requirements_met.
func (e *Engine) RecordActivity(ctx context.Context, req ActivityRequest) (*UserBonus, error) {
	if req.Amount <= 0 {
		return nil, apperr.Validation("InvalidAmount", "activity amount must be positive")
	}

	ub, err := e.bonuses.GetUserBonus(ctx, req.TenantID, req.UserBonusID)
	if err != nil {
		return nil, err
	}
	if ub == nil {
		return nil, apperr.NotFound("UserBonusNotFound", "user bonus "+req.UserBonusID+" not found")
	}
	switch ub.Status {
	case StatusActive, StatusInProgress:
	default:
		return nil, apperr.Precondition("BonusNotProgressing", "bonus is "+string(ub.Status))
	}

	tmpl, err := e.templates.GetTemplate(ctx, req.TenantID, ub.TemplateID)
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	if req.Currency != ub.Currency {
		rate, err := e.ledger.RateFor(ctx, req.Currency, ub.Currency)
		if err != nil {
			return nil, err
		}
		amount = decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
	}

	percent := int64(100)
	if tmpl != nil && tmpl.ActivityContributions != nil {
		if p, ok := tmpl.ActivityContributions[req.ActivityCategory]; ok {
			percent = p
		}
	}
	contribution := amount * percent / 100

	turnoverBefore := ub.TurnoverProgress
	ub.TurnoverProgress += contribution
	if ub.TurnoverProgress > ub.TurnoverRequired {
		ub.TurnoverProgress = ub.TurnoverRequired
	}

	if ub.Status == StatusActive {
		if err := Transition(ub, StatusInProgress, "first qualifying activity", "bonus-engine"); err != nil {
			return nil, err
		}
	}
	if ub.TurnoverProgress >= ub.TurnoverRequired {
		if err := Transition(ub, StatusRequirementsMet, "turnover requirement met", "bonus-engine"); err != nil {
			return nil, err
		}
	}
	if err := e.bonuses.UpdateUserBonus(ctx, ub); err != nil {
		return nil, err
	}

	if err := e.txs.InsertBonusTransaction(ctx, &Transaction{
		ID:                   uuid.New().String(),
		UserBonusID:          ub.ID,
		UserID:               ub.UserID,
		TenantID:             ub.TenantID,
		Type:                 TxTurnover,
		Amount:               amount,
		BalanceBefore:        ub.CurrentValue,
		BalanceAfter:         ub.CurrentValue,
		TurnoverBefore:       turnoverBefore,
		TurnoverAfter:        ub.TurnoverProgress,
		TurnoverContribution: contribution,
		ActivityCategory:     req.ActivityCategory,
		RelatedTransactionID: req.TransactionID,
		CreatedAt:            time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	return ub, nil
}

// Convert moves a requirements_met bonus's value from the bonus sub-account
// to the user's main wallet through the ledger.
func (e *Engine) Convert(ctx context.Context, tenantID, userBonusID string) (*UserBonus, error) {
	ub, err := e.bonuses.GetUserBonus(ctx, tenantID, userBonusID)
	if err != nil {
		return nil, err
	}
	if ub == nil {
		return nil, apperr.NotFound("UserBonusNotFound", "user bonus "+userBonusID+" not found")
	}
	if ub.Status != StatusRequirementsMet {
		return nil, apperr.Precondition("BonusNotConvertible", "bonus is "+string(ub.Status))
	}

	if _, err := e.ledger.Post(ctx, ledger.PostRequest{
		Type: "bonus_conversion",
		From: bonusAccountSpec(tenantID, ub.UserID, ub.Currency),
		To: ledger.AccountSpec{
			OwnerType: ledger.OwnerUser,
			OwnerID:   ub.UserID,
			Subtype:   ledger.SubtypeMain,
			Currency:  ub.Currency,
			TenantID:  tenantID,
		},
		Amount:      ub.CurrentValue,
		Currency:    ub.Currency,
		Description: "bonus conversion " + ub.TemplateCode,
		ExternalRef: "bonus-convert:" + ub.ID,
	}); err != nil {
		return nil, err
	}

	value := ub.CurrentValue
	if err := Transition(ub, StatusConverted, "converted to real balance", "bonus-engine"); err != nil {
		return nil, err
	}
	if err := e.bonuses.UpdateUserBonus(ctx, ub); err != nil {
		return nil, err
	}

	if err := e.txs.InsertBonusTransaction(ctx, &Transaction{
		ID:            uuid.New().String(),
		UserBonusID:   ub.ID,
		UserID:        ub.UserID,
		TenantID:      ub.TenantID,
		Type:          TxConversion,
		Amount:        value,
		BalanceBefore: value,
		BalanceAfter:  value,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if e.dispatcher != nil {
		e.dispatcher.Emit(ctx, events.TypeBonusConverted, ub.TenantID, ub.UserID, jsonval.Map{
			"bonusId": ub.ID, "value": value, "currency": ub.Currency,
		})
	}
	return ub, nil
}

// Forfeit cancels a progressing bonus and returns its remaining value to
// the tenant pool.
func (e *Engine) Forfeit(ctx context.Context, tenantID, userBonusID, reason string) (*UserBonus, error) {
	return e.terminate(ctx, tenantID, userBonusID, StatusForfeited, reason, events.TypeBonusForfeited)
}

// SweepExpired expires overdue bonuses, returning remaining value to the
// pool. Run from the cron worker.
func (e *Engine) SweepExpired(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	overdue, err := e.bonuses.ListExpiredActive(ctx, time.Now().UTC(), batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, ub := range overdue {
		if _, err := e.terminate(ctx, ub.TenantID, ub.ID, StatusExpired, "expired", events.TypeBonusExpired); err != nil {
			slog.Warn("Bonus expiry skip", "bonus_id", ub.ID, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		slog.Info("Expired overdue bonuses", "count", expired)
	}
	return expired, nil
}

// terminate ends a bonus in forfeited or expired, returning the remaining
// bonus balance to the pool.
func (e *Engine) terminate(ctx context.Context, tenantID, userBonusID string, to Status, reason, eventType string) (*UserBonus, error) {
	ub, err := e.bonuses.GetUserBonus(ctx, tenantID, userBonusID)
	if err != nil {
		return nil, err
	}
	if ub == nil {
		return nil, apperr.NotFound("UserBonusNotFound", "user bonus "+userBonusID+" not found")
	}

	remaining := ub.CurrentValue
	if remaining > 0 {
		if _, err := e.ledger.Post(ctx, ledger.PostRequest{
			Type:        "bonus_" + string(to),
			From:        bonusAccountSpec(tenantID, ub.UserID, ub.Currency),
			To:          poolSpec(tenantID, ub.Currency),
			Amount:      remaining,
			Currency:    ub.Currency,
			Description: string(to) + ": " + reason,
			ExternalRef: "bonus-" + string(to) + ":" + ub.ID,
		}); err != nil {
			return nil, err
		}
	}

	txType := TxForfeit
	if err := Transition(ub, to, reason, "bonus-engine"); err != nil {
		return nil, err
	}
	ub.CurrentValue = 0
	if err := e.bonuses.UpdateUserBonus(ctx, ub); err != nil {
		return nil, err
	}

	if remaining > 0 {
		if err := e.txs.InsertBonusTransaction(ctx, &Transaction{
			ID:            uuid.New().String(),
			UserBonusID:   ub.ID,
			UserID:        ub.UserID,
			TenantID:      ub.TenantID,
			Type:          txType,
			Amount:        remaining,
			BalanceBefore: remaining,
			BalanceAfter:  0,
			CreatedAt:     time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
	}

	if e.dispatcher != nil {
		e.dispatcher.Emit(ctx, eventType, ub.TenantID, ub.UserID, jsonval.Map{
			"bonusId": ub.ID, "returned": remaining, "currency": ub.Currency, "reason": reason,
		})
	}
	return ub, nil
}
