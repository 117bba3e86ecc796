package bonus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/albion/platform/internal/events"
	"github.com/albion/platform/internal/identity"
	"github.com/albion/platform/internal/ledger"
	"github.com/albion/platform/internal/metrics"
	"github.com/albion/platform/internal/pending"
	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/jsonval"
)

// OpBonusApproval is the pending-operation type for threshold-gated awards.
const OpBonusApproval = "bonus"

// ProcessRequest triggers one evaluation of a bonus type for a user.
type ProcessRequest struct {
	TenantID             string
	User                 *identity.User
	Type                 Type
	Currency             string
	DepositAmount        int64
	TriggerTransactionID string
	WalletID             string
	Metadata             jsonval.Map
}

// ProcessResult reports the evaluation outcome. Exactly one of Awarded and
// PendingToken is set on success; NotEligibleReason explains a skip.
type ProcessResult struct {
	Awarded           *UserBonus `json:"awarded,omitempty"`
	PendingToken      string     `json:"pendingToken,omitempty"`
	NotEligibleReason string     `json:"notEligibleReason,omitempty"`
}

// PoolBalance is the award guard's view of the tenant bonus pool.
type PoolBalance struct {
	Sufficient bool  `json:"sufficient"`
	Available  int64 `json:"available"`
	Required   int64 `json:"required"`
}

// Engine runs the bonus pipeline: eligibility, calculation, and the atomic
// award sequence against the ledger.
type Engine struct {
	templates  TemplateStore
	bonuses    UserBonusStore
	txs        TransactionStore
	registry   *Registry
	ledger     *ledger.Engine
	dispatcher *events.Dispatcher
	pendingOps pending.Store
	users      *identity.Users
}

// NewEngine wires the bonus engine.
func NewEngine(
	templates TemplateStore,
	bonuses UserBonusStore,
	txs TransactionStore,
	registry *Registry,
	ledgerEngine *ledger.Engine,
	dispatcher *events.Dispatcher,
	pendingOps pending.Store,
	users *identity.Users,
) *Engine {
	return &Engine{
		templates:  templates,
		bonuses:    bonuses,
		txs:        txs,
		registry:   registry,
		ledger:     ledgerEngine,
		dispatcher: dispatcher,
		pendingOps: pendingOps,
		users:      users,
	}
}

// Process evaluates the live templates of the requested type in priority
// order: eligibility, then calculation, then award (or the approval detour)
// for the first template that qualifies. Ineligibility is a skip, not an
// error; when no template qualifies the last reason is returned.
func (e *Engine) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	now := time.Now().UTC()
	templates, err := e.templates.FindActiveByType(ctx, req.TenantID, req.Type, now)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return &ProcessResult{NotEligibleReason: "no template"}, nil
	}

	var lastReason string
	for _, tmpl := range templates {
		ec := &EvalContext{
			TenantID:             req.TenantID,
			User:                 req.User,
			Template:             tmpl,
			Currency:             req.Currency,
			DepositAmount:        req.DepositAmount,
			TriggerTransactionID: req.TriggerTransactionID,
			WalletID:             req.WalletID,
			Metadata:             req.Metadata,
			Now:                  now,
			Queries:              e.bonuses,
		}
		handler := e.registry.Resolve(tmpl.Type)

		if err := e.checkEligibility(ctx, ec, handler); err != nil {
			var ne *NotEligibleError
			if errors.As(err, &ne) {
				lastReason = ne.Reason
				continue
			}
			return nil, err
		}

		value := handler.CalculateValue(ec)
		if value <= 0 {
			lastReason = "calculated value is zero"
			continue
		}

		if tmpl.RequiresApproval && value >= tmpl.ApprovalThreshold {
			token, err := e.createPendingBonus(ctx, ec, value)
			if err != nil {
				return nil, err
			}
			return &ProcessResult{PendingToken: token}, nil
		}

		ub, err := e.award(ctx, ec, handler, "")
		if err != nil {
			return nil, err
		}
		return &ProcessResult{Awarded: ub}, nil
	}

	return &ProcessResult{NotEligibleReason: lastReason}, nil
}

// checkEligibility runs the common validators in order, then the handler's
// type-specific validation.
func (e *Engine) checkEligibility(ctx context.Context, ec *EvalContext, handler Handler) error {
	t := ec.Template

	if !t.SupportsCurrency(ec.Currency) {
		return NotEligible("currency " + ec.Currency + " not supported")
	}
	if t.MinDeposit > 0 && ec.DepositAmount < t.MinDeposit {
		return NotEligible("deposit below minimum")
	}
	if t.MaxUsesPerUser > 0 {
		uses, err := e.bonuses.CountUserBonusesByTemplate(ctx, ec.TenantID, ec.User.ID, t.ID)
		if err != nil {
			return err
		}
		if uses >= t.MaxUsesPerUser {
			return NotEligible("per-user usage limit reached")
		}
	}
	if t.MaxUsesTotal > 0 && t.CurrentUsesTotal >= t.MaxUsesTotal {
		return NotEligible("template total usage limit reached")
	}

	return handler.ValidateSpecific(ctx, ec)
}

// CheckPoolBalance reports whether the tenant's bonus pool covers an award.
func (e *Engine) CheckPoolBalance(ctx context.Context, tenantID string, amount int64, currency string) (*PoolBalance, error) {
	pool := poolSpec(tenantID, currency)
	account, err := e.ledger.Account(ctx, pool)
	if err != nil {
		return nil, err
	}
	var available int64
	if account != nil {
		balance, err := e.ledger.GetBalance(ctx, pool.ID())
		if err != nil {
			return nil, err
		}
		available = balance.AvailableBalance
	}
	return &PoolBalance{
		Sufficient: available >= amount,
		Available:  available,
		Required:   amount,
	}, nil
}

// award runs the atomic sequence: recalculate, pool guard, ledger posting,
// persist, usage increment, event, hook. The ledger posting happens before
// the UserBonus write: a posting failure leaves nothing observable.
func (e *Engine) award(ctx context.Context, ec *EvalContext, handler Handler, fixedID string) (*UserBonus, error) {
	value := handler.CalculateValue(ec)
	if value <= 0 {
		return nil, apperr.Precondition("BonusValueZero", "recalculated bonus value is not positive")
	}

	poolBalance, err := e.CheckPoolBalance(ctx, ec.TenantID, value, ec.Template.Currency)
	if err != nil {
		return nil, err
	}
	if !poolBalance.Sufficient {
		return nil, apperr.Precondition("BonusPoolInsufficient", "bonus pool cannot cover the award").WithDetails(
			map[string]interface{}{"available": poolBalance.Available, "required": poolBalance.Required})
	}

	turnover := handler.CalculateTurnover(ec, value)
	expiresAt := handler.CalculateExpiration(ec)
	ub := handler.BuildUserBonus(ec, value, turnover, expiresAt)
	if fixedID != "" {
		// Approval retries re-apply against the same id so the ledger's
		// externalRef dedupe makes the whole sequence idempotent.
		ub.ID = fixedID
	}

	if _, err := e.ledger.Post(ctx, ledger.PostRequest{
		Type:        "bonus_award",
		From:        poolSpec(ec.TenantID, ec.Template.Currency),
		To:          bonusAccountSpec(ec.TenantID, ec.User.ID, ec.Template.Currency),
		Amount:      value,
		Currency:    ec.Template.Currency,
		Description: "bonus " + ec.Template.Code,
		ExternalRef: ub.ID,
		Metadata:    jsonval.Map{"templateCode": ec.Template.Code, "bonusType": string(ec.Template.Type)},
	}); err != nil {
		return nil, err
	}

	if err := Transition(ub, StatusActive, "awarded", "bonus-engine"); err != nil {
		return nil, err
	}
	if err := e.bonuses.InsertUserBonus(ctx, ub); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict && fixedID != "" {
			// Re-applied approval: the award already landed.
			return e.bonuses.GetUserBonus(ctx, ec.TenantID, fixedID)
		}
		return nil, err
	}

	if err := e.templates.IncrementUses(ctx, ec.Template.ID); err != nil {
		return nil, err
	}

	if err := e.txs.InsertBonusTransaction(ctx, &Transaction{
		ID:            uuid.New().String(),
		UserBonusID:   ub.ID,
		UserID:        ub.UserID,
		TenantID:      ub.TenantID,
		Type:          TxCredit,
		Amount:        value,
		BalanceBefore: 0,
		BalanceAfter:  value,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	if e.dispatcher != nil {
		e.dispatcher.Emit(ctx, events.TypeBonusAwarded, ub.TenantID, ub.UserID, jsonval.Map{
			"bonusId":      ub.ID,
			"templateCode": ub.TemplateCode,
			"type":         string(ub.Type),
			"value":        ub.OriginalValue,
			"currency":     ub.Currency,
		})
	}

	if err := handler.OnAwarded(ctx, ec, ub); err != nil {
		return nil, err
	}

	metrics.BonusAwards.WithLabelValues(string(ub.Type)).Inc()
	return ub, nil
}

// poolSpec addresses a tenant's bonus pool account.
func poolSpec(tenantID, currency string) ledger.AccountSpec {
	return ledger.AccountSpec{
		OwnerType: ledger.OwnerPool,
		OwnerID:   tenantID,
		Subtype:   ledger.SubtypeBonusPool,
		Currency:  currency,
		TenantID:  tenantID,
	}
}

// bonusAccountSpec addresses a user's bonus sub-account.
func bonusAccountSpec(tenantID, userID, currency string) ledger.AccountSpec {
	return ledger.AccountSpec{
		OwnerType: ledger.OwnerUser,
		OwnerID:   userID,
		Subtype:   ledger.SubtypeBonus,
		Currency:  currency,
		TenantID:  tenantID,
	}
}
