package bonus

import (
	"context"

	"github.com/google/uuid"

	"github.com/albion/platform/internal/events"
	"github.com/albion/platform/internal/pending"
	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/jsonval"
)

// createPendingBonus replaces a threshold-gated award with a pending
// operation. The payload carries everything the approval handler needs to
// re-run the award, including the pre-generated bonus id that makes the
// approval idempotent under retries.
func (e *Engine) createPendingBonus(ctx context.Context, ec *EvalContext, value int64) (string, error) {
	bonusID := uuid.New().String()
	token, err := e.pendingOps.Create(ctx, OpBonusApproval, jsonval.Map{
		"bonusId":              bonusID,
		"tenantId":             ec.TenantID,
		"userId":               ec.User.ID,
		"templateId":           ec.Template.ID,
		"currency":             ec.Currency,
		"depositAmount":        ec.DepositAmount,
		"triggerTransactionId": ec.TriggerTransactionID,
		"walletId":             ec.WalletID,
		"metadata":             map[string]interface{}(ec.Metadata),
		"calculatedValue":      value,
	}, pending.CreateOptions{})
	if err != nil {
		return "", err
	}

	if e.dispatcher != nil {
		e.dispatcher.Emit(ctx, events.TypeBonusPending, ec.TenantID, ec.User.ID, jsonval.Map{
			"templateCode": ec.Template.Code,
			"value":        value,
			"currency":     ec.Template.Currency,
		})
	}
	return token, nil
}

// Approve re-runs the award from the stored payload. The stored bonus id
// flows through the ledger's externalRef dedupe, so a retried approval
// cannot double-post.
func (e *Engine) Approve(ctx context.Context, token, approver string) (*UserBonus, error) {
	op, err := e.pendingOps.Verify(ctx, token, OpBonusApproval)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, apperr.NotFound("ApprovalNotFound", "approval token invalid or expired")
	}

	tenantID, _ := op.Data.GetString("tenantId")
	userID, _ := op.Data.GetString("userId")
	templateID, _ := op.Data.GetString("templateId")
	bonusID, _ := op.Data.GetString("bonusId")
	currency, _ := op.Data.GetString("currency")
	depositAmount, _ := op.Data.GetInt64("depositAmount")
	triggerTxID, _ := op.Data.GetString("triggerTransactionId")
	walletID, _ := op.Data.GetString("walletId")
	metadata, _ := op.Data.GetMap("metadata")

	user, err := e.users.Get(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	tmpl, err := e.templates.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, apperr.NotFound("TemplateNotFound", "template no longer exists")
	}

	ec := &EvalContext{
		TenantID:             tenantID,
		User:                 user,
		Template:             tmpl,
		Currency:             currency,
		DepositAmount:        depositAmount,
		TriggerTransactionID: triggerTxID,
		WalletID:             walletID,
		Metadata:             metadata,
		Now:                  op.CreatedAt.UTC(),
		Queries:              e.bonuses,
	}
	ec.Metadata = ensureMap(ec.Metadata)
	ec.Metadata["approvedBy"] = approver

	ub, err := e.award(ctx, ec, e.registry.Resolve(tmpl.Type), bonusID)
	if err != nil {
		return nil, err
	}

	// Consume the token after the award landed; a crash in between is safe
	// because re-approval is idempotent.
	if _, err := e.pendingOps.Delete(ctx, token, OpBonusApproval); err != nil {
		return ub, err
	}
	return ub, nil
}

// Reject discards a pending award by deleting its token.
func (e *Engine) Reject(ctx context.Context, token, reviewer, reason string) error {
	deleted, err := e.pendingOps.Delete(ctx, token, OpBonusApproval)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.NotFound("ApprovalNotFound", "approval token invalid or already resolved")
	}
	return nil
}

func ensureMap(m jsonval.Map) jsonval.Map {
	if m == nil {
		return jsonval.Map{}
	}
	return m
}
