package wallet

import (
	"context"
	"log/slog"
	"time"

	"github.com/albion/platform/internal/bonus"
	"github.com/albion/platform/internal/events"
	"github.com/albion/platform/internal/identity"
	"github.com/albion/platform/internal/ledger"
	"github.com/albion/platform/internal/metrics"
	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/jsonval"
	"github.com/albion/platform/internal/saga"
)

// Processor is the external payment processor boundary. Charge moves money
// in from the outside world; Refund compensates a charge that a later saga
// step invalidated.
type Processor interface {
	Charge(ctx context.Context, tenantID, userID string, amount int64, currency, reference string) (string, error)
	Refund(ctx context.Context, processorRef string) error
	Payout(ctx context.Context, tenantID, userID string, amount int64, currency, reference string) (string, error)
}

// Service executes wallet mutations as sagas over the ledger.
type Service struct {
	ledger     *ledger.Engine
	sagas      *saga.Engine
	bonuses    *bonus.Engine
	dispatcher *events.Dispatcher
	users      *identity.Users
	processor  Processor
}

// NewService wires the wallet service.
func NewService(
	ledgerEngine *ledger.Engine,
	sagas *saga.Engine,
	bonuses *bonus.Engine,
	dispatcher *events.Dispatcher,
	users *identity.Users,
	processor Processor,
) *Service {
	return &Service{
		ledger:     ledgerEngine,
		sagas:      sagas,
		bonuses:    bonuses,
		dispatcher: dispatcher,
		users:      users,
		processor:  processor,
	}
}

// DepositRequest describes an inbound deposit.
type DepositRequest struct {
	TenantID string
	UserID   string
	Amount   int64
	Currency string
	SagaID   string // optional idempotency key from the caller
	Metadata jsonval.Map
}

// DepositResult is the saga outcome plus the refreshed wallet projection
// and any bonus the deposit triggered.
type DepositResult struct {
	SagaID        string
	Success       bool
	Err           error
	ExecutionTime time.Duration
	Wallet        *Wallet
	Bonus         *bonus.UserBonus
}

// Deposit charges the processor and posts the funds to the user's main
// account, then evaluates deposit-triggered bonuses. The sagaId is the
// idempotency key: the ledger posting carries it as externalRef, so a
// redelivered deposit cannot double-post.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if req.Amount <= 0 {
		return nil, apperr.Validation("InvalidAmount", "deposit amount must be positive")
	}
	user, err := s.users.Get(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, err
	}

	steps := []saga.Step{
		{
			Name: "charge-processor",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				if s.processor == nil {
					return nil
				}
				ref, err := s.processor.Charge(ctx, req.TenantID, req.UserID, req.Amount, req.Currency, sc.SagaID)
				if err != nil {
					return err
				}
				sc.Set("processorRef", ref)
				return nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				ref, ok := sc.Data.GetString("processorRef")
				if !ok || s.processor == nil {
					return nil
				}
				return s.processor.Refund(ctx, ref)
			},
		},
		{
			Name: "post-ledger",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				tx, err := s.ledger.Post(ctx, ledger.PostRequest{
					Type:        "deposit",
					From:        floatSpec(req.TenantID, req.Currency),
					To:          mainSpec(req.TenantID, req.UserID, req.Currency),
					Amount:      req.Amount,
					Currency:    req.Currency,
					Description: "deposit",
					ExternalRef: sc.SagaID,
					Metadata:    req.Metadata,
				})
				if err != nil {
					return err
				}
				sc.Set("ledgerTxId", tx.ID)
				return nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				txID, ok := sc.Data.GetString("ledgerTxId")
				if !ok {
					return nil
				}
				_, err := s.ledger.Reverse(ctx, txID, "deposit saga compensation")
				return err
			},
		},
	}

	result := s.sagas.Execute(ctx, steps, jsonval.Map{
		"tenantId": req.TenantID,
		"userId":   req.UserID,
		"amount":   req.Amount,
		"currency": req.Currency,
	}, saga.Options{SagaID: req.SagaID})

	out := &DepositResult{
		SagaID:        result.SagaID,
		Success:       result.Success,
		Err:           result.Err,
		ExecutionTime: result.ExecutionTime,
	}
	if !result.Success {
		metrics.SagaExecutions.WithLabelValues("failed").Inc()
		return out, nil
	}
	metrics.SagaExecutions.WithLabelValues("succeeded").Inc()

	ledgerTxID, _ := result.Context.Data.GetString("ledgerTxId")
	s.dispatcher.Emit(ctx, events.TypeDepositCompleted, req.TenantID, req.UserID, jsonval.Map{
		"amount":   req.Amount,
		"currency": req.Currency,
		"sagaId":   result.SagaID,
		"txId":     ledgerTxID,
	})

	out.Bonus = s.evaluateDepositBonuses(ctx, user, req, ledgerTxID)

	// The first-deposit flag flips only after bonus evaluation: the
	// first_deposit handler must observe the pre-deposit state.
	if made, _ := user.Metadata.GetBool(identity.MetaHasMadeFirstDeposit); !made {
		if err := s.users.SetMetadata(ctx, user, identity.MetaHasMadeFirstDeposit, true); err != nil {
			slog.Warn("First-deposit flag update failed", "user_id", user.ID, "error", err)
		}
	}

	wallet, err := s.Get(ctx, req.TenantID, req.UserID, req.Currency)
	if err != nil {
		return out, err
	}
	out.Wallet = wallet
	return out, nil
}

// evaluateDepositBonuses runs the deposit-triggered bonus types in priority
// order and returns the first award. Bonus failures never fail the deposit.
func (s *Service) evaluateDepositBonuses(ctx context.Context, user *identity.User, req DepositRequest, ledgerTxID string) *bonus.UserBonus {
	if s.bonuses == nil {
		return nil
	}
	for _, typ := range []bonus.Type{bonus.TypeFirstDeposit, bonus.TypeWelcome, bonus.TypeReload} {
		res, err := s.bonuses.Process(ctx, bonus.ProcessRequest{
			TenantID:             req.TenantID,
			User:                 user,
			Type:                 typ,
			Currency:             req.Currency,
			DepositAmount:        req.Amount,
			TriggerTransactionID: ledgerTxID,
			WalletID:             mainSpec(req.TenantID, req.UserID, req.Currency).ID(),
			Metadata:             req.Metadata,
		})
		if err != nil {
			slog.Warn("Bonus evaluation failed", "type", string(typ), "user_id", user.ID, "error", err)
			continue
		}
		if res.Awarded != nil {
			return res.Awarded
		}
	}
	return nil
}

// WithdrawRequest describes an outbound payout.
type WithdrawRequest struct {
	TenantID string
	UserID   string
	Amount   int64
	Currency string
	SagaID   string
}

// Withdraw reserves the funds with a hold, pays out through the processor,
// and captures the hold into the float account. A processor failure releases
// the hold; the user never loses visibility of reserved funds.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (*DepositResult, error) {
	if req.Amount <= 0 {
		return nil, apperr.Validation("InvalidAmount", "withdrawal amount must be positive")
	}
	if _, err := s.users.Get(ctx, req.TenantID, req.UserID); err != nil {
		return nil, err
	}

	steps := []saga.Step{
		{
			Name: "reserve-hold",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				expires := time.Now().UTC().Add(30 * time.Minute)
				h, err := s.ledger.PlaceHold(ctx, ledger.HoldRequest{
					Account:   mainSpec(req.TenantID, req.UserID, req.Currency),
					Amount:    req.Amount,
					Currency:  req.Currency,
					Reason:    "withdrawal " + sc.SagaID,
					ExpiresAt: &expires,
				})
				if err != nil {
					return err
				}
				sc.Set("holdId", h.ID)
				return nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				holdID, ok := sc.Data.GetString("holdId")
				if !ok {
					return nil
				}
				return s.ledger.ReleaseHold(ctx, holdID)
			},
		},
		{
			Name: "payout-processor",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				if s.processor == nil {
					return nil
				}
				ref, err := s.processor.Payout(ctx, req.TenantID, req.UserID, req.Amount, req.Currency, sc.SagaID)
				if err != nil {
					return err
				}
				sc.Set("processorRef", ref)
				return nil
			},
		},
		{
			Name: "capture-hold",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				holdID, _ := sc.Data.GetString("holdId")
				tx, err := s.ledger.CaptureHold(ctx, holdID,
					floatSpec(req.TenantID, req.Currency), "withdrawal", sc.SagaID)
				if err != nil {
					return err
				}
				sc.Set("ledgerTxId", tx.ID)
				return nil
			},
		},
	}

	result := s.sagas.Execute(ctx, steps, nil, saga.Options{SagaID: req.SagaID})
	out := &DepositResult{
		SagaID:        result.SagaID,
		Success:       result.Success,
		Err:           result.Err,
		ExecutionTime: result.ExecutionTime,
	}
	if !result.Success {
		metrics.SagaExecutions.WithLabelValues("failed").Inc()
		return out, nil
	}
	metrics.SagaExecutions.WithLabelValues("succeeded").Inc()

	s.dispatcher.Emit(ctx, events.TypeWithdrawal, req.TenantID, req.UserID, jsonval.Map{
		"amount":   req.Amount,
		"currency": req.Currency,
		"sagaId":   result.SagaID,
	})

	wallet, err := s.Get(ctx, req.TenantID, req.UserID, req.Currency)
	if err != nil {
		return out, err
	}
	out.Wallet = wallet
	return out, nil
}

// ReverseDeposit reverses a committed deposit posting and emits
// wallet.deposit.reversed. Both transactions remain in the ledger.
func (s *Service) ReverseDeposit(ctx context.Context, tenantID, userID, ledgerTxID, reason string) (*ledger.Transaction, error) {
	rev, err := s.ledger.Reverse(ctx, ledgerTxID, reason)
	if err != nil {
		return nil, err
	}

	s.dispatcher.Emit(ctx, events.TypeDepositReversed, tenantID, userID, jsonval.Map{
		"originalTxId": ledgerTxID,
		"reversalTxId": rev.ID,
		"amount":       rev.Amount,
		"currency":     rev.Currency,
		"reason":       reason,
	})
	return rev, nil
}
