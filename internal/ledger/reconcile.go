package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/albion/platform/internal/metrics"
)

// DriftReport describes one account whose materialized balance disagrees
// with the balance recomputed from the transaction log.
type DriftReport struct {
	AccountID  string `json:"accountId"`
	Currency   string `json:"currency"`
	Expected   int64  `json:"expected"`
	Actual     int64  `json:"actual"`
	Difference int64  `json:"difference"`
}

// Reconciler recomputes balances from the transaction log and compares them
// against the materialized account balances. Drift is reported, never
// silently corrected.
type Reconciler struct {
	store Store
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// Run performs one reconciliation pass and returns every drifting account.
func (r *Reconciler) Run(ctx context.Context) ([]DriftReport, error) {
	txs, err := r.store.ListCommittedTransactions(ctx)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]int64)
	for _, tx := range txs {
		expected[tx.FromAccountID] -= tx.Amount
		credit := tx.Amount
		if tx.CreditAmount > 0 {
			credit = tx.CreditAmount
		}
		expected[tx.ToAccountID] += credit
	}

	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var drift []DriftReport
	driftByCurrency := make(map[string]int64)
	for _, a := range accounts {
		want := expected[a.ID]
		if want != a.Balance {
			d := DriftReport{
				AccountID:  a.ID,
				Currency:   a.Currency,
				Expected:   want,
				Actual:     a.Balance,
				Difference: a.Balance - want,
			}
			drift = append(drift, d)
			abs := d.Difference
			if abs < 0 {
				abs = -abs
			}
			driftByCurrency[a.Currency] += abs
			slog.Error("Ledger drift detected",
				"account_id", a.ID, "currency", a.Currency,
				"expected", want, "actual", a.Balance)
		} else {
			driftByCurrency[a.Currency] += 0
		}
	}

	for currency, total := range driftByCurrency {
		metrics.ReconcileDrift.WithLabelValues(currency).Set(float64(total))
	}
	if len(drift) == 0 {
		slog.Info("Ledger reconciliation clean", "accounts", len(accounts), "transactions", len(txs))
	}
	return drift, nil
}

// SweepExpiredHolds releases holds past their expiry. Holds are the only
// long-lived user-owned lock; the sweeper keeps them from leaking.
func (e *Engine) SweepExpiredHolds(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	expired, err := e.store.ListExpiredHolds(ctx, time.Now().UTC(), batch)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, h := range expired {
		if err := e.ReleaseHold(ctx, h.ID); err != nil {
			// A concurrent capture may have won; skip and continue.
			slog.Warn("Hold sweep skip", "hold_id", h.ID, "error", err)
			continue
		}
		metrics.LedgerHolds.WithLabelValues("swept").Inc()
		released++
	}
	if released > 0 {
		slog.Info("Released expired holds", "count", released)
	}
	return released, nil
}
