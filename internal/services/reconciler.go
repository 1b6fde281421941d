package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/eventshare/ledger/internal/models"
	"github.com/eventshare/ledger/internal/repository"
)

const staleBatchSize = 100

// Reconciler periodically fails pending transactions that never received
// a gateway confirmation. It uses the same conditional transition as
// every other terminal move, so it can safely race a late callback:
// whichever side transitions first wins and the other becomes a no-op.
// It never retries gateway verification and never touches amounts.
type Reconciler struct {
	transactionRepo repository.TransactionRepository
	ledger          LedgerService
	interval        time.Duration
	pendingTimeout  time.Duration
}

func NewReconciler(transactionRepo repository.TransactionRepository, ledger LedgerService, interval, pendingTimeout time.Duration) *Reconciler {
	return &Reconciler{
		transactionRepo: transactionRepo,
		ledger:          ledger,
		interval:        interval,
		pendingTimeout:  pendingTimeout,
	}
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("reconciler started", "interval", r.interval, "pending_timeout", r.pendingTimeout)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.pendingTimeout)
	stale, err := r.transactionRepo.ListStalePending(ctx, cutoff, staleBatchSize)
	if err != nil {
		slog.Error("failed to list stale pending transactions", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	slog.Info("failing stale pending transactions", "count", len(stale), "cutoff", cutoff)
	for i := range stale {
		tx := &stale[i]
		if tx.Status != models.StatusPending {
			continue
		}
		if err := r.ledger.Fail(ctx, tx.ID, "gateway confirmation timed out"); err != nil {
			slog.Error("failed to fail stale transaction", "transaction_id", tx.ID, "error", err)
		}
	}
}
