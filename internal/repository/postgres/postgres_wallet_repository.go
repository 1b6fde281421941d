package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eventshare/ledger/internal/infrastructure/observability"
	"github.com/eventshare/ledger/internal/models"
	pkgerrors "github.com/eventshare/ledger/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// maxRetries bounds the retry loop on transient storage contention
// (serialization failures, deadlocks). Anything else surfaces immediately.
const maxRetries = 3

type PostgresWalletRepository struct {
	db *sql.DB
}

func NewPostgresWalletRepository(db *sql.DB) *PostgresWalletRepository {
	return &PostgresWalletRepository{db: db}
}

func (r *PostgresWalletRepository) GetOrCreate(ctx context.Context, ownerID int64) (*models.Wallet, error) {
	var err error
	tracer := otel.Tracer("wallet-repository")
	ctx, span := tracer.Start(ctx, "GetOrCreateWallet")
	span.SetAttributes(attribute.Int64("owner_id", ownerID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetOrCreateWallet", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetOrCreateWallet").Observe(time.Since(start).Seconds())
	}()

	query := `
		INSERT INTO wallets (owner_id)
		VALUES ($1)
		ON CONFLICT (owner_id) DO NOTHING
		RETURNING id, owner_id, balance, version, created_at, updated_at
	`
	var w models.Wallet
	err = r.db.QueryRowContext(ctx, query, ownerID).Scan(
		&w.ID, &w.OwnerID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		// Wallet already existed, the insert was a no-op.
		return r.GetByOwner(ctx, ownerID)
	}
	if err != nil {
		slog.Error("failed to get or create wallet", "method", "GetOrCreate", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("failed to get or create wallet: %w", err)
	}

	slog.Info("wallet created", "method", "GetOrCreate", "wallet_id", w.ID, "owner_id", ownerID)
	return &w, nil
}

func (r *PostgresWalletRepository) GetByID(ctx context.Context, id int64) (*models.Wallet, error) {
	query := `SELECT id, owner_id, balance, version, created_at, updated_at FROM wallets WHERE id = $1`
	var w models.Wallet
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&w.ID, &w.OwnerID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrWalletNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get wallet by id: %w", err)
	}
	return &w, nil
}

func (r *PostgresWalletRepository) GetByOwner(ctx context.Context, ownerID int64) (*models.Wallet, error) {
	query := `SELECT id, owner_id, balance, version, created_at, updated_at FROM wallets WHERE owner_id = $1`
	var w models.Wallet
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(
		&w.ID, &w.OwnerID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrWalletNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get wallet by owner: %w", err)
	}
	return &w, nil
}

func (r *PostgresWalletRepository) Credit(ctx context.Context, walletID, amount int64, idempotencyKey string) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, pkgerrors.ErrInvalidAmount
	}
	return r.applyEntry(ctx, "Credit", walletID, amount, idempotencyKey)
}

func (r *PostgresWalletRepository) Debit(ctx context.Context, walletID, amount int64, idempotencyKey string) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, pkgerrors.ErrInvalidAmount
	}
	return r.applyEntry(ctx, "Debit", walletID, -amount, idempotencyKey)
}

// applyEntry applies a signed balance change exactly once per
// (walletID, idempotencyKey). The idempotency record and the conditional
// balance update share one database transaction, so the change is either
// fully visible or not at all. The balance condition rejects any delta
// that would make the balance negative.
func (r *PostgresWalletRepository) applyEntry(ctx context.Context, method string, walletID, delta int64, idempotencyKey string) (int64, bool, error) {
	var (
		balance int64
		applied bool
		err     error
	)
	tracer := otel.Tracer("wallet-repository")
	ctx, span := tracer.Start(ctx, method)
	span.SetAttributes(
		attribute.Int64("wallet_id", walletID),
		attribute.Int64("delta", delta),
		attribute.String("idempotency_key", idempotencyKey),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; attempt <= maxRetries; attempt++ {
		balance, applied, err = r.applyEntryOnce(ctx, walletID, delta, idempotencyKey)
		if !isRetryable(err) {
			break
		}
		slog.Warn("storage contention, retrying balance change",
			"method", method, "wallet_id", walletID, "attempt", attempt, "error", err)
	}
	if err != nil {
		slog.Error("failed to apply balance change",
			"method", method, "wallet_id", walletID, "idempotency_key", idempotencyKey, "error", err)
		return 0, false, err
	}

	slog.Info("balance change applied",
		"method", method, "wallet_id", walletID, "idempotency_key", idempotencyKey,
		"applied", applied, "balance", balance)
	return balance, applied, nil
}

func (r *PostgresWalletRepository) applyEntryOnce(ctx context.Context, walletID, delta int64, idempotencyKey string) (int64, bool, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	res, err := dbTx.ExecContext(ctx, `
		INSERT INTO wallet_entries (wallet_id, idempotency_key, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (wallet_id, idempotency_key) DO NOTHING
	`, walletID, idempotencyKey, delta)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23503" {
			return 0, false, pkgerrors.ErrWalletNotFound
		}
		return 0, false, fmt.Errorf("failed to record wallet entry: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	var balance int64
	if inserted == 0 {
		// Entry already applied earlier; report the current balance.
		err = dbTx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE id = $1`, walletID).Scan(&balance)
		if stderrors.Is(err, sql.ErrNoRows) {
			return 0, false, pkgerrors.ErrWalletNotFound
		}
		if err != nil {
			return 0, false, fmt.Errorf("failed to read balance: %w", err)
		}
		if err = dbTx.Commit(); err != nil {
			return 0, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return balance, false, nil
	}

	err = dbTx.QueryRowContext(ctx, `
		UPDATE wallets
		SET balance = balance + $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND balance + $1 >= 0
		RETURNING balance
	`, delta, walletID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		// Either the wallet is gone or the debit would overdraw it.
		var exists bool
		if checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, walletID).Scan(&exists); checkErr != nil {
			return 0, false, fmt.Errorf("failed to check wallet existence: %w", checkErr)
		}
		if !exists {
			return 0, false, pkgerrors.ErrWalletNotFound
		}
		return 0, false, pkgerrors.ErrInsufficientFunds
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to update balance: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return balance, true, nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
