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
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

const transactionColumns = `id, wallet_id, owner_id, kind, amount, status, event_id, discount_code_id,
	original_amount, discount_amount, gateway_session_token, gateway_reference, failure_reason,
	created_at, completed_at`

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateTransaction").Observe(time.Since(start).Seconds())
	}()

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to create transaction", "method", "Create", "error", err)
		return err
	}
	if !tx.Kind.Valid() {
		err = pkgerrors.ErrInvalidKind
		slog.Error("invalid transaction kind", "method", "Create", "kind", tx.Kind, "error", err)
		return err
	}
	if !tx.Status.Valid() {
		err = pkgerrors.ErrInvalidStatus
		slog.Error("invalid transaction status", "method", "Create", "status", tx.Status, "error", err)
		return err
	}
	// A payment fully covered by a discount is stored with a zero amount;
	// deposits and withdrawals always move money.
	if tx.Amount < 0 || (tx.Amount == 0 && tx.Kind != models.KindPayment) {
		err = pkgerrors.ErrInvalidAmount
		slog.Error("amount must be positive", "method", "Create", "kind", tx.Kind, "amount", tx.Amount, "error", err)
		return err
	}

	span.SetAttributes(
		attribute.String("transaction_id", tx.ID.String()),
		attribute.Int64("wallet_id", tx.WalletID),
		attribute.Int64("amount", tx.Amount),
		attribute.String("kind", string(tx.Kind)),
	)

	query := `
		INSERT INTO transactions (id, wallet_id, owner_id, kind, amount, status, event_id,
			discount_code_id, original_amount, discount_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		tx.ID, tx.WalletID, tx.OwnerID, tx.Kind, tx.Amount, tx.Status,
		tx.EventID, tx.DiscountCodeID, tx.OriginalAmount, tx.DiscountAmount,
	).Scan(&tx.CreatedAt)
	if err != nil {
		slog.Error("failed to create transaction", "method", "Create", "transaction_id", tx.ID, "wallet_id", tx.WalletID, "kind", tx.Kind, "error", err)
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created", "method", "Create", "transaction_id", tx.ID, "wallet_id", tx.WalletID, "kind", tx.Kind, "amount", tx.Amount)
	return nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionByID")
	span.SetAttributes(attribute.String("transaction_id", id.String()))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetTransactionByID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetTransactionByID").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	var tx models.Transaction
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&tx.ID, &tx.WalletID, &tx.OwnerID, &tx.Kind, &tx.Amount, &tx.Status,
		&tx.EventID, &tx.DiscountCodeID, &tx.OriginalAmount, &tx.DiscountAmount,
		&tx.GatewaySessionToken, &tx.GatewayReference, &tx.FailureReason,
		&tx.CreatedAt, &tx.CompletedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return &tx, nil
}

func (r *PostgresTransactionRepository) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByOwner", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.WalletID, &tx.OwnerID, &tx.Kind, &tx.Amount, &tx.Status,
			&tx.EventID, &tx.DiscountCodeID, &tx.OriginalAmount, &tx.DiscountAmount,
			&tx.GatewaySessionToken, &tx.GatewayReference, &tx.FailureReason,
			&tx.CreatedAt, &tx.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *PostgresTransactionRepository) SetGatewaySession(ctx context.Context, id uuid.UUID, sessionToken string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET gateway_session_token = $2
		WHERE id = $1 AND status = 'pending'
	`, id, sessionToken)
	if err != nil {
		slog.Error("failed to store gateway session", "method", "SetGatewaySession", "transaction_id", id, "error", err)
		return fmt.Errorf("failed to store gateway session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrAlreadyTerminal
	}
	return nil
}

// MarkCompleted settles the transaction. The update is conditional on the
// row still being pending: with duplicate callbacks racing each other,
// exactly one caller observes transitioned=true and performs the
// follow-up side effects.
func (r *PostgresTransactionRepository) MarkCompleted(ctx context.Context, id uuid.UUID, gatewayReference string) (bool, error) {
	return r.transition(ctx, "MarkCompleted", `
		UPDATE transactions
		SET status = 'completed', gateway_reference = $2, completed_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, gatewayReference)
}

func (r *PostgresTransactionRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.transition(ctx, "MarkFailed", `
		UPDATE transactions
		SET status = 'failed', failure_reason = $2, completed_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, reason)
}

func (r *PostgresTransactionRepository) transition(ctx context.Context, method, query string, id uuid.UUID, arg string) (bool, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, method)
	span.SetAttributes(attribute.String("transaction_id", id.String()))
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

	res, err := r.db.ExecContext(ctx, query, id, arg)
	if err != nil {
		slog.Error("failed to transition transaction", "method", method, "transaction_id", id, "error", err)
		return false, fmt.Errorf("failed to transition transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		slog.Info("transaction already terminal", "method", method, "transaction_id", id)
		return false, nil
	}

	slog.Info("transaction transitioned", "method", method, "transaction_id", id)
	return true, nil
}

func (r *PostgresTransactionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		slog.Error("failed to list stale pending transactions", "method", "ListStalePending", "error", err)
		return nil, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.WalletID, &tx.OwnerID, &tx.Kind, &tx.Amount, &tx.Status,
			&tx.EventID, &tx.DiscountCodeID, &tx.OriginalAmount, &tx.DiscountAmount,
			&tx.GatewaySessionToken, &tx.GatewayReference, &tx.FailureReason,
			&tx.CreatedAt, &tx.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
