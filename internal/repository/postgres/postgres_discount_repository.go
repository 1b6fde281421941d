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

type PostgresDiscountRepository struct {
	db *sql.DB
}

func NewPostgresDiscountRepository(db *sql.DB) *PostgresDiscountRepository {
	return &PostgresDiscountRepository{db: db}
}

func (r *PostgresDiscountRepository) GetByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	var err error
	tracer := otel.Tracer("discount-repository")
	ctx, span := tracer.Start(ctx, "GetDiscountByCode")
	span.SetAttributes(attribute.String("code", code))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetDiscountByCode", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetDiscountByCode").Observe(time.Since(start).Seconds())
	}()

	query := `
		SELECT id, code, kind, value, max_amount, valid_from, valid_to,
			global_usage_limit, per_user_usage_limit, eligible_event_ids, eligible_gateway_ids,
			active, created_at
		FROM discount_codes
		WHERE lower(code) = lower($1)
	`
	var c models.DiscountCode
	err = r.db.QueryRowContext(ctx, query, code).Scan(
		&c.ID, &c.Code, &c.Kind, &c.Value, &c.MaxAmount, &c.ValidFrom, &c.ValidTo,
		&c.GlobalUsageLimit, &c.PerUserUsageLimit,
		pq.Array(&c.EligibleEventIDs), pq.Array(&c.EligibleGatewayIDs),
		&c.Active, &c.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrDiscountNotFound
	}
	if err != nil {
		slog.Error("failed to get discount code", "method", "GetByCode", "code", code, "error", err)
		return nil, fmt.Errorf("failed to get discount code: %w", err)
	}
	return &c, nil
}

func (r *PostgresDiscountRepository) GetByID(ctx context.Context, id int64) (*models.DiscountCode, error) {
	query := `
		SELECT id, code, kind, value, max_amount, valid_from, valid_to,
			global_usage_limit, per_user_usage_limit, eligible_event_ids, eligible_gateway_ids,
			active, created_at
		FROM discount_codes
		WHERE id = $1
	`
	var c models.DiscountCode
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Code, &c.Kind, &c.Value, &c.MaxAmount, &c.ValidFrom, &c.ValidTo,
		&c.GlobalUsageLimit, &c.PerUserUsageLimit,
		pq.Array(&c.EligibleEventIDs), pq.Array(&c.EligibleGatewayIDs),
		&c.Active, &c.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrDiscountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discount code by id: %w", err)
	}
	return &c, nil
}

func (r *PostgresDiscountRepository) CountForUser(ctx context.Context, discountCodeID, userID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM discount_usages WHERE discount_code_id = $1 AND user_id = $2`,
		discountCodeID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count user discount usage: %w", err)
	}
	return count, nil
}

func (r *PostgresDiscountRepository) CountGlobal(ctx context.Context, discountCodeID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM discount_usages WHERE discount_code_id = $1`,
		discountCodeID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count discount usage: %w", err)
	}
	return count, nil
}

// RecordUsage inserts the usage row with the limit check built into the
// statement. The code row is locked first: under read committed two
// sessions claiming the last slot would otherwise both count limit-1 in
// their own snapshot and both insert. With the lock held the second
// session's count subquery sees the first session's committed row. The
// unique constraint on (discount_code_id, transaction_id) turns a
// duplicate settlement into a no-op instead of a double count.
func (r *PostgresDiscountRepository) RecordUsage(ctx context.Context, usage *models.DiscountUsage, globalLimit, perUserLimit *int64) (bool, error) {
	var err error
	tracer := otel.Tracer("discount-repository")
	ctx, span := tracer.Start(ctx, "RecordDiscountUsage")
	span.SetAttributes(
		attribute.Int64("discount_code_id", usage.DiscountCodeID),
		attribute.Int64("user_id", usage.UserID),
		attribute.String("transaction_id", usage.TransactionID.String()),
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
		observability.RepositoryCalls.WithLabelValues("RecordDiscountUsage", status).Inc()
		observability.RepositoryDuration.WithLabelValues("RecordDiscountUsage").Observe(time.Since(start).Seconds())
	}()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var codeID int64
	err = dbTx.QueryRowContext(ctx,
		`SELECT id FROM discount_codes WHERE id = $1 FOR UPDATE`,
		usage.DiscountCodeID,
	).Scan(&codeID)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrDiscountNotFound
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock discount code: %w", err)
	}

	query := `
		INSERT INTO discount_usages (id, discount_code_id, user_id, event_id,
			original_amount, discount_amount, final_amount, transaction_id)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE ($9::bigint IS NULL
			OR (SELECT COUNT(*) FROM discount_usages WHERE discount_code_id = $2) < $9)
		AND ($10::bigint IS NULL
			OR (SELECT COUNT(*) FROM discount_usages WHERE discount_code_id = $2 AND user_id = $3) < $10)
		ON CONFLICT (discount_code_id, transaction_id) DO NOTHING
	`
	res, err := dbTx.ExecContext(ctx, query,
		usage.ID, usage.DiscountCodeID, usage.UserID, usage.EventID,
		usage.OriginalAmount, usage.DiscountAmount, usage.FinalAmount, usage.TransactionID,
		globalLimit, perUserLimit,
	)
	if err != nil {
		slog.Error("failed to record discount usage", "method", "RecordUsage", "discount_code_id", usage.DiscountCodeID, "transaction_id", usage.TransactionID, "error", err)
		return false, fmt.Errorf("failed to record discount usage: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		if err = dbTx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		slog.Info("discount usage recorded", "method", "RecordUsage", "discount_code_id", usage.DiscountCodeID, "user_id", usage.UserID, "transaction_id", usage.TransactionID)
		return true, nil
	}

	// Zero rows: either this transaction already consumed the code, or no
	// slot was left. Look at which one it was.
	var exists bool
	err = dbTx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM discount_usages WHERE discount_code_id = $1 AND transaction_id = $2)`,
		usage.DiscountCodeID, usage.TransactionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check discount usage: %w", err)
	}
	if exists {
		if err = dbTx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		slog.Info("discount usage already recorded", "method", "RecordUsage", "discount_code_id", usage.DiscountCodeID, "transaction_id", usage.TransactionID)
		return false, nil
	}

	err = pkgerrors.ErrUsageLimitExceeded
	slog.Warn("discount usage limit reached", "method", "RecordUsage", "discount_code_id", usage.DiscountCodeID, "user_id", usage.UserID)
	return false, err
}
