package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/eventshare/ledger/internal/models"
	repository "github.com/eventshare/ledger/internal/repository/postgres"
	pkgerrors "github.com/eventshare/ledger/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

var transactionTestColumns = []string{
	"id", "wallet_id", "owner_id", "kind", "amount", "status", "event_id", "discount_code_id",
	"original_amount", "discount_amount", "gateway_session_token", "gateway_reference", "failure_reason",
	"created_at", "completed_at",
}

func TestPostgresTransactionRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	t.Run("NilTransaction", func(t *testing.T) {
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilTransaction)
	})

	t.Run("InvalidKind", func(t *testing.T) {
		tx := &models.Transaction{
			ID:       uuid.New(),
			WalletID: 10,
			OwnerID:  42,
			Kind:     "refund",
			Amount:   500,
			Status:   models.StatusPending,
		}
		err := repo.Create(ctx, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidKind)
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		tx := &models.Transaction{
			ID:       uuid.New(),
			WalletID: 10,
			OwnerID:  42,
			Kind:     models.KindDeposit,
			Amount:   500,
			Status:   "invalid",
		}
		err := repo.Create(ctx, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidStatus)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		tx := &models.Transaction{
			ID:       uuid.New(),
			WalletID: 10,
			OwnerID:  42,
			Kind:     models.KindDeposit,
			Amount:   0,
			Status:   models.StatusPending,
		}
		err := repo.Create(ctx, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		tx := &models.Transaction{
			ID:       uuid.New(),
			WalletID: 10,
			OwnerID:  42,
			Kind:     models.KindPayment,
			Amount:   -1,
			Status:   models.StatusPending,
		}
		err := repo.Create(ctx, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})

	t.Run("ZeroAmountPayment", func(t *testing.T) {
		discountCodeID := int64(7)
		originalAmount := int64(20000)
		discountAmount := int64(20000)
		tx := &models.Transaction{
			ID:             uuid.New(),
			WalletID:       10,
			OwnerID:        42,
			Kind:           models.KindPayment,
			Amount:         0,
			Status:         models.StatusPending,
			DiscountCodeID: &discountCodeID,
			OriginalAmount: &originalAmount,
			DiscountAmount: &discountAmount,
		}
		createdAt := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO transactions`)).
			WithArgs(tx.ID, tx.WalletID, tx.OwnerID, tx.Kind, tx.Amount, tx.Status,
				nil, &discountCodeID, &originalAmount, &discountAmount).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(createdAt))

		err := repo.Create(ctx, tx)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success", func(t *testing.T) {
		tx := &models.Transaction{
			ID:       uuid.New(),
			WalletID: 10,
			OwnerID:  42,
			Kind:     models.KindDeposit,
			Amount:   500,
			Status:   models.StatusPending,
		}
		createdAt := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO transactions (id, wallet_id, owner_id, kind, amount, status, event_id, discount_code_id, original_amount, discount_amount) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`)).
			WithArgs(tx.ID, tx.WalletID, tx.OwnerID, tx.Kind, tx.Amount, tx.Status, nil, nil, nil, nil).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(createdAt))

		err := repo.Create(ctx, tx)
		assert.NoError(t, err)
		assert.WithinDuration(t, createdAt, tx.CreatedAt, time.Second)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	t.Run("NotFound", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectQuery(regexp.QuoteMeta(`FROM transactions WHERE id = $1`)).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(transactionTestColumns))

		tx, err := repo.GetByID(ctx, id)
		assert.Nil(t, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success", func(t *testing.T) {
		id := uuid.New()
		createdAt := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`FROM transactions WHERE id = $1`)).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(transactionTestColumns).
				AddRow(id, int64(10), int64(42), "payment", int64(5000), "pending",
					nil, nil, nil, nil, "sess-token", nil, nil, createdAt, nil))

		tx, err := repo.GetByID(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, models.KindPayment, tx.Kind)
		assert.Equal(t, models.StatusPending, tx.Status)
		assert.Equal(t, "sess-token", *tx.GatewaySessionToken)
		assert.Nil(t, tx.CompletedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_SetGatewaySession(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE transactions SET gateway_session_token = $2 WHERE id = $1 AND status = 'pending'`)).
			WithArgs(id, "sess-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.SetGatewaySession(ctx, id, "sess-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyTerminal", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE transactions SET gateway_session_token = $2`)).
			WithArgs(id, "sess-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.SetGatewaySession(ctx, id, "sess-1")
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyTerminal)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_MarkCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	t.Run("Transitioned", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE transactions SET status = 'completed', gateway_reference = $2, completed_at = now() WHERE id = $1 AND status = 'pending'`)).
			WithArgs(id, "ref-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		transitioned, err := repo.MarkCompleted(ctx, id, "ref-1")
		assert.NoError(t, err)
		assert.True(t, transitioned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyTerminal", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE transactions SET status = 'completed'`)).
			WithArgs(id, "ref-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		transitioned, err := repo.MarkCompleted(ctx, id, "ref-1")
		assert.NoError(t, err)
		assert.False(t, transitioned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_MarkFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	t.Run("Transitioned", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE transactions SET status = 'failed', failure_reason = $2, completed_at = now() WHERE id = $1 AND status = 'pending'`)).
			WithArgs(id, "insufficient funds at settlement").
			WillReturnResult(sqlmock.NewResult(0, 1))

		transitioned, err := repo.MarkFailed(ctx, id, "insufficient funds at settlement")
		assert.NoError(t, err)
		assert.True(t, transitioned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_ListStalePending(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	cutoff := time.Now().Add(-30 * time.Minute)
	first := uuid.New()
	second := uuid.New()
	createdAt := cutoff.Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM transactions WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`)).
		WithArgs(cutoff, 100).
		WillReturnRows(sqlmock.NewRows(transactionTestColumns).
			AddRow(first, int64(10), int64(42), "payment", int64(5000), "pending",
				nil, nil, nil, nil, nil, nil, nil, createdAt, nil).
			AddRow(second, int64(11), int64(43), "deposit", int64(2000), "pending",
				nil, nil, nil, nil, "sess-2", nil, nil, createdAt, nil))

	stale, err := repo.ListStalePending(ctx, cutoff, 100)
	assert.NoError(t, err)
	assert.Len(t, stale, 2)
	assert.Equal(t, first, stale[0].ID)
	assert.Equal(t, second, stale[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
