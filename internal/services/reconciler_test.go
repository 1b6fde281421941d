package service

import (
	"context"
	"testing"
	"time"

	"github.com/eventshare/ledger/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) GetWallet(ctx context.Context, ownerID int64) (*models.Wallet, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockLedgerService) Create(ctx context.Context, ownerID int64, req CreateTransactionRequest) (*models.Transaction, error) {
	args := m.Called(ctx, ownerID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockLedgerService) BeginGatewaySession(ctx context.Context, transactionID uuid.UUID) (string, error) {
	args := m.Called(ctx, transactionID)
	return args.String(0), args.Error(1)
}

func (m *MockLedgerService) Settle(ctx context.Context, transactionID uuid.UUID) (*models.SettlementResult, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SettlementResult), args.Error(1)
}

func (m *MockLedgerService) Fail(ctx context.Context, transactionID uuid.UUID, reason string) error {
	args := m.Called(ctx, transactionID, reason)
	return args.Error(0)
}

func (m *MockLedgerService) Cancel(ctx context.Context, ownerID int64, transactionID uuid.UUID, reason string) error {
	args := m.Called(ctx, ownerID, transactionID, reason)
	return args.Error(0)
}

func (m *MockLedgerService) History(ctx context.Context, ownerID int64, limit, offset int) ([]models.Transaction, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func TestReconciler_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("fails stale pending transactions", func(t *testing.T) {
		transactionRepo := new(MockTransactionRepository)
		ledger := new(MockLedgerService)
		stale := []models.Transaction{
			{ID: uuid.New(), Status: models.StatusPending},
			{ID: uuid.New(), Status: models.StatusPending},
		}
		transactionRepo.On("ListStalePending", mock.Anything, mock.AnythingOfType("time.Time"), staleBatchSize).
			Return(stale, nil)
		ledger.On("Fail", mock.Anything, stale[0].ID, "gateway confirmation timed out").Return(nil)
		ledger.On("Fail", mock.Anything, stale[1].ID, "gateway confirmation timed out").Return(nil)

		r := NewReconciler(transactionRepo, ledger, time.Minute, 30*time.Minute)
		r.sweep(ctx)

		ledger.AssertExpectations(t)
	})

	t.Run("nothing stale means no calls", func(t *testing.T) {
		transactionRepo := new(MockTransactionRepository)
		ledger := new(MockLedgerService)
		transactionRepo.On("ListStalePending", mock.Anything, mock.AnythingOfType("time.Time"), staleBatchSize).
			Return([]models.Transaction{}, nil)

		r := NewReconciler(transactionRepo, ledger, time.Minute, 30*time.Minute)
		r.sweep(ctx)

		ledger.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("run stops on context cancellation", func(t *testing.T) {
		transactionRepo := new(MockTransactionRepository)
		ledger := new(MockLedgerService)
		transactionRepo.On("ListStalePending", mock.Anything, mock.Anything, mock.Anything).
			Return([]models.Transaction{}, nil).Maybe()

		r := NewReconciler(transactionRepo, ledger, 5*time.Millisecond, 30*time.Minute)
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			r.Run(runCtx)
			close(done)
		}()
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("reconciler did not stop after cancellation")
		}
	})
}

func TestReconciler_Sweep_ListError(t *testing.T) {
	transactionRepo := new(MockTransactionRepository)
	ledger := new(MockLedgerService)
	transactionRepo.On("ListStalePending", mock.Anything, mock.AnythingOfType("time.Time"), staleBatchSize).
		Return(nil, assert.AnError)

	r := NewReconciler(transactionRepo, ledger, time.Minute, 30*time.Minute)
	r.sweep(context.Background())

	ledger.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
}
