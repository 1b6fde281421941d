package service

import (
	"context"
	"time"

	"github.com/eventshare/ledger/internal/gateway"
	"github.com/eventshare/ledger/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) GetOrCreate(ctx context.Context, ownerID int64) (*models.Wallet, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetByID(ctx context.Context, id int64) (*models.Wallet, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetByOwner(ctx context.Context, ownerID int64) (*models.Wallet, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) Credit(ctx context.Context, walletID, amount int64, idempotencyKey string) (int64, bool, error) {
	args := m.Called(ctx, walletID, amount, idempotencyKey)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockWalletRepository) Debit(ctx context.Context, walletID, amount int64, idempotencyKey string) (int64, bool, error) {
	args := m.Called(ctx, walletID, amount, idempotencyKey)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]models.Transaction, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) SetGatewaySession(ctx context.Context, id uuid.UUID, sessionToken string) error {
	args := m.Called(ctx, id, sessionToken)
	return args.Error(0)
}

func (m *MockTransactionRepository) MarkCompleted(ctx context.Context, id uuid.UUID, gatewayReference string) (bool, error) {
	args := m.Called(ctx, id, gatewayReference)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	args := m.Called(ctx, id, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

type MockDiscountRepository struct {
	mock.Mock
}

func (m *MockDiscountRepository) GetByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DiscountCode), args.Error(1)
}

func (m *MockDiscountRepository) GetByID(ctx context.Context, id int64) (*models.DiscountCode, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DiscountCode), args.Error(1)
}

func (m *MockDiscountRepository) CountForUser(ctx context.Context, discountCodeID, userID int64) (int64, error) {
	args := m.Called(ctx, discountCodeID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDiscountRepository) CountGlobal(ctx context.Context, discountCodeID int64) (int64, error) {
	args := m.Called(ctx, discountCodeID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDiscountRepository) RecordUsage(ctx context.Context, usage *models.DiscountUsage, globalLimit, perUserLimit *int64) (bool, error) {
	args := m.Called(ctx, usage, globalLimit, perUserLimit)
	return args.Bool(0), args.Error(1)
}

type MockDiscountService struct {
	mock.Mock
}

func (m *MockDiscountService) Validate(ctx context.Context, code string, userID int64, eventID *int64, gatewayID string, baseAmount int64) (*models.DiscountCode, *models.DiscountResult, error) {
	args := m.Called(ctx, code, userID, eventID, gatewayID, baseAmount)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.DiscountCode), args.Get(1).(*models.DiscountResult), args.Error(2)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ID() string {
	return "test-gateway"
}

func (m *MockGateway) Initiate(ctx context.Context, amount int64, callbackURL, description string) (*gateway.InitiateResult, error) {
	args := m.Called(ctx, amount, callbackURL, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.InitiateResult), args.Error(1)
}

func (m *MockGateway) Verify(ctx context.Context, sessionToken string, expectedAmount int64) (*gateway.VerificationResult, error) {
	args := m.Called(ctx, sessionToken, expectedAmount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.VerificationResult), args.Error(1)
}

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func (m *MockRedisClient) Del(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Send(ctx context.Context, topic, key string, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func (m *MockProducer) Close() error {
	args := m.Called()
	return args.Error(0)
}
