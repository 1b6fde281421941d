package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/eventshare/ledger/internal/gateway"
	"github.com/eventshare/ledger/internal/infrastructure/kafka"
	"github.com/eventshare/ledger/internal/infrastructure/observability"
	"github.com/eventshare/ledger/internal/infrastructure/redis"
	"github.com/eventshare/ledger/internal/models"
	"github.com/eventshare/ledger/internal/repository"
	pkgerrors "github.com/eventshare/ledger/pkg/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	settlementsTopic = "settlements"
	balanceCacheTTL  = time.Minute
)

// CreateTransactionRequest carries a money-movement intent from the
// caller. DiscountCode is only honored for the payment kind.
type CreateTransactionRequest struct {
	Kind         models.TransactionKind
	Amount       int64
	EventID      *int64
	DiscountCode string
}

// LedgerService coordinates wallets, transactions, the payment gateway
// and discount usage. Settle is the idempotent settlement entry point:
// it can be invoked any number of times from duplicate gateway callbacks
// or queue confirmations and applies its side effects exactly once.
type LedgerService interface {
	GetWallet(ctx context.Context, ownerID int64) (*models.Wallet, error)
	Create(ctx context.Context, ownerID int64, req CreateTransactionRequest) (*models.Transaction, error)
	BeginGatewaySession(ctx context.Context, transactionID uuid.UUID) (redirectURL string, err error)
	Settle(ctx context.Context, transactionID uuid.UUID) (*models.SettlementResult, error)
	Fail(ctx context.Context, transactionID uuid.UUID, reason string) error
	Cancel(ctx context.Context, ownerID int64, transactionID uuid.UUID, reason string) error
	History(ctx context.Context, ownerID int64, limit, offset int) ([]models.Transaction, error)
}

type ledgerService struct {
	walletRepo      repository.WalletRepository
	transactionRepo repository.TransactionRepository
	discountRepo    repository.DiscountRepository
	discounts       DiscountService
	gateway         gateway.Adapter
	redisClient     redis.RedisClient
	producer        kafka.KafkaProducer
	callbackBaseURL string
}

func NewLedgerService(
	walletRepo repository.WalletRepository,
	transactionRepo repository.TransactionRepository,
	discountRepo repository.DiscountRepository,
	discounts DiscountService,
	gw gateway.Adapter,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	callbackBaseURL string,
) *ledgerService {
	return &ledgerService{
		walletRepo:      walletRepo,
		transactionRepo: transactionRepo,
		discountRepo:    discountRepo,
		discounts:       discounts,
		gateway:         gw,
		redisClient:     redisClient,
		producer:        producer,
		callbackBaseURL: callbackBaseURL,
	}
}

func (s *ledgerService) GetWallet(ctx context.Context, ownerID int64) (*models.Wallet, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "GetWallet")
	defer span.End()

	cacheKey := fmt.Sprintf("wallet:owner:%d", ownerID)
	cached, err := s.redisClient.Get(ctx, cacheKey)
	if err == nil {
		var w models.Wallet
		uerr := json.Unmarshal([]byte(cached), &w)
		if uerr == nil {
			return &w, nil
		}
		slog.Error("failed to unmarshal cached wallet", "owner_id", ownerID, "error", uerr)
		s.invalidateWalletCache(ctx, ownerID)
	}

	// Wallets are created lazily on first access.
	wallet, err := s.walletRepo.GetOrCreate(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "wallet lookup failed")
		return nil, err
	}

	if walletBytes, err := json.Marshal(wallet); err == nil {
		if err := s.redisClient.Set(ctx, cacheKey, string(walletBytes), balanceCacheTTL); err != nil {
			slog.Error("failed to cache wallet", "owner_id", ownerID, "error", err)
		}
	}
	return wallet, nil
}

func (s *ledgerService) Create(ctx context.Context, ownerID int64, req CreateTransactionRequest) (*models.Transaction, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	if !req.Kind.Valid() {
		span.SetStatus(codes.Error, "invalid kind")
		return nil, pkgerrors.ErrInvalidKind
	}
	if req.Amount <= 0 {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, pkgerrors.ErrInvalidAmount
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "wallet lookup failed")
		return nil, err
	}

	tx := &models.Transaction{
		ID:       uuid.New(),
		WalletID: wallet.ID,
		OwnerID:  ownerID,
		Kind:     req.Kind,
		Amount:   req.Amount,
		Status:   models.StatusPending,
		EventID:  req.EventID,
	}

	// The charged amount is fixed before the gateway ever sees the
	// transaction; the pre-discount figures stay on the row only to feed
	// the usage audit record at settlement.
	if req.Kind == models.KindPayment && req.DiscountCode != "" {
		code, result, err := s.discounts.Validate(ctx, req.DiscountCode, ownerID, req.EventID, s.gateway.ID(), req.Amount)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "discount validation failed")
			return nil, err
		}
		original := req.Amount
		tx.Amount = result.FinalAmount
		tx.DiscountCodeID = &code.ID
		tx.OriginalAmount = &original
		tx.DiscountAmount = &result.DiscountAmount
	}

	if err := s.transactionRepo.Create(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction creation failed")
		return nil, err
	}

	slog.Info("transaction created",
		"transaction_id", tx.ID, "owner_id", ownerID, "kind", tx.Kind, "amount", tx.Amount)
	return tx, nil
}

// BeginGatewaySession opens a payment session at the provider for a
// pending transaction and stores the returned token. A fully discounted
// payment has nothing to charge, so no session is opened. Initiate
// failures leave the transaction pending; the step is safe to retry.
func (s *ledgerService) BeginGatewaySession(ctx context.Context, transactionID uuid.UUID) (string, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "BeginGatewaySession")
	defer span.End()

	tx, err := s.transactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if tx.IsTerminal() {
		span.SetStatus(codes.Error, "transaction already terminal")
		return "", pkgerrors.ErrAlreadyTerminal
	}
	if tx.Amount == 0 {
		return "", nil
	}

	callbackURL := fmt.Sprintf("%s/transactions/%s/settle", s.callbackBaseURL, tx.ID)
	session, err := s.gateway.Initiate(ctx, tx.Amount, callbackURL, string(tx.Kind))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway initiate failed")
		slog.Error("failed to open gateway session", "transaction_id", tx.ID, "error", err)
		return "", err
	}

	if err := s.transactionRepo.SetGatewaySession(ctx, tx.ID, session.SessionToken); err != nil {
		span.RecordError(err)
		return "", err
	}

	slog.Info("gateway session opened", "transaction_id", tx.ID, "amount", tx.Amount)
	return session.RedirectURL, nil
}

func (s *ledgerService) Settle(ctx context.Context, transactionID uuid.UUID) (*models.SettlementResult, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "SettleTransaction")
	defer span.End()

	tx, err := s.transactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	switch tx.Status {
	case models.StatusCompleted:
		// Duplicate callback: report success without re-applying anything.
		slog.Info("settle called on completed transaction", "transaction_id", tx.ID)
		return s.settledResult(ctx, tx)
	case models.StatusFailed:
		span.SetStatus(codes.Error, "transaction already failed")
		return nil, pkgerrors.ErrAlreadyTerminal
	}

	// Verification happens before any local mutation and never under a
	// database transaction, so a slow provider cannot block the wallet.
	var reference string
	if tx.Amount > 0 {
		if tx.GatewaySessionToken == nil {
			span.SetStatus(codes.Error, "no gateway session")
			return nil, fmt.Errorf("transaction %s has no gateway session", tx.ID)
		}
		verification, err := s.gateway.Verify(ctx, *tx.GatewaySessionToken, tx.Amount)
		if stderrors.Is(err, pkgerrors.ErrGatewayRejected) {
			return s.failSettlement(ctx, tx, err.Error())
		}
		if err != nil {
			// Transport trouble: stay pending, the caller retries settle.
			span.RecordError(err)
			span.SetStatus(codes.Error, "gateway verification unavailable")
			return nil, err
		}
		reference = verification.Reference
	}

	// Side effects keyed on the transaction id: re-running them after a
	// crash or from a racing duplicate is a no-op.
	idempotencyKey := tx.ID.String()
	var balance int64
	switch tx.Kind {
	case models.KindDeposit:
		balance, _, err = s.walletRepo.Credit(ctx, tx.WalletID, tx.Amount, idempotencyKey)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	case models.KindWithdraw, models.KindPayment:
		if tx.Amount > 0 {
			balance, _, err = s.walletRepo.Debit(ctx, tx.WalletID, tx.Amount, idempotencyKey)
			if stderrors.Is(err, pkgerrors.ErrInsufficientFunds) {
				return s.failSettlement(ctx, tx, "insufficient funds at settlement")
			}
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
		} else {
			wallet, err := s.walletRepo.GetByID(ctx, tx.WalletID)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			balance = wallet.Balance
		}
	}

	if tx.Kind == models.KindPayment && tx.HasDiscount() {
		if err := s.recordDiscountUsage(ctx, tx); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	transitioned, err := s.transactionRepo.MarkCompleted(ctx, tx.ID, reference)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !transitioned {
		// A concurrent settle won the transition; the side effects above
		// were de-duplicated by the idempotency key.
		slog.Info("settlement race lost, transaction already terminal", "transaction_id", tx.ID)
		current, err := s.transactionRepo.GetByID(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.StatusFailed {
			// A concurrent cancel or the stale-pending sweep failed the
			// transaction after the wallet effect above landed. Back the
			// effect out so the balance matches the failed record.
			if rerr := s.reverseWalletEffect(ctx, tx); rerr != nil {
				span.RecordError(rerr)
				return nil, rerr
			}
			return nil, pkgerrors.ErrAlreadyTerminal
		}
		return s.settledResult(ctx, current)
	}

	observability.SettlementsTotal.WithLabelValues(string(tx.Kind), string(models.StatusCompleted)).Inc()
	s.invalidateWalletCache(ctx, tx.OwnerID)
	s.publishSettlement(ctx, tx, models.StatusCompleted, reference)

	slog.Info("transaction settled",
		"transaction_id", tx.ID, "kind", tx.Kind, "amount", tx.Amount,
		"gateway_reference", reference, "balance", balance)

	result := &models.SettlementResult{
		TransactionID: tx.ID,
		Status:        models.StatusCompleted,
		Balance:       &balance,
	}
	if reference != "" {
		result.GatewayReference = &reference
	}
	return result, nil
}

// Fail moves a pending transaction to failed. Calling it on a terminal
// transaction is a no-op so duplicate cancellation notifications are
// harmless.
func (s *ledgerService) Fail(ctx context.Context, transactionID uuid.UUID, reason string) error {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "FailTransaction")
	defer span.End()

	tx, err := s.transactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	return s.failTransaction(ctx, tx, reason)
}

// Cancel is the user-facing fail: the caller must own the transaction.
// A foreign transaction id is treated as unknown rather than forbidden,
// so the response does not confirm the id exists.
func (s *ledgerService) Cancel(ctx context.Context, ownerID int64, transactionID uuid.UUID, reason string) error {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "CancelTransaction")
	defer span.End()

	tx, err := s.transactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if tx.OwnerID != ownerID {
		slog.Warn("cancel rejected for foreign transaction",
			"transaction_id", transactionID, "owner_id", tx.OwnerID, "caller_id", ownerID)
		span.SetStatus(codes.Error, "not owned by caller")
		return pkgerrors.ErrTransactionNotFound
	}
	return s.failTransaction(ctx, tx, reason)
}

func (s *ledgerService) failTransaction(ctx context.Context, tx *models.Transaction, reason string) error {
	if tx.IsTerminal() {
		slog.Info("fail called on terminal transaction", "transaction_id", tx.ID, "status", tx.Status)
		return nil
	}

	transitioned, err := s.transactionRepo.MarkFailed(ctx, tx.ID, reason)
	if err != nil {
		return err
	}
	if transitioned {
		observability.SettlementsTotal.WithLabelValues(string(tx.Kind), string(models.StatusFailed)).Inc()
		s.publishSettlement(ctx, tx, models.StatusFailed, "")
		slog.Info("transaction failed", "transaction_id", tx.ID, "reason", reason)
	}
	return nil
}

func (s *ledgerService) History(ctx context.Context, ownerID int64, limit, offset int) ([]models.Transaction, error) {
	transactions, err := s.transactionRepo.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		slog.Error("failed to get transaction history", "owner_id", ownerID, "error", err)
		return nil, err
	}
	return transactions, nil
}

// recordDiscountUsage writes the usage audit row. A duplicate settlement
// is absorbed by the uniqueness constraint. When the last slot was taken
// between validation and settlement the payment still settles, just
// without a usage row; the charged amount was fixed at creation.
func (s *ledgerService) recordDiscountUsage(ctx context.Context, tx *models.Transaction) error {
	code, err := s.discountRepo.GetByID(ctx, *tx.DiscountCodeID)
	if err != nil {
		return err
	}

	usage := &models.DiscountUsage{
		ID:             uuid.New(),
		DiscountCodeID: code.ID,
		UserID:         tx.OwnerID,
		EventID:        tx.EventID,
		OriginalAmount: *tx.OriginalAmount,
		DiscountAmount: *tx.DiscountAmount,
		FinalAmount:    tx.Amount,
		TransactionID:  tx.ID,
	}
	recorded, err := s.discountRepo.RecordUsage(ctx, usage, code.GlobalUsageLimit, code.PerUserUsageLimit)
	if stderrors.Is(err, pkgerrors.ErrUsageLimitExceeded) {
		slog.Warn("discount slots exhausted at settlement, settling without usage record",
			"transaction_id", tx.ID, "discount_code_id", code.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if !recorded {
		slog.Info("discount usage already recorded", "transaction_id", tx.ID, "discount_code_id", code.ID)
	}
	return nil
}

func (s *ledgerService) failSettlement(ctx context.Context, tx *models.Transaction, reason string) (*models.SettlementResult, error) {
	transitioned, err := s.transactionRepo.MarkFailed(ctx, tx.ID, reason)
	if err != nil {
		return nil, err
	}
	if transitioned {
		observability.SettlementsTotal.WithLabelValues(string(tx.Kind), string(models.StatusFailed)).Inc()
		s.publishSettlement(ctx, tx, models.StatusFailed, "")
		slog.Info("transaction failed at settlement", "transaction_id", tx.ID, "reason", reason)
	}
	return &models.SettlementResult{
		TransactionID: tx.ID,
		Status:        models.StatusFailed,
	}, nil
}

// reverseWalletEffect backs out a balance change applied by a settlement
// that lost the terminal transition to a concurrent fail. The reversal
// carries its own idempotency key, so repeated settle attempts against
// the failed transaction compensate at most once.
func (s *ledgerService) reverseWalletEffect(ctx context.Context, tx *models.Transaction) error {
	if tx.Amount == 0 {
		return nil
	}
	key := tx.ID.String() + ":reversal"
	var err error
	switch tx.Kind {
	case models.KindDeposit:
		_, _, err = s.walletRepo.Debit(ctx, tx.WalletID, tx.Amount, key)
	case models.KindWithdraw, models.KindPayment:
		_, _, err = s.walletRepo.Credit(ctx, tx.WalletID, tx.Amount, key)
	}
	if err != nil {
		slog.Error("failed to reverse wallet effect",
			"transaction_id", tx.ID, "kind", tx.Kind, "amount", tx.Amount, "error", err)
		return err
	}
	s.invalidateWalletCache(ctx, tx.OwnerID)
	slog.Warn("settlement lost to concurrent fail, wallet effect reversed",
		"transaction_id", tx.ID, "kind", tx.Kind, "amount", tx.Amount)
	return nil
}

func (s *ledgerService) settledResult(ctx context.Context, tx *models.Transaction) (*models.SettlementResult, error) {
	wallet, err := s.walletRepo.GetByID(ctx, tx.WalletID)
	if err != nil {
		return nil, err
	}
	result := &models.SettlementResult{
		TransactionID:    tx.ID,
		Status:           tx.Status,
		GatewayReference: tx.GatewayReference,
		Balance:          &wallet.Balance,
	}
	return result, nil
}

func (s *ledgerService) invalidateWalletCache(ctx context.Context, ownerID int64) {
	cacheKey := fmt.Sprintf("wallet:owner:%d", ownerID)
	if err := s.redisClient.Del(ctx, cacheKey); err != nil {
		slog.Error("failed to invalidate wallet cache", "owner_id", ownerID, "error", err)
	}
}

func (s *ledgerService) publishSettlement(ctx context.Context, tx *models.Transaction, status models.StatusType, reference string) {
	event := map[string]interface{}{
		"transaction_id":    tx.ID.String(),
		"wallet_id":         tx.WalletID,
		"owner_id":          tx.OwnerID,
		"kind":              tx.Kind,
		"amount":            tx.Amount,
		"status":            status,
		"gateway_reference": reference,
		"occurred_at":       time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal settlement event", "transaction_id", tx.ID, "error", err)
		return
	}
	if err := s.producer.Send(ctx, settlementsTopic, tx.ID.String(), eventBytes); err != nil {
		slog.Error("failed to publish settlement event", "transaction_id", tx.ID, "error", err)
	}
}
