package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stderrors "errors"

	"github.com/eventshare/ledger/internal/infrastructure/redis"
	"github.com/eventshare/ledger/internal/models"
	"github.com/eventshare/ledger/internal/repository"
	pkgerrors "github.com/eventshare/ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const discountCodeCacheTTL = 5 * time.Minute

// DiscountService validates discount codes against a payment context and
// computes the discounted amount.
type DiscountService interface {
	Validate(ctx context.Context, code string, userID int64, eventID *int64, gatewayID string, baseAmount int64) (*models.DiscountCode, *models.DiscountResult, error)
}

type discountService struct {
	discountRepo repository.DiscountRepository
	redisClient  redis.RedisClient
}

func NewDiscountService(discountRepo repository.DiscountRepository, redisClient redis.RedisClient) *discountService {
	return &discountService{
		discountRepo: discountRepo,
		redisClient:  redisClient,
	}
}

// ComputeDiscount applies a resolved code to a base amount. Percentage
// discounts floor the result of integer division and are capped at the
// code's MaxAmount when set; fixed discounts never exceed the base
// amount. The final amount floors at zero. All amounts are integers in
// the smallest currency unit.
func ComputeDiscount(baseAmount int64, code *models.DiscountCode) models.DiscountResult {
	var discount int64
	switch code.Kind {
	case models.DiscountPercentage:
		discount = baseAmount * code.Value / 100
		if code.MaxAmount != nil && discount > *code.MaxAmount {
			discount = *code.MaxAmount
		}
	case models.DiscountFixed:
		discount = code.Value
		if discount > baseAmount {
			discount = baseAmount
		}
	}

	final := baseAmount - discount
	if final < 0 {
		final = 0
	}
	return models.DiscountResult{DiscountAmount: discount, FinalAmount: final}
}

func (s *discountService) Validate(ctx context.Context, code string, userID int64, eventID *int64, gatewayID string, baseAmount int64) (*models.DiscountCode, *models.DiscountResult, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "ValidateDiscount")
	defer span.End()

	if baseAmount <= 0 {
		span.SetStatus(codes.Error, "invalid base amount")
		return nil, nil, pkgerrors.ErrInvalidAmount
	}

	resolved, err := s.resolveCode(ctx, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "code resolution failed")
		return nil, nil, err
	}

	if !resolved.Active {
		slog.Info("discount code inactive", "code", resolved.Code, "user_id", userID)
		span.SetStatus(codes.Error, "code inactive")
		return nil, nil, pkgerrors.ErrDiscountInactive
	}

	now := time.Now()
	if now.Before(resolved.ValidFrom) {
		span.SetStatus(codes.Error, "code not started")
		return nil, nil, pkgerrors.ErrDiscountNotStarted
	}
	if now.After(resolved.ValidTo) {
		span.SetStatus(codes.Error, "code expired")
		return nil, nil, pkgerrors.ErrDiscountExpired
	}

	if len(resolved.EligibleEventIDs) > 0 {
		if eventID == nil || !resolved.EligibleForEvent(*eventID) {
			span.SetStatus(codes.Error, "event not eligible")
			return nil, nil, pkgerrors.ErrEventNotEligible
		}
	}
	if len(resolved.EligibleGatewayIDs) > 0 && !resolved.EligibleForGateway(gatewayID) {
		span.SetStatus(codes.Error, "gateway not eligible")
		return nil, nil, pkgerrors.ErrGatewayNotEligible
	}

	// Fast rejection only. The authoritative limit check happens inside
	// RecordUsage at settlement time, where the count and the insert share
	// one atomicity boundary.
	if resolved.GlobalUsageLimit != nil {
		count, err := s.discountRepo.CountGlobal(ctx, resolved.ID)
		if err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
		if count >= *resolved.GlobalUsageLimit {
			slog.Info("discount code exhausted", "code", resolved.Code, "count", count)
			span.SetStatus(codes.Error, "global limit reached")
			return nil, nil, pkgerrors.ErrUsageLimitExceeded
		}
	}
	if resolved.PerUserUsageLimit != nil {
		count, err := s.discountRepo.CountForUser(ctx, resolved.ID, userID)
		if err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
		if count >= *resolved.PerUserUsageLimit {
			slog.Info("discount code exhausted for user", "code", resolved.Code, "user_id", userID, "count", count)
			span.SetStatus(codes.Error, "per-user limit reached")
			return nil, nil, pkgerrors.ErrUsageLimitExceeded
		}
	}

	result := ComputeDiscount(baseAmount, resolved)
	slog.Info("discount code validated",
		"code", resolved.Code, "user_id", userID, "base_amount", baseAmount,
		"discount_amount", result.DiscountAmount, "final_amount", result.FinalAmount)
	return resolved, &result, nil
}

func (s *discountService) resolveCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	cacheKey := fmt.Sprintf("discount:code:%s", strings.ToLower(code))

	cached, err := s.redisClient.Get(ctx, cacheKey)
	if err == nil {
		var c models.DiscountCode
		uerr := json.Unmarshal([]byte(cached), &c)
		if uerr == nil {
			return &c, nil
		}
		slog.Error("failed to unmarshal cached discount code", "code", code, "error", uerr)
		if derr := s.redisClient.Del(ctx, cacheKey); derr != nil {
			slog.Error("failed to drop corrupt cached discount code", "code", code, "error", derr)
		}
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Error("failed to get discount code from Redis", "code", code, "error", err)
	}

	resolved, err := s.discountRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if codeBytes, err := json.Marshal(resolved); err == nil {
		if err := s.redisClient.Set(ctx, cacheKey, string(codeBytes), discountCodeCacheTTL); err != nil {
			slog.Error("failed to cache discount code", "code", code, "error", err)
		}
	}
	return resolved, nil
}
