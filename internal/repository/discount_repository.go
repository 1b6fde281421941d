package repository

import (
	"context"

	"github.com/eventshare/ledger/internal/models"
)

// DiscountRepository resolves discount codes and tracks their
// consumption. RecordUsage enforces the usage limits inside the insert
// statement itself: the check and the write share one atomicity boundary,
// so two concurrent settlements cannot both take the last slot.
type DiscountRepository interface {
	GetByCode(ctx context.Context, code string) (*models.DiscountCode, error)
	GetByID(ctx context.Context, id int64) (*models.DiscountCode, error)
	CountForUser(ctx context.Context, discountCodeID, userID int64) (int64, error)
	CountGlobal(ctx context.Context, discountCodeID int64) (int64, error)
	// RecordUsage inserts a usage row. It returns recorded=false with a nil
	// error when the (code, transaction) pair was already recorded, and
	// ErrUsageLimitExceeded when no slot is left.
	RecordUsage(ctx context.Context, usage *models.DiscountUsage, globalLimit, perUserLimit *int64) (recorded bool, err error)
}
