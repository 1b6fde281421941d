package repository

import (
	"context"
	"time"

	"github.com/eventshare/ledger/internal/models"
	"github.com/google/uuid"
)

// TransactionRepository persists money-movement intents. Status
// transitions are conditional updates guarded on the current status being
// pending; MarkCompleted and MarkFailed report transitioned=false when
// the row was already terminal so callers can take the idempotent path.
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]models.Transaction, error)
	SetGatewaySession(ctx context.Context, id uuid.UUID, sessionToken string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, gatewayReference string) (transitioned bool, err error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (transitioned bool, err error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}
