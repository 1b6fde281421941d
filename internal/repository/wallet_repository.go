package repository

import (
	"context"

	"github.com/eventshare/ledger/internal/models"
)

// WalletRepository owns all balance mutations. Credit and Debit are
// idempotent per (walletID, idempotencyKey): the first call applies the
// change, later calls return the current balance with applied=false.
type WalletRepository interface {
	GetOrCreate(ctx context.Context, ownerID int64) (*models.Wallet, error)
	GetByID(ctx context.Context, id int64) (*models.Wallet, error)
	GetByOwner(ctx context.Context, ownerID int64) (*models.Wallet, error)
	Credit(ctx context.Context, walletID, amount int64, idempotencyKey string) (newBalance int64, applied bool, err error)
	Debit(ctx context.Context, walletID, amount int64, idempotencyKey string) (newBalance int64, applied bool, err error)
}
