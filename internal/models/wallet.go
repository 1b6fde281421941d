package models

import "time"

// Wallet holds a user's spendable balance in the smallest currency unit.
// The balance is only ever mutated through the wallet repository's
// idempotent credit/debit operations and can never go negative.
type Wallet struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
