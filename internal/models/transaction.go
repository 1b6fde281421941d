package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is a single money-movement intent and its settlement record.
// Rows are append-only: a transaction is created pending and moves to
// exactly one terminal state, never back.
type Transaction struct {
	ID                  uuid.UUID       `json:"id"`
	WalletID            int64           `json:"wallet_id"`
	OwnerID             int64           `json:"owner_id"`
	Kind                TransactionKind `json:"kind"`
	Amount              int64           `json:"amount"`
	Status              StatusType      `json:"status"`
	EventID             *int64          `json:"event_id,omitempty"`
	DiscountCodeID      *int64          `json:"discount_code_id,omitempty"`
	OriginalAmount      *int64          `json:"original_amount,omitempty"`
	DiscountAmount      *int64          `json:"discount_amount,omitempty"`
	GatewaySessionToken *string         `json:"-"`
	GatewayReference    *string         `json:"gateway_reference,omitempty"`
	FailureReason       *string         `json:"failure_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

type TransactionKind string

const (
	KindDeposit  TransactionKind = "deposit"
	KindWithdraw TransactionKind = "withdraw"
	KindPayment  TransactionKind = "payment"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdraw, KindPayment:
		return true
	}
	return false
}

type StatusType string

const (
	StatusPending   StatusType = "pending"
	StatusCompleted StatusType = "completed"
	StatusFailed    StatusType = "failed"
)

func (s StatusType) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the transaction has settled one way or the
// other. Terminal transactions never change again.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// HasDiscount reports whether a discount code was resolved when the
// transaction was created. Amount already reflects the discount; the
// pre-discount figures are kept for the usage audit row.
func (t *Transaction) HasDiscount() bool {
	return t.DiscountCodeID != nil
}

// SettlementResult is the outcome of driving a transaction through the
// settlement entry point. Balance is present when the wallet was touched
// on this or an earlier successful call.
type SettlementResult struct {
	TransactionID    uuid.UUID  `json:"transaction_id"`
	Status           StatusType `json:"status"`
	GatewayReference *string    `json:"gateway_reference,omitempty"`
	Balance          *int64     `json:"balance,omitempty"`
}
