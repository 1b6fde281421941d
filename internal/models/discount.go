package models

import (
	"time"

	"github.com/google/uuid"
)

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// DiscountCode is a reusable rule that reduces a charged amount, subject
// to a validity window, allow-lists and usage limits. Codes are matched
// case-insensitively.
type DiscountCode struct {
	ID                 int64        `json:"id"`
	Code               string       `json:"code"`
	Kind               DiscountKind `json:"kind"`
	Value              int64        `json:"value"`
	MaxAmount          *int64       `json:"max_amount,omitempty"`
	ValidFrom          time.Time    `json:"valid_from"`
	ValidTo            time.Time    `json:"valid_to"`
	GlobalUsageLimit   *int64       `json:"global_usage_limit,omitempty"`
	PerUserUsageLimit  *int64       `json:"per_user_usage_limit,omitempty"`
	EligibleEventIDs   []int64      `json:"eligible_event_ids,omitempty"`
	EligibleGatewayIDs []string     `json:"eligible_gateway_ids,omitempty"`
	Active             bool         `json:"active"`
	CreatedAt          time.Time    `json:"created_at"`
}

// WithinWindow reports whether the code is inside its validity window.
func (c *DiscountCode) WithinWindow(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.ValidTo)
}

// EligibleForEvent reports whether the code may be applied to the given
// event. An empty allow-list means every event is eligible.
func (c *DiscountCode) EligibleForEvent(eventID int64) bool {
	if len(c.EligibleEventIDs) == 0 {
		return true
	}
	for _, id := range c.EligibleEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// EligibleForGateway reports whether the code may be applied to payments
// going through the given gateway. An empty allow-list means every
// gateway is eligible.
func (c *DiscountCode) EligibleForGateway(gatewayID string) bool {
	if len(c.EligibleGatewayIDs) == 0 {
		return true
	}
	for _, id := range c.EligibleGatewayIDs {
		if id == gatewayID {
			return true
		}
	}
	return false
}

// DiscountUsage records one successful application of a discount code.
// The (DiscountCodeID, TransactionID) pair is unique so a duplicate
// settlement cannot double-count a usage.
type DiscountUsage struct {
	ID             uuid.UUID `json:"id"`
	DiscountCodeID int64     `json:"discount_code_id"`
	UserID         int64     `json:"user_id"`
	EventID        *int64    `json:"event_id,omitempty"`
	OriginalAmount int64     `json:"original_amount"`
	DiscountAmount int64     `json:"discount_amount"`
	FinalAmount    int64     `json:"final_amount"`
	TransactionID  uuid.UUID `json:"transaction_id"`
	UsedAt         time.Time `json:"used_at"`
}

// DiscountResult is the outcome of applying a code to a base amount.
type DiscountResult struct {
	DiscountAmount int64 `json:"discount_amount"`
	FinalAmount    int64 `json:"final_amount"`
}
