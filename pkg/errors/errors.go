package errors

import "errors"

var (
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNilTransaction      = errors.New("transaction is nil")
	ErrInvalidKind         = errors.New("invalid transaction kind")
	ErrInvalidStatus       = errors.New("invalid transaction status")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAlreadyTerminal     = errors.New("transaction already in a terminal state")

	ErrDiscountNotFound   = errors.New("discount code not found")
	ErrDiscountInactive   = errors.New("discount code is inactive")
	ErrDiscountNotStarted = errors.New("discount code is not valid yet")
	ErrDiscountExpired    = errors.New("discount code has expired")
	ErrEventNotEligible   = errors.New("discount code is not valid for this event")
	ErrGatewayNotEligible = errors.New("discount code is not valid for this payment gateway")
	ErrUsageLimitExceeded = errors.New("discount code usage limit reached")
	ErrDuplicateUsage     = errors.New("discount code already applied to this transaction")

	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the transaction")

	ErrInternal = errors.New("internal error")
)
