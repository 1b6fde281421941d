package gateway

import "context"

// InitiateResult is a freshly opened payment session at the provider.
type InitiateResult struct {
	SessionToken string
	RedirectURL  string
}

// VerificationResult is the provider's confirmation of a settled session.
type VerificationResult struct {
	Reference     string
	PayerMaskedID string
}

// Adapter abstracts the external payment provider. Initiate failures are
// transport-level and safe to retry; Verify either confirms the exact
// expected amount or rejects, a mismatch is never partial success.
// Implementations must bound their network calls and are never invoked
// while a database transaction is open.
type Adapter interface {
	// ID identifies the gateway for discount eligibility checks.
	ID() string
	Initiate(ctx context.Context, amount int64, callbackURL, description string) (*InitiateResult, error)
	Verify(ctx context.Context, sessionToken string, expectedAmount int64) (*VerificationResult, error)
}
