// Package ledgerport is C3, the typed port to the external fungible-token
// ledger. The Factory never implements token transfer itself — it only
// defines the contract an adapter must satisfy, following the same
// interface-seam idiom the teacher uses for its Clock abstraction.
package ledgerport

import "context"

// Code classifies a ledger operation failure.
type Code string

const (
	InsufficientFunds Code = "insufficient_funds"
	Temporary         Code = "temporary"
	Permanent         Code = "permanent"
)

// Error is returned by Port methods.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// Retryable reports whether the caller should retry the call later.
func (e *Error) Retryable() bool {
	return e != nil && e.Code == Temporary
}

// TxHandle identifies a completed outbound transfer on the external ledger.
type TxHandle string

// Port is the outbound-transfer / inbound-deposit-verification contract
// spec.md §4.3 describes. Implementations are suspension points per spec.md
// §5: the Factory persists a safe waypoint before calling either method and
// never cancels an in-flight call.
type Port interface {
	// Transfer moves amount of the platform token from the Factory's
	// address to "to". Used for withdrawals and refund-adjacent external
	// payouts.
	Transfer(ctx context.Context, to string, amount int64) (TxHandle, error)

	// VerifyDeposit proves that a transfer of amount from "from" landed at
	// the Factory's address, keyed by an opaque memo the caller supplies
	// as a correlation/idempotency token.
	VerifyDeposit(ctx context.Context, from string, amount int64, memo string) error
}
