package ledgerport

import (
	"context"
	"sync"
)

// MemoPort is a minimal deterministic Port used where the real external
// ledger integration is out of scope (spec.md §1, "external fungible-token
// ledger... out of scope"). It accepts any deposit proof with a positive
// amount and a non-empty memo that has not already been consumed, and
// succeeds every positive-amount outbound transfer; FailVerify and
// FailTransfer force failures for tests. It exists
// so the Factory has something concrete to wire at startup and in tests;
// production deployments replace it with an adapter that actually talks to
// the platform token ledger.
type MemoPort struct {
	mu           sync.Mutex
	consumedMemo map[string]bool
	FailTransfer *Error // when set, Transfer always fails with this error
	FailVerify   *Error // when set, VerifyDeposit always fails with this error
}

func NewMemoPort() *MemoPort {
	return &MemoPort{consumedMemo: make(map[string]bool)}
}

func (p *MemoPort) Transfer(_ context.Context, to string, amount int64) (TxHandle, error) {
	if p.FailTransfer != nil {
		return "", p.FailTransfer
	}
	if amount <= 0 {
		return "", &Error{Code: Permanent, Message: "non-positive transfer amount"}
	}
	return TxHandle("memo-transfer-" + to), nil
}

func (p *MemoPort) VerifyDeposit(_ context.Context, _ string, amount int64, memo string) error {
	if p.FailVerify != nil {
		return p.FailVerify
	}
	if amount <= 0 || memo == "" {
		return &Error{Code: Permanent, Message: "invalid deposit proof"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumedMemo[memo] {
		return &Error{Code: Permanent, Message: "deposit memo already consumed"}
	}
	p.consumedMemo[memo] = true
	return nil
}
