// Package account is C5, the Account Ledger: per-user balance plus the
// append-only TransactionRecord trail, built the way the teacher's
// LedgerService layers an in-memory fast path over durable storage
// (ledger_postgres.go) with idempotency keyed by a request-scoped key.
//
// Every exported method is atomic per call and holds a per-user advisory
// lock across any outbound suspension point (spec.md §5) — different users
// never block each other, a retry or concurrent call for the same user
// always serializes.
package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp-strategies/factory/internal/domain"
	"github.com/warp-strategies/factory/internal/ledgerport"
	"github.com/warp-strategies/factory/internal/platform/audit"
	"github.com/warp-strategies/factory/internal/platform/clock"
	"github.com/warp-strategies/factory/internal/platform/ferrors"
	"github.com/warp-strategies/factory/internal/platform/metrics"
	"github.com/warp-strategies/factory/internal/store"
)

const (
	collAccounts     = "accounts"
	collTransactions = "transactions"
	collTxByUser     = "tx_by_user"
	collDepositIdem  = "deposit_idempotency"
	collFeeIdem      = "fee_idempotency"
	collRefundIdem   = "refund_idempotency"
)

// Bounds configures the deposit amount limits (spec.md §6).
type Bounds struct {
	MinDeposit int64
	MaxDeposit int64
}

// DefaultBounds matches spec.md §6's defaults.
func DefaultBounds() Bounds {
	return Bounds{MinDeposit: 1_000_000, MaxDeposit: 100_000_000_000}
}

// Ledger implements C5.
type Ledger struct {
	store  *store.Store
	clock  clock.Clock
	ledger  ledgerport.Port
	audit   *audit.InMemoryStore
	bounds  Bounds
	Metrics *metrics.Metrics

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(st *store.Store, clk clock.Clock, port ledgerport.Port, bounds Bounds) *Ledger {
	return &Ledger{
		store:  st,
		clock:  clk,
		ledger: port,
		audit:  audit.NewInMemoryStore(),
		bounds: bounds,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) now() time.Time {
	if l.clock == nil {
		return time.Now().UTC()
	}
	return l.clock.Now().UTC()
}

// lockUser returns (and lazily creates) the advisory lock for a single user.
// Held across suspension points so a user's own calls serialize while
// different users interleave freely (spec.md §5).
func (l *Ledger) lockUser(user string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[user]
	if !ok {
		m = &sync.Mutex{}
		l.locks[user] = m
	}
	return m
}

func (l *Ledger) loadAccount(ctx context.Context, user string) (domain.UserAccount, error) {
	var acct domain.UserAccount
	found, err := l.store.Get(ctx, collAccounts, user, &acct)
	if err != nil {
		return domain.UserAccount{}, err
	}
	if !found {
		return domain.UserAccount{User: user}, nil
	}
	return acct, nil
}

func (l *Ledger) appendTransaction(ctx context.Context, rec domain.TransactionRecord) error {
	if err := l.store.Put(ctx, collTransactions, rec.TransactionID, rec); err != nil {
		return err
	}
	var ids []string
	if _, err := l.store.Get(ctx, collTxByUser, rec.User, &ids); err != nil {
		return err
	}
	ids = append(ids, rec.TransactionID)
	return l.store.Put(ctx, collTxByUser, rec.User, ids)
}

func (l *Ledger) appendAudit(action, objectID string, result audit.Result, reason string) {
	if l.audit == nil {
		return
	}
	now := l.now()
	_, _ = l.audit.Append(audit.Event{
		AuditID:      "account-" + uuid.NewString(),
		OccurredAt:   now,
		RecordedAt:   now,
		ObjectType:   "user_account",
		ObjectID:     objectID,
		Action:       action,
		Result:       result,
		Reason:       reason,
		PartitionDay: now.Format("2006-01-02"),
	})
}

// Deposit verifies the external ledger proof then credits amount to user's
// balance, honoring MIN_DEPOSIT/MAX_DEPOSIT bounds. idempotencyKey, when
// non-empty, makes a retried call with the same key resolve to the
// already-recorded TransactionRecord instead of double-crediting (spec.md
// §8 property 6).
func (l *Ledger) Deposit(ctx context.Context, user string, amount int64, memo string, idempotencyKey string) (domain.TransactionRecord, error) {
	if amount < l.bounds.MinDeposit || amount > l.bounds.MaxDeposit {
		return domain.TransactionRecord{}, ferrors.New(ferrors.OutOfBounds, "deposit amount %d outside [%d, %d]", amount, l.bounds.MinDeposit, l.bounds.MaxDeposit)
	}

	mu := l.lockUser(user)
	mu.Lock()
	defer mu.Unlock()

	if idempotencyKey != "" {
		var existingID string
		found, err := l.store.Get(ctx, collDepositIdem, idempotencyKey, &existingID)
		if err != nil {
			return domain.TransactionRecord{}, err
		}
		if found {
			var rec domain.TransactionRecord
			if _, err := l.store.Get(ctx, collTransactions, existingID, &rec); err != nil {
				return domain.TransactionRecord{}, err
			}
			return rec, nil
		}
	}

	// Suspension point: verify_deposit talks to the external ledger.
	if err := l.ledger.VerifyDeposit(ctx, user, amount, memo); err != nil {
		return domain.TransactionRecord{}, ferrors.New(ferrors.LedgerProofInvalid, "deposit proof rejected: %v", err)
	}

	acct, err := l.loadAccount(ctx, user)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	now := l.now()
	acct.Balance += amount
	acct.TotalDeposited += amount
	acct.LastDepositTime = now
	if err := l.store.Put(ctx, collAccounts, user, acct); err != nil {
		return domain.TransactionRecord{}, err
	}

	rec := domain.TransactionRecord{
		TransactionID: uuid.NewString(),
		User:          user,
		Timestamp:     now,
		Amount:        amount,
		Kind:          domain.Deposit,
		Description:   "deposit",
	}
	if err := l.appendTransaction(ctx, rec); err != nil {
		return domain.TransactionRecord{}, err
	}
	if idempotencyKey != "" {
		if err := l.store.Put(ctx, collDepositIdem, idempotencyKey, rec.TransactionID); err != nil {
			return domain.TransactionRecord{}, err
		}
	}
	l.appendAudit("deposit", user, audit.ResultSuccess, "")
	return rec, nil
}

// Withdraw debits balance, emits an outbound transfer via the ledger port,
// and appends a Withdrawal TransactionRecord. A Temporary ledger error
// reverts the debit (compensating credit) before returning, so balance
// remains consistent (spec.md §4.5).
func (l *Ledger) Withdraw(ctx context.Context, user string, amount int64) (domain.TransactionRecord, error) {
	if amount <= 0 {
		return domain.TransactionRecord{}, ferrors.New(ferrors.OutOfBounds, "withdrawal amount must be positive")
	}

	mu := l.lockUser(user)
	mu.Lock()
	defer mu.Unlock()

	acct, err := l.loadAccount(ctx, user)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	if acct.Balance < amount {
		return domain.TransactionRecord{}, ferrors.New(ferrors.InsufficientBal, "balance %d < withdrawal %d", acct.Balance, amount)
	}

	acct.Balance -= amount
	acct.TotalConsumed += amount
	if err := l.store.Put(ctx, collAccounts, user, acct); err != nil {
		return domain.TransactionRecord{}, err
	}

	// Suspension point.
	if _, err := l.ledger.Transfer(ctx, user, amount); err != nil {
		lerr, _ := err.(*ledgerport.Error)
		// Revert the debit: balance must stay consistent with reality.
		acct.Balance += amount
		acct.TotalConsumed -= amount
		if putErr := l.store.Put(ctx, collAccounts, user, acct); putErr != nil {
			return domain.TransactionRecord{}, putErr
		}
		if lerr != nil && lerr.Code == ledgerport.Temporary {
			return domain.TransactionRecord{}, ferrors.New(ferrors.LedgerTemporary, "withdrawal transfer failed temporarily: %v", err)
		}
		return domain.TransactionRecord{}, ferrors.New(ferrors.LedgerPermanent, "withdrawal transfer failed: %v", err)
	}

	now := l.now()
	rec := domain.TransactionRecord{
		TransactionID: uuid.NewString(),
		User:          user,
		Timestamp:     now,
		Amount:        amount,
		Kind:          domain.Withdrawal,
		Description:   "withdrawal",
	}
	if err := l.appendTransaction(ctx, rec); err != nil {
		return domain.TransactionRecord{}, err
	}
	l.appendAudit("withdraw", user, audit.ResultSuccess, "")
	return rec, nil
}

// DebitFee synchronously debits amount as a DeploymentFee, keyed on
// deploymentID so a retried debit for the same deployment never double
// charges (spec.md Invariant C1).
func (l *Ledger) DebitFee(ctx context.Context, user string, amount int64, deploymentID string) (domain.TransactionRecord, error) {
	mu := l.lockUser(user)
	mu.Lock()
	defer mu.Unlock()

	var existingID string
	if found, err := l.store.Get(ctx, collFeeIdem, deploymentID, &existingID); err != nil {
		return domain.TransactionRecord{}, err
	} else if found {
		var rec domain.TransactionRecord
		if _, err := l.store.Get(ctx, collTransactions, existingID, &rec); err != nil {
			return domain.TransactionRecord{}, err
		}
		return rec, nil
	}

	acct, err := l.loadAccount(ctx, user)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	if acct.Balance < amount {
		return domain.TransactionRecord{}, ferrors.New(ferrors.InsufficientBal, "balance %d < fee %d", acct.Balance, amount)
	}

	acct.Balance -= amount
	acct.TotalConsumed += amount
	if err := l.store.Put(ctx, collAccounts, user, acct); err != nil {
		return domain.TransactionRecord{}, err
	}

	now := l.now()
	rec := domain.TransactionRecord{
		TransactionID: uuid.NewString(),
		User:          user,
		Timestamp:     now,
		Amount:        amount,
		Kind:          domain.DeploymentFee,
		Description:   fmt.Sprintf("deployment fee for %s", deploymentID),
		DeploymentID:  deploymentID,
	}
	if err := l.appendTransaction(ctx, rec); err != nil {
		return domain.TransactionRecord{}, err
	}
	if err := l.store.Put(ctx, collFeeIdem, deploymentID, rec.TransactionID); err != nil {
		return domain.TransactionRecord{}, err
	}
	l.appendAudit("debit_fee", user, audit.ResultSuccess, deploymentID)
	l.Metrics.ObserveDeploymentFee()
	return rec, nil
}

// CreditRefund credits amount back to user as a Refund, idempotent per
// deploymentID: invoking twice never double-credits (spec.md §4.5,
// Invariant C2).
func (l *Ledger) CreditRefund(ctx context.Context, user string, amount int64, deploymentID string) (domain.TransactionRecord, error) {
	mu := l.lockUser(user)
	mu.Lock()
	defer mu.Unlock()

	var existingID string
	if found, err := l.store.Get(ctx, collRefundIdem, deploymentID, &existingID); err != nil {
		return domain.TransactionRecord{}, err
	} else if found {
		var rec domain.TransactionRecord
		if _, err := l.store.Get(ctx, collTransactions, existingID, &rec); err != nil {
			return domain.TransactionRecord{}, err
		}
		return rec, nil
	}

	acct, err := l.loadAccount(ctx, user)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	acct.Balance += amount
	if err := l.store.Put(ctx, collAccounts, user, acct); err != nil {
		return domain.TransactionRecord{}, err
	}

	now := l.now()
	rec := domain.TransactionRecord{
		TransactionID: uuid.NewString(),
		User:          user,
		Timestamp:     now,
		Amount:        amount,
		Kind:          domain.Refund,
		Description:   fmt.Sprintf("refund for %s", deploymentID),
		DeploymentID:  deploymentID,
	}
	if err := l.appendTransaction(ctx, rec); err != nil {
		return domain.TransactionRecord{}, err
	}
	// The idempotency slot is reserved after the balance update and the
	// transaction append. Repeated calls are stopped by the lookup at the
	// top of this method, under the user's lock. A crash between the
	// balance update and this reservation is not covered: a retry after it
	// credits the refund again. If the slot is already taken here, the
	// existing record is returned, but the credit above is not undone.
	if err := l.store.InsertIfAbsent(ctx, collRefundIdem, deploymentID, rec.TransactionID); err != nil {
		if err == store.ErrAlreadyExists {
			var winnerID string
			if _, gerr := l.store.Get(ctx, collRefundIdem, deploymentID, &winnerID); gerr != nil {
				return domain.TransactionRecord{}, gerr
			}
			var winner domain.TransactionRecord
			if _, gerr := l.store.Get(ctx, collTransactions, winnerID, &winner); gerr != nil {
				return domain.TransactionRecord{}, gerr
			}
			return winner, nil
		}
		return domain.TransactionRecord{}, err
	}
	l.appendAudit("credit_refund", user, audit.ResultSuccess, deploymentID)
	l.Metrics.ObserveRefund()
	return rec, nil
}

// AdminAdjust applies an audit-logged signed balance adjustment.
func (l *Ledger) AdminAdjust(ctx context.Context, user string, signedAmount int64, reason string) (domain.TransactionRecord, error) {
	mu := l.lockUser(user)
	mu.Lock()
	defer mu.Unlock()

	acct, err := l.loadAccount(ctx, user)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	if acct.Balance+signedAmount < 0 {
		return domain.TransactionRecord{}, ferrors.New(ferrors.InsufficientBal, "adjustment would drive balance negative")
	}
	acct.Balance += signedAmount
	if err := l.store.Put(ctx, collAccounts, user, acct); err != nil {
		return domain.TransactionRecord{}, err
	}

	now := l.now()
	rec := domain.TransactionRecord{
		TransactionID: uuid.NewString(),
		User:          user,
		Timestamp:     now,
		Amount:        signedAmount,
		Kind:          domain.AdminAdjustment,
		Description:   reason,
	}
	if err := l.appendTransaction(ctx, rec); err != nil {
		return domain.TransactionRecord{}, err
	}
	l.appendAudit("admin_adjust", user, audit.ResultSuccess, reason)
	return rec, nil
}

// Balance returns the user's current balance (0 for unknown users).
func (l *Ledger) Balance(ctx context.Context, user string) (int64, error) {
	acct, err := l.loadAccount(ctx, user)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// AccountInfo returns the full UserAccount record.
func (l *Ledger) AccountInfo(ctx context.Context, user string) (domain.UserAccount, error) {
	return l.loadAccount(ctx, user)
}

// History returns a page of TransactionRecords for user, newest first.
func (l *Ledger) History(ctx context.Context, user string, page, pageSize int) ([]domain.TransactionRecord, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	var ids []string
	if _, err := l.store.Get(ctx, collTxByUser, user, &ids); err != nil {
		return nil, err
	}
	// newest first
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	start := page * pageSize
	if start >= len(ids) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	out := make([]domain.TransactionRecord, 0, end-start)
	for _, id := range ids[start:end] {
		var rec domain.TransactionRecord
		found, err := l.store.Get(ctx, collTransactions, id, &rec)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, rec)
		}
	}
	return out, nil
}

// AuditStore exposes the hash-chained audit trail for admin queries.
func (l *Ledger) AuditStore() *audit.InMemoryStore { return l.audit }
