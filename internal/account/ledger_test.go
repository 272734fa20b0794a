package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp-strategies/factory/internal/ledgerport"
	"github.com/warp-strategies/factory/internal/platform/clock"
	"github.com/warp-strategies/factory/internal/store"
)

func newTestLedger() (*Ledger, *ledgerport.MemoPort) {
	port := ledgerport.NewMemoPort()
	l := New(store.New(nil), clock.RealClock{}, port, DefaultBounds())
	return l, port
}

func TestDepositCreditsBalance(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	rec, err := l.Deposit(ctx, "alice", 5_000_000, "memo-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), rec.Amount)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), bal)
}

func TestDepositBelowMinimumRejected(t *testing.T) {
	l, _ := newTestLedger()
	_, err := l.Deposit(context.Background(), "alice", 1, "memo-2", "")
	require.Error(t, err)
}

func TestDepositIdempotentOnKey(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	first, err := l.Deposit(ctx, "alice", 2_000_000, "memo-a", "idem-1")
	require.NoError(t, err)
	second, err := l.Deposit(ctx, "alice", 2_000_000, "memo-a", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), bal, "retried deposit must not double-credit")
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	l, _ := newTestLedger()
	_, err := l.Withdraw(context.Background(), "bob", 1)
	require.Error(t, err)
}

func TestWithdrawRevertsBalanceOnTemporaryFailure(t *testing.T) {
	l, port := newTestLedger()
	ctx := context.Background()

	_, err := l.Deposit(ctx, "carol", 10_000_000, "memo-c", "")
	require.NoError(t, err)

	port.FailTransfer = &ledgerport.Error{Code: ledgerport.Temporary, Message: "network blip"}
	_, err = l.Withdraw(ctx, "carol", 3_000_000)
	require.Error(t, err)

	bal, err := l.Balance(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), bal, "balance must be restored after a reverted withdrawal")
}

func TestCreditRefundIsIdempotentPerDeployment(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	first, err := l.CreditRefund(ctx, "dave", 1_000_000, "deploy-1")
	require.NoError(t, err)
	second, err := l.CreditRefund(ctx, "dave", 1_000_000, "deploy-1")
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	bal, err := l.Balance(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), bal, "refund must credit exactly once per deployment")
}

func TestDebitFeeIsIdempotentPerDeployment(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	_, err := l.Deposit(ctx, "erin", 5_000_000, "memo-e", "")
	require.NoError(t, err)

	_, err = l.DebitFee(ctx, "erin", 1_000_000, "deploy-2")
	require.NoError(t, err)
	_, err = l.DebitFee(ctx, "erin", 1_000_000, "deploy-2")
	require.NoError(t, err)

	bal, err := l.Balance(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, int64(4_000_000), bal, "fee must debit exactly once per deployment")
}

func TestAdminAdjustRejectsNegativeResult(t *testing.T) {
	l, _ := newTestLedger()
	_, err := l.AdminAdjust(context.Background(), "frank", -1, "penalty")
	require.Error(t, err)
}

func TestHistoryOrderedNewestFirst(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	_, err := l.Deposit(ctx, "grace", 2_000_000, "memo-g1", "")
	require.NoError(t, err)
	_, err = l.Deposit(ctx, "grace", 3_000_000, "memo-g2", "")
	require.NoError(t, err)

	hist, err := l.History(ctx, "grace", 0, 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, int64(3_000_000), hist[0].Amount)
}
