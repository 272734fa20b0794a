package deployment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp-strategies/factory/internal/account"
	"github.com/warp-strategies/factory/internal/containerport"
	"github.com/warp-strategies/factory/internal/domain"
	"github.com/warp-strategies/factory/internal/images"
	"github.com/warp-strategies/factory/internal/ledgerport"
	"github.com/warp-strategies/factory/internal/registry"
	"github.com/warp-strategies/factory/internal/store"
)

// fakeClock lets tests advance time deterministically without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newHarness(t *testing.T) (*Machine, *account.Ledger, *containerport.StubPort, *fakeClock) {
	t.Helper()
	st := store.New(nil)
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ledgerPort := ledgerport.NewMemoPort()
	ledger := account.New(st, clk, ledgerPort, account.DefaultBounds())
	imgs := images.New(st)
	_, err := imgs.Install(context.Background(), "momentum", "v1", []byte("wasm"))
	require.NoError(t, err)
	reg := registry.New(st)
	containers := containerport.NewStubPort()
	m := New(st, clk, ledger, imgs, reg, containers, DefaultConfig(), 1_000_000)
	return m, ledger, containers, clk
}

func TestHappyPathReachesDeployed(t *testing.T) {
	m, ledger, _, _ := newHarness(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, "alice", 10_000_000, "memo-1", "")
	require.NoError(t, err)

	rec, err := m.RequestDeployment(ctx, "alice", "momentum", []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeployed, rec.Status, "single immediate advance chain should reach Deployed")

	bal, err := ledger.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(9_000_000), bal)
}

func TestInsufficientBalanceCancelsWithoutRefund(t *testing.T) {
	m, _, _, _ := newHarness(t)
	rec, err := m.RequestDeployment(context.Background(), "bob", "momentum", nil)
	require.Error(t, err)
	assert.Equal(t, domain.StatusDeploymentCancelled, rec.Status)
}

func TestPermanentInstallFailureRefundsBalance(t *testing.T) {
	m, ledger, containers, clk := newHarness(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, "carol", 10_000_000, "memo-c", "")
	require.NoError(t, err)

	containers.InstallErrors = []error{&containerport.Error{Code: containerport.Permanent, Message: "bad wasm"}}

	rec, err := m.RequestDeployment(ctx, "carol", "momentum", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeploymentFailed, rec.Status)
	assert.Equal(t, domain.CauseHostPermanent, rec.FailureCause)

	require.NoError(t, m.ProcessOne(ctx, rec.DeploymentID)) // -> Refunding
	clk.t = clk.t.Add(time.Minute)
	require.NoError(t, m.ProcessOne(ctx, rec.DeploymentID)) // -> Refunded

	final, err := m.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, final.Status)

	bal, err := ledger.Balance(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), bal, "fee must be fully refunded after a permanent install failure")
}

func TestInstallRetriesUpToMaxAttemptsThenFails(t *testing.T) {
	m, ledger, containers, _ := newHarness(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, "dave", 10_000_000, "memo-d", "")
	require.NoError(t, err)

	temp := &containerport.Error{Code: containerport.Temporary, Message: "busy"}
	containers.InstallErrors = []error{temp, temp, temp}

	rec, err := m.RequestDeployment(ctx, "dave", "momentum", nil)
	require.NoError(t, err)
	// RequestDeployment's best-effort advance already chained through one
	// temporary install failure before stalling.
	assert.Equal(t, domain.StatusCanisterCreated, rec.Status)
	assert.Equal(t, 1, rec.InstallAttempts)

	require.NoError(t, m.Advance(ctx, rec.DeploymentID))
	require.NoError(t, m.Advance(ctx, rec.DeploymentID))

	final, err := m.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeploymentFailed, final.Status)
	assert.Equal(t, domain.CauseAttemptsUsedUp, final.FailureCause)
	assert.Equal(t, 3, final.InstallAttempts)
}

func TestCanceledInstallFailsPermanentlyAndRefunds(t *testing.T) {
	m, ledger, containers, clk := newHarness(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, "erin", 10_000_000, "memo-e", "")
	require.NoError(t, err)

	containers.InstallErrors = []error{&containerport.Error{Code: containerport.Temporary, Message: "stall"}}
	rec, reqErr := m.RequestDeployment(ctx, "erin", "momentum", nil)
	require.NoError(t, reqErr)
	require.Equal(t, domain.StatusCanisterCreated, rec.Status)

	// Install hangs on the next call; cancel it ourselves to simulate the
	// caller giving up on a stuck RPC rather than waiting out S5 for real.
	containers.HangOnNextCall()
	cctx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, m.Advance(cctx, rec.DeploymentID))

	stalled, err := m.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeploymentFailed, stalled.Status, "a canceled install must not leave the record stuck forever")
	assert.Equal(t, domain.CauseHostPermanent, stalled.FailureCause)

	require.NoError(t, m.ProcessOne(ctx, rec.DeploymentID)) // -> Refunding
	clk.t = clk.t.Add(time.Minute)
	require.NoError(t, m.ProcessOne(ctx, rec.DeploymentID)) // -> Refunded

	bal, err := ledger.Balance(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), bal)
}

func TestStuckAmbiguousCreateEventuallyFails(t *testing.T) {
	m, ledger, containers, clk := newHarness(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, "frank", 10_000_000, "memo-f", "")
	require.NoError(t, err)

	containers.CreateErrors = []error{&containerport.Error{Code: containerport.Temporary, Message: "ambiguous"}}

	rec, err := m.RequestDeployment(ctx, "frank", "momentum", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentReceived, rec.Status)

	clk.t = clk.t.Add(16 * time.Minute)
	require.NoError(t, m.ProcessOne(ctx, rec.DeploymentID))

	final, err := m.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeploymentFailed, final.Status)
	assert.Equal(t, domain.CauseCreateAmbiguous, final.FailureCause)
}

func TestDeploymentTTLExceededFailsAndRefunds(t *testing.T) {
	m, ledger, containers, clk := newHarness(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, "heidi", 10_000_000, "memo-h", "")
	require.NoError(t, err)

	stall := &containerport.Error{Code: containerport.Temporary, Message: "stall"}
	containers.InstallErrors = []error{stall}
	rec, err := m.RequestDeployment(ctx, "heidi", "momentum", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanisterCreated, rec.Status)

	clk.t = clk.t.Add(25 * time.Hour)
	require.NoError(t, m.ProcessOne(ctx, rec.DeploymentID))

	final, err := m.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeploymentFailed, final.Status)
	assert.Equal(t, domain.CauseTimeout, final.FailureCause)

	require.NoError(t, m.ProcessOne(ctx, rec.DeploymentID)) // -> Refunding
	clk.t = clk.t.Add(time.Minute)
	require.NoError(t, m.ProcessOne(ctx, rec.DeploymentID)) // -> Refunded

	bal, err := ledger.Balance(ctx, "heidi")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), bal)
}

func TestForceAdvanceBypassesRefundBackoff(t *testing.T) {
	m, ledger, containers, _ := newHarness(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, "grace", 10_000_000, "memo-g", "")
	require.NoError(t, err)
	containers.InstallErrors = []error{&containerport.Error{Code: containerport.Permanent, Message: "bad"}}

	rec, err := m.RequestDeployment(ctx, "grace", "momentum", nil)
	require.NoError(t, err)
	require.NoError(t, m.ProcessOne(ctx, rec.DeploymentID)) // -> Refunding

	// Record one failed refund attempt at the current clock, so the retry
	// backoff (RetryBaseSecs) is in effect and blocks a plain reconciliation.
	refunding, err := m.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	refunding.RefundAttempts = 1
	require.NoError(t, m.persist(ctx, &refunding))
	require.NoError(t, m.ProcessOne(ctx, rec.DeploymentID))
	blocked, err := m.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRefunding, blocked.Status, "backoff must hold back a reconciliation refund")

	// Without advancing the clock, ForceAdvance still performs the refund.
	require.NoError(t, m.ForceAdvance(ctx, rec.DeploymentID))

	final, err := m.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, final.Status)

	bal, err := ledger.Balance(ctx, "grace")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), bal)
}
