package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp-strategies/factory/internal/account"
	"github.com/warp-strategies/factory/internal/containerport"
	"github.com/warp-strategies/factory/internal/deployment"
	"github.com/warp-strategies/factory/internal/domain"
	"github.com/warp-strategies/factory/internal/images"
	"github.com/warp-strategies/factory/internal/ledgerport"
	"github.com/warp-strategies/factory/internal/registry"
	"github.com/warp-strategies/factory/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newHarness(t *testing.T) (*deployment.Machine, *account.Ledger, *containerport.StubPort, *fakeClock) {
	t.Helper()
	st := store.New(nil)
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ledger := account.New(st, clk, ledgerport.NewMemoPort(), account.DefaultBounds())
	imgs := images.New(st)
	_, err := imgs.Install(context.Background(), "momentum", "v1", []byte("wasm"))
	require.NoError(t, err)
	reg := registry.New(st)
	containers := containerport.NewStubPort()
	m := deployment.New(st, clk, ledger, imgs, reg, containers, deployment.DefaultConfig(), 1_000_000)
	return m, ledger, containers, clk
}

func TestTickLeavesTerminalRecordAlone(t *testing.T) {
	m, ledger, _, clk := newHarness(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, "alice", 500_000_000, "memo-1", "")
	require.NoError(t, err)

	// The request reaches Deployed inside RequestDeployment, so the tick
	// finds no non-terminal record to process.
	rec, err := m.RequestDeployment(ctx, "alice", "momentum", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDeployed, rec.Status)

	sched := New(m, clk, Config{TickInterval: time.Minute, MaxPerTick: 50})
	processed, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed, "a terminal record must never be processed by a tick")
}

func TestTickDrivesStalledInstallToFailureAndRefund(t *testing.T) {
	m, ledger, containers, clk := newHarness(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, "bob", 500_000_000, "memo-2", "")
	require.NoError(t, err)

	containers.InstallErrors = []error{&containerport.Error{Code: containerport.Temporary, Message: "stall"}}
	rec, err := m.RequestDeployment(ctx, "bob", "momentum", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanisterCreated, rec.Status)

	clk.t = clk.t.Add(25 * time.Hour)
	sched := New(m, clk, Config{TickInterval: time.Minute, MaxPerTick: 50})

	processed, err := sched.Tick(ctx) // -> DeploymentFailed(Timeout)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	processed, err = sched.Tick(ctx) // -> Refunding
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	clk.t = clk.t.Add(time.Minute)
	processed, err = sched.Tick(ctx) // -> Refunded
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	final, err := m.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, final.Status)
}

func TestTickRespectsMaxPerTick(t *testing.T) {
	m, ledger, containers, clk := newHarness(t)
	ctx := context.Background()
	containers.InstallErrors = []error{
		&containerport.Error{Code: containerport.Temporary, Message: "stall"},
		&containerport.Error{Code: containerport.Temporary, Message: "stall"},
	}

	for _, owner := range []string{"c1", "c2"} {
		_, err := ledger.Deposit(ctx, owner, 500_000_000, "memo-"+owner, "")
		require.NoError(t, err)
		_, err = m.RequestDeployment(ctx, owner, "momentum", nil)
		require.NoError(t, err)
	}

	sched := New(m, clk, Config{TickInterval: time.Minute, MaxPerTick: 1})
	processed, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed, "tick must cap work at MaxPerTick")
}
