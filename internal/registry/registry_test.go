package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp-strategies/factory/internal/domain"
	"github.com/warp-strategies/factory/internal/store"
)

func TestRecordThenGet(t *testing.T) {
	r := New(store.New(nil))
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, domain.StrategyMetadata{
		ContainerID: "container-1", Owner: "alice", StrategyKind: "momentum",
	}))

	meta, err := r.Get(ctx, "container-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", meta.Owner)
}

func TestByOwnerReturnsOnlyOwnedStrategies(t *testing.T) {
	r := New(store.New(nil))
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, domain.StrategyMetadata{ContainerID: "c1", Owner: "alice"}))
	require.NoError(t, r.Record(ctx, domain.StrategyMetadata{ContainerID: "c2", Owner: "bob"}))
	require.NoError(t, r.Record(ctx, domain.StrategyMetadata{ContainerID: "c3", Owner: "alice"}))

	mine, err := r.ByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
}

func TestGetUnknownContainerFails(t *testing.T) {
	r := New(store.New(nil))
	_, err := r.Get(context.Background(), "missing")
	require.Error(t, err)
}
