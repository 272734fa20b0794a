package images

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp-strategies/factory/internal/store"
)

func TestInstallThenGet(t *testing.T) {
	r := New(store.New(nil))
	ctx := context.Background()

	_, err := r.Install(ctx, "mean-reversion", "v1", []byte("wasm-bytes"))
	require.NoError(t, err)

	img, err := r.Get(ctx, "mean-reversion")
	require.NoError(t, err)
	assert.Equal(t, "v1", img.Version)
}

func TestGetUnknownKindFails(t *testing.T) {
	r := New(store.New(nil))
	_, err := r.Get(context.Background(), "nonexistent")
	require.Error(t, err)
}

func TestReinstallOverwritesWithoutAffectingPriorSnapshot(t *testing.T) {
	r := New(store.New(nil))
	ctx := context.Background()

	_, err := r.Install(ctx, "momentum", "v1", []byte("bytes-v1"))
	require.NoError(t, err)
	snapshot, err := r.Get(ctx, "momentum")
	require.NoError(t, err)

	_, err = r.Install(ctx, "momentum", "v2", []byte("bytes-v2"))
	require.NoError(t, err)

	assert.Equal(t, "v1", snapshot.Version, "a previously taken snapshot must not mutate")

	latest, err := r.Get(ctx, "momentum")
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.Version)
}
