// Package registry is C7, the Strategy Registry: the durable record of every
// container_id that ever reached Deployed, keyed by container id with a
// secondary index by owner so get_my_deployment_records-style queries stay
// O(result size) instead of scanning every strategy ever deployed (spec.md
// §3, Invariant D1).
package registry

import (
	"context"
	"encoding/json"

	"github.com/warp-strategies/factory/internal/domain"
	"github.com/warp-strategies/factory/internal/platform/ferrors"
	"github.com/warp-strategies/factory/internal/store"
)

const (
	collStrategies = "strategies"
	collByOwner    = "strategies_by_owner"
)

type Registry struct {
	store *store.Store
}

func New(st *store.Store) *Registry {
	return &Registry{store: st}
}

// Record inserts metadata for a container that just reached Deployed. Not
// idempotent by design: the Deployment State Machine only ever calls this
// once per DeploymentRecord, at the single point where it transitions into
// the Deployed terminal state.
func (r *Registry) Record(ctx context.Context, meta domain.StrategyMetadata) error {
	if err := r.store.Put(ctx, collStrategies, meta.ContainerID, meta); err != nil {
		return err
	}
	var ids []string
	if _, err := r.store.Get(ctx, collByOwner, meta.Owner, &ids); err != nil {
		return err
	}
	ids = append(ids, meta.ContainerID)
	return r.store.Put(ctx, collByOwner, meta.Owner, ids)
}

// Get returns the StrategyMetadata for containerID.
func (r *Registry) Get(ctx context.Context, containerID string) (domain.StrategyMetadata, error) {
	var meta domain.StrategyMetadata
	found, err := r.store.Get(ctx, collStrategies, containerID, &meta)
	if err != nil {
		return domain.StrategyMetadata{}, err
	}
	if !found {
		return domain.StrategyMetadata{}, ferrors.New(ferrors.NotFound, "no strategy recorded for container %q", containerID)
	}
	return meta, nil
}

// ByOwner returns every StrategyMetadata recorded for owner, in insertion
// order.
func (r *Registry) ByOwner(ctx context.Context, owner string) ([]domain.StrategyMetadata, error) {
	var ids []string
	if _, err := r.store.Get(ctx, collByOwner, owner, &ids); err != nil {
		return nil, err
	}
	out := make([]domain.StrategyMetadata, 0, len(ids))
	for _, id := range ids {
		meta, err := r.Get(ctx, id)
		if err != nil {
			continue // container record may have been pruned independently; skip rather than fail the whole list
		}
		out = append(out, meta)
	}
	return out, nil
}

// All returns every recorded StrategyMetadata, ordered by container id.
func (r *Registry) All(ctx context.Context) ([]domain.StrategyMetadata, error) {
	var out []domain.StrategyMetadata
	err := r.store.Scan(ctx, collStrategies, func(_ string, raw []byte) error {
		var meta domain.StrategyMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return err
		}
		out = append(out, meta)
		return nil
	})
	return out, err
}
