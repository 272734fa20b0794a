// Package images is C6, the Code-Image Registry: an admin-writable map from
// strategy_kind to the CodeImage that gets installed into new containers of
// that kind. Deployments snapshot the image at install time, so a later
// admin upload never affects containers already in flight (spec.md §4.6).
package images

import (
	"context"

	"github.com/warp-strategies/factory/internal/domain"
	"github.com/warp-strategies/factory/internal/platform/ferrors"
	"github.com/warp-strategies/factory/internal/store"
)

const collImages = "code_images"

type Registry struct {
	store *store.Store
}

func New(st *store.Store) *Registry {
	return &Registry{store: st}
}

// Install replaces (or creates) the CodeImage for strategyKind. Only callers
// already authorized as admin may reach this (enforced by internal/api).
func (r *Registry) Install(ctx context.Context, strategyKind, version string, payload []byte) (domain.CodeImage, error) {
	if strategyKind == "" {
		return domain.CodeImage{}, ferrors.New(ferrors.InvalidConfig, "strategy_kind must not be empty")
	}
	if len(payload) == 0 {
		return domain.CodeImage{}, ferrors.New(ferrors.InvalidConfig, "code image payload must not be empty")
	}
	img := domain.CodeImage{StrategyKind: strategyKind, Version: version, Payload: payload}
	if err := r.store.Put(ctx, collImages, strategyKind, img); err != nil {
		return domain.CodeImage{}, err
	}
	return img, nil
}

// Get returns the current CodeImage for strategyKind, as it should be
// snapshotted at container-install time for a new deployment.
func (r *Registry) Get(ctx context.Context, strategyKind string) (domain.CodeImage, error) {
	var img domain.CodeImage
	found, err := r.store.Get(ctx, collImages, strategyKind, &img)
	if err != nil {
		return domain.CodeImage{}, err
	}
	if !found {
		return domain.CodeImage{}, ferrors.New(ferrors.NotFound, "no code image registered for strategy kind %q", strategyKind)
	}
	return img, nil
}

// Kinds lists every strategy kind with a registered image.
func (r *Registry) Kinds(ctx context.Context) ([]string, error) {
	var kinds []string
	err := r.store.Scan(ctx, collImages, func(key string, _ []byte) error {
		kinds = append(kinds, key)
		return nil
	})
	return kinds, err
}
