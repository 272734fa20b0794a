// Package identity is C2, the Identity & Role Registry: the set of caller
// ids allowed to perform admin-only operations (set_deployment_fee,
// install_strategy_wasm, adjust_balance, add/remove_admin, and the
// reconciliation overrides). The deploying identity is seeded as the first
// admin so the Factory never starts in a state nobody can administer.
package identity

import (
	"context"
	"sync"

	"github.com/warp-strategies/factory/internal/platform/ferrors"
	"github.com/warp-strategies/factory/internal/store"
)

const collAdmins = "admins"

// Registry implements C2. Admin set mutations are serialized by mu so a
// concurrent add/remove pair can never race past the last-admin check.
type Registry struct {
	store *store.Store
	mu    sync.Mutex
}

// New constructs a Registry, granting seedAdmin admin rights when the admin
// set is empty; an existing admin set is left unchanged.
func New(ctx context.Context, st *store.Store, seedAdmin string) (*Registry, error) {
	r := &Registry{store: st}
	if seedAdmin == "" {
		return r, nil
	}
	admins, err := r.listLocked(ctx)
	if err != nil {
		return nil, err
	}
	if len(admins) == 0 {
		if err := r.store.Put(ctx, collAdmins, seedAdmin, true); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) listLocked(ctx context.Context) ([]string, error) {
	var admins []string
	err := r.store.Scan(ctx, collAdmins, func(key string, _ []byte) error {
		admins = append(admins, key)
		return nil
	})
	return admins, err
}

// IsAdmin reports whether id currently holds admin rights.
func (r *Registry) IsAdmin(ctx context.Context, id string) (bool, error) {
	var granted bool
	found, err := r.store.Get(ctx, collAdmins, id, &granted)
	if err != nil {
		return false, err
	}
	return found && granted, nil
}

// AddAdmin grants id admin rights. Idempotent: adding an existing admin is a
// no-op success.
func (r *Registry) AddAdmin(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Put(ctx, collAdmins, id, true)
}

// RemoveAdmin revokes id's admin rights. Fails with LastAdmin if id is the
// only remaining admin — the Factory must never end up with zero admins.
func (r *Registry) RemoveAdmin(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	admins, err := r.listLocked(ctx)
	if err != nil {
		return err
	}
	isAdmin := false
	for _, a := range admins {
		if a == id {
			isAdmin = true
			break
		}
	}
	if !isAdmin {
		return ferrors.New(ferrors.NotFound, "%q is not an admin", id)
	}
	if len(admins) == 1 {
		return ferrors.New(ferrors.LastAdmin, "cannot remove the last remaining admin")
	}
	return r.store.Delete(ctx, collAdmins, id)
}

// ListAdmins returns every current admin id.
func (r *Registry) ListAdmins(ctx context.Context) ([]string, error) {
	return r.listLocked(ctx)
}
