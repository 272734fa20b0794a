// Package store implements C1, the Factory's persistent store: a set of
// durable, upgrade-safe key/value maps, one per entity kind in spec.md §3.
//
// Each entity kind is a "collection"; within a collection, values are
// addressed by an opaque string key and stored as JSON. This mirrors the
// teacher's dual in-memory-cache-plus-Postgres design (see
// ledger_postgres.go's dbEnabled()/getBalanceFromDB split) but generalizes it
// to a single reusable abstraction, since spec.md describes the store as one
// component serving every entity rather than one bespoke table set per
// service.
//
// With a *sql.DB the store is backed by a single JSONB table and every
// mutation is durable immediately. Without one (db == nil, e.g. in unit
// tests) it falls back to an in-memory map guarded by a mutex — the same
// fallback the teacher's services use when no database is configured.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound names an absent key. No Store method returns it: Get reports
// absence through its found result instead.
var ErrNotFound = errors.New("store: key not found")

// ErrAlreadyExists is returned by InsertIfAbsent when the key is already
// populated — the mechanism C5 uses to reserve credit_refund's idempotency
// slot per deployment_id.
var ErrAlreadyExists = errors.New("store: key already exists")

// Store is the Factory's sole source of truth. All in-memory caches held by
// higher-level components must be rebuinldable from it after a restart.
type Store struct {
	db *sql.DB

	mu  sync.RWMutex
	mem map[string]map[string][]byte
}

// New constructs a Store. Pass a non-nil *sql.DB for durable Postgres-backed
// persistence; pass nil for an in-memory-only store (tests, local dev).
func New(db *sql.DB) *Store {
	return &Store{db: db, mem: make(map[string]map[string][]byte)}
}

func (s *Store) dbEnabled() bool {
	return s != nil && s.db != nil
}

// EnsureSchema creates the backing table if it does not already exist. Safe
// to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if !s.dbEnabled() {
		return nil
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS factory_entities (
  collection  text NOT NULL,
  entity_key  text NOT NULL,
  payload     jsonb NOT NULL,
  updated_at  timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (collection, entity_key)
);
CREATE INDEX IF NOT EXISTS factory_entities_collection_idx ON factory_entities (collection);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Get reads the value stored under (collection, key) into out. Reports
// found=false if the key is absent.
func (s *Store) Get(ctx context.Context, collection, key string, out any) (found bool, err error) {
	if s.dbEnabled() {
		const q = `SELECT payload FROM factory_entities WHERE collection = $1 AND entity_key = $2`
		var raw []byte
		err := s.db.QueryRowContext(ctx, q, collection, key).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, json.Unmarshal(raw, out)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.mem[collection][key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

// Put writes value under (collection, key), overwriting any existing entry.
func (s *Store) Put(ctx context.Context, collection, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if s.dbEnabled() {
		const q = `
INSERT INTO factory_entities (collection, entity_key, payload, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (collection, entity_key)
DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
`
		_, err := s.db.ExecContext(ctx, q, collection, key, raw)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem[collection] == nil {
		s.mem[collection] = make(map[string][]byte)
	}
	s.mem[collection][key] = raw
	return nil
}

// InsertIfAbsent writes value under (collection, key) only if the key does
// not already exist, returning ErrAlreadyExists otherwise. C5's refund
// idempotency slot (Invariant C2) uses it; deposit and fee idempotency use a
// Get lookup followed by Put.
func (s *Store) InsertIfAbsent(ctx context.Context, collection, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if s.dbEnabled() {
		const q = `
INSERT INTO factory_entities (collection, entity_key, payload, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (collection, entity_key) DO NOTHING
`
		res, err := s.db.ExecContext(ctx, q, collection, key, raw)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyExists
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem[collection] == nil {
		s.mem[collection] = make(map[string][]byte)
	}
	if _, exists := s.mem[collection][key]; exists {
		return ErrAlreadyExists
	}
	s.mem[collection][key] = raw
	return nil
}

// Delete removes (collection, key), if present.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if s.dbEnabled() {
		const q = `DELETE FROM factory_entities WHERE collection = $1 AND entity_key = $2`
		_, err := s.db.ExecContext(ctx, q, collection, key)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mem[collection], key)
	return nil
}

// Scan calls visit once per entry in collection, in ascending key order.
// Stops early if visit returns an error.
func (s *Store) Scan(ctx context.Context, collection string, visit func(key string, raw []byte) error) error {
	if s.dbEnabled() {
		const q = `SELECT entity_key, payload FROM factory_entities WHERE collection = $1 ORDER BY entity_key ASC`
		rows, err := s.db.QueryContext(ctx, q, collection)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var raw []byte
			if err := rows.Scan(&key, &raw); err != nil {
				return err
			}
			if err := visit(key, raw); err != nil {
				return err
			}
		}
		return rows.Err()
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.mem[collection]))
	snapshot := make(map[string][]byte, len(s.mem[collection]))
	for k, v := range s.mem[collection] {
		keys = append(keys, k)
		snapshot[k] = v
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := visit(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of entries in collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if s.dbEnabled() {
		const q = `SELECT count(*) FROM factory_entities WHERE collection = $1`
		var n int
		err := s.db.QueryRowContext(ctx, q, collection).Scan(&n)
		return n, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mem[collection]), nil
}
