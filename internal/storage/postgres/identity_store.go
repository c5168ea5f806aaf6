// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultIdentityTable = "account_identities"

// IdentityStoreConfig controls the Postgres connection pool used for the
// identity cache.
type IdentityStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// IdentityStore keeps one row per handle.
type IdentityStore struct {
	pool  queryExecCloser
	table string
}

// NewIdentityStore connects to Postgres and ensures the table exists.
func NewIdentityStore(ctx context.Context, cfg IdentityStoreConfig) (*IdentityStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewIdentityStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewIdentityStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewIdentityStoreWithPool(pool queryExecCloser, table string) (*IdentityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultIdentityTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &IdentityStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the identity table when missing.
func (s *IdentityStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	handle     TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	followers  BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *IdentityStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Load reads every cached identity.
func (s *IdentityStore) Load(ctx context.Context) (map[string]harvest.Identity, error) {
	query := fmt.Sprintf(`SELECT handle, user_id, name, followers FROM %s`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", harvest.ErrCacheUnreadable, s.table, err)
	}
	defer rows.Close()

	out := make(map[string]harvest.Identity)
	for rows.Next() {
		var (
			handle    string
			identity  harvest.Identity
			followers int64
		)
		if err := rows.Scan(&handle, &identity.ID, &identity.Name, &followers); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", harvest.ErrCacheUnreadable, err)
		}
		identity.Followers = int(followers)
		out[handle] = identity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", harvest.ErrCacheUnreadable, err)
	}
	return out, nil
}

// Save upserts all entries in one statement.
func (s *IdentityStore) Save(ctx context.Context, entries map[string]harvest.Identity) error {
	if len(entries) == 0 {
		return nil
	}
	handles := make([]string, 0, len(entries))
	for handle := range entries {
		handles = append(handles, handle)
	}
	sort.Strings(handles)
	ids := make([]string, 0, len(entries))
	names := make([]string, 0, len(entries))
	followers := make([]int64, 0, len(entries))
	for _, handle := range handles {
		identity := entries[handle]
		ids = append(ids, identity.ID)
		names = append(names, identity.Name)
		followers = append(followers, int64(identity.Followers))
	}
	query := fmt.Sprintf(`
INSERT INTO %s (handle, user_id, name, followers, updated_at)
SELECT h, i, n, f, now()
FROM unnest($1::text[], $2::text[], $3::text[], $4::bigint[]) AS t(h, i, n, f)
ON CONFLICT (handle) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	name = EXCLUDED.name,
	followers = EXCLUDED.followers,
	updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, handles, ids, names, followers); err != nil {
		return fmt.Errorf("upsert identities: %w", err)
	}
	return nil
}
