// Package redis persists the identity cache in a Redis hash.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

// DefaultKey is the hash holding identities when none is configured.
const DefaultKey = "harvester:identities"

// Config addresses the Redis hash.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// IdentityStore keeps one hash field per handle, each a JSON identity.
type IdentityStore struct {
	client goredis.UniversalClient
	key    string
}

// NewIdentityStore dials Redis and verifies connectivity.
func NewIdentityStore(ctx context.Context, cfg Config) (*IdentityStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewIdentityStoreWithClient(client, cfg.Key), nil
}

// NewIdentityStoreWithClient wraps an existing client.
func NewIdentityStoreWithClient(client goredis.UniversalClient, key string) *IdentityStore {
	if key == "" {
		key = DefaultKey
	}
	return &IdentityStore{client: client, key: key}
}

// Load reads every field of the hash. Fields that fail to decode make the
// whole load fail with harvest.ErrCacheUnreadable.
func (s *IdentityStore) Load(ctx context.Context) (map[string]harvest.Identity, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %v", harvest.ErrCacheUnreadable, s.key, err)
	}
	out := make(map[string]harvest.Identity, len(fields))
	for handle, raw := range fields {
		var identity harvest.Identity
		if err := json.Unmarshal([]byte(raw), &identity); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", harvest.ErrCacheUnreadable, handle, err)
		}
		out[handle] = identity
	}
	return out, nil
}

// Save replaces the hash contents in one transaction.
func (s *IdentityStore) Save(ctx context.Context, entries map[string]harvest.Identity) error {
	values := make(map[string]any, len(entries))
	for handle, identity := range entries {
		raw, err := json.Marshal(identity)
		if err != nil {
			return fmt.Errorf("encode identity %q: %w", handle, err)
		}
		values[handle] = string(raw)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save identities to %s: %w", s.key, err)
	}
	return nil
}

// Close releases the client.
func (s *IdentityStore) Close() error {
	return s.client.Close()
}
