package harvest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrCacheUnreadable is wrapped by CacheStore implementations when stored
// data cannot be read back.
var ErrCacheUnreadable = errors.New("identity cache unreadable")

// IdentityCache maps lower-cased handles to identities. Entries are never
// evicted. It is safe for concurrent use.
type IdentityCache struct {
	mu      sync.RWMutex
	entries map[string]Identity
	store   CacheStore
	logger  *zap.Logger
}

// NewIdentityCache builds an empty cache persisted through store. A nil
// store keeps the cache in memory only.
func NewIdentityCache(store CacheStore, logger *zap.Logger) *IdentityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityCache{
		entries: make(map[string]Identity),
		store:   store,
		logger:  logger,
	}
}

func cacheKey(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// Load merges persisted entries into the cache. Failures are logged and
// leave the cache as it was.
func (c *IdentityCache) Load(ctx context.Context) {
	if c.store == nil {
		return
	}
	loaded, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("identity cache load failed, starting empty", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for handle, identity := range loaded {
		key := cacheKey(handle)
		if key == "" || identity.ID == "" {
			continue
		}
		c.entries[key] = identity
	}
	c.logger.Debug("identity cache loaded", zap.Int("entries", len(c.entries)))
}

// Lookup returns the cached identity for handle.
func (c *IdentityCache) Lookup(handle string) (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	identity, ok := c.entries[cacheKey(handle)]
	return identity, ok
}

// Store records identity for handle. An existing entry is kept.
func (c *IdentityCache) Store(handle string, identity Identity) {
	key := cacheKey(handle)
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return
	}
	c.entries[key] = identity
}

// Len returns the number of cached identities.
func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of the cache contents.
func (c *IdentityCache) Snapshot() map[string]Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Identity, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Flush persists the full cache. Failures are logged, never returned.
func (c *IdentityCache) Flush(ctx context.Context) {
	if c.store == nil {
		return
	}
	snapshot := c.Snapshot()
	if err := c.store.Save(ctx, snapshot); err != nil {
		c.logger.Warn("identity cache flush failed", zap.Int("entries", len(snapshot)), zap.Error(err))
		return
	}
	c.logger.Info("identity cache saved", zap.Int("entries", len(snapshot)))
}
