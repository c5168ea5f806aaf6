package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

// IdentityStore persists the identity cache for the lifetime of the process.
type IdentityStore struct {
	mu      sync.Mutex
	entries map[string]harvest.Identity
}

// NewIdentityStore creates an empty IdentityStore.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{entries: make(map[string]harvest.Identity)}
}

// Load returns a copy of the saved entries.
func (s *IdentityStore) Load(context.Context) (map[string]harvest.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]harvest.Identity, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

// Save replaces the saved entries.
func (s *IdentityStore) Save(_ context.Context, entries map[string]harvest.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]harvest.Identity, len(entries))
	for k, v := range entries {
		s.entries[k] = v
	}
	return nil
}
