package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
)

// IdentityStore persists the identity cache as one JSON object keyed by
// lower-cased handle.
type IdentityStore struct {
	path string
}

// NewIdentityStore returns a store reading and writing path.
func NewIdentityStore(path string) (*IdentityStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("identity cache path is required")
	}
	return &IdentityStore{path: path}, nil
}

// Load reads the cache file. A missing file yields an empty map; a corrupt
// one an error wrapping harvest.ErrCacheUnreadable.
func (s *IdentityStore) Load(context.Context) (map[string]harvest.Identity, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]harvest.Identity{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", harvest.ErrCacheUnreadable, err)
	}
	entries := make(map[string]harvest.Identity)
	if len(bytes.TrimSpace(raw)) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", harvest.ErrCacheUnreadable, s.path, err)
	}
	return entries, nil
}

// Save rewrites the cache file atomically.
func (s *IdentityStore) Save(_ context.Context, entries map[string]harvest.Identity) error {
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity cache: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}
	return writeAtomic(s.path, bytes.NewReader(payload))
}
