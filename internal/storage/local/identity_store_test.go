package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tech-intel-harvester/internal/harvest"
	"github.com/JakeFAU/tech-intel-harvester/internal/storage/local"
)

func TestIdentityStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache", "user_id_cache.json")
	store, err := local.NewIdentityStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	entries := map[string]harvest.Identity{
		"bob":      {ID: "42", Name: "Bob", Followers: 10},
		"karpathy": {ID: "33836629", Name: "Andrej Karpathy", Followers: 1000000},
	}
	require.NoError(t, store.Save(ctx, entries))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)
}

func TestIdentityStoreCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	store, err := local.NewIdentityStore(path)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, harvest.ErrCacheUnreadable)
}

func TestIdentityStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := local.NewIdentityStore(" ")
	require.Error(t, err)
}
