package harvest

import (
	"context"
	"time"
)

// IdentityResolver translates a handle into its stable identity.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, handle string) (Identity, error)
}

// ActivityFetcher returns up to count most-recent items for an account id.
type ActivityFetcher interface {
	FetchActivity(ctx context.Context, userID string, count int) ([]RawItem, error)
}

// Source is the upstream network service. Connected reports whether the
// source has been authenticated and may be called.
type Source interface {
	IdentityResolver
	ActivityFetcher
	Connected() bool
}

// CacheStore persists the identity cache between runs.
type CacheStore interface {
	Load(ctx context.Context) (map[string]Identity, error)
	Save(ctx context.Context, entries map[string]Identity) error
}

// Gate is a counting admission gate bounding concurrent account workers.
type Gate interface {
	Acquire(ctx context.Context) error
	Release()
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// ProgressFunc receives (done, total) after every account completes.
type ProgressFunc func(done, total int)
