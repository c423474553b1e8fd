// internal/engine/cache/cache.go
package cache

import (
	"context"
	"time"
)

// DefaultStaleTTL is how long the stale copy used by the use_cache failure
// policy outlives the fresh entry.
const DefaultStaleTTL = 24 * time.Hour

const stalePrefix = "stale:"

// Gateway stores raw response bodies. Extraction re-runs on every hit, so
// only bytes are cached.
type Gateway interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes the fresh entry with ttl and a stale copy that lives for
	// the gateway's stale TTL.
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
	// GetStale reads the copy kept for fallback after the fresh entry expired.
	GetStale(ctx context.Context, key string) ([]byte, bool, error)
	// Invalidate removes both copies.
	Invalidate(ctx context.Context, key string) error
}

// Nop never hits and never stores. Used when no cache is configured.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) GetStale(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Invalidate(context.Context, string) error { return nil }
