// internal/engine/cache/memory.go
package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	body    []byte
	expires time.Time
}

// MemoryGateway is an in-process Gateway for the CLI and tests.
type MemoryGateway struct {
	mu       sync.Mutex
	entries  map[string]entry
	staleTTL time.Duration
	now      func() time.Time
}

func NewMemoryGateway(staleTTL time.Duration) *MemoryGateway {
	if staleTTL <= 0 {
		staleTTL = DefaultStaleTTL
	}
	return &MemoryGateway{
		entries:  make(map[string]entry),
		staleTTL: staleTTL,
		now:      time.Now,
	}
}

func (g *MemoryGateway) Get(_ context.Context, key string) ([]byte, bool, error) {
	return g.read(key)
}

func (g *MemoryGateway) GetStale(_ context.Context, key string) ([]byte, bool, error) {
	return g.read(stalePrefix + key)
}

func (g *MemoryGateway) read(key string) ([]byte, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !g.now().Before(e.expires) {
		delete(g.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.body...), true, nil
}

func (g *MemoryGateway) Set(_ context.Context, key string, body []byte, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	fresh := entry{body: append([]byte(nil), body...)}
	if ttl > 0 {
		fresh.expires = now.Add(ttl)
	}
	g.entries[key] = fresh
	g.entries[stalePrefix+key] = entry{body: fresh.body, expires: now.Add(g.staleTTL)}
	return nil
}

func (g *MemoryGateway) Invalidate(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.entries, key)
	delete(g.entries, stalePrefix+key)
	return nil
}
