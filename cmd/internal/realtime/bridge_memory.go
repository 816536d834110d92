package realtime

import (
	"context"
	"sync"
	"time"
)

// MemorySnapshotCache is an in-process SnapshotCache for tests and local
// development. Expiry is checked lazily on access.
type MemorySnapshotCache struct {
	mu    sync.Mutex
	items map[string]memSnapshot

	// nowFn is swappable for deterministic expiry tests.
	nowFn func() time.Time
}

type memSnapshot struct {
	snap      Snapshot
	expiresAt time.Time
}

func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{
		items: make(map[string]memSnapshot),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (c *MemorySnapshotCache) Put(_ context.Context, connID string, snap Snapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[connID] = memSnapshot{snap: snap, expiresAt: c.nowFn().Add(ttl)}
	return nil
}

func (c *MemorySnapshotCache) Get(_ context.Context, connID string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[connID]
	if !ok || !it.expiresAt.After(c.nowFn()) {
		delete(c.items, connID)
		return Snapshot{}, ErrNotAttached
	}
	return it.snap, nil
}

func (c *MemorySnapshotCache) Touch(_ context.Context, connID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[connID]
	if !ok || !it.expiresAt.After(c.nowFn()) {
		delete(c.items, connID)
		return ErrNotAttached
	}
	it.expiresAt = c.nowFn().Add(ttl)
	c.items[connID] = it
	return nil
}

func (c *MemorySnapshotCache) Del(_ context.Context, connID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, connID)
	return nil
}

// SetNow overrides the cache clock. Test helper.
func (c *MemorySnapshotCache) SetNow(fn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFn = fn
}
