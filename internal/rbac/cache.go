package rbac

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how stale a memoized permission set may get. The
// cache is last-write-wins under concurrent invalidation; a staleness
// window of this length is an accepted trade-off, so keep it low.
const DefaultCacheTTL = 300 * time.Second

// Cache memoizes resolver output per user. Both implementations satisfy
// Invalidator so services can drop entries after mutations.
type Cache interface {
	GetUser(ctx context.Context, principal Principal) (PermissionSet, bool)
	SetUser(ctx context.Context, principal Principal, set PermissionSet)
	InvalidateUser(ctx context.Context, userID int64)
	InvalidateFirm(ctx context.Context, firmID int64)
}

type memoryEntry struct {
	set       PermissionSet
	expiresAt time.Time
}

// MemoryCache is the single-instance, in-process TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache constructs the in-process cache. A non-positive ttl falls
// back to DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		entries: make(map[int64]memoryEntry),
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ Cache       = (*MemoryCache)(nil)
	_ Invalidator = (*MemoryCache)(nil)
)

// SetClock overrides the cache clock. Test hook.
func (c *MemoryCache) SetClock(now func() time.Time) { c.now = now }

// GetUser returns the memoized set for a user if present and unexpired.
func (c *MemoryCache) GetUser(_ context.Context, principal Principal) (PermissionSet, bool) {
	c.mu.RLock()
	entry, ok := c.entries[principal.UserID]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.set.Clone(), true
}

// SetUser memoizes a resolved set for the TTL window.
func (c *MemoryCache) SetUser(_ context.Context, principal Principal, set PermissionSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[principal.UserID] = memoryEntry{set: set.Clone(), expiresAt: c.now().Add(c.ttl)}
}

// InvalidateUser drops one user's entry.
func (c *MemoryCache) InvalidateUser(_ context.Context, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// InvalidateFirm conservatively clears the whole cache: entries carry no
// firm index, so correctness wins over a cold-cache burst. The redis-backed
// VersionedCache invalidates the firm scope precisely instead.
func (c *MemoryCache) InvalidateFirm(_ context.Context, _ int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]memoryEntry)
}

// Len reports the number of live entries. Test hook.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
