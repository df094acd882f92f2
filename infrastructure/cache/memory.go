// Package cache provides verdict cache backends for the detection
// coordinator. The in-memory store is the default; the SQLite store
// survives process restarts.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/qaforge/botshield/internal/domain"
	"github.com/qaforge/botshield/internal/ports"
)

var _ ports.CacheStore = (*MemoryCache)(nil)

// defaultSweepInterval is how often the janitor scans for expired entries.
const defaultSweepInterval = 5 * time.Minute

type memoryEntry struct {
	verdict   domain.ConsensusVerdict
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a mutex-protected TTL map of consensus verdicts.
// Expired entries are evicted lazily on read and by a background
// janitor. Safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	stopOnce sync.Once
	stop     chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemoryCache creates a MemoryCache and starts its janitor goroutine.
// Call Close when done to stop the janitor.
func NewMemoryCache() *MemoryCache {
	mc := &MemoryCache{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go mc.janitor(defaultSweepInterval)
	return mc
}

// Get retrieves a cached verdict by key. Expired entries are evicted
// and reported as a miss.
func (mc *MemoryCache) Get(_ context.Context, key string) (*domain.ConsensusVerdict, bool, error) {
	mc.mu.RLock()
	entry, ok := mc.entries[key]
	mc.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if entry.expired(mc.now()) {
		mc.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry since the read.
		if current, still := mc.entries[key]; still && current.expired(mc.now()) {
			delete(mc.entries, key)
		}
		mc.mu.Unlock()
		return nil, false, nil
	}

	// Return a copy so callers can set per-request fields without
	// mutating the cached value.
	verdict := entry.verdict
	return &verdict, true, nil
}

// Set stores a verdict with an expiration time. A zero TTL means the
// entry does not expire.
func (mc *MemoryCache) Set(_ context.Context, key string, verdict *domain.ConsensusVerdict, ttl time.Duration) error {
	if verdict == nil {
		return &ports.CacheError{Operation: "set", Key: key, Err: ports.ErrCacheCorrupted}
	}

	entry := memoryEntry{verdict: *verdict}
	if ttl > 0 {
		entry.expiresAt = mc.now().Add(ttl)
	}

	mc.mu.Lock()
	mc.entries[key] = entry
	mc.mu.Unlock()
	return nil
}

// Delete removes a verdict from the cache.
func (mc *MemoryCache) Delete(_ context.Context, key string) error {
	mc.mu.Lock()
	delete(mc.entries, key)
	mc.mu.Unlock()
	return nil
}

// Clear removes all cached verdicts.
func (mc *MemoryCache) Clear(context.Context) error {
	mc.mu.Lock()
	mc.entries = make(map[string]memoryEntry)
	mc.mu.Unlock()
	return nil
}

// Len returns the number of entries currently held, including entries
// that expired but have not been swept yet.
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.entries)
}

// Close stops the janitor goroutine. The cache remains usable.
func (mc *MemoryCache) Close() {
	mc.stopOnce.Do(func() { close(mc.stop) })
}

func (mc *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			mc.sweep()
		}
	}
}

func (mc *MemoryCache) sweep() {
	now := mc.now()
	mc.mu.Lock()
	for key, entry := range mc.entries {
		if entry.expired(now) {
			delete(mc.entries, key)
		}
	}
	mc.mu.Unlock()
}
