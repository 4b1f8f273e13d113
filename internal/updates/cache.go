package updates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/itelic/itelic-updater/internal/license"
)

// Entry is the outcome of the last successful version check for a product.
type Entry struct {
	CheckedAt time.Time `json:"checked_at"`
	// KeyHash identifies the license key the check ran with.
	KeyHash string `json:"key_hash"`
	// Verdict is the latest release reported by the store.
	Verdict *license.VersionInfo `json:"verdict,omitempty"`
}

// Fresh reports whether the entry can answer a check for keyHash at now.
func (e *Entry) Fresh(keyHash string, ttl time.Duration, now time.Time) bool {
	if e == nil || e.KeyHash != keyHash || ttl <= 0 {
		return false
	}
	return now.Sub(e.CheckedAt) < ttl
}

// Cache stores version check entries per product id. Get returns nil, nil on
// a miss.
type Cache interface {
	Get(ctx context.Context, productID int64) (*Entry, error)
	Set(ctx context.Context, productID int64, entry *Entry) error
	Delete(ctx context.Context, productID int64) error
}

// HashKey returns the cache identity of a license key. The key itself is
// never stored.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MemoryCache is a process-wide Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]Entry
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[int64]Entry)}
}

// Get returns a copy of the entry for productID.
func (c *MemoryCache) Get(_ context.Context, productID int64) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[productID]
	if !ok {
		return nil, nil
	}
	return copyEntry(&entry), nil
}

// Set stores a copy of entry.
func (c *MemoryCache) Set(_ context.Context, productID int64, entry *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[productID] = *copyEntry(entry)
	return nil
}

// Delete removes the entry for productID.
func (c *MemoryCache) Delete(_ context.Context, productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, productID)
	return nil
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	if e.Verdict != nil {
		v := *e.Verdict
		cp.Verdict = &v
	}
	return &cp
}
