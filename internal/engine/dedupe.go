package engine

import (
	"sync"
	"time"
)

// DedupeCache remembers frame hashes for a sliding window.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

// Seen reports whether key was recorded within ttl of now. A miss records
// it; a hit keeps the first sighting so a steady replay stream expires.
func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > 4096 {
		d.compactLocked(now, ttl)
	}
	return false
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) compactLocked(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}
