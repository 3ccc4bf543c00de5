package engine

import (
	"sync"
	"time"
)

// Cooldown rate-limits keyed actions, here the invalid-frame warning so a
// misbehaving producer cannot flood the log.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(key string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && now.Sub(ts) < cooldown {
		return false
	}
	c.last[key] = now
	return true
}
