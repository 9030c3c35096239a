// Package dedup drops QoS1 redeliveries by remembering payload hashes for a
// bounded time.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Cache remembers ids for a TTL, capped in size.
type Cache struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time // id -> expiry
}

func New(ttl time.Duration, max int) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Cache{ttl: ttl, max: max, seen: make(map[string]time.Time, max)}
}

// Seen reports whether id was already recorded within the TTL, recording it
// if not. An empty id is never considered seen.
func (c *Cache) Seen(id string) bool {
	if id == "" {
		return false
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.seen[id]; ok && now.Before(exp) {
		return true
	}
	c.seen[id] = now.Add(c.ttl)
	if len(c.seen) > c.max {
		c.prune(now)
	}
	return false
}

// prune removes expired entries; caller holds the lock.
func (c *Cache) prune(now time.Time) {
	for id, exp := range c.seen {
		if now.After(exp) {
			delete(c.seen, id)
		}
	}
}

// Key returns the dedupe key for a raw payload. Redeliveries carry the same
// payload and therefore the same key.
func Key(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
