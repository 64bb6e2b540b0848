// Package dedup collapses duplicate trade observations across watchers and
// groups near-simultaneous trades into conviction clusters.
package dedup

import (
	"sync"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Cache remembers recently seen fingerprints. The same trade arriving from
// the on-chain watcher, the websocket feed and the polling fallback is
// admitted exactly once.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	seen    map[string]time.Time // fingerprint → first seen
	order   []string             // insertion order for capacity eviction
}

// NewCache crea la caché de huellas. ttl acota la memoria en el tiempo y
// maxSize en volumen; al superar maxSize se expulsan las huellas más viejas.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		seen:    make(map[string]time.Time),
	}
}

// Admit registra la señal y devuelve true solo la primera vez que se ve
// su huella dentro del TTL.
func (c *Cache) Admit(sig domain.Signal, now time.Time) bool {
	fp := sig.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpired(now)

	if _, dup := c.seen[fp]; dup {
		return false
	}

	c.seen[fp] = now
	c.order = append(c.order, fp)

	for len(c.seen) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	return true
}

// Len returns the number of live fingerprints.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictExpired drops entries older than the TTL. Caller holds the lock.
func (c *Cache) evictExpired(now time.Time) {
	cutoff := now.Add(-c.ttl)
	kept := c.order[:0]
	for _, fp := range c.order {
		at, ok := c.seen[fp]
		if !ok {
			continue
		}
		if at.Before(cutoff) {
			delete(c.seen, fp)
			continue
		}
		kept = append(kept, fp)
	}
	c.order = kept
}
