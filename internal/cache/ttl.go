// Package cache provides a process-local TTL cache driven by an injected clock.
package cache

import (
	"sync"
	"time"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/clock/system"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL maps string keys to values that expire ttl after they were stored.
// It is safe for concurrent use.
type TTL[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   audit.Clock
	entries map[string]entry[V]
}

// New builds a TTL cache. A nil clock uses UTC wall time.
func New[V any](ttl time.Duration, clock audit.Clock) *TTL[V] {
	if clock == nil {
		clock = system.New()
	}
	return &TTL[V]{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the value for key when it is younger than the TTL. Expired entries are evicted.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.clock.Now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, storedAt: c.clock.Now()}
}

// Len returns the number of stored entries, expired ones included until they are read.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
