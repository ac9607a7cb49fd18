// Package cache provides the shared in-memory expiring key-value store.
//
// Every other component uses it for memoization and cross-request session
// continuity: tool-result memoization, conversation history fallback, and
// per-channel state. Entries expire after a per-entry TTL and the cache
// evicts oldest-inserted entries first once a maximum entry count is
// exceeded, so callers can use it unboundedly.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the cache when no explicit limit is configured.
const DefaultMaxEntries = 10000

type entry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with per-entry TTL and
// oldest-inserted-first eviction.
type Cache[T any] struct {
	mu         sync.RWMutex
	items      map[string]*list.Element
	order      *list.List // front = oldest inserted
	defaultTTL time.Duration
	maxEntries int
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates a cache with the given default TTL and maximum entry count.
// A maxEntries of zero or less falls back to DefaultMaxEntries. A background
// janitor removes expired entries; call Close to stop it.
func New[T any](defaultTTL time.Duration, maxEntries int) *Cache[T] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache[T]{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Get retrieves a value. Returns false when absent or expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	el, ok := c.items[key]
	if !ok {
		var zero T
		return zero, false
	}
	e := el.Value.(*entry[T])
	if time.Now().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores a value with an explicit TTL. A ttl of zero or less uses the
// default TTL. Overwriting a key counts as a new insertion for eviction
// purposes.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[T])
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToBack(el)
		return
	}

	el := c.order.PushBack(&entry[T]{key: key, value: value, expiresAt: time.Now().Add(ttl)})
	c.items[key] = el

	for len(c.items) > c.maxEntries {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}
}

// SetDefault stores a value with the default TTL.
func (c *Cache[T]) SetDefault(key string, value T) {
	c.Set(key, value, c.defaultTTL)
}

// Delete removes a key.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of stored entries, including not-yet-collected
// expired ones.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background janitor.
func (c *Cache[T]) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache[T]) removeElement(el *list.Element) {
	e := el.Value.(*entry[T])
	c.order.Remove(el)
	delete(c.items, e.key)
}

// janitor periodically removes expired entries.
func (c *Cache[T]) janitor() {
	interval := c.defaultTTL
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for el := c.order.Front(); el != nil; {
				next := el.Next()
				if now.After(el.Value.(*entry[T]).expiresAt) {
					c.removeElement(el)
				}
				el = next
			}
			c.mu.Unlock()
		}
	}
}
