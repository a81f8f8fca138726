// ABOUTME: Thread-safe expiring key set with a size bound and LRU eviction
// ABOUTME: Backs token revocation and replayed request-id detection

package dedupe

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrFull is returned by Insert when every slot holds an unexpired key.
var ErrFull = errors.New("cache is full")

// cacheEntry stores the expiry and list element for a cached key.
type cacheEntry struct {
	expiresAt time.Time
	element   *list.Element
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for deterministic expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithCleanupInterval sets how often expired entries are swept. Zero disables
// the background sweep; expired entries are then dropped lazily.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Cache) { c.cleanupInterval = d }
}

// Cache tracks keys until they expire. When full, the least recently marked
// key is evicted. A doubly-linked list keeps eviction O(1).
type Cache struct {
	mu              sync.Mutex
	seen            map[string]*cacheEntry
	order           *list.List // oldest mark at front
	ttl             time.Duration
	maxSize         int
	now             func() time.Time
	cleanupInterval time.Duration
	done            chan struct{}
	closed          bool
}

// New creates a cache whose Mark entries live for ttl, holding at most maxSize keys.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	c := &Cache{
		seen:            make(map[string]*cacheEntry),
		order:           list.New(),
		ttl:             ttl,
		maxSize:         maxSize,
		now:             time.Now,
		cleanupInterval: time.Minute,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cleanupInterval > 0 {
		go c.cleanup()
	}
	return c
}

// Check reports whether key is present and unexpired.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	if !c.now().Before(entry.expiresAt) {
		c.removeLocked(key, entry)
		return false
	}
	return true
}

// CheckAndMark atomically checks key and marks it when absent.
// Returns true if the key was already present (a duplicate).
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[key]; ok && now.Before(entry.expiresAt) {
		return true
	}
	c.markLocked(key, now.Add(c.ttl))
	return false
}

// Mark records key for the cache's default TTL.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.now().Add(c.ttl))
}

// MarkUntil records key until the given instant. Instants in the past are ignored.
func (c *Cache) MarkUntil(key string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.now().Before(expiresAt) {
		return
	}
	c.markLocked(key, expiresAt)
}

// Insert records key until expiresAt like MarkUntil, but never evicts.
// When the cache is bounded and full it first drops expired keys and
// returns ErrFull if none could be dropped.
func (c *Cache) Insert(key string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !now.Before(expiresAt) {
		return nil
	}
	if _, exists := c.seen[key]; !exists && c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.sweepLocked(now)
		if len(c.seen) >= c.maxSize {
			return ErrFull
		}
	}
	c.markLocked(key, expiresAt)
	return nil
}

// Len returns the number of stored keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string, expiresAt time.Time) {
	if entry, exists := c.seen[key]; exists {
		entry.expiresAt = expiresAt
		c.order.MoveToBack(entry.element)
		return
	}

	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{expiresAt: expiresAt, element: elem}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) removeLocked(key string, entry *cacheEntry) {
	c.order.Remove(entry.element)
	delete(c.seen, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *Cache) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range c.seen {
		if !now.Before(entry.expiresAt) {
			c.removeLocked(key, entry)
			removed++
		}
	}
	return removed
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
