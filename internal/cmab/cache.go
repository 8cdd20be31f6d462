// Package cmab implements the contextual multi-armed bandit decision layer:
// a bounded LRU cache of remote decisions, an HTTP prediction client with
// retry/backoff, and the orchestration service tying them to the bucketer.
package cmab

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a bounded, thread-safe least-recently-used cache with a per-entry
// timeout. A successful Lookup counts as a "use" and refreshes recency;
// entries older than the timeout since their last touch are treated as
// absent and evicted lazily.
//
// A single mutex guards all bookkeeping. Decision traffic is modest (one
// lookup per CMAB decision), so lock contention is not a concern here; the
// mutex is never held across I/O, so it cannot deadlock re-entrantly.
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	timeout time.Duration
	order   *list.List // front = most recently used
	items   map[K]*list.Element

	// now is swappable so tests can drive timeout expiry without sleeping.
	now func() time.Time
}

// lruItem is the payload stored in the recency list.
type lruItem[K comparable, V any] struct {
	key     K
	value   V
	touched time.Time
}

// NewLRU creates a cache holding at most maxSize entries.
// timeout <= 0 disables expiry; maxSize < 1 disables storage entirely
// (every Lookup misses), which callers use to turn caching off.
func NewLRU[K comparable, V any](maxSize int, timeout time.Duration) *LRU[K, V] {
	return &LRU[K, V]{
		maxSize: maxSize,
		timeout: timeout,
		order:   list.New(),
		items:   make(map[K]*list.Element),
		now:     time.Now,
	}
}

// Lookup returns the live entry for key, refreshing its recency.
// Expired entries are removed and reported as a miss.
func (c *LRU[K, V]) Lookup(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return zero, false
	}

	item := element.Value.(*lruItem[K, V])
	if c.timeout > 0 && c.now().Sub(item.touched) > c.timeout {
		// Lazy expiry: stale entries die on first sight.
		c.order.Remove(element)
		delete(c.items, key)
		return zero, false
	}

	item.touched = c.now()
	c.order.MoveToFront(element)
	return item.value, true
}

// Save inserts or replaces the entry for key, making it the most recently
// used. Inserting beyond capacity evicts the entry untouched longest.
func (c *LRU[K, V]) Save(key K, value V) {
	if c.maxSize < 1 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		item := element.Value.(*lruItem[K, V])
		item.value = value
		item.touched = c.now()
		c.order.MoveToFront(element)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruItem[K, V]).key)
		}
	}

	c.items[key] = c.order.PushFront(&lruItem[K, V]{
		key:     key,
		value:   value,
		touched: c.now(),
	})
}

// Remove deletes the entry for key, if present.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		c.order.Remove(element)
		delete(c.items, key)
	}
}

// Reset discards every entry.
func (c *LRU[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	clear(c.items)
}

// Len reports the current number of entries (including not-yet-reaped
// expired ones). Used by metrics and tests.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
