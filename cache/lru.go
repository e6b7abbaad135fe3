package cache

import (
	"container/list"
	"sync"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// LRU is a fixed-capacity least-recently-used cache with O(1) get and
// put. A single mutex covers both the map lookup and the recency-list
// mutation; the two must move together. Entries have no TTL and live
// until evicted by capacity pressure.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

func NewLRU[V any](capacity int) *LRU[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[V]{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the cached value and promotes the key to most recently
// used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry[V]).value, true
}

// Put inserts or replaces the value for key, evicting the least recently
// used entry on overflow.
func (c *LRU[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry[V]).key)
		}
	}
}

func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
