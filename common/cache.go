package common

import (
	"container/list"
	"sync"
	"time"
)

// TTLCache is a bounded LRU cache whose entries also expire after a
// per-entry TTL. Expiry is checked lazily on read; Sweep removes expired
// entries eagerly and is meant to run from a periodic job.
type TTLCache[V any] struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type ttlEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func NewTTLCache[V any](capacity int) *TTLCache[V] {
	if capacity <= 0 {
		capacity = 128
	}
	return &TTLCache[V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	entry := el.Value.(*ttlEntry[V])
	if time.Now().After(entry.expiresAt) {
		c.removeElement(el)
		return zero, false
	}
	c.ll.MoveToFront(el)
	return entry.value, true
}

func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*ttlEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&ttlEntry[V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = el
	for c.ll.Len() > c.capacity {
		c.removeElement(c.ll.Back())
	}
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Sweep drops every expired entry and reports how many were removed.
func (c *TTLCache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*ttlEntry[V]).expiresAt) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Purge empties the cache.
func (c *TTLCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}

func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *TTLCache[V]) removeElement(el *list.Element) {
	entry := el.Value.(*ttlEntry[V])
	c.ll.Remove(el)
	delete(c.items, entry.key)
}
