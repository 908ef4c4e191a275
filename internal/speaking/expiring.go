package speaking

import "time"

type entry[V any] struct {
	value V
	at    time.Time
}

// Cache maps keys to values stamped with the time they were put. Entries
// whose age reaches ttl are evicted when they are read or ranged over.
// A Cache is not safe for concurrent use.
type Cache[K comparable, V any] struct {
	ttl   time.Duration
	now   func() time.Time
	items map[K]entry[V]
}

func NewCache[K comparable, V any](ttl time.Duration, now func() time.Time) *Cache[K, V] {
	if now == nil {
		now = time.Now
	}
	return &Cache[K, V]{ttl: ttl, now: now, items: make(map[K]entry[V])}
}

// Put stores v under k, stamped now.
func (c *Cache[K, V]) Put(k K, v V) {
	c.items[k] = entry[V]{value: v, at: c.now()}
}

// Get returns the value under k and its age. An expired entry is evicted
// and reported as missing.
func (c *Cache[K, V]) Get(k K) (V, time.Duration, bool) {
	e, ok := c.items[k]
	if !ok {
		var zero V
		return zero, 0, false
	}
	age := c.now().Sub(e.at)
	if age >= c.ttl {
		delete(c.items, k)
		var zero V
		return zero, 0, false
	}
	return e.value, age, true
}

func (c *Cache[K, V]) Delete(k K) {
	delete(c.items, k)
}

// Range evicts expired entries, then calls fn for every live one.
func (c *Cache[K, V]) Range(fn func(k K, v V, age time.Duration)) {
	now := c.now()
	for k, e := range c.items {
		age := now.Sub(e.at)
		if age >= c.ttl {
			delete(c.items, k)
			continue
		}
		fn(k, e.value, age)
	}
}

// Len counts entries, expired or not.
func (c *Cache[K, V]) Len() int {
	return len(c.items)
}
