package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key K
	val V
	exp time.Time
}

// Cache is a map with optional expiry and an optional size bound. With a
// bound, the least recently used entry is evicted first.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	data    map[K]*list.Element
	order   *list.List
	ttl     time.Duration
	max     int
	onEvict func(K, V)
}

// New returns a cache whose entries expire after ttl. A zero ttl never
// expires.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{data: make(map[K]*list.Element), order: list.New(), ttl: ttl}
}

// NewLRU returns a cache bounded to max entries; max <= 0 means unbounded.
func NewLRU[K comparable, V any](max int, onEvict func(K, V)) *Cache[K, V] {
	c := New[K, V](0)
	c.max = max
	c.onEvict = onEvict
	return c
}

func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.data[k]
	if !ok {
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		c.removeElement(el)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.val, true
}

// Set stores v under k. A zero exp falls back to the cache ttl.
func (c *Cache[K, V]) Set(k K, v V, exp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp.IsZero() && c.ttl > 0 {
		exp = time.Now().Add(c.ttl)
	}
	if el, ok := c.data[k]; ok {
		e := el.Value.(*entry[K, V])
		e.val, e.exp = v, exp
		c.order.MoveToFront(el)
		return
	}
	c.data[k] = c.order.PushFront(&entry[K, V]{key: k, val: v, exp: exp})
	for c.max > 0 && c.order.Len() > c.max {
		c.removeElement(c.order.Back())
	}
}

// GetOrCreate returns the value for k, calling create when it is missing.
// Racing callers may both run create; the first stored value wins.
func (c *Cache[K, V]) GetOrCreate(k K, create func() (V, error)) (V, error) {
	if v, ok := c.Get(k); ok {
		return v, nil
	}

	v, err := create()
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.data[k]; ok {
		return el.Value.(*entry[K, V]).val, nil
	}
	var exp time.Time
	if c.ttl > 0 {
		exp = time.Now().Add(c.ttl)
	}
	c.data[k] = c.order.PushFront(&entry[K, V]{key: k, val: v, exp: exp})
	for c.max > 0 && c.order.Len() > c.max {
		c.removeElement(c.order.Back())
	}
	return v, nil
}

func (c *Cache[K, V]) Delete(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.data[k]; ok {
		c.removeElement(el)
	}
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache[K, V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.data, e.key)
	if c.onEvict != nil {
		c.onEvict(e.key, e.val)
	}
}
