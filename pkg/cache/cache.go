package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Options struct {
	TTL                  time.Duration
	StaleWhileRevalidate time.Duration
	NegativeTTL          time.Duration
	MaxEntries           int
}

type MetricsHooks struct {
	OnHit   func(key string)
	OnMiss  func(key string)
	OnStale func(key string)
	OnStore func(key string, ok bool)
	OnEvict func(key string)
}

type entry[V any] struct {
	key       string
	value     V
	err       error
	expiresAt time.Time
	staleAt   time.Time
	negative  bool
}

// Cache is a bounded LRU with TTL, stale-while-revalidate and negative
// caching. Concurrent loads of one key are collapsed with singleflight.
type Cache[V any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List // front = most recently used
	opts    Options
	metrics MetricsHooks
	sf      singleflight.Group
	now     func() time.Time
}

// Loader fetches a value on miss. ok=false with a nil error is a plain miss.
type Loader[V any] func(ctx context.Context, key string) (V, bool, error)

type loadResult[V any] struct {
	val V
	ok  bool
	err error
}

func New[V any](opts Options, hooks MetricsHooks) *Cache[V] {
	return &Cache[V]{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		opts:    opts,
		metrics: hooks,
		now:     time.Now,
	}
}

// Get returns the cached value for key, loading it on miss. A stale entry is
// returned immediately and refreshed in the background once.
func (c *Cache[V]) Get(ctx context.Context, key string, loader Loader[V]) (V, bool, error) {
	var zero V
	now := c.now()

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		switch {
		case now.Before(e.expiresAt):
			c.lru.MoveToFront(el)
			c.mu.Unlock()
			c.hook(c.metrics.OnHit, key)
			if e.negative {
				return zero, false, e.err
			}
			return e.value, true, nil
		case now.Before(e.staleAt):
			c.lru.MoveToFront(el)
			val, negative, err := e.value, e.negative, e.err
			c.mu.Unlock()
			c.hook(c.metrics.OnStale, key)
			go func() {
				_, _, _ = c.sf.Do("refresh:"+key, func() (interface{}, error) {
					c.refresh(context.WithoutCancel(ctx), key, loader)
					return nil, nil
				})
			}()
			if negative {
				return zero, false, err
			}
			return val, true, nil
		default:
			c.removeElement(el)
		}
	}
	c.mu.Unlock()

	c.hook(c.metrics.OnMiss, key)
	result, _, _ := c.sf.Do(key, func() (interface{}, error) {
		val, ok, err := loader(ctx, key)
		c.store(key, val, ok, err)
		return loadResult[V]{val: val, ok: ok, err: err}, nil
	})
	res := result.(loadResult[V])
	if !res.ok {
		return zero, false, res.err
	}
	return res.val, true, nil
}

func (c *Cache[V]) refresh(ctx context.Context, key string, loader Loader[V]) {
	val, ok, err := loader(ctx, key)
	c.store(key, val, ok, err)
}

func (c *Cache[V]) store(key string, val V, ok bool, err error) {
	now := c.now()
	e := &entry[V]{key: key}
	if ok {
		e.value = val
		e.expiresAt = now.Add(c.opts.TTL)
		e.staleAt = e.expiresAt.Add(c.opts.StaleWhileRevalidate)
	} else {
		if c.opts.NegativeTTL <= 0 {
			return
		}
		e.err = err
		e.negative = true
		e.expiresAt = now.Add(c.opts.NegativeTTL)
		e.staleAt = e.expiresAt
	}

	c.mu.Lock()
	c.put(e)
	c.mu.Unlock()
	c.storeHook(key, ok)
}

// Set stores val under key for ttl.
func (c *Cache[V]) Set(key string, val V, ttl time.Duration) {
	now := c.now()
	e := &entry[V]{
		key:       key,
		value:     val,
		expiresAt: now.Add(ttl),
		staleAt:   now.Add(ttl).Add(c.opts.StaleWhileRevalidate),
	}
	c.mu.Lock()
	c.put(e)
	c.mu.Unlock()
	c.storeHook(key, true)
}

// put must be called with mu held.
func (c *Cache[V]) put(e *entry[V]) {
	if el, exists := c.items[e.key]; exists {
		el.Value = e
		c.lru.MoveToFront(el)
	} else {
		c.items[e.key] = c.lru.PushFront(e)
	}
	c.evictIfNeeded()
}

// Peek returns a cached value without triggering a load or touching recency.
// Stale entries are allowed.
func (c *Cache[V]) Peek(key string) (V, bool) {
	var zero V
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if now.After(e.staleAt) || e.negative {
		return zero, false
	}
	return e.value, true
}

// Len returns the number of stored entries, including stale ones.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache[V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[V])
	c.lru.Remove(el)
	delete(c.items, e.key)
}

func (c *Cache[V]) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for c.lru.Len() > c.opts.MaxEntries {
		victim := c.lru.Back()
		if victim == nil {
			return
		}
		key := victim.Value.(*entry[V]).key
		c.removeElement(victim)
		if c.metrics.OnEvict != nil {
			// Called under lock; hooks must not re-enter the cache.
			c.metrics.OnEvict(key)
		}
	}
}

func (c *Cache[V]) hook(fn func(string), key string) {
	if fn != nil {
		fn(key)
	}
}

func (c *Cache[V]) storeHook(key string, ok bool) {
	if c.metrics.OnStore != nil {
		c.metrics.OnStore(key, ok)
	}
}
