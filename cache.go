package cache

import (
	"container/list"
	"runtime"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
)

// DefaultCapacity is the number of items a cache holds when New is given a
// capacity less than one.
const DefaultCapacity = 10

type Item[V any] struct {
	Object     V
	Expiration int64
}

// Returns true if the item has expired.
func (item Item[V]) Expired() bool {
	if item.Expiration == 0 {
		return false
	}
	return time.Now().UnixNano() > item.Expiration
}

const (
	// For use with functions that take an expiration time.
	NoExpiration time.Duration = -1
	// For use with functions that take an expiration time. Equivalent to
	// passing in the same expiration duration as was given to New() when the
	// cache was created (e.g. 5 minutes.)
	DefaultExpiration time.Duration = 0
)

var (
	// ErrExists is returned by Add when a live item is already stored under
	// the key.
	ErrExists = errors.New(errors.CodeAlreadyExists, "item already exists")
	// ErrFull is returned when the cache is at capacity and its policy is
	// DeclineWhenFull.
	ErrFull = errors.New(errors.CodeConflict, "cache is full")
)

type Cache[K comparable, V any] struct {
	*cache[K, V]
	// If this is confusing, see the comment in newCacheWithJanitor()
}

type cache[K comparable, V any] struct {
	defaultExpiration time.Duration
	capacity          int
	policy            Policy
	items             map[K]*list.Element
	// Front is the most recently used entry.
	order     *list.List
	evictions uint64
	mu        sync.Mutex
	onEvicted func(K, V)
	janitor   *janitor[K, V]
}

type entry[K comparable, V any] struct {
	key  K
	item Item[V]
}

type keyAndValue[K comparable, V any] struct {
	key   K
	value V
}

func (c *cache[K, V]) expiration(d time.Duration) int64 {
	if d == DefaultExpiration {
		d = c.defaultExpiration
	}
	if d > 0 {
		return time.Now().Add(d).UnixNano()
	}
	return 0
}

// Add an item to the cache, replacing any existing item. If the duration is 0
// (DefaultExpiration), the cache's default expiration time is used. If it is -1
// (NoExpiration), the item never expires.
//
// A new key arriving at a full cache either evicts the least recently used
// item or, under DeclineWhenFull, is dropped.
func (c *cache[K, V]) Set(k K, x V, d time.Duration) {
	c.mu.Lock()
	evicted, _ := c.set(k, x, d)
	f := c.onEvicted
	c.mu.Unlock()
	notify(f, evicted)
}

// set stores x under k and returns whatever had to be removed to make room.
// It returns ErrFull if the policy refused a new key. c.mu must be held.
func (c *cache[K, V]) set(k K, x V, d time.Duration) ([]keyAndValue[K, V], error) {
	item := Item[V]{
		Object:     x,
		Expiration: c.expiration(d),
	}
	if el, found := c.items[k]; found {
		el.Value.(*entry[K, V]).item = item
		c.order.MoveToFront(el)
		return nil, nil
	}

	var evicted []keyAndValue[K, V]
	if len(c.items) >= c.capacity {
		// Expired items are the cheapest room to reclaim.
		evicted = c.deleteExpired(time.Now().UnixNano())
	}
	if len(c.items) >= c.capacity {
		if c.policy == DeclineWhenFull {
			return evicted, ErrFull
		}
		if kv, ok := c.evictOldest(); ok {
			evicted = append(evicted, kv)
		}
	}
	c.items[k] = c.order.PushFront(&entry[K, V]{key: k, item: item})
	return evicted, nil
}

// Add an item to the cache, replacing any existing item, using the default
// expiration.
func (c *cache[K, V]) SetDefault(k K, x V) {
	c.Set(k, x, DefaultExpiration)
}

// Add an item to the cache only if an item doesn't already exist for the given
// key, or if the existing item has expired. Returns ErrExists otherwise, or
// ErrFull if the cache is full and declines new keys.
func (c *cache[K, V]) Add(k K, x V, d time.Duration) error {
	c.mu.Lock()
	_, found := c.get(k)
	if found {
		c.mu.Unlock()
		return ErrExists
	}
	evicted, err := c.set(k, x, d)
	f := c.onEvicted
	c.mu.Unlock()
	notify(f, evicted)
	return err
}

// Set a new value for the cache key only if it already exists, and the existing
// item hasn't expired. Returns an error otherwise.
func (c *cache[K, V]) Replace(k K, x V, d time.Duration) error {
	c.mu.Lock()
	_, found := c.get(k)
	if !found {
		c.mu.Unlock()
		return errors.Newf(errors.CodeNotFound, "item %v doesn't exist", k)
	}
	c.set(k, x, d)
	c.mu.Unlock()
	return nil
}

// Get an item from the cache and mark it as most recently used. Returns the
// item or the zero value, and a bool indicating whether the key was found.
func (c *cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	el, found := c.items[k]
	if !found {
		c.mu.Unlock()
		var v V
		return v, false
	}
	item := el.Value.(*entry[K, V]).item
	if item.Expiration > 0 {
		if time.Now().UnixNano() > item.Expiration {
			c.mu.Unlock()
			var v V
			return v, false
		}
	}
	c.order.MoveToFront(el)
	c.mu.Unlock()
	return item.Object, true
}

// Peek is Get without updating recency.
func (c *cache[K, V]) Peek(k K) (V, bool) {
	c.mu.Lock()
	v, found := c.get(k)
	c.mu.Unlock()
	return v, found
}

// GetWithExpiration returns an item and its expiration time from the cache.
// It returns the item or the zero value, the expiration time if one is set (if
// the item never expires a zero value for time.Time is returned), and a bool
// indicating whether the key was found.
func (c *cache[K, V]) GetWithExpiration(k K) (V, time.Time, bool) {
	c.mu.Lock()
	el, found := c.items[k]
	if !found {
		c.mu.Unlock()
		var v V
		return v, time.Time{}, false
	}

	item := el.Value.(*entry[K, V]).item
	if item.Expiration > 0 {
		if time.Now().UnixNano() > item.Expiration {
			c.mu.Unlock()
			var v V
			return v, time.Time{}, false
		}

		c.order.MoveToFront(el)
		c.mu.Unlock()
		return item.Object, time.Unix(0, item.Expiration), true
	}

	c.order.MoveToFront(el)
	c.mu.Unlock()
	return item.Object, time.Time{}, true
}

func (c *cache[K, V]) get(k K) (V, bool) {
	el, found := c.items[k]
	if !found {
		var v V
		return v, false
	}
	item := el.Value.(*entry[K, V]).item
	// "Inlining" of Expired
	if item.Expiration > 0 {
		if time.Now().UnixNano() > item.Expiration {
			var v V
			return v, false
		}
	}
	return item.Object, true
}

// Delete an item from the cache. Does nothing if the key is not in the cache.
func (c *cache[K, V]) Delete(k K) {
	c.mu.Lock()
	var evicted []keyAndValue[K, V]
	if el, found := c.items[k]; found {
		evicted = append(evicted, c.remove(el))
	}
	f := c.onEvicted
	c.mu.Unlock()
	notify(f, evicted)
}

func (c *cache[K, V]) remove(el *list.Element) keyAndValue[K, V] {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
	return keyAndValue[K, V]{e.key, e.item.Object}
}

func (c *cache[K, V]) evictOldest() (keyAndValue[K, V], bool) {
	el := c.order.Back()
	if el == nil {
		return keyAndValue[K, V]{}, false
	}
	c.evictions++
	return c.remove(el), true
}

func (c *cache[K, V]) deleteExpired(now int64) []keyAndValue[K, V] {
	var evicted []keyAndValue[K, V]
	for _, el := range c.items {
		// "Inlining" of expired
		if exp := el.Value.(*entry[K, V]).item.Expiration; exp > 0 && now > exp {
			evicted = append(evicted, c.remove(el))
		}
	}
	return evicted
}

// Delete all expired items from the cache.
func (c *cache[K, V]) DeleteExpired() {
	c.mu.Lock()
	evicted := c.deleteExpired(time.Now().UnixNano())
	f := c.onEvicted
	c.mu.Unlock()
	notify(f, evicted)
}

func notify[K comparable, V any](f func(K, V), evicted []keyAndValue[K, V]) {
	if f == nil {
		return
	}
	for _, v := range evicted {
		f(v.key, v.value)
	}
}

// Sets an (optional) function that is called with the key and value when an
// item is evicted from the cache. (Including when it is deleted manually or
// expires, but not when it is overwritten.) Set to nil to disable.
func (c *cache[K, V]) OnEvicted(f func(K, V)) {
	c.mu.Lock()
	c.onEvicted = f
	c.mu.Unlock()
}

// SetPolicy changes how the cache makes room for new keys once full. Items
// already stored are kept.
func (c *cache[K, V]) SetPolicy(p Policy) {
	c.mu.Lock()
	c.policy = p
	c.mu.Unlock()
}

func (c *cache[K, V]) Policy() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// Copies all unexpired items in the cache into a new map and returns it.
func (c *cache[K, V]) Items() map[K]Item[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := make(map[K]Item[V], len(c.items))
	now := time.Now().UnixNano()
	for k, el := range c.items {
		v := el.Value.(*entry[K, V]).item
		// "Inlining" of Expired
		if v.Expiration > 0 {
			if now > v.Expiration {
				continue
			}
		}
		m[k] = v
	}
	return m
}

// Returns the number of items in the cache. This may include items that have
// expired, but have not yet been cleaned up. It never exceeds Capacity.
func (c *cache[K, V]) ItemCount() int {
	c.mu.Lock()
	n := len(c.items)
	c.mu.Unlock()
	return n
}

func (c *cache[K, V]) Capacity() int {
	return c.capacity
}

// Evictions returns how many items were removed to make room for new keys.
func (c *cache[K, V]) Evictions() uint64 {
	c.mu.Lock()
	n := c.evictions
	c.mu.Unlock()
	return n
}

// Delete all items from the cache.
func (c *cache[K, V]) Flush() {
	c.mu.Lock()
	c.items = map[K]*list.Element{}
	c.order.Init()
	c.mu.Unlock()
}

type janitor[K comparable, V any] struct {
	Interval time.Duration
	stop     chan bool
}

func (j *janitor[K, V]) Run(c *cache[K, V]) {
	ticker := time.NewTicker(j.Interval)
	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-j.stop:
			ticker.Stop()
			return
		}
	}
}

func stopJanitor[K comparable, V any](c *Cache[K, V]) {
	c.janitor.stop <- true
}

func runJanitor[K comparable, V any](c *cache[K, V], ci time.Duration) {
	j := &janitor[K, V]{
		Interval: ci,
		stop:     make(chan bool),
	}
	c.janitor = j
	go j.Run(c)
}

func newCache[K comparable, V any](capacity int, de time.Duration) *cache[K, V] {
	if de == 0 {
		de = -1
	}
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	c := &cache[K, V]{
		defaultExpiration: de,
		capacity:          capacity,
		items:             make(map[K]*list.Element, capacity),
		order:             list.New(),
	}
	return c
}

func newCacheWithJanitor[K comparable, V any](capacity int, de time.Duration, ci time.Duration) *Cache[K, V] {
	c := newCache[K, V](capacity, de)
	// This trick ensures that the janitor goroutine (which--granted it
	// was enabled--is running DeleteExpired on c forever) does not keep
	// the returned C object from being garbage collected. When it is
	// garbage collected, the finalizer stops the janitor goroutine, after
	// which c can be collected.
	C := &Cache[K, V]{c}
	if ci > 0 {
		runJanitor(c, ci)
		runtime.SetFinalizer(C, stopJanitor[K, V])
	}
	return C
}

// Return a new cache holding at most capacity items, with a given default
// expiration duration and cleanup interval. A capacity less than one means
// DefaultCapacity. If the expiration duration is less than one (or
// NoExpiration), the items in the cache never expire (by default), and must be
// deleted manually or pushed out by newer keys. If the cleanup interval is
// less than one, expired items are not deleted from the cache before calling
// c.DeleteExpired().
//
// New caches evict the least recently used item when full; see SetPolicy.
func New[K comparable, V any](capacity int, defaultExpiration, cleanupInterval time.Duration) *Cache[K, V] {
	return newCacheWithJanitor[K, V](capacity, defaultExpiration, cleanupInterval)
}
