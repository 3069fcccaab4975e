package index

import (
	"sync"
	"sync/atomic"
)

type bucketEntries = map[string][]int

// bucketCache is an LRU over staged buckets, bounded by the summed weight
// of its entries rather than their number. The most recently staged bucket
// is always kept even if it alone exceeds the capacity.
type bucketCache struct {
	mu       sync.Mutex
	capacity int64
	weight   int64
	items    map[string]*cacheItem
	head     *cacheItem
	tail     *cacheItem

	hits   atomic.Int64
	misses atomic.Int64
	evicts atomic.Int64
}

type cacheItem struct {
	key    string
	value  bucketEntries
	weight int64
	prev   *cacheItem
	next   *cacheItem
}

func newBucketCache(capacity int64) *bucketCache {
	return &bucketCache{
		capacity: capacity,
		items:    make(map[string]*cacheItem),
	}
}

func (c *bucketCache) get(key string) (bucketEntries, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.moveToHead(item)
	return item.value, true
}

func (c *bucketCache) set(key string, value bucketEntries, weight int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[key]; found {
		c.weight += weight - item.weight
		item.value, item.weight = value, weight
		c.moveToHead(item)
	} else {
		item := &cacheItem{key: key, value: value, weight: weight}
		c.addToHead(item)
		c.items[key] = item
		c.weight += weight
	}

	for c.capacity > 0 && c.weight > c.capacity && c.tail != c.head {
		c.evictLRU()
	}
}

func (c *bucketCache) moveToHead(item *cacheItem) {
	if item == c.head {
		return
	}
	c.unlink(item)
	c.addToHead(item)
}

func (c *bucketCache) addToHead(item *cacheItem) {
	item.prev = nil
	item.next = c.head
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *bucketCache) unlink(item *cacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}
	item.prev, item.next = nil, nil
}

func (c *bucketCache) evictLRU() {
	victim := c.tail
	if victim == nil {
		return
	}
	c.unlink(victim)
	delete(c.items, victim.key)
	c.weight -= victim.weight
	c.evicts.Add(1)
}

// CacheStats counts bucket staging activity of a spilled index.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

func (c *bucketCache) stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Evictions: c.evicts.Load()}
}
