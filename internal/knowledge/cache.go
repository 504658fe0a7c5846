package knowledge

import (
	"container/list"
	"sync"
)

// embedCache is a small LRU cache of query-text -> embedding. The same
// emergency-type strings recur across sessions, so caching the exact
// query text saves an embedding round trip. It is flushed on reindex so
// a stale vector never outlives the index it was computed against.
type embedCache struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[string]*list.Element
}

type cacheItem struct {
	key string
	vec []float32
}

func newEmbedCache(capacity int) *embedCache {
	return &embedCache{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *embedCache) get(key string) ([]float32, bool) {
	if c == nil || c.cap <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheItem).vec, true
}

func (c *embedCache) add(key string, vec []float32) {
	if c == nil || c.cap <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheItem).vec = vec
		return
	}
	c.items[key] = c.ll.PushFront(&cacheItem{key: key, vec: vec})
	if c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}

func (c *embedCache) purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func (c *embedCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
