package websearch

import (
	"fmt"
	"sync"
	"time"
)

type cacheEntry struct {
	response Response
	storedAt time.Time
}

// searchCache is a TTL cache over completed searches. Once capacity is
// exceeded the oldest entry by insertion is evicted.
type searchCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	size    int
	entries map[string]cacheEntry
	order   []string
	now     func() time.Time
}

func newSearchCache(ttl time.Duration, size int) *searchCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if size <= 0 {
		size = 100
	}
	return &searchCache{
		ttl:     ttl,
		size:    size,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(query, provider string, maxResults int) string {
	return fmt.Sprintf("%s|%s|%d", query, provider, maxResults)
}

func (c *searchCache) Get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Response{}, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		c.dropFromOrder(key)
		return Response{}, false
	}
	return entry.response, true
}

func (c *searchCache) Put(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.size {
			c.evictOldest()
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{response: resp, storedAt: c.now()}
}

func (c *searchCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *searchCache) dropFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Reset drops all entries.
func (c *searchCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
}

func (c *searchCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
