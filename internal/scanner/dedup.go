/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scanner

import (
	"container/list"
	"sync"
)

// DefaultDedupCapacity bounds the dedup cache.
const DefaultDedupCapacity = 500

// DedupCache remembers which media URLs have already been scheduled.
// When full, the oldest inserted entry is evicted; lookups do not
// refresh position.
type DedupCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewDedupCache creates a cache holding at most capacity URLs.
func NewDedupCache(capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Seen atomically checks-and-records url. It returns true when the URL
// was already present; false means the URL is new and is now recorded.
func (c *DedupCache) Seen(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[url]; ok {
		return true
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(string))
	}
	c.index[url] = c.order.PushBack(url)
	return false
}

// Remove forgets url so it can be scheduled again. Used when an item
// was recorded but never actually admitted to the queue.
func (c *DedupCache) Remove(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.index[url]; ok {
		c.order.Remove(elem)
		delete(c.index, url)
	}
}

// Contains reports presence without recording.
func (c *DedupCache) Contains(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[url]
	return ok
}

// Len returns the number of remembered URLs.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear empties the cache.
func (c *DedupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[string]*list.Element)
}
