package droute

import "container/list"

// Least-recently-used store for cache answers, keyed by query. A capacity of 0 or
// less means no limit. Not safe for concurrent use.
type lruCache struct {
	capacity int
	order    *list.List // most recently used at the front
	items    map[cacheKey]*list.Element
}

type lruEntry struct {
	key    cacheKey
	answer *cacheAnswer
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[cacheKey]*list.Element),
	}
}

// Adds an answer, replacing any existing one for the same key. The least recently
// used items are dropped when the cache is over capacity.
func (c *lruCache) add(key cacheKey, answer *cacheAnswer) {
	if e, ok := c.items[key]; ok {
		e.Value.(*lruEntry).answer = answer
		c.order.MoveToFront(e)
		return
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, answer: answer})
	for c.capacity > 0 && c.order.Len() > c.capacity {
		c.remove(c.order.Back())
	}
}

// Returns the answer for a key and marks it as most recently used.
func (c *lruCache) get(key cacheKey) *cacheAnswer {
	e, ok := c.items[key]
	if !ok {
		return nil
	}
	c.order.MoveToFront(e)
	return e.Value.(*lruEntry).answer
}

func (c *lruCache) delete(key cacheKey) {
	if e, ok := c.items[key]; ok {
		c.remove(e)
	}
}

// Removes all answers for which f returns true.
func (c *lruCache) deleteFunc(f func(*cacheAnswer) bool) {
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		if f(e.Value.(*lruEntry).answer) {
			c.remove(e)
		}
		e = next
	}
}

func (c *lruCache) remove(e *list.Element) {
	entry := c.order.Remove(e).(*lruEntry)
	delete(c.items, entry.key)
}

func (c *lruCache) size() int {
	return len(c.items)
}
